// Package domain 定义了函数分发核心的领域模型。
// 该包包含部署、执行输入/输出、日志条目和计费结果等核心实体的定义。
// 这是整个应用程序的领域层，不依赖任何传输或存储实现。
package domain

import (
	"strings"
	"time"
)

// Deployment 表示一个租户的函数部署描述符。
// 描述符由部署解析器（控制平面）提供，对分发核心是只读的。
type Deployment struct {
	// ID 是部署的唯一标识符，也是日志/流注册表的键
	ID string `json:"id"`
	// FunctionID 是部署所属函数的 ID
	FunctionID string `json:"function_id"`
	// FunctionName 是部署所属函数的名称
	FunctionName string `json:"function_name"`
	// Domains 是路由到该部署的域名列表
	Domains []string `json:"domains"`
	// Assets 是该部署携带的静态资源路径集合（不含前导斜杠）
	Assets []string `json:"assets,omitempty"`
	// CodeHash 是部署代码的内容哈希，用于沙箱引擎的编译缓存
	CodeHash string `json:"code_hash,omitempty"`
	// MemoryMB 是执行内存上限提示（MB）
	MemoryMB int `json:"memory_mb,omitempty"`
	// TimeoutSec 是执行超时提示（秒），分发核心自身不强制执行
	TimeoutSec int `json:"timeout_sec,omitempty"`
	// CreatedAt 是部署创建时间
	CreatedAt time.Time `json:"created_at"`
}

// HasAsset 判断请求路径是否命中该部署的静态资源。
// 资源路径存储时不含前导斜杠，请求路径比较前先去除。
func (d *Deployment) HasAsset(path string) bool {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return false
	}
	for _, a := range d.Assets {
		if a == path {
			return true
		}
	}
	return false
}
