package domain

import "errors"

// 领域层哨兵错误定义。
// 各层通过 errors.Is 匹配这些错误，避免依赖字符串比较。
var (
	// ErrAssetNotFound 表示部署声明的静态资源在存储中不存在
	ErrAssetNotFound = errors.New("asset not found")
	// ErrNoResponse 表示沙箱调用未产生任何输出
	ErrNoResponse = errors.New("execution produced no response")
	// ErrCodeNotFound 表示找不到部署的代码制品
	ErrCodeNotFound = errors.New("deployment code not found")
	// ErrEngineClosed 表示沙箱引擎已关闭，无法再获取实例
	ErrEngineClosed = errors.New("sandbox engine is closed")
)
