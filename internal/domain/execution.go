package domain

import (
	"time"
)

// LogLevel 表示执行日志条目的级别。
type LogLevel string

// 日志级别常量定义
const (
	// LogLevelLog 表示普通输出（console.log 一类）
	LogLevelLog LogLevel = "log"
	// LogLevelInfo 表示信息级别
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn 表示警告级别
	LogLevelWarn LogLevel = "warn"
	// LogLevelError 表示错误级别
	LogLevelError LogLevel = "error"
	// LogLevelDebug 表示调试级别
	LogLevelDebug LogLevel = "debug"
)

// LogEntry 表示沙箱执行期间异步产生的一条日志。
type LogEntry struct {
	// Level 是日志级别
	Level LogLevel `json:"level"`
	// Message 是日志内容
	Message string `json:"message"`
	// Timestamp 是日志产生时间
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionRequest 是发送给沙箱的执行输入。
// 每个请求构建一次，消费一次。
type ExecutionRequest struct {
	// URL 是请求的路径加查询串
	URL string `json:"url"`
	// Method 是 HTTP 方法
	Method string `json:"method"`
	// Headers 是请求头映射（名称 → 有序值列表）
	Headers map[string][]string `json:"headers,omitempty"`
	// Body 是请求体的文本表示；非文本体在进入沙箱前已转换
	Body string `json:"body,omitempty"`
}

// ExecutionResponse 是沙箱产生的执行输出。
// 每次调用至多产生一次；若 Streamed 为真，
// 响应体通过流通道增量传递，所有权转移给编排器直到取尽。
type ExecutionResponse struct {
	// StatusCode 是响应状态码，0 表示缺省（按 200 处理）
	StatusCode int `json:"statusCode,omitempty"`
	// Headers 是沙箱输出的原始头表示。
	// 合同允许两种形状：扁平的 名称→值，以及嵌套的
	// 名称→{键→子值}（取第一个子值作为有效值）。
	// 规范化由编排器的 normalizeHeaders 完成。
	Headers map[string]interface{} `json:"headers,omitempty"`
	// Body 是已物化的响应体文本；流式响应时为空
	Body string `json:"body,omitempty"`
	// Streamed 表示响应体经由流通道增量产生
	Streamed bool `json:"streamed,omitempty"`
}

// Status 返回有效状态码，缺省时为 200。
func (r *ExecutionResponse) Status() int {
	if r.StatusCode == 0 {
		return 200
	}
	return r.StatusCode
}
