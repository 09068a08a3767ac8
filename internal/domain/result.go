package domain

import "time"

// DeploymentResult 表示一次执行请求的计费记录。
// 记录在请求开始时创建，贯穿请求生命周期被修改，
// 请求结束时交给结果上报器恰好一次，随后丢弃。
// 每个进入执行阶段的请求恰好对应一条记录，从不共享。
type DeploymentResult struct {
	// DeploymentID 是产生该记录的部署 ID
	DeploymentID string `json:"deployment_id"`
	// FunctionID 是部署所属函数的 ID
	FunctionID string `json:"function_id"`
	// FunctionName 是部署所属函数的名称
	FunctionName string `json:"function_name"`
	// CPUTimeMicros 是沙箱占用的 CPU 时间（微秒）。
	// 非负；仅在执行成功时由沙箱引擎填充，否则保持 0。
	CPUTimeMicros int64 `json:"cpu_time_micros"`
	// ReceivedBytes 是入站请求头加请求体的字节数
	ReceivedBytes int64 `json:"received_bytes"`
	// SentBytes 是已发送回复体的字节数
	SentBytes int64 `json:"sent_bytes"`
	// Logs 是执行期间产生的日志，保持产生顺序
	Logs []LogEntry `json:"logs"`
	// Timestamp 是记录创建时间
	Timestamp time.Time `json:"timestamp"`
}

// NewDeploymentResult 在请求进入执行阶段时创建计费记录。
// cpuTime 与 sentBytes 初始为 0，日志为空。
func NewDeploymentResult(d *Deployment, receivedBytes int64) *DeploymentResult {
	return &DeploymentResult{
		DeploymentID:  d.ID,
		FunctionID:    d.FunctionID,
		FunctionName:  d.FunctionName,
		ReceivedBytes: receivedBytes,
		Logs:          []LogEntry{},
		Timestamp:     time.Now(),
	}
}
