// Package sandbox 提供按调用隔离的执行沙箱引擎。
// 引擎负责为部署提供沙箱实例、在实例中执行处理函数、
// 在执行期间触发日志/流数据块回调，并在完成后报告资源占用。
// 当前实现基于 wazero 的 WebAssembly 运行时（见 wasm.go）；
// 其他后端可通过实现 Engine/Isolate 接口接入编排器。
package sandbox

import (
	"context"

	"github.com/Udit-takkar/lagon/internal/domain"
)

// OnChunk 是流数据块回调。
// done 为真表示流结束；data 可与 done 同时出现（最后一块）。
type OnChunk func(deploymentID string, done bool, data []byte)

// OnLog 是执行日志回调。
type OnLog func(deploymentID string, entry domain.LogEntry)

// Engine 定义沙箱引擎接口，由编排器消费。
type Engine interface {
	// Acquire 为部署获取一个沙箱实例。
	// 实例可能来自预热池（热启动）或新建（冷启动）。
	Acquire(ctx context.Context, d *domain.Deployment) (Isolate, error)

	// Close 关闭引擎并释放全部实例。
	Close(ctx context.Context) error
}

// Isolate 是一个隔离的执行上下文，其中运行单个部署的代码。
type Isolate interface {
	// Run 以执行输入调用部署的处理函数。
	// 执行期间 onChunk/onLog 回调异步触发；
	// 返回 nil 响应或错误均表示执行失败，编排器不重试。
	// Run 不施加超时，执行运行到完成或失败。
	Run(ctx context.Context, req *domain.ExecutionRequest, onChunk OnChunk, onLog OnLog) (*domain.ExecutionResponse, error)

	// Usage 返回最近一次成功执行占用的 CPU 时间（微秒）。
	// 仅在成功的 Run 之后有效。
	Usage() int64

	// Release 归还实例。实例可能被回收进预热池供后续复用。
	Release()
}

// CodeLoader 负责加载部署的代码制品（编译后的 WASM 模块）。
// 代码的构建与打包流水线在系统边界之外。
type CodeLoader interface {
	Load(ctx context.Context, d *domain.Deployment) ([]byte, error)
}
