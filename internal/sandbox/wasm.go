package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/Udit-takkar/lagon/internal/config"
	"github.com/Udit-takkar/lagon/internal/domain"
	"github.com/Udit-takkar/lagon/internal/metrics"
)

// 宿主模块名与日志级别编码，是 guest 代码合同的一部分。
// guest 必须导出 alloc(size) -> ptr 与 handle(ptr, len) -> packed(ptr<<32|len)，
// 请求与响应均为 guest 内存中的 JSON。
const hostModuleName = "lagon"

// invocationKey 用于在上下文中携带本次调用的回调句柄。
type invocationKey struct{}

// invocation 是单次调用期间宿主函数可见的状态。
type invocation struct {
	deploymentID string
	onChunk      OnChunk
	onLog        OnLog
}

// WasmEngine 是基于 wazero 的沙箱引擎实现。
// 每个部署的代码是一个编译后的 WASM 模块；编译结果按代码哈希缓存，
// 实例化的隔离实例经由预热池复用以降低冷启动开销。
type WasmEngine struct {
	cfg     config.SandboxConfig
	runtime wazero.Runtime
	loader  CodeLoader
	pool    *isolatePool
	metrics *metrics.Metrics
	logger  *logrus.Logger

	compiled *moduleCache
	closed   chan struct{}
}

// NewWasmEngine 创建并初始化 wazero 引擎。
// 宿主模块导出 log 与 stream 两个函数，供 guest 在执行期间
// 异步推送日志条目和流数据块。
func NewWasmEngine(ctx context.Context, cfg config.SandboxConfig, loader CodeLoader, m *metrics.Metrics, logger *logrus.Logger) (*WasmEngine, error) {
	r := wazero.NewRuntime(ctx)

	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	// 宿主函数从 guest 内存读出负载后转交给当前调用注册的回调
	_, err := r.NewHostModuleBuilder(hostModuleName).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostLog),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export("log").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostStream),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export("stream").
		Instantiate(ctx)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	return &WasmEngine{
		cfg:      cfg,
		runtime:  r,
		loader:   loader,
		pool:     newIsolatePool(cfg.MaxIdlePerDeployment),
		metrics:  m,
		logger:   logger,
		compiled: newModuleCache(),
		closed:   make(chan struct{}),
	}, nil
}

// hostLog 是 guest 导出日志的宿主入口。
// 参数: (level, ptr, len)，level 编码见 logLevelOf。
func hostLog(ctx context.Context, mod api.Module, stack []uint64) {
	inv, ok := ctx.Value(invocationKey{}).(*invocation)
	if !ok || inv.onLog == nil {
		return
	}
	level := uint32(stack[0])
	data, ok := mod.Memory().Read(uint32(stack[1]), uint32(stack[2]))
	if !ok {
		return
	}
	inv.onLog(inv.deploymentID, domain.LogEntry{
		Level:     logLevelOf(level),
		Message:   string(data),
		Timestamp: time.Now(),
	})
}

// hostStream 是 guest 推送流数据块的宿主入口。
// 参数: (done, ptr, len)，done 非零表示流结束。
func hostStream(ctx context.Context, mod api.Module, stack []uint64) {
	inv, ok := ctx.Value(invocationKey{}).(*invocation)
	if !ok || inv.onChunk == nil {
		return
	}
	done := uint32(stack[0]) != 0
	var data []byte
	if n := uint32(stack[2]); n > 0 {
		buf, ok := mod.Memory().Read(uint32(stack[1]), n)
		if !ok {
			return
		}
		data = buf
	}
	inv.onChunk(inv.deploymentID, done, data)
}

// logLevelOf 将 guest 的级别编码映射为领域日志级别。
func logLevelOf(level uint32) domain.LogLevel {
	switch level {
	case 1:
		return domain.LogLevelInfo
	case 2:
		return domain.LogLevelWarn
	case 3:
		return domain.LogLevelError
	case 4:
		return domain.LogLevelDebug
	default:
		return domain.LogLevelLog
	}
}

// Acquire 为部署获取隔离实例，优先复用预热池中的实例。
func (e *WasmEngine) Acquire(ctx context.Context, d *domain.Deployment) (Isolate, error) {
	select {
	case <-e.closed:
		return nil, domain.ErrEngineClosed
	default:
	}

	// 热启动路径
	if iso := e.pool.get(d.ID); iso != nil {
		if e.metrics != nil {
			e.metrics.WarmStarts.WithLabelValues(d.FunctionName).Inc()
		}
		return iso, nil
	}

	// 冷启动路径：编译（或取缓存）并实例化新模块
	start := time.Now()
	compiled, err := e.compiledModule(ctx, d)
	if err != nil {
		return nil, err
	}

	// 模块实例名必须唯一，同一部署可同时存在多个实例
	name := d.ID + "-" + uuid.New().String()
	mod, err := e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate module: %w", err)
	}

	alloc := mod.ExportedFunction("alloc")
	handle := mod.ExportedFunction("handle")
	if alloc == nil || handle == nil {
		mod.Close(ctx)
		return nil, fmt.Errorf("deployment %s: module must export 'alloc' and 'handle'", d.ID)
	}

	if e.metrics != nil {
		e.metrics.ColdStarts.WithLabelValues(d.FunctionName).Inc()
		e.metrics.IsolateBootDuration.WithLabelValues(d.FunctionName).
			Observe(float64(time.Since(start).Milliseconds()))
	}
	e.logger.WithFields(logrus.Fields{
		"deployment_id": d.ID,
		"function_name": d.FunctionName,
		"boot_ms":       time.Since(start).Milliseconds(),
	}).Debug("Isolate created")

	return &wasmIsolate{
		engine:     e,
		deployment: d,
		module:     mod,
		alloc:      alloc,
		handle:     handle,
		created:    time.Now(),
	}, nil
}

// compiledModule 返回部署代码的编译结果，按代码哈希缓存。
func (e *WasmEngine) compiledModule(ctx context.Context, d *domain.Deployment) (wazero.CompiledModule, error) {
	key := d.CodeHash
	if key == "" {
		key = d.ID
	}
	if cm := e.compiled.get(key); cm != nil {
		return cm, nil
	}

	code, err := e.loader.Load(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("failed to load deployment code: %w", err)
	}
	cm, err := e.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile deployment code: %w", err)
	}
	e.compiled.put(key, cm)
	return cm, nil
}

// release 归还实例：仍然新鲜且池未满时回收，否则销毁。
func (e *WasmEngine) release(iso *wasmIsolate) {
	select {
	case <-e.closed:
		iso.module.Close(context.Background())
		return
	default:
	}

	fresh := iso.invocations < e.cfg.MaxInvocations &&
		time.Since(iso.created) < e.cfg.MaxIsolateAge
	if !fresh || !e.pool.put(iso.deployment.ID, iso) {
		iso.module.Close(context.Background())
	}
	if e.metrics != nil {
		e.metrics.IsolatePoolIdle.WithLabelValues(iso.deployment.FunctionName).
			Set(float64(e.pool.idleCount(iso.deployment.ID)))
	}
}

// Close 关闭引擎，销毁全部预热实例与 wazero 运行时。
func (e *WasmEngine) Close(ctx context.Context) error {
	close(e.closed)
	for _, iso := range e.pool.drain() {
		iso.module.Close(ctx)
	}
	return e.runtime.Close(ctx)
}

// wasmIsolate 是一个 wazero 模块实例，即一次执行的隔离上下文。
type wasmIsolate struct {
	engine      *WasmEngine
	deployment  *domain.Deployment
	module      api.Module
	alloc       api.Function
	handle      api.Function
	created     time.Time
	invocations int
	cpuMicros   int64
}

// Run 执行部署的处理函数。
// CPU 时间以 guest 调用的墙钟时间近似（精确测量算法在引擎外部）。
func (i *wasmIsolate) Run(ctx context.Context, req *domain.ExecutionRequest, onChunk OnChunk, onLog OnLog) (*domain.ExecutionResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution request: %w", err)
	}

	// 回调经由上下文传入宿主函数，仅对本次调用可见
	ctx = context.WithValue(ctx, invocationKey{}, &invocation{
		deploymentID: i.deployment.ID,
		onChunk:      onChunk,
		onLog:        onLog,
	})

	results, err := i.alloc.Call(ctx, uint64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("alloc failed: %w", err)
	}
	ptr := uint32(results[0])
	if !i.module.Memory().Write(ptr, payload) {
		return nil, fmt.Errorf("failed to write request into guest memory")
	}

	start := time.Now()
	results, err = i.handle.Call(ctx, uint64(ptr), uint64(len(payload)))
	elapsed := time.Since(start)
	i.invocations++
	if err != nil {
		return nil, fmt.Errorf("handler failed: %w", err)
	}

	packed := results[0]
	outPtr := uint32(packed >> 32)
	outLen := uint32(packed & 0xFFFFFFFF)
	if outLen == 0 {
		return nil, domain.ErrNoResponse
	}
	out, ok := i.module.Memory().Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("failed to read response from guest memory")
	}

	var resp domain.ExecutionResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode execution response: %w", err)
	}

	i.cpuMicros = elapsed.Microseconds()
	return &resp, nil
}

// Usage 返回最近一次成功执行的 CPU 时间（微秒）。
func (i *wasmIsolate) Usage() int64 {
	return i.cpuMicros
}

// Release 将实例交还引擎。
func (i *wasmIsolate) Release() {
	i.engine.release(i)
}
