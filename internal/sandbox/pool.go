package sandbox

import (
	"sync"

	"github.com/tetratelabs/wazero"
)

// isolatePool 按部署维护预热的隔离实例，降低冷启动频率。
// 池只管理空闲实例；在途实例由编排器经 Isolate.Release 归还。
type isolatePool struct {
	mu      sync.Mutex
	idle    map[string][]*wasmIsolate
	maxIdle int
}

func newIsolatePool(maxIdle int) *isolatePool {
	if maxIdle <= 0 {
		maxIdle = 1
	}
	return &isolatePool{
		idle:    make(map[string][]*wasmIsolate),
		maxIdle: maxIdle,
	}
}

// get 弹出部署的一个空闲实例；没有时返回 nil（冷启动）。
func (p *isolatePool) get(deploymentID string) *wasmIsolate {
	p.mu.Lock()
	defer p.mu.Unlock()
	isolates := p.idle[deploymentID]
	if len(isolates) == 0 {
		return nil
	}
	iso := isolates[len(isolates)-1]
	p.idle[deploymentID] = isolates[:len(isolates)-1]
	return iso
}

// put 尝试回收实例；池已满时返回 false，调用方负责销毁。
func (p *isolatePool) put(deploymentID string, iso *wasmIsolate) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle[deploymentID]) >= p.maxIdle {
		return false
	}
	p.idle[deploymentID] = append(p.idle[deploymentID], iso)
	return true
}

// idleCount 返回部署当前的空闲实例数，供指标上报。
func (p *isolatePool) idleCount(deploymentID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[deploymentID])
}

// drain 清空池并返回全部空闲实例，引擎关闭时调用。
func (p *isolatePool) drain() []*wasmIsolate {
	p.mu.Lock()
	defer p.mu.Unlock()
	var all []*wasmIsolate
	for id, isolates := range p.idle {
		all = append(all, isolates...)
		delete(p.idle, id)
	}
	return all
}

// moduleCache 缓存编译后的 WASM 模块，按部署代码哈希为键。
// 同一代码的多个实例共享一次编译结果。
type moduleCache struct {
	mu      sync.RWMutex
	modules map[string]wazero.CompiledModule
}

func newModuleCache() *moduleCache {
	return &moduleCache{modules: make(map[string]wazero.CompiledModule)}
}

func (c *moduleCache) get(key string) wazero.CompiledModule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modules[key]
}

func (c *moduleCache) put(key string, cm wazero.CompiledModule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[key] = cm
}
