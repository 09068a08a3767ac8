package sandbox

import (
	"testing"

	"github.com/Udit-takkar/lagon/internal/domain"
)

// TestIsolatePoolGetPut 测试空闲实例的存取与容量上限。
func TestIsolatePoolGetPut(t *testing.T) {
	p := newIsolatePool(2)

	if got := p.get("dep-1"); got != nil {
		t.Errorf("get() on empty pool = %v, want nil", got)
	}

	a := &wasmIsolate{}
	b := &wasmIsolate{}
	c := &wasmIsolate{}

	if !p.put("dep-1", a) || !p.put("dep-1", b) {
		t.Fatal("put() = false within capacity, want true")
	}
	if p.put("dep-1", c) {
		t.Error("put() = true beyond capacity, want false")
	}
	if p.idleCount("dep-1") != 2 {
		t.Errorf("idleCount() = %d, want 2", p.idleCount("dep-1"))
	}

	// 后进先出
	if got := p.get("dep-1"); got != b {
		t.Errorf("get() = %v, want most recently recycled", got)
	}
	if got := p.get("dep-1"); got != a {
		t.Errorf("get() = %v, want remaining isolate", got)
	}
	if got := p.get("dep-1"); got != nil {
		t.Errorf("get() = %v, want nil after pool emptied", got)
	}
}

// TestIsolatePoolPerDeployment 测试不同部署的池互相隔离。
func TestIsolatePoolPerDeployment(t *testing.T) {
	p := newIsolatePool(4)
	p.put("dep-1", &wasmIsolate{})

	if got := p.get("dep-2"); got != nil {
		t.Errorf("get(dep-2) = %v, want nil", got)
	}
	if p.idleCount("dep-1") != 1 {
		t.Errorf("idleCount(dep-1) = %d, want 1", p.idleCount("dep-1"))
	}
}

// TestIsolatePoolDrain 测试 drain 清空全部部署并返回实例。
func TestIsolatePoolDrain(t *testing.T) {
	p := newIsolatePool(4)
	p.put("dep-1", &wasmIsolate{})
	p.put("dep-1", &wasmIsolate{})
	p.put("dep-2", &wasmIsolate{})

	all := p.drain()
	if len(all) != 3 {
		t.Errorf("drain() = %d isolates, want 3", len(all))
	}
	if p.idleCount("dep-1") != 0 || p.idleCount("dep-2") != 0 {
		t.Error("pool not empty after drain")
	}
}

// TestLogLevelOf 测试宿主日志级别编码到领域级别的映射，
// 未知编码回退为普通输出级别。
func TestLogLevelOf(t *testing.T) {
	tests := []struct {
		code uint32
		want domain.LogLevel
	}{
		{0, domain.LogLevelLog},
		{1, domain.LogLevelInfo},
		{2, domain.LogLevelWarn},
		{3, domain.LogLevelError},
		{4, domain.LogLevelDebug},
		{99, domain.LogLevelLog},
	}
	for _, tt := range tests {
		if got := logLevelOf(tt.code); got != tt.want {
			t.Errorf("logLevelOf(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}
