// Package resolver 提供部署解析器。
// 本文件测试内存注册表的注册、解析与注销行为。
package resolver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Udit-takkar/lagon/internal/domain"
)

func deployment(id string, domains ...string) *domain.Deployment {
	return &domain.Deployment{
		ID:           id,
		FunctionID:   "fn-" + id,
		FunctionName: "fn",
		Domains:      domains,
	}
}

// TestRegistryResolve 验证按 Host 解析，大小写不敏感且忽略端口。
func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.Put(deployment("dep-1", "Hello.Example.Com"))

	tests := []struct {
		host string
		want bool
	}{
		{"hello.example.com", true},
		{"HELLO.example.com", true},
		{"hello.example.com:8080", true},
		{"other.example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "http://placeholder/", nil)
		req.Host = tt.host
		got := r.Resolve(req)
		if (got != nil) != tt.want {
			t.Errorf("Resolve(host=%q) = %v, want found=%v", tt.host, got, tt.want)
		}
	}
}

// TestRegistryPutMultipleDomains 验证一个部署的全部域名都被注册。
func TestRegistryPutMultipleDomains(t *testing.T) {
	r := NewRegistry()
	r.Put(deployment("dep-1", "a.example.com", "b.example.com"))

	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

// TestRegistryRemove 验证注销只移除仍指向该部署的条目，
// 已被新部署接管的域名不受影响。
func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	old := deployment("dep-old", "fn.example.com", "extra.example.com")
	r.Put(old)

	// 新部署接管主域名
	r.Put(deployment("dep-new", "fn.example.com"))

	r.Remove(old)

	req := httptest.NewRequest(http.MethodGet, "http://placeholder/", nil)
	req.Host = "fn.example.com"
	got := r.Resolve(req)
	if got == nil || got.ID != "dep-new" {
		t.Errorf("Resolve() = %v, want dep-new to survive removal of old deployment", got)
	}

	req.Host = "extra.example.com"
	if r.Resolve(req) != nil {
		t.Error("Resolve(extra) != nil, want old-only domain removed")
	}
}

// TestRegistryReplace 验证重复注册用新描述符整体替换旧条目。
func TestRegistryReplace(t *testing.T) {
	r := NewRegistry()
	r.Put(deployment("dep-1", "fn.example.com"))
	r.Put(deployment("dep-2", "fn.example.com"))

	req := httptest.NewRequest(http.MethodGet, "http://placeholder/", nil)
	req.Host = "fn.example.com"
	got := r.Resolve(req)
	if got == nil || got.ID != "dep-2" {
		t.Errorf("Resolve() = %v, want dep-2", got)
	}
}
