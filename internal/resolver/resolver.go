// Package resolver 提供部署解析器：将入站请求映射到部署描述符。
// 解析只依赖请求的 Host；部署集合由控制平面经 Redis 传播（redis.go），
// 或在开发模式下从本地清单目录加载（watcher.go）。
package resolver

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/Udit-takkar/lagon/internal/domain"
)

// Resolver 定义编排器消费的解析接口。
// 无部署路由到请求时返回 nil。
type Resolver interface {
	Resolve(r *http.Request) *domain.Deployment
}

// Registry 是内存中的 域名 → 部署 注册表。
// 部署描述符不可变；变更通过整体替换条目完成。
type Registry struct {
	mu      sync.RWMutex
	domains map[string]*domain.Deployment
}

// NewRegistry 创建空的注册表。
func NewRegistry() *Registry {
	return &Registry{
		domains: make(map[string]*domain.Deployment),
	}
}

// Resolve 按请求 Host（去除端口）查找部署。
func (r *Registry) Resolve(req *http.Request) *domain.Deployment {
	host := req.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.domains[host]
}

// Put 注册部署的全部路由域名。
func (r *Registry) Put(d *domain.Deployment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dom := range d.Domains {
		r.domains[strings.ToLower(dom)] = d
	}
}

// Remove 注销部署的全部路由域名。
// 仅移除仍指向该部署的条目，避免误删已被新部署接管的域名。
func (r *Registry) Remove(d *domain.Deployment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dom := range d.Domains {
		key := strings.ToLower(dom)
		if cur, ok := r.domains[key]; ok && cur.ID == d.ID {
			delete(r.domains, key)
		}
	}
}

// Len 返回已注册的域名数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.domains)
}
