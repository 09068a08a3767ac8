package gateway

import (
	"sync"

	"github.com/Udit-takkar/lagon/internal/domain"
)

// LogCollector 按部署键累积执行日志。
// 沙箱在执行期间通过 OnLog 回调异步推送日志，
// 编排器在结果终结时恰好一次地取出并清空对应键的序列。
// 这使异步日志产生与沙箱最终输出的同步返回解耦。
//
// 注册表以部署 ID 为键而非请求为键，与流注册表一致：
// 同一部署的并发请求会交错写入同一条目（见 gateway 包测试）。
type LogCollector struct {
	mu      sync.Mutex
	entries map[string][]domain.LogEntry
}

// NewLogCollector 创建空的日志收集器。
func NewLogCollector() *LogCollector {
	return &LogCollector{
		entries: make(map[string][]domain.LogEntry),
	}
}

// OnLog 将日志条目追加到部署的有序序列，保持到达顺序。
// 序列不存在时惰性创建。该方法由沙箱引擎的回调句柄并发调用。
func (c *LogCollector) OnLog(deploymentID string, entry domain.LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[deploymentID] = append(c.entries[deploymentID], entry)
}

// Drain 取出部署的全部日志并删除注册表条目。
// 编排器在结果终结时对每个执行过的请求恰好调用一次。
func (c *LogCollector) Drain(deploymentID string) []domain.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.entries[deploymentID]
	delete(c.entries, deploymentID)
	if entries == nil {
		entries = []domain.LogEntry{}
	}
	return entries
}

// Len 返回部署当前累积的日志条数，供测试与指标使用。
func (c *LogCollector) Len(deploymentID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries[deploymentID])
}
