// Package metrics 提供 Prometheus 指标采集与上报的统一封装。
// 该包集中定义分发核心的关键指标（请求、执行、流式传输、隔离实例池、上报器），
// 便于在各模块复用并保持标签一致。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 封装分发核心的运行时指标集合。
// 所有字段均为 Prometheus 指标类型，通过辅助方法更新指标值。
type Metrics struct {
	// ========== 请求相关指标 ==========

	// RequestsTotal 请求总次数计数器
	// 标签: function_name, outcome (not_found/asset/favicon/success/failure)
	RequestsTotal *prometheus.CounterVec

	// ExecutionDuration 执行耗时直方图（单位：毫秒）
	// 标签: function_name
	ExecutionDuration *prometheus.HistogramVec

	// ReceivedBytes 入站字节计数器（请求头 + 请求体）
	// 标签: function_name
	ReceivedBytes *prometheus.CounterVec

	// SentBytes 出站回复体字节计数器
	// 标签: function_name
	SentBytes *prometheus.CounterVec

	// ExecutionErrors 执行失败计数器
	// 标签: function_name, error_type
	ExecutionErrors *prometheus.CounterVec

	// ========== 流式传输相关指标 ==========

	// StreamChunks 中继的流数据块计数器
	// 标签: function_name
	StreamChunks *prometheus.CounterVec

	// ========== 隔离实例池相关指标 ==========

	// ColdStarts 冷启动次数计数器（新建实例）
	// 标签: function_name
	ColdStarts *prometheus.CounterVec

	// WarmStarts 热启动次数计数器（复用预热实例）
	// 标签: function_name
	WarmStarts *prometheus.CounterVec

	// IsolatePoolIdle 预热池中的空闲实例数
	// 标签: function_name
	IsolatePoolIdle *prometheus.GaugeVec

	// IsolateBootDuration 实例冷启动耗时直方图（单位：毫秒）
	// 标签: function_name
	IsolateBootDuration *prometheus.HistogramVec

	// ========== 上报器相关指标 ==========

	// ReporterQueueDepth 上报器缓冲中待发送的结果数
	ReporterQueueDepth prometheus.Gauge

	// ReporterDropped 因缓冲写满被丢弃的结果数
	ReporterDropped prometheus.Counter
}

// NewMetrics 创建并注册一组 Prometheus 指标。
// namespace 用于作为所有指标名前缀，便于在同一 Prometheus 中区分不同应用。
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of dispatched requests",
			},
			[]string{"function_name", "outcome"},
		),
		ExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_ms",
				Help:      "Deployment execution duration in milliseconds",
				Buckets:   []float64{1, 5, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"function_name"},
		),
		ReceivedBytes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "received_bytes_total",
				Help:      "Total inbound bytes (headers plus body)",
			},
			[]string{"function_name"},
		),
		SentBytes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sent_bytes_total",
				Help:      "Total reply body bytes sent",
			},
			[]string{"function_name"},
		),
		ExecutionErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "execution_errors_total",
				Help:      "Total number of execution failures",
			},
			[]string{"function_name", "error_type"},
		),
		StreamChunks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_chunks_total",
				Help:      "Total streamed response chunks relayed",
			},
			[]string{"function_name"},
		),
		ColdStarts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cold_starts_total",
				Help:      "Total isolate cold starts",
			},
			[]string{"function_name"},
		),
		WarmStarts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "warm_starts_total",
				Help:      "Total isolate warm starts",
			},
			[]string{"function_name"},
		),
		IsolatePoolIdle: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "isolate_pool_idle",
				Help:      "Idle isolates kept warm per function",
			},
			[]string{"function_name"},
		),
		IsolateBootDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "isolate_boot_duration_ms",
				Help:      "Isolate cold start duration in milliseconds",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
			},
			[]string{"function_name"},
		),
		ReporterQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reporter_queue_depth",
				Help:      "Deployment results waiting in the reporter buffer",
			},
		),
		ReporterDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reporter_dropped_total",
				Help:      "Deployment results dropped because the reporter buffer was full",
			},
		),
	}
}

// RecordRequest 记录一次请求的路由结果。
func (m *Metrics) RecordRequest(functionName, outcome string) {
	m.RequestsTotal.WithLabelValues(functionName, outcome).Inc()
}

// RecordExecution 记录一次执行的耗时与传输量。
func (m *Metrics) RecordExecution(functionName string, durationMs float64, received, sent int64) {
	m.ExecutionDuration.WithLabelValues(functionName).Observe(durationMs)
	m.ReceivedBytes.WithLabelValues(functionName).Add(float64(received))
	m.SentBytes.WithLabelValues(functionName).Add(float64(sent))
}

// RecordError 记录一次执行失败。
func (m *Metrics) RecordError(functionName, errorType string) {
	m.ExecutionErrors.WithLabelValues(functionName, errorType).Inc()
}
