// Package reporter 将计费结果交付给核算子系统。
// 上报相对客户端回复是 fire-and-forget 的：回复从不等待上报完成，
// 上报失败也不回传给调用方，只记录日志和指标。
package reporter

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/Udit-takkar/lagon/internal/domain"
	"github.com/Udit-takkar/lagon/internal/metrics"
)

// Reporter 定义编排器消费的上报接口。
type Reporter interface {
	// Report 提交一条计费结果。调用方不关心交付结果。
	Report(ctx context.Context, result *domain.DeploymentResult)
}

// Sink 是一条结果的同步落地端（NATS、PostgreSQL 等）。
type Sink interface {
	Submit(ctx context.Context, result *domain.DeploymentResult) error
}

// MultiSink 将结果扇出到多个落地端。
// 单个落地端失败不阻止其余落地端，错误由上层记录。
type MultiSink struct {
	sinks  []Sink
	logger *logrus.Logger
}

// NewMultiSink 组合多个落地端。
func NewMultiSink(logger *logrus.Logger, sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks, logger: logger}
}

// Submit 依次提交到每个落地端。
func (m *MultiSink) Submit(ctx context.Context, result *domain.DeploymentResult) error {
	for _, sink := range m.sinks {
		if err := sink.Submit(ctx, result); err != nil {
			m.logger.WithError(err).WithField("deployment_id", result.DeploymentID).
				Error("Result sink failed")
		}
	}
	return nil
}

// BufferedReporter 在编排器与落地端之间放置一个有界缓冲。
// 缓冲写满时新结果被丢弃并计数（丢弃策略），从不阻塞请求路径：
// 计费记录可容忍少量丢失，请求延迟不可。
type BufferedReporter struct {
	sink    Sink
	buffer  chan *domain.DeploymentResult
	metrics *metrics.Metrics
	logger  *logrus.Logger
	done    chan struct{}
}

// NewBufferedReporter 创建上报器并启动后台交付协程。
func NewBufferedReporter(sink Sink, size int, m *metrics.Metrics, logger *logrus.Logger) *BufferedReporter {
	if size <= 0 {
		size = 1024
	}
	r := &BufferedReporter{
		sink:    sink,
		buffer:  make(chan *domain.DeploymentResult, size),
		metrics: m,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Report 将结果放入缓冲。缓冲写满时丢弃并记录。
func (r *BufferedReporter) Report(_ context.Context, result *domain.DeploymentResult) {
	select {
	case r.buffer <- result:
		if r.metrics != nil {
			r.metrics.ReporterQueueDepth.Set(float64(len(r.buffer)))
		}
	default:
		if r.metrics != nil {
			r.metrics.ReporterDropped.Inc()
		}
		r.logger.WithField("deployment_id", result.DeploymentID).
			Warn("Reporter buffer full, result dropped")
	}
}

// run 是后台交付协程的主循环。
func (r *BufferedReporter) run() {
	defer close(r.done)
	for result := range r.buffer {
		if err := r.sink.Submit(context.Background(), result); err != nil {
			r.logger.WithError(err).WithField("deployment_id", result.DeploymentID).
				Error("Failed to submit deployment result")
		}
		if r.metrics != nil {
			r.metrics.ReporterQueueDepth.Set(float64(len(r.buffer)))
		}
	}
}

// Close 停止接收并等待缓冲中的结果交付完毕。
func (r *BufferedReporter) Close() {
	close(r.buffer)
	<-r.done
}
