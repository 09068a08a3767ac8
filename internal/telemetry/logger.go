package telemetry

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// LogrusHook 向日志条目自动注入追踪上下文。
// 条目携带有效追踪上下文时追加 trace_id、span_id 与 trace_sampled
// 字段，便于在日志系统中按追踪链路关联排查。
type LogrusHook struct{}

// NewLogrusHook 创建钩子实例，加到 Logger 即可启用注入。
func NewLogrusHook() *LogrusHook {
	return &LogrusHook{}
}

// Levels 在所有日志级别触发。
func (h *LogrusHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire 从条目的上下文提取当前 Span 并写入追踪字段。
func (h *LogrusHook) Fire(entry *logrus.Entry) error {
	ctx := entry.Context
	if ctx == nil {
		return nil
	}

	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}

	entry.Data["trace_id"] = sc.TraceID().String()
	entry.Data["span_id"] = sc.SpanID().String()
	if sc.IsSampled() {
		entry.Data["trace_sampled"] = true
	}
	return nil
}

// EntryWithTraceContext 向现有日志条目追加追踪上下文字段。
// 上下文中没有有效 Span 时原样返回条目。
func EntryWithTraceContext(ctx context.Context, entry *logrus.Entry) *logrus.Entry {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return entry
	}
	return entry.WithFields(logrus.Fields{
		"trace_id":      sc.TraceID().String(),
		"span_id":       sc.SpanID().String(),
		"trace_sampled": sc.IsSampled(),
	})
}
