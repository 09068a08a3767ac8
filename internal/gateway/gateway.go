// Package gateway 实现请求分发核心：
// 解析部署 → 资产/站点图标短路 → 沙箱执行 → 回复客户端 → 核算上报。
// 每条进入执行阶段的请求在单一的收尾路径中完成计费结果的封口与上报，
// 无论执行成功还是失败。
package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Udit-takkar/lagon/internal/domain"
	"github.com/Udit-takkar/lagon/internal/metrics"
	"github.com/Udit-takkar/lagon/internal/reporter"
	"github.com/Udit-takkar/lagon/internal/resolver"
	"github.com/Udit-takkar/lagon/internal/sandbox"
	"github.com/Udit-takkar/lagon/internal/telemetry"
)

// AssetStore 是编排器消费的静态资产读取接口。
type AssetStore interface {
	Get(deploymentID, path string) ([]byte, error)
	ContentType(path string) string
}

// Gateway 是面向客户端流量的 http.Handler。
// 持有解析器、资产存储、沙箱引擎与上报器，
// 以及按部署聚合日志与流数据块的两个注册表。
type Gateway struct {
	resolver resolver.Resolver
	assets   AssetStore
	engine   sandbox.Engine
	reporter reporter.Reporter

	logs    *LogCollector
	streams *StreamMultiplexer

	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// New 构造编排器。metrics 可为 nil（关闭指标采集）。
func New(res resolver.Resolver, store AssetStore, engine sandbox.Engine, rep reporter.Reporter, m *metrics.Metrics, logger *logrus.Logger) *Gateway {
	return &Gateway{
		resolver: res,
		assets:   store,
		engine:   engine,
		reporter: rep,
		logs:     NewLogCollector(),
		streams:  NewStreamMultiplexer(),
		metrics:  m,
		logger:   logger,
	}
}

// ServeHTTP 按顺序执行分发决策：
// 未知主机名返回固定 404 页面；命中部署资产清单的路径直接回放资产；
// /favicon.ico 返回空 204；其余请求进入沙箱执行。
// 前三类短路回复不产生计费结果。
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.StartSpan(r.Context(), "gateway.dispatch")
	defer span.End()

	dep := g.resolver.Resolve(r)
	if dep == nil {
		g.recordRequest("", "not_found")
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(notFoundPage))
		return
	}

	span.SetAttributes(
		attribute.String("deployment.id", dep.ID),
		attribute.String("function.name", dep.FunctionName),
	)

	if dep.HasAsset(r.URL.Path) {
		g.serveAsset(w, r, dep)
		return
	}

	if r.URL.Path == faviconPath {
		g.recordRequest(dep.FunctionName, "favicon")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	g.execute(ctx, w, r, dep)
}

// serveAsset 从资产存储读取文件并以扩展名推导的内容类型回放。
// 清单与存储不一致（清单有、磁盘无）按未找到处理。
func (g *Gateway) serveAsset(w http.ResponseWriter, r *http.Request, dep *domain.Deployment) {
	data, err := g.assets.Get(dep.ID, r.URL.Path)
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"deployment_id": dep.ID,
			"path":          r.URL.Path,
		}).WithError(err).Warn("Asset listed but not readable")
		g.recordRequest(dep.FunctionName, "not_found")
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(notFoundPage))
		return
	}

	g.recordRequest(dep.FunctionName, "asset")
	w.Header().Set("Content-Type", g.assets.ContentType(r.URL.Path))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// execute 在沙箱中运行部署的处理函数并回复客户端。
// 收尾在 defer 的单一路径中完成：封口已发送字节数与 CPU 时间、
// 清空该部署的日志与流注册表、异步上报计费结果。
func (g *Gateway) execute(ctx context.Context, w http.ResponseWriter, r *http.Request, dep *domain.Deployment) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		g.logger.WithField("deployment_id", dep.ID).WithError(err).Warn("Failed to read request body")
		body = nil
	}

	started := time.Now()
	result := domain.NewDeploymentResult(dep, headerBytes(r.Header)+int64(len(body)))

	var sentBytes int64
	var cpuMicros int64

	defer func() {
		result.SentBytes = sentBytes
		result.CPUTimeMicros = cpuMicros
		result.Logs = g.logs.Drain(dep.ID)
		g.streams.Remove(dep.ID)
		g.reporter.Report(context.WithoutCancel(ctx), result)
	}()

	req := &domain.ExecutionRequest{
		URL:     r.URL.RequestURI(),
		Method:  r.Method,
		Headers: r.Header,
		Body:    string(body),
	}

	resp, cpu, runErr := g.runIsolate(ctx, dep, req)
	if runErr == nil && resp == nil {
		runErr = domain.ErrNoResponse
	}
	if runErr != nil {
		telemetry.RecordError(ctx, runErr)
		g.logs.OnLog(dep.ID, domain.LogEntry{
			Level:     domain.LogLevelError,
			Message:   runErr.Error() + "\n" + filteredStack(0),
			Timestamp: time.Now(),
		})
		g.logger.WithFields(logrus.Fields{
			"deployment_id": dep.ID,
			"function_name": dep.FunctionName,
		}).WithError(runErr).Error("Execution failed")

		g.recordRequest(dep.FunctionName, "failure")
		if g.metrics != nil {
			g.metrics.RecordError(dep.FunctionName, classifyError(runErr))
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusInternalServerError)
		n, _ := w.Write([]byte(errorPage))
		sentBytes = int64(n)
		return
	}

	headers := normalizeHeaders(resp.Headers)
	for name, values := range headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.Status())

	if sc := g.streams.Lookup(dep.ID); sc != nil {
		sentBytes = g.relayStream(w, dep, sc)
	} else {
		n, _ := w.Write([]byte(resp.Body))
		sentBytes = int64(n)
	}

	cpuMicros = cpu

	g.recordRequest(dep.FunctionName, "success")
	if g.metrics != nil {
		g.metrics.RecordExecution(dep.FunctionName,
			float64(time.Since(started).Milliseconds()),
			result.ReceivedBytes, sentBytes)
	}
}

// runIsolate 获取实例、执行处理函数并返回成功执行的 CPU 时间（微秒）。
func (g *Gateway) runIsolate(ctx context.Context, dep *domain.Deployment, req *domain.ExecutionRequest) (*domain.ExecutionResponse, int64, error) {
	iso, err := g.engine.Acquire(ctx, dep)
	if err != nil {
		return nil, 0, err
	}
	defer iso.Release()

	resp, err := iso.Run(ctx, req, g.streams.OnChunk, g.logs.OnLog)
	if err != nil {
		return nil, 0, err
	}
	return resp, iso.Usage(), nil
}

// relayStream 将流数据块按产生顺序中继给客户端，尽可能逐块冲刷。
// 中继在执行返回后开始，此时生产端不会再推送新块；
// 先关闭写端，保证沙箱从未发出 done 信号时循环也能终止。
func (g *Gateway) relayStream(w http.ResponseWriter, dep *domain.Deployment, sc *StreamChannel) int64 {
	sc.CloseWrites()

	flusher, _ := w.(http.Flusher)
	var sent int64
	for {
		chunk, ok := sc.Next()
		if !ok {
			return sent
		}
		n, err := w.Write(chunk)
		sent += int64(n)
		if err != nil {
			return sent
		}
		if flusher != nil {
			flusher.Flush()
		}
		if g.metrics != nil {
			g.metrics.StreamChunks.WithLabelValues(dep.FunctionName).Inc()
		}
	}
}

func (g *Gateway) recordRequest(functionName, outcome string) {
	if g.metrics != nil {
		g.metrics.RecordRequest(functionName, outcome)
	}
}

// headerBytes 统计请求头占用的字节数（名称与每个值的长度之和）。
func headerBytes(h http.Header) int64 {
	var total int64
	for name, values := range h {
		for _, v := range values {
			total += int64(len(name)) + int64(len(v))
		}
	}
	return total
}

// classifyError 将执行错误归入指标的 error_type 标签。
func classifyError(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoResponse):
		return "no_response"
	case errors.Is(err, domain.ErrCodeNotFound):
		return "code_not_found"
	case errors.Is(err, domain.ErrEngineClosed):
		return "engine_closed"
	default:
		return "execution"
	}
}
