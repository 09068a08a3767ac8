// Package gateway 实现请求分发核心。
// 本文件包含编排器的单元测试，使用模拟的解析器、资产存储、
// 沙箱引擎与上报器隔离测试环境。
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Udit-takkar/lagon/internal/domain"
	"github.com/Udit-takkar/lagon/internal/sandbox"
)

// fakeResolver 按主机名映射返回部署。
type fakeResolver struct {
	deployments map[string]*domain.Deployment
}

func (f *fakeResolver) Resolve(r *http.Request) *domain.Deployment {
	return f.deployments[r.Host]
}

// fakeAssets 是内存资产存储，key 为 "部署ID/路径"。
type fakeAssets struct {
	files map[string][]byte
}

func (f *fakeAssets) Get(deploymentID, path string) ([]byte, error) {
	data, ok := f.files[deploymentID+"/"+strings.TrimPrefix(path, "/")]
	if !ok {
		return nil, domain.ErrAssetNotFound
	}
	return data, nil
}

func (f *fakeAssets) ContentType(path string) string {
	if strings.HasSuffix(path, ".css") {
		return "text/css; charset=utf-8"
	}
	return "text/plain"
}

// fakeIsolate 由测试注入的 run 函数驱动。
type fakeIsolate struct {
	run   func(ctx context.Context, req *domain.ExecutionRequest, onChunk sandbox.OnChunk, onLog sandbox.OnLog) (*domain.ExecutionResponse, error)
	cpu   int64
	freed bool
}

func (f *fakeIsolate) Run(ctx context.Context, req *domain.ExecutionRequest, onChunk sandbox.OnChunk, onLog sandbox.OnLog) (*domain.ExecutionResponse, error) {
	return f.run(ctx, req, onChunk, onLog)
}

func (f *fakeIsolate) Usage() int64 { return f.cpu }
func (f *fakeIsolate) Release()    { f.freed = true }

// fakeEngine 总是返回同一个隔离实例。
type fakeEngine struct {
	isolate *fakeIsolate
	err     error
}

func (f *fakeEngine) Acquire(ctx context.Context, d *domain.Deployment) (sandbox.Isolate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.isolate, nil
}

func (f *fakeEngine) Close(ctx context.Context) error { return nil }

// fakeReporter 记录全部上报结果供断言。
type fakeReporter struct {
	mu      sync.Mutex
	results []*domain.DeploymentResult
}

func (f *fakeReporter) Report(_ context.Context, result *domain.DeploymentResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
}

func (f *fakeReporter) all() []*domain.DeploymentResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results
}

func testDeployment() *domain.Deployment {
	return &domain.Deployment{
		ID:           "dep-1",
		FunctionID:   "fn-1",
		FunctionName: "hello",
		Domains:      []string{"hello.example.com"},
		Assets:       []string{"styles/main.css"},
	}
}

func newTestGateway(engine *fakeEngine, rep *fakeReporter) *Gateway {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	res := &fakeResolver{deployments: map[string]*domain.Deployment{
		"hello.example.com": testDeployment(),
	}}
	store := &fakeAssets{files: map[string][]byte{
		"dep-1/styles/main.css": []byte("body{}"),
	}}
	return New(res, store, engine, rep, nil, logger)
}

// TestUnknownDomain 验证未知主机名返回固定 404 页面且不产生计费结果。
func TestUnknownDomain(t *testing.T) {
	rep := &fakeReporter{}
	gw := newTestGateway(&fakeEngine{}, rep)

	req := httptest.NewRequest(http.MethodGet, "http://unknown.example.com/", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html" {
		t.Errorf("Content-Type = %s, want text/html", ct)
	}
	if w.Body.String() != notFoundPage {
		t.Errorf("body = %q, want not found page", w.Body.String())
	}
	if len(rep.all()) != 0 {
		t.Errorf("results reported = %d, want 0", len(rep.all()))
	}
}

// TestServeAsset 验证命中资产清单的路径直接回放资产，
// 内容类型由扩展名推导，且不进入沙箱执行。
func TestServeAsset(t *testing.T) {
	rep := &fakeReporter{}
	engine := &fakeEngine{err: errors.New("engine must not be reached")}
	gw := newTestGateway(engine, rep)

	req := httptest.NewRequest(http.MethodGet, "http://hello.example.com/styles/main.css", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/css; charset=utf-8" {
		t.Errorf("Content-Type = %s, want text/css", ct)
	}
	if w.Body.String() != "body{}" {
		t.Errorf("body = %q, want asset content", w.Body.String())
	}
	if len(rep.all()) != 0 {
		t.Errorf("results reported = %d, want 0", len(rep.all()))
	}
}

// TestAssetListedButMissing 验证清单与存储不一致时按未找到处理。
func TestAssetListedButMissing(t *testing.T) {
	rep := &fakeReporter{}
	gw := newTestGateway(&fakeEngine{}, rep)
	gw.assets.(*fakeAssets).files = map[string][]byte{}

	req := httptest.NewRequest(http.MethodGet, "http://hello.example.com/styles/main.css", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if w.Body.String() != notFoundPage {
		t.Errorf("body = %q, want not found page", w.Body.String())
	}
}

// TestFavicon 验证 /favicon.ico 返回空 204 且不产生计费结果。
func TestFavicon(t *testing.T) {
	rep := &fakeReporter{}
	engine := &fakeEngine{err: errors.New("engine must not be reached")}
	gw := newTestGateway(engine, rep)

	req := httptest.NewRequest(http.MethodGet, "http://hello.example.com/favicon.ico", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w.Body.Len() != 0 {
		t.Errorf("body length = %d, want 0", w.Body.Len())
	}
	if len(rep.all()) != 0 {
		t.Errorf("results reported = %d, want 0", len(rep.all()))
	}
}

// TestExecuteSuccess 验证成功执行的完整链路：
// 响应体与状态码回放、CPU 时间与出入站字节数的核算。
func TestExecuteSuccess(t *testing.T) {
	rep := &fakeReporter{}
	iso := &fakeIsolate{
		cpu: 1500,
		run: func(ctx context.Context, req *domain.ExecutionRequest, onChunk sandbox.OnChunk, onLog sandbox.OnLog) (*domain.ExecutionResponse, error) {
			onLog("dep-1", domain.LogEntry{Level: domain.LogLevelInfo, Message: "handling", Timestamp: time.Now()})
			return &domain.ExecutionResponse{
				StatusCode: 201,
				Headers:    map[string]interface{}{"X-Custom": "yes"},
				Body:       "ok",
			}, nil
		},
	}
	gw := newTestGateway(&fakeEngine{isolate: iso}, rep)

	req := httptest.NewRequest(http.MethodPost, "http://hello.example.com/run", strings.NewReader("payload"))
	req.Header.Set("X-Test", "abc")
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != 201 {
		t.Errorf("status = %d, want 201", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", w.Body.String())
	}
	if v := w.Header().Get("X-Custom"); v != "yes" {
		t.Errorf("X-Custom = %s, want yes", v)
	}

	results := rep.all()
	if len(results) != 1 {
		t.Fatalf("results reported = %d, want 1", len(results))
	}
	r := results[0]
	if r.CPUTimeMicros != 1500 {
		t.Errorf("CPUTimeMicros = %d, want 1500", r.CPUTimeMicros)
	}
	if r.SentBytes != 2 {
		t.Errorf("SentBytes = %d, want 2", r.SentBytes)
	}
	// 入站字节 = 头（名称+值）+ 体
	want := int64(len("X-Test")+len("abc")) + int64(len("payload"))
	if r.ReceivedBytes != want {
		t.Errorf("ReceivedBytes = %d, want %d", r.ReceivedBytes, want)
	}
	if len(r.Logs) != 1 || r.Logs[0].Message != "handling" {
		t.Errorf("Logs = %v, want single handling entry", r.Logs)
	}
	if !iso.freed {
		t.Error("isolate was not released")
	}
}

// TestExecuteFailure 验证执行失败的处理：
// 返回固定 500 页面、恰好追加一条含错误消息的诊断日志、
// CPU 时间保持为零、不重试。
func TestExecuteFailure(t *testing.T) {
	rep := &fakeReporter{}
	calls := 0
	iso := &fakeIsolate{
		cpu: 900,
		run: func(ctx context.Context, req *domain.ExecutionRequest, onChunk sandbox.OnChunk, onLog sandbox.OnLog) (*domain.ExecutionResponse, error) {
			calls++
			return nil, errors.New("boom")
		},
	}
	gw := newTestGateway(&fakeEngine{isolate: iso}, rep)

	req := httptest.NewRequest(http.MethodGet, "http://hello.example.com/run", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if w.Body.String() != errorPage {
		t.Errorf("body = %q, want error page", w.Body.String())
	}
	if calls != 1 {
		t.Errorf("run calls = %d, want 1 (no retry)", calls)
	}

	results := rep.all()
	if len(results) != 1 {
		t.Fatalf("results reported = %d, want 1", len(results))
	}
	r := results[0]
	if r.CPUTimeMicros != 0 {
		t.Errorf("CPUTimeMicros = %d, want 0 on failure", r.CPUTimeMicros)
	}
	if r.SentBytes != int64(len(errorPage)) {
		t.Errorf("SentBytes = %d, want %d", r.SentBytes, len(errorPage))
	}
	if len(r.Logs) != 1 {
		t.Fatalf("Logs length = %d, want exactly 1 diagnostic entry", len(r.Logs))
	}
	if r.Logs[0].Level != domain.LogLevelError || !strings.Contains(r.Logs[0].Message, "boom") {
		t.Errorf("diagnostic log = %+v, want error level containing boom", r.Logs[0])
	}
}

// TestExecuteNilResponse 验证沙箱返回空响应按执行失败处理。
func TestExecuteNilResponse(t *testing.T) {
	rep := &fakeReporter{}
	iso := &fakeIsolate{
		run: func(ctx context.Context, req *domain.ExecutionRequest, onChunk sandbox.OnChunk, onLog sandbox.OnLog) (*domain.ExecutionResponse, error) {
			return nil, nil
		},
	}
	gw := newTestGateway(&fakeEngine{isolate: iso}, rep)

	req := httptest.NewRequest(http.MethodGet, "http://hello.example.com/", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	results := rep.all()
	if len(results) != 1 {
		t.Fatalf("results reported = %d, want 1", len(results))
	}
	if len(results[0].Logs) != 1 || !strings.Contains(results[0].Logs[0].Message, domain.ErrNoResponse.Error()) {
		t.Errorf("Logs = %v, want single no-response diagnostic", results[0].Logs)
	}
}

// TestAcquireFailure 验证获取实例失败与执行失败走同一条失败路径。
func TestAcquireFailure(t *testing.T) {
	rep := &fakeReporter{}
	gw := newTestGateway(&fakeEngine{err: domain.ErrCodeNotFound}, rep)

	req := httptest.NewRequest(http.MethodGet, "http://hello.example.com/", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if len(rep.all()) != 1 {
		t.Errorf("results reported = %d, want 1", len(rep.all()))
	}
}

// TestExecuteStreamed 验证流式响应：
// 数据块按产生顺序中继、出站字节数按块累计、
// 请求完成后流通道被销毁。
func TestExecuteStreamed(t *testing.T) {
	rep := &fakeReporter{}
	iso := &fakeIsolate{
		cpu: 100,
		run: func(ctx context.Context, req *domain.ExecutionRequest, onChunk sandbox.OnChunk, onLog sandbox.OnLog) (*domain.ExecutionResponse, error) {
			onChunk("dep-1", false, []byte("first,"))
			onChunk("dep-1", false, []byte("second"))
			onChunk("dep-1", true, nil)
			return &domain.ExecutionResponse{StatusCode: 200, Streamed: true}, nil
		},
	}
	gw := newTestGateway(&fakeEngine{isolate: iso}, rep)

	req := httptest.NewRequest(http.MethodGet, "http://hello.example.com/stream", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Body.String() != "first,second" {
		t.Errorf("body = %q, want chunks in push order", w.Body.String())
	}
	if gw.streams.Len() != 0 {
		t.Errorf("stream channels remaining = %d, want 0", gw.streams.Len())
	}
	results := rep.all()
	if len(results) != 1 {
		t.Fatalf("results reported = %d, want 1", len(results))
	}
	if results[0].SentBytes != int64(len("first,second")) {
		t.Errorf("SentBytes = %d, want %d", results[0].SentBytes, len("first,second"))
	}
}

// TestExecuteStreamedLargeBody 验证大量数据块的流式响应：
// 生产端在执行期间同步推送远超任何固定缓冲的块数，
// 推送不阻塞执行协程，全部块最终按序交付。
func TestExecuteStreamedLargeBody(t *testing.T) {
	rep := &fakeReporter{}
	const chunks = 200
	var want strings.Builder
	iso := &fakeIsolate{
		cpu: 100,
		run: func(ctx context.Context, req *domain.ExecutionRequest, onChunk sandbox.OnChunk, onLog sandbox.OnLog) (*domain.ExecutionResponse, error) {
			for i := 0; i < chunks; i++ {
				chunk := fmt.Sprintf("chunk-%03d;", i)
				want.WriteString(chunk)
				onChunk("dep-1", false, []byte(chunk))
			}
			onChunk("dep-1", true, nil)
			return &domain.ExecutionResponse{StatusCode: 200, Streamed: true}, nil
		},
	}
	gw := newTestGateway(&fakeEngine{isolate: iso}, rep)

	req := httptest.NewRequest(http.MethodGet, "http://hello.example.com/stream", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Body.String() != want.String() {
		t.Errorf("body length = %d, want %d with chunks in push order", w.Body.Len(), want.Len())
	}
	if gw.streams.Len() != 0 {
		t.Errorf("stream channels remaining = %d, want 0", gw.streams.Len())
	}
	results := rep.all()
	if len(results) != 1 {
		t.Fatalf("results reported = %d, want 1", len(results))
	}
	if results[0].SentBytes != int64(want.Len()) {
		t.Errorf("SentBytes = %d, want %d", results[0].SentBytes, want.Len())
	}
}

// TestExecuteStreamedWithoutDone 验证客户端脚本从未发出结束信号时，
// 请求仍能完成：已推送的块全部交付，结果正常上报。
func TestExecuteStreamedWithoutDone(t *testing.T) {
	rep := &fakeReporter{}
	iso := &fakeIsolate{
		cpu: 100,
		run: func(ctx context.Context, req *domain.ExecutionRequest, onChunk sandbox.OnChunk, onLog sandbox.OnLog) (*domain.ExecutionResponse, error) {
			onChunk("dep-1", false, []byte("partial"))
			return &domain.ExecutionResponse{StatusCode: 200, Streamed: true}, nil
		},
	}
	gw := newTestGateway(&fakeEngine{isolate: iso}, rep)

	req := httptest.NewRequest(http.MethodGet, "http://hello.example.com/stream", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Body.String() != "partial" {
		t.Errorf("body = %q, want partial", w.Body.String())
	}
	if gw.streams.Len() != 0 {
		t.Errorf("stream channels remaining = %d, want 0", gw.streams.Len())
	}
	results := rep.all()
	if len(results) != 1 {
		t.Fatalf("results reported = %d, want 1", len(results))
	}
	if results[0].SentBytes != int64(len("partial")) {
		t.Errorf("SentBytes = %d, want %d", results[0].SentBytes, len("partial"))
	}
}

// TestLogRegistryDrained 验证请求完成后日志注册表不残留条目。
func TestLogRegistryDrained(t *testing.T) {
	rep := &fakeReporter{}
	iso := &fakeIsolate{
		run: func(ctx context.Context, req *domain.ExecutionRequest, onChunk sandbox.OnChunk, onLog sandbox.OnLog) (*domain.ExecutionResponse, error) {
			onLog("dep-1", domain.LogEntry{Level: domain.LogLevelLog, Message: "a", Timestamp: time.Now()})
			onLog("dep-1", domain.LogEntry{Level: domain.LogLevelWarn, Message: "b", Timestamp: time.Now()})
			return &domain.ExecutionResponse{StatusCode: 200, Body: "done"}, nil
		},
	}
	gw := newTestGateway(&fakeEngine{isolate: iso}, rep)

	req := httptest.NewRequest(http.MethodGet, "http://hello.example.com/", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if gw.logs.Len("dep-1") != 0 {
		t.Errorf("log entries remaining = %d, want 0", gw.logs.Len("dep-1"))
	}
	results := rep.all()
	if len(results) != 1 {
		t.Fatalf("results reported = %d, want 1", len(results))
	}
	got := results[0].Logs
	if len(got) != 2 || got[0].Message != "a" || got[1].Message != "b" {
		t.Errorf("Logs = %v, want ordered [a b]", got)
	}
}

// TestConcurrentSameDeployment 记录注册表按部署 ID 聚合的已知特性：
// 同一部署的并发请求共享日志桶，单条日志可能被归入并发的
// 另一次请求的结果，但日志总量不増不减。
func TestConcurrentSameDeployment(t *testing.T) {
	rep := &fakeReporter{}
	iso := &fakeIsolate{
		run: func(ctx context.Context, req *domain.ExecutionRequest, onChunk sandbox.OnChunk, onLog sandbox.OnLog) (*domain.ExecutionResponse, error) {
			onLog("dep-1", domain.LogEntry{Level: domain.LogLevelLog, Message: "entry", Timestamp: time.Now()})
			return &domain.ExecutionResponse{StatusCode: 200, Body: "done"}, nil
		},
	}
	gw := newTestGateway(&fakeEngine{isolate: iso}, rep)

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "http://hello.example.com/", nil)
			gw.ServeHTTP(httptest.NewRecorder(), req)
		}()
	}
	wg.Wait()

	results := rep.all()
	if len(results) != workers {
		t.Fatalf("results reported = %d, want %d", len(results), workers)
	}
	total := 0
	for _, r := range results {
		total += len(r.Logs)
	}
	if total != workers {
		t.Errorf("total log entries = %d, want %d", total, workers)
	}
	if gw.logs.Len("dep-1") != 0 {
		t.Errorf("log entries remaining = %d, want 0", gw.logs.Len("dep-1"))
	}
}
