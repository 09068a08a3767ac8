package gateway

import (
	"runtime"
	"strconv"
	"strings"
)

// 固定回复页面。
// 404 页在没有部署路由到请求时返回；
// 500 页在沙箱执行失败时返回。
const (
	notFoundPage = `<!DOCTYPE html>
<html>
<head><title>404 Not Found</title></head>
<body>
<h1>404 Not Found</h1>
<p>No deployment is routed to this domain.</p>
</body>
</html>`

	errorPage = `<!DOCTYPE html>
<html>
<head><title>500 Internal Server Error</title></head>
<body>
<h1>500 Internal Server Error</h1>
<p>The function failed to execute.</p>
</body>
</html>`
)

// faviconPath 是浏览器自动请求的图标路径。
// 部署未携带对应资源时以 204 空响应短路。
const faviconPath = "/favicon.ico"

// filteredStack 采集当前调用栈并过滤掉运行时、标准库 HTTP
// 和本包自身的分发帧，只保留对排障有意义的位置。
// skip 指定额外跳过的调用层数（不含 filteredStack 自身）。
func filteredStack(skip int) string {
	const maxDepth = 32
	var pcs [maxDepth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return ""
	}

	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for {
		frame, more := frames.Next()
		if strings.Contains(frame.File, "runtime/") ||
			strings.Contains(frame.File, "net/http") ||
			strings.Contains(frame.Function, "internal/gateway") {
			if !more {
				break
			}
			continue
		}
		sb.WriteString(frame.Function)
		sb.WriteString("\n\t")
		sb.WriteString(frame.File)
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(frame.Line))
		sb.WriteString("\n")
		if !more {
			break
		}
	}
	return sb.String()
}
