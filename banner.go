package linkup

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

// Version 服务版本号
const Version = "0.3.0"

const banner = `
 _     _       _
| |   (_)_ __ | | ___   _ _ __    linkup 实时消息服务
| |   | | '_ \| |/ / | | | '_ \   ws: %s
| |___| | | | |   <| |_| | |_) |  version: %s
|_____|_|_| |_|_|\_\\__,_| .__/
                         |_|
`

// printBanner 打印启动 banner 和路由表
func (e *Engine) printBanner(addr string) {
	out := os.Stdout

	host := addr
	if strings.HasPrefix(addr, ":") || strings.HasPrefix(addr, "[::]:") {
		host = "127.0.0.1" + addr[strings.LastIndex(addr, ":"):]
	}

	fPrint(out, banner, "ws://"+host+"/ws", Version)
	fPrint(out, "\n")

	if routes := e.engine.Routes(); len(routes) > 0 {
		printRoutes(out, routes, e.config.Mode)
		fPrint(out, "\n")
	}

	fPrint(out, "[linkup] Running in %q mode | Go %s | %s/%s\n",
		e.config.Mode, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fPrint(out, "[linkup] Listening on %s\n", addr)
}

// methodColor 根据 HTTP 方法返回 ANSI 颜色码
func methodColor(method string) string {
	switch method {
	case "GET":
		return "\033[34m"
	case "POST":
		return "\033[32m"
	default:
		return "\033[0m"
	}
}

const resetColor = "\033[0m"

// printRoutes 格式化打印路由表
func printRoutes(out io.Writer, routes gin.RoutesInfo, mode string) {
	maxPathLen := 0
	for _, r := range routes {
		maxPathLen = max(maxPathLen, len(r.Path))
	}

	for _, r := range routes {
		fPrint(out, "[linkup-%s] %s %-7s %s %-*s --> %s\n",
			mode,
			methodColor(r.Method), r.Method, resetColor,
			maxPathLen, r.Path,
			r.Handler)
	}
}

// silenceGin 静默 Gin 的默认输出
func silenceGin() {
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard
}

// fPrint 打印到 writer，忽略错误（banner 输出场景）
func fPrint(out io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(out, format, a...)
}
