package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tokmz/linkup"
)

// CORSConfig 运维接口跨域配置
type CORSConfig struct {
	// AllowOrigins 允许的源，支持 "https://*.example.com"；空或 ["*"] 表示任意源
	AllowOrigins []string

	// AllowHeaders 允许的请求头
	AllowHeaders []string

	// MaxAge 预检缓存时间
	MaxAge time.Duration
}

// DefaultCORSConfig 返回默认配置
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"Origin", "Accept", "Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
}

// CORS 创建跨域中间件，运维接口只读，只放行 GET/HEAD/OPTIONS
func CORS(cfgs ...*CORSConfig) linkup.HandlerFunc {
	cfg := DefaultCORSConfig()
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}

	allowAll := len(cfg.AllowOrigins) == 0 || (len(cfg.AllowOrigins) == 1 && cfg.AllowOrigins[0] == "*")
	allowHeaders := strings.Join(cfg.AllowHeaders, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	return func(c *linkup.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if !allowAll && !originAllowed(origin, cfg.AllowOrigins) {
			c.Next()
			return
		}

		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		if c.Request().Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			c.Header("Access-Control-Allow-Headers", allowHeaders)
			c.Header("Access-Control-Max-Age", maxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// originAllowed 精确匹配或单个 * 通配符匹配
func originAllowed(origin string, patterns []string) bool {
	for _, p := range patterns {
		prefix, suffix, wildcard := strings.Cut(p, "*")
		if !wildcard {
			if origin == p {
				return true
			}
			continue
		}
		if len(origin) > len(prefix)+len(suffix) &&
			strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
			return true
		}
	}
	return false
}
