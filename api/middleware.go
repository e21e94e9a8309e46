package api

import (
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"claireportal/internal/auth"
	"claireportal/internal/logger"
	"claireportal/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// quietPaths 探针请求不记日志
var quietPaths = map[string]bool{"/health": true, "/ready": true, "/metrics": true}

// RequestLogger 访问日志；5xx 记 error，4xx 记 warn
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if quietPaths[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := zapcore.InfoLevel
		switch {
		case status >= http.StatusInternalServerError:
			level = zapcore.ErrorLevel
		case status >= http.StatusBadRequest:
			level = zapcore.WarnLevel
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", middleware.GetRequestID(c)),
		}
		if user, ok := auth.GetUserContext(c); ok {
			fields = append(fields, zap.String("user_id", user.UserID))
			if user.Impersonating {
				fields = append(fields, zap.String("effective_user_id", user.EffectiveUserID))
			}
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		logger.WithContext(c.Request.Context()).Log(level, "HTTP 请求", fields...)
	}
}

var defaultCORSHeaders = []string{
	"Content-Type", "Content-Length", "Authorization", "Accept", "Origin",
	"Cache-Control", "X-Requested-With", middleware.HeaderRequestID,
}

// CORS 允许的来源与请求头在构造时从 CORS_ALLOW_ORIGINS / CORS_ALLOW_HEADERS 读取；未配置来源时放行所有来源
func CORS() gin.HandlerFunc {
	origins := envList("CORS_ALLOW_ORIGINS")
	headers := envList("CORS_ALLOW_HEADERS")
	if len(headers) == 0 {
		headers = defaultCORSHeaders
	}
	allowHeaders := strings.Join(headers, ", ")

	return func(c *gin.Context) {
		h := c.Writer.Header()
		if len(origins) == 0 {
			h.Set("Access-Control-Allow-Origin", "*")
		} else if origin := c.GetHeader("Origin"); slices.Contains(origins, origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		h.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Page-Count, "+middleware.HeaderRequestID)
		h.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// envList 逗号分隔的环境变量，忽略空项
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
