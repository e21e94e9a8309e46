package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// unmatchedRoute 未命中路由统一成一个标签，避免按原始路径膨胀
const unmatchedRoute = "unmatched"

// skipPaths 探针与抓取端点不计入
var skipPaths = map[string]bool{
	"/metrics": true,
	"/health":  true,
	"/ready":   true,
}

// PrometheusMiddleware 按方法、路由模板与状态码记录请求
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		APIRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			APIResponseSize.WithLabelValues(method, route).Observe(float64(size))
		}
	}
}
