package middleware

import (
	"context"
	"sync"
	"time"

	"claireportal/internal/auth"
	"claireportal/internal/common"
	"claireportal/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimiterConfig 限流配置
type RateLimiterConfig struct {
	RequestsPerSecond float64       // 令牌补充速率
	RequestsPerMinute int           // 每分钟请求上限，0 为不限
	BurstSize         int           // 突发容量
	CleanupInterval   time.Duration // 清理间隔
	IdleTTL           time.Duration // 空闲多久后丢弃状态
}

// DefaultRateLimiterConfig 默认配置，面向会调用外部智能体的昂贵接口
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		RequestsPerSecond: 0.5,
		RequestsPerMinute: 20,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
		IdleTTL:           10 * time.Minute,
	}
}

// clientState 客户端状态
type clientState struct {
	tokens      float64
	lastUpdate  time.Time
	requests    int
	minuteStart time.Time
}

// RateLimiter 按用户的令牌桶限流器
type RateLimiter struct {
	config  *RateLimiterConfig
	clients map[string]*clientState
	mu      sync.Mutex
	now     func() time.Time
}

// NewRateLimiter 创建限流器
func NewRateLimiter(config *RateLimiterConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimiterConfig()
	}
	return &RateLimiter{
		config:  config,
		clients: make(map[string]*clientState),
		now:     time.Now,
	}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	state, exists := rl.clients[key]
	if !exists {
		rl.clients[key] = &clientState{
			tokens:      float64(rl.config.BurstSize - 1),
			lastUpdate:  now,
			requests:    1,
			minuteStart: now,
		}
		return true
	}

	// 令牌桶：按流逝时间补充
	state.tokens += now.Sub(state.lastUpdate).Seconds() * rl.config.RequestsPerSecond
	if state.tokens > float64(rl.config.BurstSize) {
		state.tokens = float64(rl.config.BurstSize)
	}
	state.lastUpdate = now

	if now.Sub(state.minuteStart) > time.Minute {
		state.requests = 0
		state.minuteStart = now
	}
	if rl.config.RequestsPerMinute > 0 && state.requests >= rl.config.RequestsPerMinute {
		return false
	}
	if state.tokens < 1 {
		return false
	}

	state.tokens--
	state.requests++
	return true
}

// Run 定期清理空闲状态，直到 ctx 结束
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, state := range rl.clients {
		if now.Sub(state.lastUpdate) > rl.config.IdleTTL {
			delete(rl.clients, key)
		}
	}
}

// Size 当前跟踪的客户端数
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RateLimitMiddleware 限流中间件；按数据归属用户计数，代入时计入被代入用户
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := auth.EffectiveUserID(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !limiter.Allow(key) {
			logger.WithContext(c.Request.Context()).Warn("请求被限流",
				zap.String("key", key),
				zap.String("path", c.FullPath()),
			)
			c.Header("Retry-After", "2")
			common.AbortWithError(c, common.NewBusinessError(common.CodeTooManyRequests, "Too many requests, please try again shortly"))
			return
		}
		c.Next()
	}
}
