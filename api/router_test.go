package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"claireportal/internal/auth"
	"claireportal/internal/config"
	"claireportal/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(secret string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Mode: "test"},
		Redis:  config.RedisConfig{Host: "127.0.0.1", Port: 6379},
		Auth: config.AuthConfig{
			JWTSecret:   secret,
			Issuer:      "claire-test",
			AccessTTL:   time.Hour,
			AdminEmails: []string{"Admin@Claire.io"},
		},
	}
}

func newTestRouter(t *testing.T, secret string) (*gin.Engine, *AppContainer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewTestDB(t, Models()...)
	c, err := InitContainer(context.Background(), db, nil, testConfig(secret), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return SetupRouter(c), c
}

func token(t *testing.T, c *AppContainer, userID, email string) string {
	t.Helper()
	tok, err := c.JWTService.GenerateAccessToken(userID, email, nil)
	require.NoError(t, err)
	return tok
}

func do(r *gin.Engine, method, path, tok string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter(t *testing.T) {
	r, c := newTestRouter(t, "router-test-secret")

	t.Run("健康检查", func(t *testing.T) {
		w := do(r, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("未配置 Redis 时就绪检查降级", func(t *testing.T) {
		w := do(r, http.MethodGet, "/ready", "")
		require.Equal(t, http.StatusOK, w.Code)
		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "not_configured", resp.Redis)
	})

	t.Run("缺少令牌返回 401", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/client/plays", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("已登录可读取玩法", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/client/plays", token(t, c, "user-1", "user@acme.com"))
		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["success"])
		assert.Contains(t, resp, "plays")
	})

	t.Run("非管理员不能代入", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/client/plays?impersonate=user-2", token(t, c, "user-1", "user@acme.com"))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), auth.MsgImpersonationForbidden)
	})

	t.Run("管理员可以代入", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/client/plays?impersonate=user-2", token(t, c, "admin-1", "admin@claire.io"))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("管理端路由拒绝普通用户", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/admin/plays-catalog", token(t, c, "user-1", "user@acme.com"))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("名单中的管理员可访问管理端", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/admin/plays-catalog", token(t, c, "admin-1", "admin@claire.io"))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("预检请求", func(t *testing.T) {
		w := do(r, http.MethodOptions, "/api/client/plays", "")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Request-ID")
	})
}

func TestRouter_MissingSecret(t *testing.T) {
	r, c := newTestRouter(t, "")
	require.Nil(t, c.JWTService)

	w := do(r, http.MethodGet, "/api/client/plays", "anything")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Server configuration error")

	// 公开接口不受影响
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health", "").Code)
}
