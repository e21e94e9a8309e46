package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"claireportal/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestResponseError(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"参数错误", ErrValidation("playCode is required"), http.StatusBadRequest, "playCode is required"},
		{"未认证", ErrUnauthorized("Unauthorized"), http.StatusUnauthorized, "Unauthorized"},
		{"无权限", ErrForbidden("Unauthorized: Admin access required for impersonation"), http.StatusForbidden, "Unauthorized: Admin access required for impersonation"},
		{"不存在", ErrNotFound("Campaign not found"), http.StatusNotFound, "Campaign not found"},
		{"冲突", ErrConflict("exists"), http.StatusConflict, "exists"},
		{"上游失败", ErrUpstream("Failed to execute content agent", errors.New("502")), http.StatusInternalServerError, "Failed to execute content agent"},
		{"超时", ErrTimeout("Agent request timed out", errors.New("deadline")), http.StatusInternalServerError, "Agent request timed out"},
		{"配置缺失", fmt.Errorf("openai: %w", config.ErrMissingConfig), http.StatusInternalServerError, "Server configuration error"},
		{"未知错误", errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
		{"包装后的业务错误", fmt.Errorf("outer: %w", ErrNotFound("Play not found")), http.StatusNotFound, "Play not found"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			ResponseError(c, tc.err)

			assert.Equal(t, tc.status, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tc.message, body["error"])
			_, hasStack := body["stack"]
			assert.False(t, hasStack)
		})
	}
}

func TestResponseError_UpstreamStatusPassthrough(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	be := ErrUpstream("Persona name already taken", nil)
	be.Status = http.StatusUnprocessableEntity
	ResponseError(c, be.WithDetails(map[string]string{"field": "name"}))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Persona name already taken","details":{"field":"name"}}`, w.Body.String())
}

func TestResponseError_StackInDevelopment(t *testing.T) {
	SetDevelopment(true)
	t.Cleanup(func() { SetDevelopment(false) })

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	ResponseError(c, errors.New("boom"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["stack"])

	// 4xx 不附带堆栈
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	ResponseError(c, ErrValidation("bad"))
	assert.NotContains(t, w.Body.String(), "stack")
}

func TestResponseSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	ResponseSuccess(c, gin.H{"execution": gin.H{"id": "e1"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"execution":{"id":"e1"}}`, w.Body.String())
}
