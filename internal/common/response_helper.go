package common

import (
	"errors"
	"net/http"
	"runtime/debug"
	"sync/atomic"

	"claireportal/internal/config"

	"github.com/gin-gonic/gin"
)

var exposeStack atomic.Bool

// SetDevelopment 开发模式下错误响应附带堆栈
func SetDevelopment(enabled bool) {
	exposeStack.Store(enabled)
}

// ResponseSuccess 返回成功响应，fields 平铺在 success 旁边
func ResponseSuccess(c *gin.Context, fields gin.H) {
	respond(c, http.StatusOK, fields)
}

// ResponseCreated 返回创建成功响应（201）
func ResponseCreated(c *gin.Context, fields gin.H) {
	respond(c, http.StatusCreated, fields)
}

func respond(c *gin.Context, status int, fields gin.H) {
	body := gin.H{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(status, body)
}

// ResponseError 将任意错误转换为统一错误体
func ResponseError(c *gin.Context, err error) {
	status, body := ErrorPayload(err)
	if exposeStack.Load() && status >= http.StatusInternalServerError {
		body.Stack = string(debug.Stack())
	}
	_ = c.Error(err)
	c.JSON(status, body)
}

// ErrorPayload 计算错误对应的状态码与响应体
func ErrorPayload(err error) (int, ErrorBody) {
	if errors.Is(err, config.ErrMissingConfig) {
		be := ErrMisconfigured()
		return be.HTTPStatus(), ErrorBody{Error: be.Message}
	}
	if be, ok := AsBusinessError(err); ok {
		return be.HTTPStatus(), ErrorBody{Error: be.Message, Details: be.Details}
	}
	return http.StatusInternalServerError, ErrorBody{Error: GetErrorMessage(CodeInternalError)}
}

// AbortWithError 中断并返回错误
func AbortWithError(c *gin.Context, err error) {
	ResponseError(c, err)
	c.Abort()
}

// ResponseBadRequest 返回参数错误响应
func ResponseBadRequest(c *gin.Context, message string) {
	ResponseError(c, ErrValidation(message))
}

// ResponseStack 返回 panic 恢复后的 500 响应，开发模式附带堆栈
func ResponseStack(c *gin.Context, stack []byte) {
	body := ErrorBody{Error: GetErrorMessage(CodeInternalError)}
	if exposeStack.Load() {
		body.Stack = string(stack)
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, body)
}
