package common

import (
	"errors"
	"net/http"
)

// ============================================================================
// 通用请求类型
// ============================================================================

// PaginationRequest 分页请求参数
type PaginationRequest struct {
	Page     int `json:"page" form:"page" binding:"omitempty,min=1"`
	PageSize int `json:"page_size" form:"page_size" binding:"omitempty,min=1"`
}

// GetOffset 计算数据库查询的偏移量
func (p PaginationRequest) GetOffset() int {
	if p.Page < 1 {
		p.Page = 1
	}
	return (p.Page - 1) * p.GetPageSize()
}

// GetPageSize 获取每页数量，提供默认值
func (p PaginationRequest) GetPageSize() int {
	if p.PageSize < 1 {
		return 20
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// ============================================================================
// 通用响应类型
// ============================================================================

// ErrorBody 统一错误响应体
type ErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// ============================================================================
// 业务状态码定义
// ============================================================================

const (
	CodeSuccess = 0

	// 通用错误码 (1000-1999)
	CodeInvalidRequest     = 1000 // 请求参数错误
	CodeUnauthorized       = 1001 // 未认证
	CodeForbidden          = 1002 // 禁止访问
	CodeNotFound           = 1003 // 资源不存在
	CodeConflict           = 1004 // 资源冲突
	CodeInternalError      = 1005 // 内部错误
	CodeServiceUnavailable = 1006 // 服务不可用
	CodeMisconfigured      = 1007 // 服务端配置缺失
	CodeTooManyRequests    = 1008 // 请求过于频繁

	// 外部依赖错误码 (3000-3099)
	CodeUpstreamFailed = 3000 // 外部平台调用失败
	CodeTimeout        = 3001 // 外部平台调用超时
	CodePersistence    = 3002 // 持久化失败
)

// ErrorMessages 错误码对应的默认消息
var ErrorMessages = map[int]string{
	CodeInvalidRequest:     "Invalid request",
	CodeUnauthorized:       "Unauthorized",
	CodeForbidden:          "Forbidden",
	CodeNotFound:           "Not found",
	CodeConflict:           "Conflict",
	CodeInternalError:      "Internal server error",
	CodeServiceUnavailable: "Service unavailable",
	CodeMisconfigured:      "Server configuration error",
	CodeTooManyRequests:    "Too many requests",
	CodeUpstreamFailed:     "Upstream request failed",
	CodeTimeout:            "Upstream request timed out",
	CodePersistence:        "Failed to save data",
}

// GetErrorMessage 获取错误码对应的消息
func GetErrorMessage(code int) string {
	if msg, ok := ErrorMessages[code]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus 业务错误码映射到 HTTP 状态码
func HTTPStatus(code int) int {
	switch code {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ============================================================================
// 通用业务错误类型
// ============================================================================

// BusinessError 业务错误
type BusinessError struct {
	Code    int    // 错误码
	Message string // 对外错误信息
	Details any    // 可选的附加信息
	Status  int    // 非零时覆盖默认 HTTP 状态（透传上游状态码）
	cause   error
}

func (e *BusinessError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.cause
}

// HTTPStatus 返回该错误对应的 HTTP 状态码
func (e *BusinessError) HTTPStatus() int {
	if e.Status >= 400 && e.Status <= 599 {
		return e.Status
	}
	return HTTPStatus(e.Code)
}

// WithDetails 附加详情
func (e *BusinessError) WithDetails(details any) *BusinessError {
	e.Details = details
	return e
}

// NewBusinessError 创建业务错误
func NewBusinessError(code int, message string) *BusinessError {
	if message == "" {
		message = GetErrorMessage(code)
	}
	return &BusinessError{Code: code, Message: message}
}

// Wrap 创建带底层原因的业务错误
func Wrap(code int, message string, cause error) *BusinessError {
	e := NewBusinessError(code, message)
	e.cause = cause
	return e
}

func ErrValidation(message string) *BusinessError {
	return NewBusinessError(CodeInvalidRequest, message)
}

func ErrUnauthorized(message string) *BusinessError {
	return NewBusinessError(CodeUnauthorized, message)
}

func ErrForbidden(message string) *BusinessError {
	return NewBusinessError(CodeForbidden, message)
}

func ErrNotFound(message string) *BusinessError {
	return NewBusinessError(CodeNotFound, message)
}

func ErrConflict(message string) *BusinessError {
	return NewBusinessError(CodeConflict, message)
}

func ErrUpstream(message string, cause error) *BusinessError {
	return Wrap(CodeUpstreamFailed, message, cause)
}

func ErrTimeout(message string, cause error) *BusinessError {
	return Wrap(CodeTimeout, message, cause)
}

func ErrPersistence(message string, cause error) *BusinessError {
	return Wrap(CodePersistence, message, cause)
}

func ErrMisconfigured() *BusinessError {
	return NewBusinessError(CodeMisconfigured, "")
}

// AsBusinessError 提取错误链中的业务错误
func AsBusinessError(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// CodeOf 返回错误码，非业务错误视为内部错误
func CodeOf(err error) int {
	if be, ok := AsBusinessError(err); ok {
		return be.Code
	}
	return CodeInternalError
}
