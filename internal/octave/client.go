// Package octave 封装外部智能体平台的 HTTP API
package octave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"claireportal/internal/common"
	"claireportal/internal/config"
	"claireportal/pkg/httputil"

	"go.uber.org/zap"
)

var (
	// ErrUpstream 平台返回非 2xx 或响应缺少 found/data
	ErrUpstream = errors.New("octave upstream failure")
	// ErrTimeout 调用超过端点超时
	ErrTimeout = errors.New("octave request timed out")
	// ErrWorkspaceExists 该域名的工作区已存在
	ErrWorkspaceExists = errors.New("octave workspace already exists")
)

// APIError 平台返回的错误详情
type APIError struct {
	Status  int
	Message string
	Body    json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("octave api error %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return ErrUpstream
}

// Details 响应体，合法 JSON 原样返回，否则按字符串返回
func (e *APIError) Details() any {
	if len(e.Body) == 0 {
		return nil
	}
	if json.Valid(e.Body) {
		return e.Body
	}
	return string(e.Body)
}

// Endpoint 智能体运行端点
type Endpoint string

const (
	EndpointContent  Endpoint = "generate-content"
	EndpointSequence Endpoint = "sequence"
	EndpointCallPrep Endpoint = "call-prep"
)

// Timeouts 各端点的请求级超时
type Timeouts struct {
	Content  time.Duration
	Sequence time.Duration
	CallPrep time.Duration
}

// For 返回端点对应的超时
func (t Timeouts) For(e Endpoint) time.Duration {
	switch e {
	case EndpointSequence:
		return t.Sequence
	case EndpointCallPrep:
		return t.CallPrep
	default:
		return t.Content
	}
}

// Client 外部平台客户端
type Client struct {
	http            *httputil.Client
	baseURL         string
	provisioningKey string
	pageSize        int
	timeouts        Timeouts
	logger          *zap.Logger
}

// Option 客户端选项
type Option func(*Client)

// WithHTTPClient 注入底层 HTTP 客户端
func WithHTTPClient(hc *httputil.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeouts 覆盖端点超时
func WithTimeouts(t Timeouts) Option {
	return func(c *Client) { c.timeouts = t }
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient 创建平台客户端
func NewClient(cfg config.OctaveConfig, opts ...Option) *Client {
	content, sequence, callPrep := cfg.Timeouts()
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	c := &Client{
		http:            httputil.NewClient(httputil.WithHeaders(map[string]string{"Accept": "application/json"})),
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		provisioningKey: cfg.ProvisioningAPIKey,
		pageSize:        pageSize,
		timeouts:        Timeouts{Content: content, Sequence: sequence, CallPrep: callPrep},
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope 平台统一响应外壳；部分接口用 success 代替 found
type envelope struct {
	Found   *bool           `json:"found"`
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	HasNext bool            `json:"hasNext"`
}

func (e envelope) ok() bool {
	if e.Found != nil {
		return *e.Found
	}
	return e.Success != nil && *e.Success
}

func (c *Client) call(ctx context.Context, method, path, apiKey string, query url.Values, body, out interface{}) error {
	if c.baseURL == "" {
		return config.ErrMissingConfig
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	headers := map[string]string{"api_key": apiKey}

	err := c.http.DoJSON(ctx, method, u, headers, body, out)
	if err == nil {
		return nil
	}
	if httputil.IsTimeout(err) {
		return fmt.Errorf("%w: %s %s", ErrTimeout, method, path)
	}
	var se *httputil.StatusError
	if errors.As(err, &se) {
		apiErr := &APIError{Status: se.StatusCode, Body: json.RawMessage(se.Body)}
		var msg struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(se.Body, &msg) == nil {
			apiErr.Message = firstNonEmpty(msg.Message, msg.Error)
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(se.StatusCode)
		}
		return apiErr
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func pageQuery(offset, limit int) url.Values {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("orderField", "createdAt")
	q.Set("orderDirection", "DESC")
	return q
}

var errMissingProvisioningKey = fmt.Errorf("not configured: %w", config.ErrMissingConfig)

func containsExists(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "already exists")
}

// Translate 将平台错误转换为业务错误；APIError 透传上游状态码与响应体
func Translate(err error, fallback string) error {
	if err == nil {
		return nil
	}
	if _, ok := common.AsBusinessError(err); ok {
		return err
	}
	if errors.Is(err, config.ErrMissingConfig) {
		return err
	}
	if errors.Is(err, ErrTimeout) {
		return common.ErrTimeout("Request to Octave timed out", err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		be := common.ErrUpstream(firstNonEmpty(apiErr.Message, fallback), err)
		if apiErr.Status >= http.StatusBadRequest {
			be.Status = apiErr.Status
		}
		be.Details = apiErr.Details()
		return be
	}
	return common.ErrUpstream(fallback, err)
}
