package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"claireportal/internal/config"

	"github.com/pkoukk/tiktoken-go"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const systemPrompt = "You are an expert B2B outbound campaign strategist and copywriter. You create highly effective, personalized outbound campaigns that drive meetings and revenue. You follow instructions precisely and output structured, actionable content."

// ErrEmptyResponse 模型未返回任何选项
var ErrEmptyResponse = errors.New("openai returned no choices")

// Options 单次生成参数，零值使用默认
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
	JSON        bool
	System      string
}

// Client OpenAI 客户端
type Client struct {
	client       *openai.Client
	model        string
	summaryModel string
	summaryLimit int
	maxRetries   int
	backoff      func(attempt int) time.Duration
	logger       *zap.Logger
}

// NewClient 创建 OpenAI 客户端；未配置 API Key 时返回 ErrMissingConfig
func NewClient(cfg config.OpenAIConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key: %w", config.ErrMissingConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.OrgID != "" {
		clientConfig.OrgID = cfg.OrgID
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	c := &Client{
		client:       openai.NewClientWithConfig(clientConfig),
		model:        orDefault(cfg.Model, openai.GPT4o),
		summaryModel: orDefault(cfg.SummaryModel, openai.GPT4oMini),
		summaryLimit: cfg.SummaryTokenBudget,
		maxRetries:   maxRetries,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * time.Second
		},
		logger: logger,
	}
	if c.summaryLimit <= 0 {
		c.summaryLimit = 1500
	}
	return c, nil
}

// Generate 单轮对话补全，返回文本内容
func (c *Client) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: orDefault(opts.Model, c.model),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: orDefault(opts.System, systemPrompt)},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	var resp openai.ChatCompletionResponse
	var err error
	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}
		if !isRetryableError(err) || i == c.maxRetries {
			break
		}

		// 指数退避
		wait := c.backoff(i)
		c.logger.Warn("OpenAI 请求失败，准备重试",
			zap.Int("attempt", i+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	if err != nil {
		return "", wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	content := resp.Choices[0].Message.Content
	c.logger.Debug("OpenAI 响应",
		zap.String("model", resp.Model),
		zap.Int("chars", len(content)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return content, nil
}

// GenerateJSON 以 JSON 模式生成并解析到 out
func (c *Client) GenerateJSON(ctx context.Context, prompt string, opts Options, out any) error {
	opts.JSON = true
	content, err := c.Generate(ctx, prompt, opts)
	if err != nil {
		return err
	}
	return ParseJSONResponse(content, out)
}

// Summarize 将长文本压缩到 budgetTokens 以内；budgetTokens <= 0 时使用配置值
func (c *Client) Summarize(ctx context.Context, text string, budgetTokens int) (string, error) {
	if budgetTokens <= 0 {
		budgetTokens = c.summaryLimit
	}
	prompt := fmt.Sprintf(`Condense the following campaign context for an outbound email agent.
Keep every company name, persona, job title, outcome, pain point, offer and call to action.
Keep the section labels. Drop repetition and filler. Stay under %d tokens.

CONTEXT:
%s`, budgetTokens, text)

	summary, err := c.Generate(ctx, prompt, Options{
		Model:       c.summaryModel,
		Temperature: 0.2,
		MaxTokens:   budgetTokens,
	})
	if err != nil {
		return "", err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", ErrEmptyResponse
	}
	return summary, nil
}

var (
	fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	fencedAny  = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// ParseJSONResponse 解析模型输出，兼容 markdown 代码块包裹的 JSON
func ParseJSONResponse(response string, out any) error {
	trimmed := strings.TrimSpace(response)
	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}
	body := trimmed
	if m := fencedJSON.FindStringSubmatch(trimmed); m != nil {
		body = m[1]
	} else if m := fencedAny.FindStringSubmatch(trimmed); m != nil {
		body = m[1]
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("parse model json: %w", err)
	}
	return nil
}

var encodings sync.Map // model -> *tiktoken.Tiktoken

// CountTokens 统计文本 token 数；编码表无法加载时按 4 字符一个 token 估算
func CountTokens(text, model string) int {
	if text == "" {
		return 0
	}
	if tkm := encodingFor(model); tkm != nil {
		return len(tkm.Encode(text, nil, nil))
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}

func encodingFor(model string) *tiktoken.Tiktoken {
	if v, ok := encodings.Load(model); ok {
		tkm, _ := v.(*tiktoken.Tiktoken)
		return tkm
	}
	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// 如果模型未识别，回退到 cl100k_base
		tkm, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			tkm = nil
		}
	}
	encodings.Store(model, tkm)
	return tkm
}

// isRetryableError 判断错误是否可重试
func isRetryableError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// 网络错误
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "rate limit")
}

// APIError 调用失败的归类
type APIError struct {
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("openai api error %d: %s", e.Status, e.Message)
	}
	return "openai api error: " + e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// wrapError 包装错误
func wrapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	out := &APIError{Message: err.Error(), Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		out.Status = apiErr.HTTPStatusCode
		out.Message = apiErr.Message
	case errors.As(err, &reqErr):
		out.Status = reqErr.HTTPStatusCode
	}
	return out
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
