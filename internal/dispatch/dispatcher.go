package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"claireportal/internal/ai/openai"
	"claireportal/internal/common"
	"claireportal/internal/metrics"
	"claireportal/internal/octave"

	"go.uber.org/zap"
)

// Platform 外部智能体平台
type Platform interface {
	ListAgents(ctx context.Context, apiKey string) ([]octave.Agent, error)
	Run(ctx context.Context, apiKey string, endpoint octave.Endpoint, req octave.RunRequest) (*octave.RunData, error)
}

// Summarizer 超长上下文摘要
type Summarizer interface {
	Summarize(ctx context.Context, text string, budgetTokens int) (string, error)
}

// Options 调度参数
type Options struct {
	FallbackProfileURL string
	SummaryBudget      int    // token
	TokenModel         string // 统计摘要 token 所用模型
}

// Dispatcher 智能体调度器
type Dispatcher struct {
	platform    Platform
	summarizer  Summarizer
	opts        Options
	countTokens func(text string) int
	logger      *zap.Logger
}

// NewDispatcher 创建调度器；summarizer 为 nil 时超长上下文直接截断
func NewDispatcher(platform Platform, summarizer Summarizer, opts Options, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TokenModel == "" {
		opts.TokenModel = "gpt-4o-mini"
	}
	d := &Dispatcher{platform: platform, summarizer: summarizer, opts: opts, logger: logger}
	d.countTokens = func(text string) int { return openai.CountTokens(text, d.opts.TokenModel) }
	return d
}

// Prospect 示例潜在客户
type Prospect struct {
	FirstName       string
	JobTitle        string
	Company         string
	CompanyDomain   string
	Email           string
	LinkedInProfile string
}

// Request 调度请求
type Request struct {
	APIKey   string
	PlayCode string
	// Agent 非空时跳过按代码解析
	Agent *octave.Agent
	// AgentType 覆盖智能体自身类型
	AgentType     string
	Context       map[string]any
	Prospect      *Prospect
	CompanyName   string
	CompanyDomain string
}

// Result 调度结果
type Result struct {
	Agent       octave.Agent
	Endpoint    octave.Endpoint
	Content     string
	JSONContent json.RawMessage
	Emails      []octave.Email
	Data        *octave.RunData
	Shrink      string
}

// Resolve 列出全部智能体并按玩法代码匹配
func (d *Dispatcher) Resolve(ctx context.Context, apiKey, playCode string) (*octave.Agent, error) {
	agents, err := d.platform.ListAgents(ctx, apiKey)
	if err != nil {
		d.logger.Error("拉取智能体列表失败", zap.String("play_code", playCode), zap.Error(err))
		return nil, octave.Translate(err, "Failed to find agent in workspace")
	}
	agent, err := MatchAgent(agents, playCode)
	if err != nil {
		metrics.AgentDispatchTotal.WithLabelValues("resolve", "not_found").Inc()
		return nil, err
	}
	d.logger.Info("匹配到智能体",
		zap.String("play_code", playCode),
		zap.String("agent_oid", agent.OID),
		zap.String("agent_name", agent.Name),
		zap.String("agent_type", agent.Kind()),
	)
	return agent, nil
}

// Run 解析智能体、组装上下文并调用一次；失败不自动重试
func (d *Dispatcher) Run(ctx context.Context, req Request) (*Result, error) {
	if req.APIKey == "" {
		return nil, common.ErrNotFound("Workspace API key not found")
	}

	agent := req.Agent
	if agent == nil {
		var err error
		if agent, err = d.Resolve(ctx, req.APIKey, req.PlayCode); err != nil {
			return nil, err
		}
	}

	agentType := req.AgentType
	if agentType == "" {
		agentType = agent.Kind()
	}
	endpoint := EndpointFor(agentType)

	runReq, shrink, err := d.buildRequest(ctx, agent.OID, endpoint, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := d.platform.Run(ctx, req.APIKey, endpoint, runReq)
	metrics.AgentDispatchDuration.WithLabelValues(string(endpoint)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AgentDispatchTotal.WithLabelValues(string(endpoint), outcome(err)).Inc()
		d.logger.Error("智能体执行失败",
			zap.String("endpoint", string(endpoint)),
			zap.String("agent_oid", agent.OID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, octave.Translate(err, "Failed to execute "+endpointNoun(endpoint)+" agent")
	}

	result := &Result{Agent: *agent, Endpoint: endpoint, Data: data, Shrink: shrink}
	switch endpoint {
	case octave.EndpointSequence:
		if len(data.Emails) == 0 {
			metrics.AgentDispatchTotal.WithLabelValues(string(endpoint), "upstream").Inc()
			return nil, common.ErrUpstream("Sequence agent returned no emails", octave.ErrUpstream)
		}
		result.Emails = data.Emails
		result.Content = FormatSequence(data.Emails)
		result.JSONContent, _ = json.Marshal(map[string]any{"emails": data.Emails})
	case octave.EndpointCallPrep:
		result.Content = data.Content
		result.JSONContent = data.Raw
	default:
		result.Content = data.Content
		result.JSONContent = data.JSONContent
	}
	if len(result.JSONContent) == 0 {
		result.JSONContent = json.RawMessage("{}")
	}

	metrics.AgentDispatchTotal.WithLabelValues(string(endpoint), "success").Inc()
	d.logger.Info("智能体执行成功",
		zap.String("endpoint", string(endpoint)),
		zap.String("agent_oid", agent.OID),
		zap.Int("content_chars", len(result.Content)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (d *Dispatcher) buildRequest(ctx context.Context, agentOID string, endpoint octave.Endpoint, req Request) (octave.RunRequest, string, error) {
	run := octave.RunRequest{
		AgentOID:      agentOID,
		CompanyName:   strPtr(req.CompanyName),
		CompanyDomain: strPtr(req.CompanyDomain),
		CustomContext: map[string]any{},
	}
	if p := req.Prospect; p != nil {
		run.FirstName = strPtr(p.FirstName)
		run.JobTitle = strPtr(p.JobTitle)
		run.Email = strPtr(p.Email)
		run.LinkedInProfile = strPtr(p.LinkedInProfile)
		if p.Company != "" {
			run.CompanyName = strPtr(p.Company)
		}
		if p.CompanyDomain != "" {
			run.CompanyDomain = strPtr(p.CompanyDomain)
		}
	}

	shrink := ShrinkNone
	switch endpoint {
	case octave.EndpointSequence:
		flat := FlattenContext(req.Context)
		flat, shrink = d.ShrinkContext(ctx, flat)
		if flat != "" {
			run.RuntimeContext = flat
		}
		run.OutputFormat = "text"
		// EMAIL 智能体拒绝缺少画像链接的请求
		if run.LinkedInProfile == nil {
			run.LinkedInProfile = strPtr(d.opts.FallbackProfileURL)
		}
	default:
		if len(req.Context) > 0 {
			raw, err := json.Marshal(req.Context)
			if err != nil {
				return run, shrink, common.ErrValidation(fmt.Sprintf("Invalid runtime context: %v", err))
			}
			run.RuntimeContext = string(raw)
		}
		if endpoint == octave.EndpointCallPrep && run.LinkedInProfile == nil {
			run.LinkedInProfile = strPtr(d.opts.FallbackProfileURL)
		}
	}
	return run, shrink, nil
}

// FormatSequence 将邮件序列拼成可读文本，用于高亮与存档
func FormatSequence(emails []octave.Email) string {
	const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"
	blocks := make([]string, 0, len(emails))
	for i, email := range emails {
		s := email.Sections
		subject := email.Subject
		if subject == "" {
			subject = "No subject"
		}
		parts := []string{
			rule,
			fmt.Sprintf("EMAIL %d OF %d", i+1, len(emails)),
			rule,
			"",
			"SUBJECT: " + subject,
		}
		body := []string{s.Greeting, s.Opening, s.Body, s.Closing, s.CTA, s.PS}
		if strings.TrimSpace(s.Body) == "" && email.Email != "" {
			body = []string{email.Email}
		}
		signature := s.Signature
		if signature == "" {
			signature = "%signature%"
		}
		for _, p := range append(body, signature) {
			if strings.TrimSpace(p) == "" {
				continue
			}
			parts = append(parts, "", strings.TrimSpace(p))
		}
		blocks = append(blocks, strings.Join(parts, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

func outcome(err error) string {
	switch {
	case errors.Is(err, octave.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case common.CodeOf(err) == common.CodeNotFound:
		return "not_found"
	default:
		return "upstream"
	}
}

func endpointNoun(e octave.Endpoint) string {
	switch e {
	case octave.EndpointSequence:
		return "sequence"
	case octave.EndpointCallPrep:
		return "call prep"
	default:
		return "content"
	}
}

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
