package octave

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Agent 平台智能体
type Agent struct {
	OID         string `json:"oId"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	AgentType   string `json:"agentType,omitempty"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

// Kind 返回智能体类型，兼容 type/agentType 两种字段
func (a Agent) Kind() string {
	if a.Type != "" {
		return a.Type
	}
	return a.AgentType
}

// 智能体类型
const (
	AgentTypeEmail      = "EMAIL"
	AgentTypeSequence   = "SEQUENCE"
	AgentTypeContent    = "CONTENT"
	AgentTypeCallPrep   = "CALL_PREP"
	AgentTypeProspector = "PROSPECTOR"
)

// ListAgents 逐页拉取全部智能体，直到 hasNext 为 false
func (c *Client) ListAgents(ctx context.Context, apiKey string) ([]Agent, error) {
	var all []Agent
	for offset := 0; ; offset += c.pageSize {
		var env envelope
		if err := c.call(ctx, http.MethodGet, "/agents/list", apiKey, pageQuery(offset, c.pageSize), nil, &env); err != nil {
			return nil, err
		}
		var page []Agent
		if len(env.Data) > 0 && string(env.Data) != "null" {
			if err := json.Unmarshal(env.Data, &page); err != nil {
				return nil, fmt.Errorf("%w: decode agents: %v", ErrUpstream, err)
			}
		}
		all = append(all, page...)
		if !env.HasNext || len(page) == 0 {
			break
		}
	}
	return all, nil
}

// RunRequest 智能体运行请求体；RuntimeContext 对 EMAIL 为扁平字符串，对 CONTENT 为 JSON 字符串
type RunRequest struct {
	AgentOID        string         `json:"agentOId"`
	RuntimeContext  any            `json:"runtimeContext,omitempty"`
	Email           *string        `json:"email"`
	CompanyDomain   *string        `json:"companyDomain"`
	CompanyName     *string        `json:"companyName"`
	FirstName       *string        `json:"firstName"`
	JobTitle        *string        `json:"jobTitle"`
	LinkedInProfile *string        `json:"linkedInProfile"`
	OutputFormat    string         `json:"outputFormat,omitempty"`
	CustomContext   map[string]any `json:"customContext,omitempty"`
}

// Email 序列智能体返回的单封邮件
type Email struct {
	Subject  string        `json:"subject"`
	Email    string        `json:"email,omitempty"`
	Sections EmailSections `json:"sections"`
}

// EmailSections 邮件分段
type EmailSections struct {
	Greeting  string `json:"greeting,omitempty"`
	Opening   string `json:"opening,omitempty"`
	Body      string `json:"body,omitempty"`
	Closing   string `json:"closing,omitempty"`
	CTA       string `json:"cta,omitempty"`
	PS        string `json:"ps,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// RunData 运行结果 data 字段
type RunData struct {
	Content            string          `json:"content,omitempty"`
	JSONContent        json.RawMessage `json:"jsonContent,omitempty"`
	Emails             []Email         `json:"emails,omitempty"`
	Persona            json.RawMessage `json:"persona,omitempty"`
	UseCases           json.RawMessage `json:"useCases,omitempty"`
	ReferenceCustomers json.RawMessage `json:"referenceCustomers,omitempty"`
	Contacts           json.RawMessage `json:"contacts,omitempty"`
	Raw                json.RawMessage `json:"-"`
}

// Run 调用指定端点运行智能体，超时取端点配置
func (c *Client) Run(ctx context.Context, apiKey string, endpoint Endpoint, req RunRequest) (*RunData, error) {
	return c.run(ctx, apiKey, endpoint, req)
}

func (c *Client) run(ctx context.Context, apiKey string, endpoint Endpoint, req any) (*RunData, error) {
	timeout := c.timeouts.For(endpoint)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	var env envelope
	if err := c.call(ctx, http.MethodPost, "/agents/"+string(endpoint)+"/run", apiKey, nil, req, &env); err != nil {
		return nil, err
	}
	c.logger.Debug("智能体调用返回",
		zap.String("endpoint", string(endpoint)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if !env.ok() || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, &APIError{Status: http.StatusOK, Message: firstNonEmpty(env.Message, "Agent execution failed or returned no data")}
	}

	var data RunData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: decode run data: %v", ErrUpstream, err)
	}
	data.Raw = env.Data
	return &data, nil
}
