package octave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Resource 平台实体资源名
type Resource string

const (
	ResourcePersona    Resource = "persona"
	ResourceUseCase    Resource = "use-case"
	ResourceReference  Resource = "reference"
	ResourceSegment    Resource = "segment"
	ResourcePlaybook   Resource = "playbook"
	ResourceProduct    Resource = "product"
	ResourceCompetitor Resource = "competitor"
	ResourceProofPoint Resource = "proof-point"
)

// libraryLimit GTM 库列表单次拉取上限
const libraryLimit = 100

// UpsertEntity oID 非空调用 /update，否则调用 /create；返回实体 JSON
func (c *Client) UpsertEntity(ctx context.Context, apiKey string, res Resource, oID string, payload map[string]any) (json.RawMessage, error) {
	path := "/" + string(res) + "/create"
	body := payload
	if oID != "" {
		path = "/" + string(res) + "/update"
		body = make(map[string]any, len(payload)+1)
		for k, v := range payload {
			body[k] = v
		}
		body["oId"] = oID
	}

	var raw json.RawMessage
	if err := c.call(ctx, http.MethodPost, path, apiKey, nil, body, &raw); err != nil {
		return nil, err
	}
	return unwrapData(raw), nil
}

// ListEntities 拉取某类实体列表（最多 100 条）
func (c *Client) ListEntities(ctx context.Context, apiKey string, res Resource) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(libraryLimit))
	var env envelope
	if err := c.call(ctx, http.MethodGet, "/"+string(res)+"/list", apiKey, q, nil, &env); err != nil {
		return nil, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return json.RawMessage("[]"), nil
	}
	return env.Data, nil
}

// GetProduct 读取服务/产品详情
func (c *Client) GetProduct(ctx context.Context, apiKey, oID string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("oId", oID)
	var raw json.RawMessage
	if err := c.call(ctx, http.MethodGet, "/product/get", apiKey, q, nil, &raw); err != nil {
		return nil, err
	}
	return unwrapData(raw), nil
}

// unwrapData 兼容 {data: {...}} 与直接返回实体两种形态
func unwrapData(raw json.RawMessage) json.RawMessage {
	var probe struct {
		Data json.RawMessage `json:"data"`
		OID  string          `json:"oId"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return raw
	}
	if probe.OID == "" && len(probe.Data) > 0 && string(probe.Data) != "null" {
		return probe.Data
	}
	return raw
}

// WorkspaceBuildRequest 创建工作区请求
type WorkspaceBuildRequest struct {
	Workspace           WorkspaceSpec `json:"workspace"`
	Offering            Offering      `json:"offering"`
	RuntimeContext      string        `json:"runtimeContext"`
	BrandVoiceOID       string        `json:"brandVoiceOId"`
	CreateDefaultAgents bool          `json:"createDefaultAgents"`
}

// WorkspaceSpec 工作区基本信息
type WorkspaceSpec struct {
	Name             string   `json:"name"`
	URL              string   `json:"url"`
	AddExistingUsers bool     `json:"addExistingUsers"`
	AgentOIDs        []string `json:"agentOIds"`
}

// Offering 主服务
type Offering struct {
	Type                string `json:"type"`
	Name                string `json:"name"`
	DifferentiatedValue string `json:"differentiatedValue"`
	StatusQuo           string `json:"statusQuo"`
}

// WorkspaceBuildResult 从多种响应形态中提取的工作区信息
type WorkspaceBuildResult struct {
	WorkspaceOID string
	ProductOID   string
	APIKey       string
	Raw          json.RawMessage
}

// BuildWorkspace 使用开通密钥创建工作区
func (c *Client) BuildWorkspace(ctx context.Context, req WorkspaceBuildRequest) (*WorkspaceBuildResult, error) {
	if c.provisioningKey == "" {
		return nil, fmt.Errorf("octave provisioning key: %w", errMissingProvisioningKey)
	}

	var raw json.RawMessage
	err := c.call(ctx, http.MethodPost, "/agents/workspace/build", c.provisioningKey, nil, req, &raw)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusConflict || containsExists(apiErr.Message)) {
			return nil, fmt.Errorf("%w: %s", ErrWorkspaceExists, apiErr.Message)
		}
		return nil, err
	}

	var env envelope
	_ = json.Unmarshal(raw, &env)
	if env.Found != nil && !*env.Found && containsExists(env.Message) {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceExists, env.Message)
	}

	return parseBuildResult(raw), nil
}

func parseBuildResult(raw json.RawMessage) *WorkspaceBuildResult {
	type ref struct {
		OID    string `json:"oId"`
		APIKey string `json:"apiKey"`
	}
	type shape struct {
		OID             string `json:"oId"`
		APIKey          string `json:"apiKey"`
		Workspace       *ref   `json:"workspace"`
		Offering        *ref   `json:"offering"`
		Product         *ref   `json:"product"`
		PrimaryOffering *ref   `json:"primaryOffering"`
	}
	var top struct {
		shape
		Data *shape `json:"data"`
	}
	_ = json.Unmarshal(raw, &top)

	pick := func(getters ...func() string) string {
		for _, g := range getters {
			if v := g(); v != "" {
				return v
			}
		}
		return ""
	}
	inner := func(f func(s *shape) string) func() string {
		return func() string {
			if top.Data == nil {
				return ""
			}
			return f(top.Data)
		}
	}
	refOID := func(r *ref) string {
		if r == nil {
			return ""
		}
		return r.OID
	}
	refKey := func(r *ref) string {
		if r == nil {
			return ""
		}
		return r.APIKey
	}

	return &WorkspaceBuildResult{
		WorkspaceOID: pick(
			func() string { return refOID(top.Workspace) },
			inner(func(s *shape) string { return refOID(s.Workspace) }),
			func() string { return top.OID },
		),
		ProductOID: pick(
			func() string { return refOID(top.Offering) },
			func() string { return refOID(top.Product) },
			inner(func(s *shape) string { return refOID(s.Offering) }),
			inner(func(s *shape) string { return refOID(s.Product) }),
			func() string { return refOID(top.PrimaryOffering) },
		),
		APIKey: pick(
			func() string { return top.APIKey },
			func() string { return refKey(top.Workspace) },
			inner(func(s *shape) string { return s.APIKey }),
			inner(func(s *shape) string { return refKey(s.Workspace) }),
		),
		Raw: raw,
	}
}
