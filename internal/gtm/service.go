package gtm

import (
	"context"
	"encoding/json"
	"strings"

	"claireportal/internal/octave"
	"claireportal/internal/workspace"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Platform 平台实体接口
type Platform interface {
	UpsertEntity(ctx context.Context, apiKey string, res octave.Resource, oID string, payload map[string]any) (json.RawMessage, error)
	ListEntities(ctx context.Context, apiKey string, res octave.Resource) (json.RawMessage, error)
	GetProduct(ctx context.Context, apiKey, oID string) (json.RawMessage, error)
}

// Service GTM 实体服务
type Service struct {
	repo     *workspace.Repository
	platform Platform
	logger   *zap.Logger
}

// NewService 创建 GTM 服务
func NewService(repo *workspace.Repository, platform Platform, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, platform: platform, logger: logger}
}

// UpsertResult 写入结果，Data 为平台返回的原始实体
type UpsertResult struct {
	Entity *Entity
	Data   json.RawMessage
}

// Upsert 写入平台并整列刷新工作区缓存；缓存刷新失败只记日志
func (s *Service) Upsert(ctx context.Context, userID string, k Kind, in *Input) (*UpsertResult, error) {
	ws, apiKey, err := s.repo.Credentials(ctx, userID)
	if err != nil {
		return nil, err
	}

	raw, err := s.platform.UpsertEntity(ctx, apiKey, k.Resource(), in.OID, in.Payload(ws.ProductOID))
	if err != nil {
		s.logger.Warn("写入 GTM 实体失败",
			zap.String("kind", string(k)),
			zap.String("oid", in.OID),
			zap.Error(err),
		)
		verb := "create"
		if in.OID != "" {
			verb = "update"
		}
		return nil, octave.Translate(err, "Failed to "+verb+" "+lowerLabel(k))
	}

	result := &UpsertResult{Data: raw}
	if ent, err := DecodeEntity(k, raw); err == nil {
		result.Entity = ent
	}

	if err := s.refreshCache(ctx, ws, apiKey, k, raw); err != nil {
		s.logger.Warn("刷新工作区缓存失败", zap.String("kind", string(k)), zap.Error(err))
	}
	return result, nil
}

func (s *Service) refreshCache(ctx context.Context, ws *workspace.ClientWorkspace, apiKey string, k Kind, written json.RawMessage) error {
	if k == KindService {
		// 仅主服务缓存在工作区
		ent, err := DecodeEntity(k, written)
		if err != nil || (ws.ProductOID != "" && ent.OID != ws.ProductOID) {
			return err
		}
		return s.repo.ReplaceEntities(ctx, ws.ID, k.Column(), written)
	}
	list, err := s.platform.ListEntities(ctx, apiKey, k.Resource())
	if err != nil {
		return err
	}
	return s.repo.ReplaceEntities(ctx, ws.ID, k.Column(), list)
}

// Summary GTM 库列表项
type Summary struct {
	OID           string  `json:"oId"`
	Name          string  `json:"name"`
	InternalName  string  `json:"internalName,omitempty"`
	Description   *string `json:"description"`
	CompanyName   string  `json:"companyName,omitempty"`
	CompanyDomain string  `json:"companyDomain,omitempty"`
	Industry      string  `json:"industry,omitempty"`
}

// ServiceOffering 主服务
type ServiceOffering struct {
	OID         string          `json:"oId"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Library GTM 库
type Library struct {
	Workspace struct {
		WorkspaceOID string `json:"workspace_oid"`
		CompanyName  string `json:"company_name"`
	} `json:"workspace"`
	Personas         []Summary        `json:"personas"`
	UseCases         []Summary        `json:"useCases"`
	ClientReferences []Summary        `json:"clientReferences"`
	Segments         []Summary        `json:"segments"`
	Playbooks        []Summary        `json:"playbooks"`
	Competitors      []Summary        `json:"competitors"`
	ProofPoints      []Summary        `json:"proofPoints"`
	ServiceOffering  *ServiceOffering `json:"serviceOffering"`

	// Degraded 使用缓存兜底的类型
	Degraded []Kind `json:"degraded,omitempty"`
}

var libraryKinds = []Kind{KindPersona, KindUseCase, KindReference, KindSegment, KindPlaybook, KindCompetitor, KindProofPoint}

// Library 并行拉取各类实体；单类失败记录告警并回退到工作区缓存
func (s *Service) Library(ctx context.Context, userID string) (*Library, error) {
	ws, apiKey, err := s.repo.Credentials(ctx, userID)
	if err != nil {
		return nil, err
	}

	fresh := make([]json.RawMessage, len(libraryKinds))
	var product json.RawMessage

	g, gctx := errgroup.WithContext(ctx)
	for i, k := range libraryKinds {
		g.Go(func() error {
			raw, err := s.platform.ListEntities(gctx, apiKey, k.Resource())
			if err != nil {
				s.logger.Warn("拉取 GTM 实体失败，使用缓存", zap.String("kind", string(k)), zap.Error(err))
				return nil
			}
			fresh[i] = raw
			return nil
		})
	}
	if ws.ProductOID != "" {
		g.Go(func() error {
			raw, err := s.platform.GetProduct(gctx, apiKey, ws.ProductOID)
			if err != nil {
				s.logger.Warn("拉取主服务失败，使用缓存", zap.String("product_oid", ws.ProductOID), zap.Error(err))
				return nil
			}
			product = raw
			return nil
		})
	}
	_ = g.Wait()

	lib := &Library{}
	lib.Workspace.WorkspaceOID = ws.WorkspaceOID
	lib.Workspace.CompanyName = ws.CompanyName

	for i, k := range libraryKinds {
		raw := fresh[i]
		if raw == nil {
			lib.Degraded = append(lib.Degraded, k)
			raw = cachedArray(ws, k)
		} else if err := s.repo.ReplaceEntities(ctx, ws.ID, k.Column(), raw); err != nil {
			s.logger.Warn("写入工作区缓存失败", zap.String("kind", string(k)), zap.Error(err))
		}
		items, err := DecodeList(k, raw)
		if err != nil {
			s.logger.Warn("解析 GTM 实体失败", zap.String("kind", string(k)), zap.Error(err))
		}
		summaries := summarize(k, items)
		switch k {
		case KindPersona:
			lib.Personas = summaries
		case KindUseCase:
			lib.UseCases = summaries
		case KindReference:
			lib.ClientReferences = summaries
		case KindSegment:
			lib.Segments = summaries
		case KindPlaybook:
			lib.Playbooks = summaries
		case KindCompetitor:
			lib.Competitors = summaries
		case KindProofPoint:
			lib.ProofPoints = summaries
		}
	}

	if product == nil {
		product = json.RawMessage(ws.ServiceOffering)
	}
	lib.ServiceOffering = decodeOffering(product)
	return lib, nil
}

// Cached 仅读取工作区缓存，不访问平台
func Cached(ws *workspace.ClientWorkspace, k Kind) []*Entity {
	items, _ := DecodeList(k, cachedArray(ws, k))
	return items
}

// CachedOffering 工作区缓存的主服务
func CachedOffering(ws *workspace.ClientWorkspace) *ServiceOffering {
	if ws == nil {
		return nil
	}
	return decodeOffering(json.RawMessage(ws.ServiceOffering))
}

func cachedArray(ws *workspace.ClientWorkspace, k Kind) json.RawMessage {
	var raw []byte
	switch k {
	case KindPersona:
		raw = ws.Personas
	case KindUseCase:
		raw = ws.UseCases
	case KindReference:
		raw = ws.ClientReferences
	case KindSegment:
		raw = ws.Segments
	case KindPlaybook:
		raw = ws.Playbooks
	case KindCompetitor:
		raw = ws.Competitors
	case KindProofPoint:
		raw = ws.ProofPoints
	}
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("[]")
	}
	return raw
}

func summarize(k Kind, items []*Entity) []Summary {
	out := make([]Summary, 0, len(items))
	for _, ent := range items {
		sum := Summary{OID: ent.OID, Name: ent.Name, InternalName: ent.InternalName}
		if ent.Description != "" {
			desc := ent.Description
			sum.Description = &desc
		}
		if ref, ok := ent.Data.(*ReferenceData); ok && k == KindReference {
			sum.CompanyName = ref.CompanyName
			sum.CompanyDomain = ref.CompanyDomain
			sum.Industry = ref.Industry
			if sum.Name == "" {
				sum.Name = firstNonEmpty(ref.CompanyName, "Unnamed Reference")
			}
		}
		out = append(out, sum)
	}
	return out
}

func decodeOffering(raw json.RawMessage) *ServiceOffering {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var off ServiceOffering
	if err := json.Unmarshal(raw, &off); err != nil {
		return nil
	}
	return &off
}

func lowerLabel(k Kind) string {
	label := k.Label()
	if label == "" {
		return "entity"
	}
	return strings.ToLower(label[:1]) + label[1:]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
