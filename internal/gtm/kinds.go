// Package gtm 读写客户工作区中的 GTM 实体（画像、用例、案例、细分市场、打法、服务、竞品、证据）
package gtm

import (
	"claireportal/internal/octave"
	"claireportal/internal/workspace"
)

// Kind 实体类型
type Kind string

const (
	KindPersona    Kind = "persona"
	KindUseCase    Kind = "use_case"
	KindReference  Kind = "reference"
	KindSegment    Kind = "segment"
	KindPlaybook   Kind = "playbook"
	KindService    Kind = "service"
	KindCompetitor Kind = "competitor"
	KindProofPoint Kind = "proof_point"
)

// Kinds 全部实体类型，顺序即 GTM 库的展示顺序
var Kinds = []Kind{
	KindPersona, KindUseCase, KindReference, KindSegment,
	KindPlaybook, KindService, KindCompetitor, KindProofPoint,
}

type kindInfo struct {
	route    string
	resource octave.Resource
	column   string
	label    string
}

var kindTable = map[Kind]kindInfo{
	KindPersona:    {"personas", octave.ResourcePersona, workspace.ColumnPersonas, "Persona"},
	KindUseCase:    {"use-cases", octave.ResourceUseCase, workspace.ColumnUseCases, "Use case"},
	KindReference:  {"references", octave.ResourceReference, workspace.ColumnClientReferences, "Reference"},
	KindSegment:    {"segments", octave.ResourceSegment, workspace.ColumnSegments, "Segment"},
	KindPlaybook:   {"playbooks", octave.ResourcePlaybook, workspace.ColumnPlaybooks, "Playbook"},
	KindService:    {"services", octave.ResourceProduct, workspace.ColumnServiceOffering, "Service"},
	KindCompetitor: {"competitors", octave.ResourceCompetitor, workspace.ColumnCompetitors, "Competitor"},
	KindProofPoint: {"proof-points", octave.ResourceProofPoint, workspace.ColumnProofPoints, "Proof point"},
}

// ParseRouteKind 将路由段（personas、use-cases 等）解析为实体类型
func ParseRouteKind(segment string) (Kind, bool) {
	for k, info := range kindTable {
		if info.route == segment {
			return k, true
		}
	}
	return "", false
}

// Route 路由段
func (k Kind) Route() string { return kindTable[k].route }

// Resource 平台资源名
func (k Kind) Resource() octave.Resource { return kindTable[k].resource }

// Column 工作区缓存列
func (k Kind) Column() string { return kindTable[k].column }

// Label 错误提示中使用的名称
func (k Kind) Label() string { return kindTable[k].label }

// Valid 是否为已知类型
func (k Kind) Valid() bool {
	_, ok := kindTable[k]
	return ok
}
