package gtm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Entity GTM 实体的统一外形，Data 为按类型区分的结构化字段
type Entity struct {
	OID                 string          `json:"oId"`
	Name                string          `json:"name"`
	InternalName        string          `json:"internalName,omitempty"`
	Description         string          `json:"description,omitempty"`
	Active              bool            `json:"active"`
	CreatedAt           string          `json:"createdAt,omitempty"`
	UpdatedAt           string          `json:"updatedAt,omitempty"`
	QualifyingQuestions json.RawMessage `json:"qualifyingQuestions,omitempty"`

	Kind Kind `json:"-"`
	Data Data `json:"-"`
}

// Data 各类型实体的专属字段
type Data interface {
	Kind() Kind
	extras() *Extras
}

// Extras 平台新增、本地未建模的字段，原样保留
type Extras struct {
	Extra map[string]json.RawMessage `json:"-"`
}

func (e *Extras) extras() *Extras { return e }

// PersonaData 画像
type PersonaData struct {
	Extras
	PrimaryResponsibilities []string `json:"primaryResponsibilities"`
	PainPoints              []string `json:"painPoints"`
	KeyConcerns             []string `json:"keyConcerns"`
	KeyObjectives           []string `json:"keyObjectives"`
	CommonJobTitles         []string `json:"commonJobTitles"`
	WhyTheyMatterToUs       []string `json:"whyTheyMatterToUs"`
	WhyWeMatterToThem       []string `json:"whyWeMatterToThem"`
}

// UseCaseData 用例
type UseCaseData struct {
	Extras
	PrimaryURL      string   `json:"primaryUrl,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	Scenarios       []string `json:"scenarios"`
	DesiredOutcomes []string `json:"desiredOutcomes"`
	BusinessDrivers []string `json:"businessDrivers"`
	BusinessImpact  []string `json:"businessImpact"`
}

// ReferenceData 客户案例
type ReferenceData struct {
	Extras
	CompanyName   string `json:"companyName,omitempty"`
	CompanyDomain string `json:"companyDomain,omitempty"`
	Industry      string `json:"industry,omitempty"`
	Details       string `json:"details,omitempty"`
	URL           string `json:"url,omitempty"`
	ProductOID    string `json:"productOId,omitempty"`
}

// SegmentData 细分市场
type SegmentData struct {
	Extras
	Industry          string   `json:"industry,omitempty"`
	Firmographics     []string `json:"firmographics"`
	KeyPriorities     []string `json:"keyPriorities"`
	KeyConsiderations []string `json:"keyConsiderations"`
}

// PlaybookData 打法
type PlaybookData struct {
	Extras
	Type               string   `json:"type,omitempty"`
	Status             string   `json:"status,omitempty"`
	KeyInsight         string   `json:"keyInsight,omitempty"`
	ExampleDomains     []string `json:"exampleDomains"`
	ApproachAngle      []string `json:"approachAngle"`
	StrategicNarrative []string `json:"strategicNarrative"`
	PersonaOIDs        []string `json:"personaOIds"`
	UseCaseOIDs        []string `json:"useCaseOIds"`
	ReferenceOIDs      []string `json:"referenceOIds"`
	SegmentOID         string   `json:"segmentOId,omitempty"`
	CompetitorOID      string   `json:"competitorOId,omitempty"`
	ProofPointOIDs     []string `json:"proofPointOIds"`
	ProductOID         string   `json:"productOId,omitempty"`
}

// ServiceData 服务/产品
type ServiceData struct {
	Extras
	PrimaryURL          string   `json:"primaryUrl,omitempty"`
	Summary             string   `json:"summary,omitempty"`
	Capabilities        []string `json:"capabilities"`
	DifferentiatedValue []string `json:"differentiatedValue"`
	StatusQuo           []string `json:"statusQuo"`
	ChallengesAddressed []string `json:"challengesAddressed"`
	CustomerBenefits    []string `json:"customerBenefits"`
}

// CompetitorData 竞品
type CompetitorData struct {
	Extras
	Website         string   `json:"website,omitempty"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Differentiators []string `json:"differentiators"`
}

// ProofPointData 证据
type ProofPointData struct {
	Extras
	Type   string `json:"type,omitempty"`
	Source string `json:"source,omitempty"`
	Metric string `json:"metric,omitempty"`
}

func (*PersonaData) Kind() Kind    { return KindPersona }
func (*UseCaseData) Kind() Kind    { return KindUseCase }
func (*ReferenceData) Kind() Kind  { return KindReference }
func (*SegmentData) Kind() Kind    { return KindSegment }
func (*PlaybookData) Kind() Kind   { return KindPlaybook }
func (*ServiceData) Kind() Kind    { return KindService }
func (*CompetitorData) Kind() Kind { return KindCompetitor }
func (*ProofPointData) Kind() Kind { return KindProofPoint }

// NewData 返回类型对应的空 Data
func NewData(k Kind) (Data, error) {
	switch k {
	case KindPersona:
		return &PersonaData{}, nil
	case KindUseCase:
		return &UseCaseData{}, nil
	case KindReference:
		return &ReferenceData{}, nil
	case KindSegment:
		return &SegmentData{}, nil
	case KindPlaybook:
		return &PlaybookData{}, nil
	case KindService:
		return &ServiceData{}, nil
	case KindCompetitor:
		return &CompetitorData{}, nil
	case KindProofPoint:
		return &ProofPointData{}, nil
	}
	return nil, fmt.Errorf("unknown entity kind %q", k)
}

var commonKeys = jsonKeys(reflect.TypeOf(Entity{}))

// DecodeEntity 解析平台返回的实体；顶层非通用字段并入 data（data 内同名字段优先）
func DecodeEntity(k Kind, raw []byte) (*Entity, error) {
	var ent Entity
	if err := json.Unmarshal(raw, &ent); err != nil {
		return nil, fmt.Errorf("decode %s: %w", k, err)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("decode %s: %w", k, err)
	}

	fields := map[string]json.RawMessage{}
	for key, v := range top {
		if _, ok := commonKeys[key]; ok || key == "data" {
			continue
		}
		fields[key] = v
	}
	if nested, ok := top["data"]; ok && len(nested) > 0 && string(nested) != "null" {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(nested, &inner); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", k, err)
		}
		for key, v := range inner {
			fields[key] = v
		}
	}

	data, err := decodeData(k, fields)
	if err != nil {
		return nil, err
	}
	ent.Kind = k
	ent.Data = data
	if ent.Description == "" {
		ent.Description = stringField(fields, "description")
	}
	return &ent, nil
}

// DecodeList 解析实体数组，单条失败跳过
func DecodeList(k Kind, raw []byte) ([]*Entity, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %s list: %w", k, err)
	}
	out := make([]*Entity, 0, len(items))
	for _, item := range items {
		ent, err := DecodeEntity(k, item)
		if err != nil {
			continue
		}
		out = append(out, ent)
	}
	return out, nil
}

// MarshalJSON 输出平台同构的形态：通用字段 + data（含 extra）
func (e Entity) MarshalJSON() ([]byte, error) {
	type plain Entity
	base, err := json.Marshal(plain(e))
	if err != nil {
		return nil, err
	}
	if e.Data == nil {
		return base, nil
	}
	data, err := encodeData(e.Data)
	if err != nil {
		return nil, err
	}
	return append(base[:len(base)-1], []byte(`,"data":`+string(data)+`}`)...), nil
}

// UnmarshalJSON 仅解析通用字段；带类型的解析使用 DecodeEntity
func (e *Entity) UnmarshalJSON(raw []byte) error {
	type plain Entity
	return json.Unmarshal(raw, (*plain)(e))
}

func decodeData(k Kind, fields map[string]json.RawMessage) (Data, error) {
	data, err := NewData(k)
	if err != nil {
		return nil, err
	}
	known := jsonKeys(reflect.TypeOf(data).Elem())
	extra := map[string]json.RawMessage{}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		v := fields[key]
		if key == "description" {
			continue
		}
		if _, ok := known[key]; ok {
			// 逐字段解析，类型不符的字段保留到 extra
			single, _ := json.Marshal(map[string]json.RawMessage{key: v})
			if err := json.Unmarshal(single, data); err == nil {
				continue
			}
		}
		extra[key] = v
	}
	if len(extra) > 0 {
		data.extras().Extra = extra
	}
	return data, nil
}

func encodeData(d Data) ([]byte, error) {
	known, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	extra := d.extras().Extra
	if len(extra) == 0 {
		return known, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// ExtraKeys 未建模字段名（排序）
func ExtraKeys(d Data) []string {
	keys := make([]string, 0, len(d.extras().Extra))
	for k := range d.extras().Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var keyCache sync.Map

// jsonKeys 返回结构体（含嵌入字段）的 json 字段名集合
func jsonKeys(t reflect.Type) map[string]struct{} {
	if cached, ok := keyCache.Load(t); ok {
		return cached.(map[string]struct{})
	}
	keys := map[string]struct{}{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			for k := range jsonKeys(f.Type) {
				keys[k] = struct{}{}
			}
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" || !f.IsExported() {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if name == "" {
			name = f.Name
		}
		keys[name] = struct{}{}
	}
	keyCache.Store(t, keys)
	return keys
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
