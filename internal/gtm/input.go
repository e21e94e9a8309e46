package gtm

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strings"

	"claireportal/internal/common"
)

// Input 创建/更新请求；OID 非空为更新
type Input struct {
	OID          string
	Name         string
	InternalName string
	Description  string
	Data         Data
}

type inputHeader struct {
	OID          string `json:"oId"`
	Name         string `json:"name"`
	InternalName string `json:"internalName"`
	Description  string `json:"description"`
}

// playbookForm 打法表单字段与平台字段名不同
type playbookForm struct {
	Type                   string          `json:"type"`
	Status                 string          `json:"status"`
	KeyInsight             json.RawMessage `json:"keyInsight"`
	ExampleDomains         []string        `json:"exampleDomains"`
	ApproachAngle          []string        `json:"approachAngle"`
	StrategicNarrative     []string        `json:"strategicNarrative"`
	SelectedPersonaOIDs    []string        `json:"selectedPersonaOIds"`
	SelectedUseCaseOIDs    []string        `json:"selectedUseCaseOIds"`
	SelectedReferenceOIDs  []string        `json:"selectedReferenceOIds"`
	SelectedSegmentOID     string          `json:"selectedSegmentOId"`
	SelectedCompetitorOID  string          `json:"selectedCompetitorOId"`
	SelectedProofPointOIDs []string        `json:"selectedProofPointOIds"`
	ProductOID             string          `json:"productOId"`
}

// referenceForm 表单中的 successStory 对应平台 details
type referenceForm struct {
	SuccessStory string `json:"successStory"`
}

const msgInvalidBody = "Invalid request body"

// DecodeInput 解析扁平的表单请求体，清洗字符串并校验必填项
func DecodeInput(k Kind, raw []byte) (*Input, error) {
	if !k.Valid() {
		return nil, common.ErrValidation("Unknown entity type")
	}
	var head inputHeader
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, common.ErrValidation(msgInvalidBody)
	}
	in := &Input{
		OID:          strings.TrimSpace(head.OID),
		Name:         strings.TrimSpace(head.Name),
		InternalName: strings.TrimSpace(head.InternalName),
		Description:  strings.TrimSpace(head.Description),
	}

	var keyInsight []string
	switch k {
	case KindPlaybook:
		var form playbookForm
		if err := json.Unmarshal(raw, &form); err != nil {
			return nil, common.ErrValidation(msgInvalidBody)
		}
		keyInsight = decodeInsight(form.KeyInsight)
		in.Data = &PlaybookData{
			Type:               form.Type,
			Status:             form.Status,
			KeyInsight:         strings.Join(CleanList(keyInsight), " "),
			ExampleDomains:     form.ExampleDomains,
			ApproachAngle:      form.ApproachAngle,
			StrategicNarrative: form.StrategicNarrative,
			PersonaOIDs:        form.SelectedPersonaOIDs,
			UseCaseOIDs:        form.SelectedUseCaseOIDs,
			ReferenceOIDs:      form.SelectedReferenceOIDs,
			SegmentOID:         form.SelectedSegmentOID,
			CompetitorOID:      form.SelectedCompetitorOID,
			ProofPointOIDs:     form.SelectedProofPointOIDs,
			ProductOID:         form.ProductOID,
		}
	default:
		data, _ := NewData(k)
		if err := json.Unmarshal(raw, data); err != nil {
			return nil, common.ErrValidation(msgInvalidBody)
		}
		if ref, ok := data.(*ReferenceData); ok && ref.Details == "" {
			var form referenceForm
			_ = json.Unmarshal(raw, &form)
			ref.Details = form.SuccessStory
		}
		in.Data = data
	}
	cleanStrings(in.Data)

	if err := validate(k, in, keyInsight); err != nil {
		return nil, err
	}
	return in, nil
}

func decodeInsight(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return list
	}
	var single string
	if json.Unmarshal(raw, &single) == nil {
		return []string{single}
	}
	return nil
}

func validate(k Kind, in *Input, keyInsight []string) error {
	switch k {
	case KindPlaybook:
		if in.Description == "" {
			return common.ErrValidation("Playbook description is required")
		}
		if len(keyInsight) == 0 || strings.TrimSpace(keyInsight[0]) == "" {
			return common.ErrValidation("Key insight is required")
		}
	case KindReference:
		ref := in.Data.(*ReferenceData)
		if in.Name == "" && ref.CompanyName == "" {
			return common.ErrValidation("Reference company name is required")
		}
	default:
		if in.Name == "" {
			return common.ErrValidation(k.Label() + " name is required")
		}
	}
	return nil
}

var schemePrefix = regexp.MustCompile(`^https?://`)

// NormalizeDomain 去掉协议与 www 前缀
func NormalizeDomain(domain string) string {
	d := schemePrefix.ReplaceAllString(strings.TrimSpace(domain), "")
	return strings.TrimPrefix(d, "www.")
}

// Payload 生成发送给平台的请求体；productOID 为工作区默认产品
func (in *Input) Payload(productOID string) map[string]any {
	payload := map[string]any{}
	if raw, err := json.Marshal(in.Data); err == nil {
		_ = json.Unmarshal(raw, &payload)
	}

	switch d := in.Data.(type) {
	case *PlaybookData:
		if d.Status == "" {
			payload["status"] = "active"
		}
		if d.ProductOID == "" && productOID != "" {
			payload["productOId"] = productOID
		}
	case *ReferenceData:
		if d.CompanyDomain != "" {
			payload["companyDomain"] = NormalizeDomain(d.CompanyDomain)
		}
		if d.ProductOID == "" && productOID != "" {
			payload["productOId"] = productOID
		}
		if in.Name == "" {
			payload["name"] = d.CompanyName
		}
	}

	if in.Name != "" {
		payload["name"] = in.Name
	}
	if in.InternalName != "" {
		payload["internalName"] = in.InternalName
	}
	if in.Description != "" {
		payload["description"] = in.Description
	}
	return payload
}

// CleanList 去掉空白项并裁剪首尾空格，结果非 nil
func CleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if t := strings.TrimSpace(item); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// cleanStrings 就地清洗结构体中的 string 与 []string 字段
func cleanStrings(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanSet() {
			continue
		}
		switch {
		case f.Kind() == reflect.String:
			f.SetString(strings.TrimSpace(f.String()))
		case f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.String:
			f.Set(reflect.ValueOf(CleanList(f.Interface().([]string))))
		}
	}
}
