package gtm

import (
	"claireportal/internal/highlight"
	"claireportal/internal/workspace"
)

// VarYourCompanyName 模板中代表客户自身公司名的变量
const VarYourCompanyName = "YOUR_COMPANY_NAME"

// EnrichHighlightContext 按 oId 用工作区缓存补全所选实体，并附上细分市场与公司名
// ws 为 nil 时原样返回所选实体
func EnrichHighlightContext(ws *workspace.ClientWorkspace, selected highlight.Context) highlight.Context {
	out := highlight.Context{
		Segments:    append([]string(nil), selected.Segments...),
		LeadMagnets: append([]string(nil), selected.LeadMagnets...),
		Variables:   map[string]string{},
	}
	for k, v := range selected.Variables {
		out.Variables[k] = v
	}

	var personas, useCases, refs map[string]*Entity
	if ws != nil {
		personas = indexByOID(Cached(ws, KindPersona))
		useCases = indexByOID(Cached(ws, KindUseCase))
		refs = indexByOID(Cached(ws, KindReference))
		for _, seg := range Cached(ws, KindSegment) {
			out.Segments = append(out.Segments, seg.Name)
		}
		if ws.CompanyName != "" {
			if _, ok := out.Variables[VarYourCompanyName]; !ok {
				out.Variables[VarYourCompanyName] = ws.CompanyName
			}
		}
	}

	for _, p := range selected.Personas {
		if ent, ok := personas[p.OID]; ok {
			p.Name = firstNonEmpty(ent.Name, p.Name)
			if d, ok := ent.Data.(*PersonaData); ok {
				p.JobTitles = append(p.JobTitles, d.CommonJobTitles...)
				p.PainPoints = append(p.PainPoints, d.PainPoints...)
			}
		}
		out.Personas = append(out.Personas, p)
	}
	for _, u := range selected.UseCases {
		if ent, ok := useCases[u.OID]; ok {
			u.Name = firstNonEmpty(ent.Name, u.Name)
			if d, ok := ent.Data.(*UseCaseData); ok {
				u.Outcomes = append(u.Outcomes, d.DesiredOutcomes...)
			}
		}
		out.UseCases = append(out.UseCases, u)
	}
	for _, r := range selected.ClientReferences {
		if ent, ok := refs[r.OID]; ok {
			r.Name = firstNonEmpty(ent.Name, r.Name)
			if d, ok := ent.Data.(*ReferenceData); ok && d.CompanyName != "" && d.CompanyName != r.Name {
				out.ClientReferences = append(out.ClientReferences, highlight.Reference{OID: r.OID, Name: d.CompanyName})
			}
		}
		out.ClientReferences = append(out.ClientReferences, r)
	}
	return out
}

func indexByOID(items []*Entity) map[string]*Entity {
	idx := make(map[string]*Entity, len(items))
	for _, ent := range items {
		if ent.OID != "" {
			idx[ent.OID] = ent
		}
	}
	return idx
}
