// Package export 将客户工作区的 GTM 战略渲染为 PDF
package export

import (
	"encoding/json"
	"fmt"
	"strings"

	"claireportal/internal/dispatch"
	"claireportal/internal/gtm"
	"claireportal/internal/workspace"
)

// maxProspects 名单最多展示的人数，其余只给出数量
const maxProspects = 10

// Offering 主服务摘要
type Offering struct {
	Name                string
	DifferentiatedValue []string
}

// LibraryItem GTM 库中的一项
type LibraryItem struct {
	Name    string
	Details []string
}

// StrategyBundle 一次导出所需的全部内容
type StrategyBundle struct {
	CompanyName   string
	CompanyDomain string

	CampaignIdeas []workspace.CampaignIdea
	Prospects     []workspace.Prospect
	ColdEmails    workspace.ColdEmails
	LinkedinPosts workspace.LinkedinPosts
	LinkedinDMs   workspace.LinkedinDMs
	Newsletters   workspace.Newsletters
	CallPrep      workspace.CallPrep

	ServiceOffering  *Offering
	Personas         []LibraryItem
	UseCases         []LibraryItem
	Segments         []LibraryItem
	ClientReferences []LibraryItem
}

// BundleFromWorkspace 从工作区快照组装导出内容
func BundleFromWorkspace(ws *workspace.ClientWorkspace) *StrategyBundle {
	b := &StrategyBundle{
		CompanyName:   ws.CompanyName,
		CompanyDomain: ws.CompanyDomain,
		CampaignIdeas: ws.CampaignIdeas,
		Prospects:     ws.ProspectList,
		ColdEmails:    ws.ColdEmails.Data(),
		LinkedinPosts: ws.LinkedinPosts.Data(),
		LinkedinDMs:   ws.LinkedinDMs.Data(),
		Newsletters:   ws.Newsletters.Data(),
		CallPrep:      ws.CallPrep.Data(),
	}
	b.ServiceOffering = offering(gtm.CachedOffering(ws))

	for i, e := range gtm.Cached(ws, gtm.KindPersona) {
		item := LibraryItem{Name: nameOr(e.Name, "Unnamed Persona")}
		if d, ok := e.Data.(*gtm.PersonaData); ok && len(d.CommonJobTitles) > 0 {
			titles := d.CommonJobTitles
			if len(titles) > 3 {
				titles = titles[:3]
			}
			item.Details = append(item.Details, "Job Titles: "+strings.Join(titles, ", "))
		}
		b.Personas = append(b.Personas, numbered(i, item))
	}
	for i, e := range gtm.Cached(ws, gtm.KindUseCase) {
		item := LibraryItem{Name: nameOr(e.Name, "Unnamed Use Case")}
		if e.Description != "" {
			item.Details = append(item.Details, dispatch.Truncate(e.Description, 200))
		}
		b.UseCases = append(b.UseCases, numbered(i, item))
	}
	for i, e := range gtm.Cached(ws, gtm.KindSegment) {
		item := LibraryItem{Name: nameOr(e.Name, "Unnamed Segment")}
		if d, ok := e.Data.(*gtm.SegmentData); ok && d.Industry != "" {
			item.Details = append(item.Details, "Industry: "+d.Industry)
		}
		b.Segments = append(b.Segments, numbered(i, item))
	}
	for i, e := range gtm.Cached(ws, gtm.KindReference) {
		item := LibraryItem{Name: nameOr(e.Name, "Unnamed Company")}
		if d, ok := e.Data.(*gtm.ReferenceData); ok {
			item.Name = nameOr(d.CompanyName, item.Name)
			if d.CompanyDomain != "" {
				item.Details = append(item.Details, "Website: "+d.CompanyDomain)
			}
			if d.Industry != "" {
				item.Details = append(item.Details, "Industry: "+d.Industry)
			}
		}
		b.ClientReferences = append(b.ClientReferences, numbered(i, item))
	}
	return b
}

// HasLibrary GTM 库是否有内容
func (b *StrategyBundle) HasLibrary() bool {
	return b.ServiceOffering != nil || len(b.Personas) > 0 || len(b.UseCases) > 0 ||
		len(b.Segments) > 0 || len(b.ClientReferences) > 0
}

func offering(o *gtm.ServiceOffering) *Offering {
	if o == nil {
		return nil
	}
	out := &Offering{Name: nameOr(o.Name, "N/A")}
	if len(o.Data) > 0 {
		var d gtm.ServiceData
		if err := json.Unmarshal(o.Data, &d); err == nil {
			out.DifferentiatedValue = d.DifferentiatedValue
		}
	}
	return out
}

func numbered(i int, item LibraryItem) LibraryItem {
	item.Name = fmt.Sprintf("%d. %s", i+1, item.Name)
	return item
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}
