package campaign

import (
	"fmt"
	"regexp"
	"strings"

	"claireportal/internal/dispatch"
	"claireportal/internal/gtm"
	"claireportal/internal/highlight"
	"claireportal/internal/plays"
	"claireportal/internal/workspace"
)

const intermediarySystemPrompt = "You are a campaign strategist helping to extract structured intermediary outputs from campaign briefs. Always return valid JSON matching the specified format."

// maxBriefChars 单段简报材料上限，超出截断
const maxBriefChars = 20000

var (
	blankRuns  = regexp.MustCompile(`\n{3,}`)
	lineSpaces = regexp.MustCompile(`[ \t]+\n`)
)

// cleanBrief 统一换行、压缩空行并截断
func cleanBrief(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = lineSpaces.ReplaceAllString(s, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return dispatch.Truncate(strings.TrimSpace(s), maxBriefChars)
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None provided"
	}
	return s
}

// generatedIntermediary 模型返回的中间产物
type generatedIntermediary struct {
	ListBuildingInstructions string                `json:"listBuildingInstructions"`
	Hook                     string                `json:"hook"`
	AttractionOffer          *Offer                `json:"attractionOffer"`
	Asset                    *Asset                `json:"asset"`
	CaseStudies              []CaseStudy           `json:"caseStudies"`
	ClientReferences         []highlight.Reference `json:"clientReferences"`
	Personas                 []Persona             `json:"personas"`
	UseCases                 []UseCase             `json:"useCases"`
}

func (g generatedIntermediary) intermediary() Intermediary {
	return Intermediary{
		ListBuildingInstructions: strings.TrimSpace(g.ListBuildingInstructions),
		Hook:                     strings.TrimSpace(g.Hook),
		AttractionOffer:          g.AttractionOffer,
		Asset:                    g.Asset,
		CaseStudies:              nonNil(g.CaseStudies),
		ClientReferences:         nonNil(g.ClientReferences),
	}
}

func (g generatedIntermediary) context() Context {
	return Context{Personas: nonNil(g.Personas), UseCases: nonNil(g.UseCases), Problems: []string{}}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// buildIntermediaryPrompt 简报为主，工作区战略要素仅作补充
func buildIntermediaryPrompt(c *Campaign, ws *workspace.ClientWorkspace) string {
	brief := c.CampaignBrief.Data()
	var b strings.Builder

	fmt.Fprintf(&b, "CAMPAIGN BRIEF FOR %s\n\n", c.CampaignName)
	fmt.Fprintf(&b, "Campaign Type: %s\nPlay Code: %s\n\n", orNone(c.CampaignType), c.PlayCode)
	fmt.Fprintf(&b, "Meeting Transcript:\n%s\n\n", orNone(cleanBrief(brief.MeetingTranscript)))
	fmt.Fprintf(&b, "Written Strategy (Emails, Slack, Teams messages):\n%s\n\n", orNone(cleanBrief(brief.WrittenStrategy)))
	docs := append(append([]string{}, brief.Documents...), brief.BlogPosts...)
	fmt.Fprintf(&b, "Documents/Blog Posts:\n%s\n\n", orNone(cleanBrief(strings.Join(docs, "\n"))))
	fmt.Fprintf(&b, "Additional Campaign Brief:\n%s\n\n---\n\n", orNone(cleanBrief(c.AdditionalBrief)))

	b.WriteString(intermediaryInstructions)
	if plays.IsConferencePlay(c.PlayCode) {
		b.WriteString(conferenceHookInstructions)
	}

	b.WriteString("\nAVAILABLE OCTAVE STRATEGIC ELEMENTS (use ONLY if information missing from brief):\n\nPERSONAS:\n")
	writeEntities(&b, gtm.Cached(ws, gtm.KindPersona), func(e *gtm.Entity) string {
		return fmt.Sprintf("- %s: %s", e.Name, e.Description)
	})
	b.WriteString("\nUSE CASES:\n")
	writeEntities(&b, gtm.Cached(ws, gtm.KindUseCase), func(e *gtm.Entity) string {
		outcome := ""
		if d, ok := e.Data.(*gtm.UseCaseData); ok {
			outcome = strings.Join(d.DesiredOutcomes, "; ")
		}
		return fmt.Sprintf("- %s: Desired Outcome: %s", e.Name, outcome)
	})
	b.WriteString("\nCLIENT REFERENCES:\n")
	writeEntities(&b, gtm.Cached(ws, gtm.KindReference), func(e *gtm.Entity) string {
		return fmt.Sprintf("- %s: %s", e.Name, e.Description)
	})
	fmt.Fprintf(&b, "\nCOMPANY CONTEXT:\n- Company Name: %s\n- Company Domain: %s\n\n---\n\n", ws.CompanyName, ws.CompanyDomain)
	b.WriteString(intermediaryOutputFormat)
	return b.String()
}

func writeEntities(b *strings.Builder, items []*gtm.Entity, line func(*gtm.Entity) string) {
	if len(items) == 0 {
		b.WriteString("None\n")
		return
	}
	for _, e := range items {
		b.WriteString(line(e))
		b.WriteByte('\n')
	}
}

const intermediaryInstructions = `CRITICAL INSTRUCTIONS:
Generate the intermediary outputs from the campaign brief above. Only use Octave Strategic Elements if specific information is missing from the brief.

1. LIST BUILDING STRATEGY (2-10 sentences): account criteria (industry, size, location, revenue), prospect criteria (job titles, decision makers, personas) and any list sources named in the brief (conference attendees, communities, websites to scrape).

2. HOOK (1-2 sentences): the shared touchpoint that builds trust in the FIRST LINE. Location, conference, community, industry language, technology or company description taken from the brief.

3. ATTRACTION OFFER: a headline naming the offer, 3-5 value bullets (saves time, makes money, saves money, increases status) and 1-2 ease bullets showing how little effort it takes.

4. ASSET: the landing page, blog post, white paper, tool or link for the campaign. Output the URL when the brief has one; describe where to find it when it is described without a link; otherwise write a Lovable prompt for a landing page that follows the brand guidelines of the client domain.

5. CASE STUDIES (optional): relevant case studies from the brief or the strategic elements, each with client name and a description carrying results, statistics and timelines.

6. PERSONAS & USE CASES: map the strategic elements that fit the brief.
`

const conferenceHookInstructions = `
CONFERENCE PLAY: the hook MUST tie to why attendees are there (buyer vs solution partner dynamic), the conference-specific context and the primary pain point.
`

const intermediaryOutputFormat = `OUTPUT FORMAT (JSON):
{
  "listBuildingInstructions": "...",
  "hook": "...",
  "attractionOffer": {"headline": "...", "valueBullets": ["..."], "easeBullets": ["..."]},
  "asset": {"type": "landing_page|blog_post|white_paper|tool|lovable_prompt", "content": "...", "url": "..."},
  "caseStudies": [{"clientName": "...", "description": "..."}],
  "clientReferences": [{"oId": "...", "name": "..."}],
  "personas": [{"oId": "...", "name": "...", "description": "..."}],
  "useCases": [{"oId": "...", "name": "...", "desiredOutcome": "...", "blocker": "..."}]
}
`

// conferenceInstructions 会议类玩法的文案要求
func conferenceInstructions(code string) string {
	if !plays.IsConferencePlay(code) {
		return ""
	}
	phase := "POST-conference"
	if code == "2009" {
		phase = "PRE-conference"
	}
	return "CRITICAL CONFERENCE PLAY REQUIREMENTS:\n" +
		"- This is a " + phase + " outreach campaign\n" +
		"- Copy MUST tie to event context (why attendees are there)\n" +
		"- First line MUST reference the conference and shared context\n" +
		"- Identify buyer vs solution partner dynamic\n" +
		"- CTA should be for a 15-20 minute on-site meeting (pre-conference) or follow-up (post-conference)\n"
}
