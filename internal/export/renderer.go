package export

import (
	"fmt"
	"strings"
	"time"

	"claireportal/internal/workspace"
)

// unit 不可拆分的排版单元；heading 为空时只有正文
type unit struct {
	heading string
	hs      Style
	body    string
	bs      Style
	after   float64
}

func (u unit) height(p *Paginator) float64 {
	if u.heading == "" {
		return p.ParagraphHeight(u.body, u.bs)
	}
	if u.body == "" {
		return p.ParagraphHeight(u.heading, u.hs)
	}
	return p.HeadedHeight(u.heading, u.hs, u.body, u.bs)
}

func (u unit) draw(p *Paginator) {
	switch {
	case u.heading == "":
		p.Paragraph(u.body, u.bs)
	case u.body == "":
		p.Paragraph(u.heading, u.hs)
	default:
		p.Headed(u.heading, u.hs, u.body, u.bs)
	}
	p.Space(u.after)
}

// section 一个分区
type section struct {
	title string
	units []unit
}

// Renderer 战略 PDF 渲染
type Renderer struct {
	logo string
	now  func() time.Time
}

// NewRenderer logo 为空时使用 "Claire"
func NewRenderer(logo string) *Renderer {
	if logo == "" {
		logo = "Claire"
	}
	return &Renderer{logo: logo, now: time.Now}
}

// Render 输出 PDF 字节与总页数（含封面）
func (r *Renderer) Render(b *StrategyBundle) ([]byte, int, error) {
	p := NewPaginator(r.logo)
	p.TitlePage(
		[]string{b.CompanyName + "'s", "CRO Strategy"},
		[]string{"Built by Claire", "Generated on " + r.now().Format("January 2, 2006")},
	)
	p.NewPage()

	for i, s := range sections(b) {
		if i > 0 {
			p.Divider()
		}
		p.Section(s.title, s.units[0].height(p))
		for _, u := range s.units {
			u.draw(p)
		}
	}

	if err := p.Err(); err != nil {
		return nil, 0, fmt.Errorf("render strategy pdf: %w", err)
	}
	pages := p.Pages()
	out, err := p.Output()
	if err != nil {
		return nil, 0, fmt.Errorf("write strategy pdf: %w", err)
	}
	return out, pages, nil
}

// sections 固定顺序；没有内容的分区整体跳过
func sections(b *StrategyBundle) []section {
	builders := []func(*StrategyBundle) section{
		campaignIdeas,
		prospects,
		coldEmails,
		linkedinPosts,
		linkedinDMs,
		newsletters,
		callPrep,
		library,
	}
	var out []section
	for _, build := range builders {
		if s := build(b); len(s.units) > 0 {
			out = append(out, s)
		}
	}
	return out
}

func campaignIdeas(b *StrategyBundle) section {
	s := section{title: "Campaign Ideas"}
	for i, c := range b.CampaignIdeas {
		id := c.ID
		if id == 0 {
			id = i + 1
		}
		s.units = append(s.units, unit{
			heading: fmt.Sprintf("Campaign %d: %s", id, c.Title), hs: styleHeading,
			body: c.Description, bs: styleText,
			after: 4,
		})
	}
	return s
}

func prospects(b *StrategyBundle) section {
	s := section{title: "Real Prospect List"}
	if len(b.Prospects) == 0 {
		return s
	}
	s.units = append(s.units, unit{
		body:  fmt.Sprintf("Found %d qualified prospects matching your ideal customer profile", len(b.Prospects)),
		bs:    styleMuted,
		after: 3,
	})
	for i, pr := range b.Prospects {
		if i == maxProspects {
			break
		}
		name := pr.Name
		if name == "" {
			name = fmt.Sprintf("Prospect %d", i+1)
		}
		var details []string
		for _, d := range []string{pr.Title, pr.Company} {
			if d != "" {
				details = append(details, d)
			}
		}
		if pr.LinkedIn != "" {
			details = append(details, "LinkedIn: "+pr.LinkedIn)
		}
		s.units = append(s.units, unit{
			heading: fmt.Sprintf("%d. %s", i+1, name), hs: styleItem,
			body: strings.Join(details, "\n"), bs: styleDetail,
			after: 2,
		})
	}
	if extra := len(b.Prospects) - maxProspects; extra > 0 {
		s.units = append(s.units, unit{
			body: fmt.Sprintf("+ %d more prospects available in your Octave workspace", extra),
			bs:   styleMutedSm,
		})
	}
	return s
}

func coldEmails(b *StrategyBundle) section {
	s := section{title: "Outbound Copy (Cold Emails)"}
	variants := []struct {
		label  string
		emails []workspaceEmail
	}{
		{"3 Personalized Solutions", emailsOf(b.ColdEmails.PersonalizedSolutions)},
		{"Lead Magnet Focus (Short)", emailsOf(b.ColdEmails.LeadMagnetShort)},
		{"Local/Same City In Common", emailsOf(b.ColdEmails.LocalCity)},
		{"Problem/Solution Focus", emailsOf(b.ColdEmails.ProblemSolution)},
		{"Lead Magnet Focus (Long)", emailsOf(b.ColdEmails.LeadMagnetLong)},
	}
	for vi, v := range variants {
		for ei, e := range v.emails {
			heading := fmt.Sprintf("Email %d - Subject: %s", ei+1, e.subject)
			if ei == 0 {
				heading = fmt.Sprintf("Email Sequence %d: %s\n", vi+1, v.label) + heading
			}
			s.units = append(s.units, unit{
				heading: heading, hs: styleLabel,
				body: e.text, bs: styleBody,
				after: 4,
			})
		}
	}
	return s
}

// labeled 带序号标签的纯文本变体
func labeled(title string, pairs [][2]string) section {
	s := section{title: title}
	n := 0
	for _, kv := range pairs {
		if strings.TrimSpace(kv[1]) == "" {
			continue
		}
		n++
		s.units = append(s.units, unit{
			heading: fmt.Sprintf("%d. %s", n, kv[0]), hs: styleItem,
			body: kv[1], bs: styleBody,
			after: 4,
		})
	}
	return s
}

func linkedinPosts(b *StrategyBundle) section {
	return labeled("LinkedIn Post Copy", [][2]string{
		{"Inspiring Post (Challenges Overcome / Client Story)", b.LinkedinPosts.Inspiring},
		{"Promotional Post (Lead-Magnet)", b.LinkedinPosts.Promotional},
		{"Actionable Post (Explanation / Analysis)", b.LinkedinPosts.Actionable},
	})
}

func linkedinDMs(b *StrategyBundle) section {
	return labeled("LinkedIn Connection Copy", [][2]string{
		{"LinkedIn DM - Newsletter CTA", b.LinkedinDMs.Newsletter},
		{"LinkedIn DM - Lead Magnet CTA", b.LinkedinDMs.LeadMagnet},
		{"LinkedIn DM - Ask a Question", b.LinkedinDMs.AskQuestion},
	})
}

func newsletters(b *StrategyBundle) section {
	return labeled("Newsletter Copy", [][2]string{
		{"Tactical Writing (Nurture Emails)", b.Newsletters.Tactical},
		{"Leadership Writing (Nurture Emails)", b.Newsletters.Leadership},
	})
}

func callPrep(b *StrategyBundle) section {
	s := section{title: "Sample Call-Prep"}
	cp := b.CallPrep
	if len(cp.DiscoveryQuestions) > 0 {
		questions := make([]string, len(cp.DiscoveryQuestions))
		for i, q := range cp.DiscoveryQuestions {
			questions[i] = fmt.Sprintf("%d. %s", i+1, q)
		}
		s.units = append(s.units, unit{
			heading: "Discovery Questions:", hs: styleItem,
			body: strings.Join(questions, "\n"), bs: styleBody,
			after: 4,
		})
	}
	if cp.CallScript != "" {
		s.units = append(s.units, unit{heading: "Call Script:", hs: styleItem, body: cp.CallScript, bs: styleBody, after: 4})
	}
	if cp.ObjectionHandling != "" {
		s.units = append(s.units, unit{heading: "Objection Handling:", hs: styleItem, body: cp.ObjectionHandling, bs: styleBody})
	}
	return s
}

func library(b *StrategyBundle) section {
	s := section{title: "Workspace Library"}
	if !b.HasLibrary() {
		return s
	}
	s.units = append(s.units, unit{body: "Foundational materials created in your Octave workspace", bs: styleMuted, after: 3})
	if o := b.ServiceOffering; o != nil {
		body := "Name: " + o.Name
		if len(o.DifferentiatedValue) > 0 {
			body += "\nValue: " + strings.Join(o.DifferentiatedValue, "; ")
		}
		s.units = append(s.units, unit{heading: "Service Offering", hs: styleHeading, body: body, bs: styleText, after: 4})
	}
	groups := []struct {
		label string
		items []LibraryItem
	}{
		{"Personas", b.Personas},
		{"Use Cases", b.UseCases},
		{"Market Segments", b.Segments},
		{"Client References", b.ClientReferences},
	}
	for _, g := range groups {
		for i, item := range g.items {
			heading := item.Name
			if i == 0 {
				heading = fmt.Sprintf("%s (%d created)\n%s", g.label, len(g.items), item.Name)
			}
			s.units = append(s.units, unit{
				heading: heading, hs: styleLabel,
				body: strings.Join(item.Details, "\n"), bs: styleDetail,
				after: 2,
			})
		}
	}
	return s
}

type workspaceEmail struct {
	subject string
	text    string
}

func emailsOf(in []workspace.SequenceEmail) []workspaceEmail {
	out := make([]workspaceEmail, 0, len(in))
	for _, e := range in {
		text := e.Text()
		if text == "" {
			text = "No content available"
		}
		out = append(out, workspaceEmail{subject: e.Subject, text: text})
	}
	return out
}
