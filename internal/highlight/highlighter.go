package highlight

import (
	"html"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// minCandidateRunes 过短的值会误伤普通词
const minCandidateRunes = 2

// Persona 画像
type Persona struct {
	OID        string   `json:"oId"`
	Name       string   `json:"name"`
	JobTitles  []string `json:"jobTitles,omitempty"`
	PainPoints []string `json:"painPoints,omitempty"`
}

// UseCase 用例
type UseCase struct {
	OID            string   `json:"oId"`
	Name           string   `json:"name"`
	DesiredOutcome string   `json:"desiredOutcome,omitempty"`
	Blocker        string   `json:"blocker,omitempty"`
	Outcomes       []string `json:"desiredOutcomes,omitempty"`
	Blockers       []string `json:"blockers,omitempty"`
}

// Reference 客户案例
type Reference struct {
	OID  string `json:"oId"`
	Name string `json:"name"`
}

// Context 高亮所需的实体集合
type Context struct {
	Personas         []Persona         `json:"personas,omitempty"`
	UseCases         []UseCase         `json:"useCases,omitempty"`
	ClientReferences []Reference       `json:"clientReferences,omitempty"`
	Segments         []string          `json:"segments,omitempty"`
	LeadMagnets      []string          `json:"leadMagnets,omitempty"`
	Variables        map[string]string `json:"variables,omitempty"`
}

// Span 命中的片段，Start/End 为原文字节偏移
type Span struct {
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Text     string   `json:"text"`
	Category Category `json:"category"`
	Source   string   `json:"source"`
}

// Result 高亮结果
type Result struct {
	HTML          string `json:"html"`
	Spans         []Span `json:"spans"`
	HasHighlights bool   `json:"hasHighlights"`
}

// Counts 各分类命中数
func (r Result) Counts() map[Category]int {
	counts := make(map[Category]int)
	for _, s := range r.Spans {
		counts[s.Category]++
	}
	return counts
}

// Highlighter 无状态，可并发使用
type Highlighter struct {
	registry *Registry
}

// NewHighlighter registry 为 nil 时使用内置模板
func NewHighlighter(registry *Registry) *Highlighter {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Highlighter{registry: registry}
}

type candidate struct {
	text     string
	category Category
}

// Highlight 对原文做分类高亮，相同输入输出逐字节相同
func (h *Highlighter) Highlight(text string, hctx Context, playCode string) Result {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	spans := match(text, h.candidates(hctx, playCode))
	if tmpl, ok := h.registry.Lookup(playCode); ok {
		spans = mergeSlots(spans, matchSlots(text, tmpl.slots))
	}
	return Result{
		HTML:          render(text, spans),
		Spans:         spans,
		HasHighlights: len(spans) > 0,
	}
}

func (h *Highlighter) candidates(hctx Context, playCode string) []candidate {
	var out []candidate
	mapped := map[string]Category{}
	if tmpl, ok := h.registry.Lookup(playCode); ok {
		for name, c := range tmpl.Mappings {
			mapped[variableKey(name)] = c
		}
	}
	add := func(c Category, values ...string) {
		for _, v := range values {
			v = strings.TrimSpace(v)
			if utf8.RuneCountInString(v) < minCandidateRunes {
				continue
			}
			out = append(out, candidate{text: v, category: c})
		}
	}

	for _, p := range hctx.Personas {
		add(CategoryPersona, p.Name)
		add(CategoryPersona, p.JobTitles...)
		add(CategoryBlocker, p.PainPoints...)
	}
	add(CategorySegment, hctx.Segments...)
	for _, u := range hctx.UseCases {
		add(CategoryOutcome, u.Name, u.DesiredOutcome)
		add(CategoryOutcome, u.Outcomes...)
		add(CategoryBlocker, u.Blocker)
		add(CategoryBlocker, u.Blockers...)
	}
	for _, r := range hctx.ClientReferences {
		add(CategoryPersonalization, r.Name)
	}
	add(CategoryCTA, hctx.LeadMagnets...)

	for name, value := range hctx.Variables {
		c, ok := mapped[variableKey(name)]
		if !ok {
			c = CategoryPersonalization
		}
		add(c, value)
	}

	sort.SliceStable(out, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(out[i].text), utf8.RuneCountInString(out[j].text)
		if li != lj {
			return li > lj
		}
		if ri, rj := out[i].category.rank(), out[j].category.rank(); ri != rj {
			return ri < rj
		}
		return out[i].text < out[j].text
	})

	seen := map[string]bool{}
	deduped := out[:0]
	for _, c := range out {
		key := strings.ToLower(c.text)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, c)
	}
	return deduped
}

// match 按候选顺序取非重叠命中，结果按位置排序
func match(text string, candidates []candidate) []Span {
	var spans []Span
	for _, c := range candidates {
		re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(c.text) + `s?`)
		if err != nil {
			continue
		}
		for _, loc := range re.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			if !bounded(text, start, end, c.text) {
				// 复数后缀不成立时退回到原长度
				end = start + len(c.text)
				if end > len(text) || !strings.EqualFold(text[start:end], c.text) || !bounded(text, start, end, c.text) {
					continue
				}
			}
			if overlaps(spans, start, end) {
				continue
			}
			spans = append(spans, Span{
				Start:    start,
				End:      end,
				Text:     text[start:end],
				Category: c.category,
				Source:   c.text,
			})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	return spans
}

// bounded 候选首尾为字母数字时要求命中处为词边界
func bounded(text string, start, end int, value string) bool {
	first, _ := utf8.DecodeRuneInString(value)
	last, _ := utf8.DecodeLastRuneInString(value)
	if isWord(first) && start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWord(prev) {
			return false
		}
	}
	if isWord(last) && end < len(text) {
		next, _ := utf8.DecodeRuneInString(text[end:])
		if isWord(next) {
			return false
		}
	}
	return true
}

func isWord(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func overlaps(spans []Span, start, end int) bool {
	for _, s := range spans {
		if start < s.End && s.Start < end {
			return true
		}
	}
	return false
}

func render(text string, spans []Span) string {
	var b strings.Builder
	b.Grow(len(text) + len(spans)*96)
	pos := 0
	for _, s := range spans {
		b.WriteString(escape(text[pos:s.Start]))
		b.WriteString(`<span class="`)
		b.WriteString(s.Category.Class())
		b.WriteString(` text-fo-dark font-semibold px-1 rounded cursor-help" title="`)
		b.WriteString(html.EscapeString(s.Category.TitlePrefix() + strings.ReplaceAll(s.Source, "\n", " ")))
		b.WriteString(`">`)
		b.WriteString(escape(s.Text))
		b.WriteString(`</span>`)
		pos = s.End
	}
	b.WriteString(escape(text[pos:]))
	return b.String()
}

func escape(s string) string {
	return strings.ReplaceAll(html.EscapeString(s), "\n", "<br/>")
}
