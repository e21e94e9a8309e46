package highlight

import (
	"embed"
	"regexp"
	"sort"
	"strings"
)

//go:embed templates/*.txt
var templateFS embed.FS

// Template 玩法提示词模板及占位符到分类的映射
type Template struct {
	Code     string
	AgentOID string
	Prompt   string
	Mappings map[string]Category

	slots []slot
}

// Registry 玩法代码到模板的注册表
type Registry struct {
	templates map[string]*Template
}

// NewRegistry 创建注册表
func NewRegistry(templates ...*Template) *Registry {
	r := &Registry{templates: make(map[string]*Template, len(templates))}
	for _, t := range templates {
		t.slots = compileSlots(t)
		r.templates[t.Code] = t
	}
	return r
}

// DefaultRegistry 内置 0002、0003 模板
func DefaultRegistry() *Registry {
	return NewRegistry(
		&Template{
			Code:     "0002",
			AgentOID: "ca_Q2MtCQAuQCmHilPWUYpyr",
			Prompt:   mustTemplate("0002"),
			Mappings: map[string]Category{
				"FIRST_NAME":                  CategoryPersonalization,
				"COMPANY_NAME":                CategoryPersonalization,
				"CALLER_NAME":                 CategoryPersonalization,
				"YOUR_COMPANY_NAME":           CategoryPersonalization,
				"WEBSITE_SECTION_OR_TOPIC":    CategoryPersonalization,
				"FUNCTION_OR_AREA":            CategoryPersonalization,
				"CURRENT_STATE_DESCRIPTION":   CategoryPersonalization,
				"CALL_LENGTH":                 CategoryPersonalization,
				"SUGGESTED_DAY_TIME_OPTION_1": CategoryPersonalization,
				"SUGGESTED_DAY_TIME_OPTION_2": CategoryPersonalization,
				"NEW_CONTACT_NAME":            CategoryPersonalization,
				"EXAMPLE_INHERITED_STATE":     CategoryPersonalization,
				"EXAMPLE_KEY_CHANGE":          CategoryPersonalization,
				"ICP_DESCRIPTION":             CategoryPersona,
				"PRIMARY_OUTCOME":             CategoryOutcome,
				"EXAMPLE_TARGETS":             CategoryOutcome,
				"PRIMARY_PROBLEM_AREA":        CategoryBlocker,
				"LOW_COMMITMENT_OFFER_FORMAT": CategoryCTA,
				"SCHEDULING_LINK":             CategoryCTA,
				"RELEVANT_RESOURCE_TYPE":      CategoryCTA,
				"RELEVANT_RESOURCE_NAME":      CategoryCTA,
				"RELEVANT_RESOURCE_LINK":      CategoryCTA,
				"PATTERNS_RESOURCE_LINK":      CategoryCTA,
				"CASE_STUDY_RESOURCE_LINK":    CategoryCTA,
				"DIAGNOSTIC_RESOURCE_TYPE":    CategoryCTA,
				"DIAGNOSTIC_RESOURCE_LINK":    CategoryCTA,
			},
		},
		&Template{
			Code:     "0003",
			AgentOID: "ca_c1qy7EuAXr8Z6TPujnycr",
			Prompt:   mustTemplate("0003"),
			Mappings: map[string]Category{
				"First Name":    CategoryPersonalization,
				"Company":       CategoryPersonalization,
				"Title":         CategoryPersonalization,
				"TitlePlural":   CategoryPersonalization,
				"Function":      CategoryPersonalization,
				"service area":  CategoryPersonalization,
				"Metric 1 – e.g., new revenue / margin / efficiency": CategoryPersonalization,
				"Metric 2":                CategoryPersonalization,
				"Metric 3":                CategoryPersonalization,
				"ICP Company Description": CategoryPersona,
				"ICP Companies":           CategoryPersona,
				"Describe What You Do":    CategoryOutcome,
				"Describe Your Service/Product/Business Outcome": CategoryOutcome,
			},
		},
	)
}

func mustTemplate(code string) string {
	raw, err := templateFS.ReadFile("templates/" + code + ".txt")
	if err != nil {
		panic("highlight: missing template " + code)
	}
	return string(raw)
}

// Lookup 按玩法代码查找模板
func (r *Registry) Lookup(code string) (*Template, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.templates[code]
	return t, ok
}

// Variables 模板中出现的占位符
func (r *Registry) Variables(code string) []string {
	t, ok := r.Lookup(code)
	if !ok {
		return nil
	}
	return ExtractVariables(t.Prompt)
}

// VariablesByCategory 按分类分组的占位符，组内按名称排序；未注册的玩法返回全部空组
func (r *Registry) VariablesByCategory(code string) map[Category][]string {
	grouped := make(map[Category][]string, len(Categories))
	for _, c := range Categories {
		grouped[c] = []string{}
	}
	t, ok := r.Lookup(code)
	if !ok {
		return grouped
	}
	for name, c := range t.Mappings {
		grouped[c] = append(grouped[c], name)
	}
	for c := range grouped {
		sort.Strings(grouped[c])
	}
	return grouped
}

var variablePattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// ExtractVariables 提取 {{NAME}} 占位符，去重并保持首次出现顺序
func ExtractVariables(template string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range variablePattern.FindAllStringSubmatch(template, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// variableKey "First Name" 与 "FIRST_NAME" 视为同一占位符
func variableKey(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.TrimSpace(name) {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteString(strings.ToUpper(string(r)))
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
