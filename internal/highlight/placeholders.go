package highlight

import (
	"regexp"
	"strings"
)

// PlaceholderReport 审批前的占位符检查结果
type PlaceholderReport struct {
	IsValid             bool     `json:"isValid"`
	MissingPlaceholders []string `json:"missingPlaceholders"`
	Warnings            []string `json:"warnings"`
}

type placeholderRule struct {
	label    string
	variants []string
}

var requiredPlaceholders = []placeholderRule{
	{"First Name", []string{"{{first_name}}", "{{firstName}}", "%first_name%"}},
	{"Company Name", []string{"{{company_name}}", "{{companyName}}", "%company_name%"}},
	{"Signature", []string{"%signature%", "{{signature}}"}},
}

var recommendedPlaceholders = []placeholderRule{
	{"Job Title", []string{"{{job_title}}", "{{jobTitle}}", "%job_title%"}},
	{"Time of Day (Smart Send)", []string{"{{sl_time_of_day}}", "%sl_time_of_day%"}},
}

// MsgBrokenPlaceholders 格式可疑的占位符
const MsgBrokenPlaceholders = "Found potentially broken placeholders. Please verify formatting."

var braceRun = regexp.MustCompile(`(\{+)([^{}\n]*)(\}*)`)

// ValidatePlaceholders 检查必填与建议的个性化占位符
func ValidatePlaceholders(copy string) PlaceholderReport {
	report := PlaceholderReport{MissingPlaceholders: []string{}, Warnings: []string{}}
	lower := strings.ToLower(copy)

	for _, rule := range requiredPlaceholders {
		if !rule.present(lower) {
			report.MissingPlaceholders = append(report.MissingPlaceholders, rule.label)
		}
	}
	for _, rule := range recommendedPlaceholders {
		if !rule.present(lower) {
			report.Warnings = append(report.Warnings, "Consider adding "+rule.label+" personalization")
		}
	}
	if hasBrokenPlaceholder(copy) {
		report.Warnings = append(report.Warnings, MsgBrokenPlaceholders)
	}

	report.IsValid = len(report.MissingPlaceholders) == 0
	return report
}

func (r placeholderRule) present(lower string) bool {
	for _, v := range r.variants {
		if strings.Contains(lower, strings.ToLower(v)) {
			return true
		}
	}
	return false
}

// hasBrokenPlaceholder 花括号不是成对的双括号即视为格式错误
func hasBrokenPlaceholder(copy string) bool {
	for _, m := range braceRun.FindAllStringSubmatch(copy, -1) {
		if strings.TrimSpace(m[2]) == "" {
			continue
		}
		if len(m[1]) != 2 || len(m[3]) != 2 {
			return true
		}
	}
	return false
}

var unfilledPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\{\{[^}]+\}\}`),
	regexp.MustCompile(`%[a-zA-Z_]+%`),
	regexp.MustCompile(`\$\{[^}]+\}`),
	regexp.MustCompile(`(?i)\[INSERT[^\]]*\]`),
}

// HasPlaceholders 文本中是否仍有未填充的占位符
func HasPlaceholders(text string) bool {
	for _, re := range unfilledPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ExtractPlaceholders 所有未填充的占位符，按模式顺序去重
func ExtractPlaceholders(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, re := range unfilledPatterns {
		for _, m := range re.FindAllString(text, -1) {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}
