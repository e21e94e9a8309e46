package highlight

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// anchorWords 占位符两侧各取的字面词数
	anchorWords = 3
	// minAnchorRunes 两侧锚点合计的最少非空白字符数
	minAnchorRunes = 5
	maxSlotWords   = 8
	maxSlotBytes   = 160
)

// slot 模板里一处占位符，前后字面文本编译为定位正则
type slot struct {
	name     string
	category Category
	pattern  *regexp.Regexp
	strength int
}

// compileSlots 锚点过弱或与相邻占位符紧贴的位置不参与对齐，结果按锚点强度降序
func compileSlots(t *Template) []slot {
	locs := variablePattern.FindAllStringSubmatchIndex(t.Prompt, -1)
	seen := map[string]bool{}
	var out []slot
	for i, loc := range locs {
		prevEnd, nextStart := 0, len(t.Prompt)
		if i > 0 {
			prevEnd = locs[i-1][1]
		}
		if i+1 < len(locs) {
			nextStart = locs[i+1][0]
		}
		left, lr := leftAnchor(t.Prompt[prevEnd:loc[0]])
		right, rr := rightAnchor(t.Prompt[loc[1]:nextStart], nextStart == len(t.Prompt))
		if left == "" || right == "" || lr+rr < minAnchorRunes {
			continue
		}
		expr := `(?im)` + left + `([^\n]{1,` + strconv.Itoa(maxSlotBytes) + `}?)` + right
		if seen[expr] {
			continue
		}
		seen[expr] = true
		re, err := regexp.Compile(expr)
		if err != nil {
			continue
		}
		name := strings.TrimSpace(t.Prompt[loc[2]:loc[3]])
		c, ok := t.Mappings[name]
		if !ok {
			c = CategoryPersonalization
		}
		out = append(out, slot{name: name, category: c, pattern: re, strength: lr + rr})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].strength > out[j].strength })
	return out
}

// leftAnchor 占位符所在行中紧挨其前的若干词
func leftAnchor(before string) (string, int) {
	line := before[strings.LastIndex(before, "\n")+1:]
	fields := strings.Fields(line)
	if len(fields) > anchorWords {
		fields = fields[len(fields)-anchorWords:]
	}
	if len(fields) > 0 {
		fields[0] = strings.TrimLeft(fields[0], `"'“”`)
		if fields[0] == "" {
			fields = fields[1:]
		}
	}
	if len(fields) == 0 {
		return "", 0
	}
	expr := joinFields(fields)
	if first, _ := utf8.DecodeRuneInString(fields[0]); isWord(first) {
		expr = `\b` + expr
	}
	if last, _ := utf8.DecodeLastRuneInString(line); unicode.IsSpace(last) {
		expr += `\s+`
	}
	return expr, anchorRunes(fields)
}

// rightAnchor 占位符后的若干词；后面直接换行时以行尾为锚
func rightAnchor(after string, atEnd bool) (string, int) {
	line := after
	eol := atEnd
	if i := strings.IndexByte(after, '\n'); i >= 0 {
		line = after[:i]
		eol = true
	}
	fields := strings.Fields(line)
	if len(fields) > anchorWords {
		fields = fields[:anchorWords]
	}
	if n := len(fields); n > 0 {
		fields[n-1] = strings.TrimRight(fields[n-1], `"'“”`)
		if fields[n-1] == "" {
			fields = fields[:n-1]
		}
	}
	if len(fields) == 0 {
		if eol {
			return `[ \t]*$`, 0
		}
		return "", 0
	}
	expr := joinFields(fields)
	if first, _ := utf8.DecodeRuneInString(line); unicode.IsSpace(first) {
		expr = `\s+` + expr
	}
	if last, _ := utf8.DecodeLastRuneInString(fields[len(fields)-1]); isWord(last) {
		expr += `\b`
	}
	return expr, anchorRunes(fields)
}

func joinFields(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = regexp.QuoteMeta(f)
	}
	return strings.Join(quoted, `\s+`)
}

func anchorRunes(fields []string) int {
	n := 0
	for _, f := range fields {
		n += utf8.RuneCountInString(f)
	}
	return n
}

// matchSlots 按模板锚点找出填入的值，强锚点优先，结果互不重叠
func matchSlots(text string, slots []slot) []Span {
	var spans []Span
	for _, s := range slots {
		for _, m := range s.pattern.FindAllStringSubmatchIndex(text, -1) {
			raw := text[m[2]:m[3]]
			value := strings.TrimSpace(raw)
			if !plausibleValue(value) {
				continue
			}
			start := m[2] + len(raw) - len(strings.TrimLeftFunc(raw, unicode.IsSpace))
			end := start + len(value)
			if overlaps(spans, start, end) {
				continue
			}
			spans = append(spans, Span{
				Start:    start,
				End:      end,
				Text:     value,
				Category: s.category,
				Source:   s.name,
			})
		}
	}
	return spans
}

// plausibleValue 未填充的占位符和整句文本不算填入值
func plausibleValue(v string) bool {
	if utf8.RuneCountInString(v) < minCandidateRunes || strings.Contains(v, "{{") {
		return false
	}
	return len(strings.Fields(v)) <= maxSlotWords
}

// mergeSlots 上下文命中保持不变，与模板值完全重合的改用占位符分类，其余模板值补入空隙
func mergeSlots(spans, slotted []Span) []Span {
	out := append([]Span(nil), spans...)
	for i := range out {
		for _, s := range slotted {
			if s.Start == out[i].Start && s.End == out[i].End {
				out[i].Category = s.Category
				break
			}
		}
	}
	for _, s := range slotted {
		if !overlaps(out, s.Start, s.End) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
