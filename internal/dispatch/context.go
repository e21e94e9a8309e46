package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"claireportal/internal/metrics"

	"go.uber.org/zap"
)

// MaxContextChars EMAIL 智能体可接受的扁平上下文上限
const MaxContextChars = 10000

// TruncationMarker 硬截断时追加的标记
const TruncationMarker = "\n\n[... context truncated ...]"

// 压缩结果
const (
	ShrinkNone       = ""
	ShrinkSummarized = "summarized"
	ShrinkTruncated  = "truncated"
)

// sectionOrder 已知段落的固定顺序，其余按字母序追加
var sectionOrder = []string{
	"campaignBrief",
	"intermediaryOutputs",
	"selectedPersonas",
	"personas",
	"selectedUseCases",
	"useCases",
	"selectedReferences",
	"clientReferences",
	"playConfig",
	"customInput",
	"isRefinement",
	"constraints",
}

// FlattenContext 将上下文展开为带标签段落的纯文本，相同输入输出相同
func FlattenContext(runtime map[string]any) string {
	normalized := normalize(runtime)
	if len(normalized) == 0 {
		return ""
	}

	var keys []string
	seen := map[string]bool{}
	for _, k := range sectionOrder {
		if _, ok := normalized[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range normalized {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	var sections []string
	for _, k := range keys {
		body := renderLines(normalized[k])
		if len(body) == 0 {
			continue
		}
		sections = append(sections, "=== "+sectionLabel(k)+" ===\n"+strings.Join(body, "\n"))
	}
	return strings.Join(sections, "\n\n")
}

// normalize 经 JSON 往返把任意结构转换为 map/slice/标量
func normalize(runtime map[string]any) map[string]any {
	if len(runtime) == 0 {
		return nil
	}
	raw, err := json.Marshal(runtime)
	if err != nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return out
}

func renderLines(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		return strings.Split(s, "\n")
	case bool:
		if t {
			return []string{"true"}
		}
		return []string{"false"}
	case json.Number:
		return []string{t.String()}
	case []any:
		var out []string
		for _, item := range t {
			sub := renderLines(item)
			if len(sub) == 0 {
				continue
			}
			out = append(out, "- "+sub[0])
			for _, l := range sub[1:] {
				out = append(out, "  "+l)
			}
		}
		return out
	case map[string]any:
		var out []string
		for _, k := range orderedKeys(t) {
			sub := renderLines(t[k])
			if len(sub) == 0 {
				continue
			}
			if _, composite := t[k].(map[string]any); !composite && len(sub) == 1 && !isList(t[k]) {
				out = append(out, k+": "+sub[0])
				continue
			}
			out = append(out, k+":")
			for _, l := range sub {
				out = append(out, "  "+l)
			}
		}
		return out
	}
	return nil
}

func isList(v any) bool {
	_, ok := v.([]any)
	return ok
}

// orderedKeys name 在前，其余字母序
func orderedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != "name" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := m["name"]; ok {
		keys = append([]string{"name"}, keys...)
	}
	return keys
}

// sectionLabel selectedPersonas -> SELECTED PERSONAS
func sectionLabel(key string) string {
	var b strings.Builder
	for i, r := range key {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		if r == '_' {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Truncate 按字符截断并追加标记，结果不超过 limit
func Truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	keep := limit - utf8.RuneCountInString(TruncationMarker)
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + TruncationMarker
}

// ShrinkContext 超过上限时先请求摘要，摘要失败则硬截断
func (d *Dispatcher) ShrinkContext(ctx context.Context, text string) (string, string) {
	size := utf8.RuneCountInString(text)
	if size <= MaxContextChars {
		return text, ShrinkNone
	}

	if d.summarizer != nil {
		summary, err := d.summarizer.Summarize(ctx, text, d.opts.SummaryBudget)
		if err == nil && strings.TrimSpace(summary) != "" {
			metrics.ContextSummaries.WithLabelValues(ShrinkSummarized).Inc()
			d.logger.Info("上下文已摘要",
				zap.Int("original_chars", size),
				zap.Int("summary_chars", utf8.RuneCountInString(summary)),
				zap.Int("summary_tokens", d.countTokens(summary)),
			)
			return Truncate(summary, MaxContextChars), ShrinkSummarized
		}
		d.logger.Warn("上下文摘要失败，改为截断", zap.Int("original_chars", size), zap.Error(err))
	}

	metrics.ContextSummaries.WithLabelValues(ShrinkTruncated).Inc()
	return Truncate(text, MaxContextChars), ShrinkTruncated
}
