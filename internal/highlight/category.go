// Package highlight 将生成文本中与已知实体匹配的片段标注为分类高亮
package highlight

// Category 高亮分类
type Category string

const (
	CategoryPersona         Category = "persona"
	CategorySegment         Category = "segment"
	CategoryOutcome         Category = "usecase_outcome"
	CategoryBlocker         Category = "usecase_blocker"
	CategoryCTA             Category = "cta_leadmagnet"
	CategoryPersonalization Category = "personalization"
)

// Categories 固定的分类集合，顺序即同等长度候选的优先级
var Categories = []Category{
	CategoryPersona,
	CategorySegment,
	CategoryOutcome,
	CategoryBlocker,
	CategoryCTA,
	CategoryPersonalization,
}

type style struct {
	class string
	title string
}

var styles = map[Category]style{
	CategoryPersona:         {"bg-highlight-persona", "Persona: "},
	CategorySegment:         {"bg-highlight-segment", "Segment: "},
	CategoryOutcome:         {"bg-highlight-outcome", "Use Case (Desired Outcome): "},
	CategoryBlocker:         {"bg-highlight-blocker", "Use Case (Problem/Blocker): "},
	CategoryCTA:             {"bg-highlight-cta", "CTA (Lead Magnet): "},
	CategoryPersonalization: {"bg-highlight-personalized", "Personalized / Claire Generated Info: "},
}

// Class CSS 类名
func (c Category) Class() string {
	return styles[c].class
}

// TitlePrefix 悬浮提示前缀
func (c Category) TitlePrefix() string {
	return styles[c].title
}

// Valid 是否为已知分类
func (c Category) Valid() bool {
	_, ok := styles[c]
	return ok
}

func (c Category) rank() int {
	for i, cat := range Categories {
		if cat == c {
			return i
		}
	}
	return len(Categories)
}
