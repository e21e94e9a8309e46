package export

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
)

// 版面尺寸，单位 mm
const (
	pageMargin   = 15.0
	headerSpace  = 10.0
	paragraphGap = 3.0
	ptToMM       = 0.35
)

// Style 文本样式
type Style struct {
	Size   float64
	Bold   bool
	Color  [3]int
	Indent float64
}

var (
	styleSection  = Style{Size: 14, Bold: true, Color: [3]int{63, 81, 181}}
	styleHeading  = Style{Size: 12, Bold: true}
	styleItem     = Style{Size: 11, Bold: true}
	styleLabel    = Style{Size: 10, Bold: true}
	styleBody     = Style{Size: 9}
	styleText     = Style{Size: 10}
	styleDetail   = Style{Size: 9, Indent: 5}
	styleMuted    = Style{Size: 10, Color: [3]int{100, 100, 100}}
	styleMutedSm  = Style{Size: 9, Color: [3]int{100, 100, 100}}
	styleTitle    = Style{Size: 24, Bold: true, Color: [3]int{63, 81, 181}}
	styleSubtitle = Style{Size: 12, Color: [3]int{100, 100, 100}}
)

func lineHeight(size float64) float64 {
	return size * ptToMM
}

// Paginator 维护纵向游标；每个单元先估算高度，放不下则先换页
// 第一页为封面，其后每页页眉带标志、页脚带从 1 开始的页码
type Paginator struct {
	pdf    *fpdf.Fpdf
	tr     func(string) string
	width  float64
	top    float64
	bottom float64
	y      float64
}

// NewPaginator A4 纵向版面；logo 为页眉标志文字
func NewPaginator(logo string) *Paginator {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, 0)
	w, h := pdf.GetPageSize()
	p := &Paginator{
		pdf:    pdf,
		tr:     pdf.UnicodeTranslatorFromDescriptor(""),
		width:  w - 2*pageMargin,
		top:    pageMargin + headerSpace,
		bottom: h - pageMargin,
	}

	pdf.SetHeaderFuncMode(func() {
		if pdf.PageNo() <= 1 || logo == "" {
			return
		}
		x := w - pageMargin - 3
		pdf.SetFillColor(63, 81, 181)
		pdf.Circle(x, pageMargin-3, 3, "F")
		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetTextColor(63, 81, 181)
		tw := pdf.GetStringWidth(p.tr(logo))
		pdf.Text(x-5-tw, pageMargin-2, p.tr(logo))
		pdf.SetTextColor(0, 0, 0)
	}, false)
	pdf.SetFooterFunc(func() {
		if pdf.PageNo() <= 1 {
			return
		}
		pdf.SetFont("Helvetica", "", 8)
		pdf.SetTextColor(150, 150, 150)
		label := fmt.Sprintf("Page %d", pdf.PageNo()-1)
		pdf.Text((w-pdf.GetStringWidth(label))/2, h-pageMargin/2, label)
		pdf.SetTextColor(0, 0, 0)
	})
	return p
}

// TitlePage 封面，不带标志和页码
func (p *Paginator) TitlePage(lines []string, subtitles []string) {
	p.pdf.AddPage()
	w, _ := p.pdf.GetPageSize()
	y := 60.0
	for _, l := range lines {
		p.setStyle(styleTitle)
		s := p.tr(l)
		p.pdf.Text((w-p.pdf.GetStringWidth(s))/2, y, s)
		y += 15
	}
	for _, l := range subtitles {
		p.setStyle(styleSubtitle)
		s := p.tr(l)
		p.pdf.Text((w-p.pdf.GetStringWidth(s))/2, y, s)
		y += 10
	}
	p.pdf.SetTextColor(0, 0, 0)
}

// NewPage 新内容页，游标回到页眉下方
func (p *Paginator) NewPage() {
	p.pdf.AddPage()
	p.y = p.top
}

// Ensure 剩余空间不足 h 时换页，返回是否换页
func (p *Paginator) Ensure(h float64) bool {
	if p.y+h > p.bottom {
		p.NewPage()
		return true
	}
	return false
}

// Space 纵向留白
func (p *Paginator) Space(h float64) {
	p.y += h
}

func (p *Paginator) setStyle(st Style) {
	font := ""
	if st.Bold {
		font = "B"
	}
	p.pdf.SetFont("Helvetica", font, st.Size)
	p.pdf.SetTextColor(st.Color[0], st.Color[1], st.Color[2])
}

// split 按样式折行；核心字体按单字节计宽，先转成 cp1252 再逐字节映射为 rune
func (p *Paginator) split(text string, st Style) []string {
	p.setStyle(st)
	encoded := p.tr(text)
	runes := make([]rune, len(encoded))
	for i := 0; i < len(encoded); i++ {
		runes[i] = rune(encoded[i])
	}
	lines := p.pdf.SplitText(string(runes), p.width-st.Indent)
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}

// raw split 结果还原为 cp1252 字节
func raw(line string) string {
	out := make([]byte, 0, len(line))
	for _, r := range line {
		out = append(out, byte(r))
	}
	return string(out)
}

// ParagraphHeight 段落需要同页的高度；超过一页时只算首行
func (p *Paginator) ParagraphHeight(text string, st Style) float64 {
	lines := p.split(text, st)
	return p.need(float64(len(lines))*lineHeight(st.Size)+paragraphGap, lineHeight(st.Size))
}

// HeadedHeight 标题加正文需要同页的高度
func (p *Paginator) HeadedHeight(heading string, hs Style, body string, bs Style) float64 {
	headH := float64(len(p.split(heading, hs)))*lineHeight(hs.Size) + paragraphGap
	bodyH := float64(len(p.split(body, bs)))*lineHeight(bs.Size) + paragraphGap
	return p.need(headH+bodyH, headH+lineHeight(bs.Size))
}

// Paragraph 整段放得下一页时不拆分；超过一页高度的长文按行续页
func (p *Paginator) Paragraph(text string, st Style) {
	p.Ensure(p.ParagraphHeight(text, st))
	p.place(p.split(text, st), st)
}

// Headed 标题与正文首行必定同页
func (p *Paginator) Headed(heading string, hs Style, body string, bs Style) {
	p.Ensure(p.HeadedHeight(heading, hs, body, bs))
	p.place(p.split(heading, hs), hs)
	p.place(p.split(body, bs), bs)
}

// need 整体放得下一页时取 total，否则取 min
func (p *Paginator) need(total, min float64) float64 {
	if total <= p.bottom-p.top {
		return total
	}
	return min
}

// place 逐行输出，放不下的行续到下一页
func (p *Paginator) place(lines []string, st Style) {
	lh := lineHeight(st.Size)
	for _, l := range lines {
		p.Ensure(lh)
		p.setStyle(st)
		p.y += lh
		p.pdf.Text(pageMargin+st.Indent, p.y, raw(l))
	}
	p.y += paragraphGap
	p.pdf.SetTextColor(0, 0, 0)
}

// Section 分区标题带底色；reserve 为首个单元的高度，保证与标题同页
func (p *Paginator) Section(title string, reserve float64) {
	bandH := 12.0
	p.Ensure(5 + bandH + paragraphGap + reserve)
	p.Space(5)
	w, _ := p.pdf.GetPageSize()
	p.pdf.SetFillColor(240, 240, 250)
	p.pdf.Rect(pageMargin-5, p.y, w-2*pageMargin+10, bandH, "F")
	p.setStyle(styleSection)
	p.pdf.Text(pageMargin, p.y+bandH/2+lineHeight(styleSection.Size)/2, p.tr(title))
	p.pdf.SetTextColor(0, 0, 0)
	p.y += bandH + paragraphGap
}

// Divider 分隔线
func (p *Paginator) Divider() {
	p.Ensure(5)
	w, _ := p.pdf.GetPageSize()
	p.pdf.SetDrawColor(200, 200, 200)
	p.pdf.Line(pageMargin, p.y, w-pageMargin, p.y)
	p.Space(5)
}

// Pages 已生成页数，含封面
func (p *Paginator) Pages() int {
	return p.pdf.PageNo()
}

// Err fpdf 累积的错误
func (p *Paginator) Err() error {
	return p.pdf.Error()
}

// Output 输出 PDF
func (p *Paginator) Output() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
