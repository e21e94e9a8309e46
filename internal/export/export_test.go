package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"claireportal/internal/common"
	"claireportal/internal/storage"
	"claireportal/internal/workspace"

	"github.com/dslipak/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"
)

// pageTexts 逐页提取纯文本
func pageTexts(t *testing.T, data []byte) []string {
	t.Helper()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			out = append(out, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		require.NoError(t, err)
		out = append(out, text)
	}
	return out
}

func sampleWorkspace() *workspace.ClientWorkspace {
	prospects := make([]workspace.Prospect, 14)
	for i := range prospects {
		prospects[i] = workspace.Prospect{Name: fmt.Sprintf("Person %d", i+1), Title: "VP Sales", Company: "Globex"}
	}
	return &workspace.ClientWorkspace{
		UserID:        "user-1",
		CompanyName:   "Acme, Inc.",
		CompanyDomain: "acme.com",
		CampaignIdeas: datatypes.NewJSONSlice([]workspace.CampaignIdea{
			{ID: 1, Title: "Pipeline Teardown", Description: "Offer a free teardown."},
		}),
		ProspectList: datatypes.NewJSONSlice(prospects),
		ColdEmails: datatypes.NewJSONType(workspace.ColdEmails{
			PersonalizedSolutions: []workspace.SequenceEmail{{Subject: "Quick idea", Email: "Hi there"}},
		}),
		LinkedinPosts:   datatypes.NewJSONType(workspace.LinkedinPosts{Inspiring: "We grew 3x."}),
		CallPrep:        datatypes.NewJSONType(workspace.CallPrep{DiscoveryQuestions: []string{"What stalls deals?"}}),
		ServiceOffering: datatypes.JSON(`{"oId":"s1","name":"RevOps Sprint","data":{"differentiatedValue":["Fast"]}}`),
		Personas:        datatypes.JSON(`[{"oId":"p1","name":"Finance Leader","data":{"commonJobTitles":["CFO","VP Finance","Controller","Treasurer"]}}]`),
		ClientReferences: datatypes.JSON(`[{"oId":"r1","name":"","companyName":"Globex","industry":"Energy"}]`),
	}
}

func titles(ss []section) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.title
	}
	return out
}

func TestBundleFromWorkspace(t *testing.T) {
	b := BundleFromWorkspace(sampleWorkspace())
	require.NotNil(t, b.ServiceOffering)
	assert.Equal(t, "RevOps Sprint", b.ServiceOffering.Name)
	assert.Equal(t, []string{"Fast"}, b.ServiceOffering.DifferentiatedValue)
	require.Len(t, b.Personas, 1)
	assert.Equal(t, "1. Finance Leader", b.Personas[0].Name)
	assert.Equal(t, []string{"Job Titles: CFO, VP Finance, Controller"}, b.Personas[0].Details)
	require.Len(t, b.ClientReferences, 1)
	assert.Equal(t, "1. Globex", b.ClientReferences[0].Name)
	assert.True(t, b.HasLibrary())
}

func TestSections(t *testing.T) {
	t.Run("固定顺序并跳过空分区", func(t *testing.T) {
		ss := sections(BundleFromWorkspace(sampleWorkspace()))
		assert.Equal(t, []string{
			"Campaign Ideas",
			"Real Prospect List",
			"Outbound Copy (Cold Emails)",
			"LinkedIn Post Copy",
			"Sample Call-Prep",
			"Workspace Library",
		}, titles(ss))
	})

	t.Run("名单最多展示十人", func(t *testing.T) {
		ss := sections(BundleFromWorkspace(sampleWorkspace()))
		units := ss[1].units
		// 说明 + 10 人 + 剩余数量
		require.Len(t, units, 12)
		assert.Equal(t, "10. Person 10", units[10].heading)
		assert.Equal(t, "+ 4 more prospects available in your Octave workspace", units[11].body)
	})

	t.Run("空工作区没有分区", func(t *testing.T) {
		assert.Empty(t, sections(BundleFromWorkspace(&workspace.ClientWorkspace{CompanyName: "Empty"})))
	})
}

func TestPaginator(t *testing.T) {
	t.Run("标题与正文首行同页", func(t *testing.T) {
		p := NewPaginator("Claire")
		p.TitlePage([]string{"Title"}, nil)
		p.NewPage()
		require.Equal(t, 2, p.Pages())

		// 标题一行放得下，加上正文首行放不下
		p.y = p.bottom - (lineHeight(styleHeading.Size) + paragraphGap + 1)
		p.Headed("Heading", styleHeading, "Body line", styleBody)
		assert.Equal(t, 3, p.Pages())
		assert.Greater(t, p.y, p.top)
	})

	t.Run("放得下不换页", func(t *testing.T) {
		p := NewPaginator("Claire")
		p.NewPage()
		p.Paragraph("short", styleBody)
		assert.Equal(t, 1, p.Pages())
	})

	t.Run("单元整体移到下一页", func(t *testing.T) {
		p := NewPaginator("Claire")
		p.NewPage()
		text := strings.Repeat("line\n", 5)
		p.y = p.bottom - p.ParagraphHeight(text, styleBody) + 1
		p.Paragraph(text, styleBody)
		assert.Equal(t, 2, p.Pages())
	})

	t.Run("超过一页的长文续页", func(t *testing.T) {
		p := NewPaginator("Claire")
		p.NewPage()
		p.Paragraph(strings.Repeat("a long line of copy\n", 200), styleBody)
		assert.Greater(t, p.Pages(), 2)
		assert.NoError(t, p.Err())
	})
}

func TestRenderer_Render(t *testing.T) {
	r := NewRenderer("Claire")
	r.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	ws := sampleWorkspace()
	long := strings.Repeat("This paragraph keeps going to fill the page. ", 40)
	variant := func(v int) []workspace.SequenceEmail {
		emails := make([]workspace.SequenceEmail, 12)
		for i := range emails {
			emails[i] = workspace.SequenceEmail{
				Subject: fmt.Sprintf("Touch %d-%02d", v, i+1),
				Body:    fmt.Sprintf("Opening %d-%02d ", v, i+1) + long,
			}
		}
		return emails
	}
	ws.ColdEmails = datatypes.NewJSONType(workspace.ColdEmails{
		PersonalizedSolutions: variant(1),
		LeadMagnetShort:       variant(2),
		LocalCity:             variant(3),
		ProblemSolution:       variant(4),
		LeadMagnetLong:        variant(5),
	})

	data, pages, err := r.Render(BundleFromWorkspace(ws))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	assert.Greater(t, pages, 2)

	texts := pageTexts(t, data)
	require.Len(t, texts, pages)
	assert.Contains(t, texts[0], "CRO Strategy")
	assert.Contains(t, texts[0], "March 1, 2026")
	assert.NotContains(t, texts[0], "Page ")
	assert.Contains(t, texts[1], "Page 1")
	assert.Contains(t, texts[1], "Claire")
	assert.Contains(t, texts[1], "Campaign Ideas")
	assert.Contains(t, texts[pages-1], fmt.Sprintf("Page %d", pages-1))

	// 邮件标题与正文开头同页
	for v := 1; v <= 5; v++ {
		for i := 1; i <= 12; i++ {
			heading := fmt.Sprintf("Touch %d-%02d", v, i)
			page := -1
			for n, text := range texts {
				if strings.Contains(text, heading) {
					page = n
					break
				}
			}
			require.NotEqual(t, -1, page, heading)
			assert.Contains(t, texts[page], fmt.Sprintf("Opening %d-%02d", v, i), heading)
		}
	}
}

type fakeWorkspaces struct {
	ws *workspace.ClientWorkspace
}

func (f fakeWorkspaces) Latest(ctx context.Context, userID string) (*workspace.ClientWorkspace, error) {
	if f.ws == nil {
		return nil, workspace.ErrNoWorkspace
	}
	return f.ws, nil
}

func TestService_Export(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("生成并归档", func(t *testing.T) {
		up := storage.NewMemoryUploader()
		svc := NewService(fakeWorkspaces{ws: sampleWorkspace()}, nil, up, zaptest.NewLogger(t))
		svc.now = func() time.Time { return now }

		doc, err := svc.Export(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "Claire_Strategy_acme__inc__2026-03-01.pdf", doc.FileName)
		assert.Equal(t, "mem://strategies/user-1/"+doc.FileName, doc.Location)
		stored, ok := up.Object("strategies/user-1/" + doc.FileName)
		require.True(t, ok)
		assert.Equal(t, doc.Content, stored)
		assert.GreaterOrEqual(t, doc.Pages, 2)
	})

	t.Run("没有工作区", func(t *testing.T) {
		svc := NewService(fakeWorkspaces{}, nil, nil, zaptest.NewLogger(t))
		_, err := svc.Export(ctx, "user-1")
		require.Error(t, err)
		assert.Equal(t, MsgNoStrategy, err.Error())
		assert.Equal(t, common.CodeNotFound, common.CodeOf(err))
	})
}

func TestFileName(t *testing.T) {
	at := time.Date(2026, 10, 16, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "Claire_Strategy_globex_2026-10-16.pdf", FileName("Globex", at))
	assert.Equal(t, "Claire_Strategy_o_brien___co_2026-10-16.pdf", FileName("O'Brien & Co", at))
}
