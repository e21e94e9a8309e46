package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"claireportal/internal/common"
	"claireportal/internal/octave"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePlatform struct {
	agents   []octave.Agent
	listErr  error
	data     *octave.RunData
	runErr   error
	endpoint octave.Endpoint
	req      octave.RunRequest
	runs     int
}

func (f *fakePlatform) ListAgents(ctx context.Context, apiKey string) ([]octave.Agent, error) {
	return f.agents, f.listErr
}

func (f *fakePlatform) Run(ctx context.Context, apiKey string, endpoint octave.Endpoint, req octave.RunRequest) (*octave.RunData, error) {
	f.runs++
	f.endpoint = endpoint
	f.req = req
	return f.data, f.runErr
}

type fakeSummarizer struct {
	out    string
	err    error
	called bool
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string, budget int) (string, error) {
	f.called = true
	return f.out, f.err
}

func newTestDispatcher(t *testing.T, p *fakePlatform, s Summarizer) *Dispatcher {
	t.Helper()
	d := NewDispatcher(p, s, Options{FallbackProfileURL: "https://www.linkedin.com/in/sample/", SummaryBudget: 500}, zaptest.NewLogger(t))
	d.countTokens = func(string) int { return 1 }
	return d
}

func TestMatchAgent(t *testing.T) {
	agents := []octave.Agent{
		{OID: "a_mid", Name: "Legacy 2007 copy"},
		{OID: "a_prefix", Name: "2007_LocalCity_V1"},
		{OID: "a_space", Name: "3001 Webinar Follow-up"},
	}

	t.Run("前缀匹配优先于包含匹配", func(t *testing.T) {
		got, err := MatchAgent(agents, "2007")
		require.NoError(t, err)
		assert.Equal(t, "a_prefix", got.OID)
	})

	t.Run("空格分隔的前缀", func(t *testing.T) {
		got, err := MatchAgent(agents, "3001")
		require.NoError(t, err)
		assert.Equal(t, "a_space", got.OID)
	})

	t.Run("回退到包含匹配且大小写不敏感", func(t *testing.T) {
		got, err := MatchAgent(agents, "LOCALCITY")
		require.NoError(t, err)
		assert.Equal(t, "a_prefix", got.OID)
	})

	t.Run("多次调用结果一致", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			got, err := MatchAgent(agents, "2007")
			require.NoError(t, err)
			assert.Equal(t, "a_prefix", got.OID)
		}
	})

	t.Run("无匹配返回 404", func(t *testing.T) {
		_, err := MatchAgent(agents, "9999")
		be, ok := common.AsBusinessError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusNotFound, be.HTTPStatus())
		assert.Contains(t, be.Message, `"9999"`)
	})

	t.Run("空代码", func(t *testing.T) {
		_, err := MatchAgent(agents, " ")
		assert.Equal(t, common.CodeInvalidRequest, common.CodeOf(err))
	})
}

func TestEndpointFor(t *testing.T) {
	assert.Equal(t, octave.EndpointSequence, EndpointFor("EMAIL"))
	assert.Equal(t, octave.EndpointSequence, EndpointFor("SEQUENCE"))
	assert.Equal(t, octave.EndpointCallPrep, EndpointFor("CALL_PREP"))
	assert.Equal(t, octave.EndpointContent, EndpointFor("CONTENT"))
	assert.Equal(t, octave.EndpointContent, EndpointFor(""))
}

func TestFlattenContext(t *testing.T) {
	runtime := map[string]any{
		"zeta":        "last",
		"customInput": "Focus on Q3",
		"selectedPersonas": []map[string]any{
			{"oId": "p_1", "name": "CFO", "description": "Owns budget"},
		},
		"campaignBrief": map[string]any{"campaignName": "Spring push", "documents": []string{}},
		"empty":         "",
	}

	out := FlattenContext(runtime)
	want := strings.Join([]string{
		"=== CAMPAIGN BRIEF ===",
		"campaignName: Spring push",
		"",
		"=== SELECTED PERSONAS ===",
		"- name: CFO",
		"  description: Owns budget",
		"  oId: p_1",
		"",
		"=== CUSTOM INPUT ===",
		"Focus on Q3",
		"",
		"=== ZETA ===",
		"last",
	}, "\n")
	assert.Equal(t, want, out)
	assert.Equal(t, out, FlattenContext(runtime))
	assert.Empty(t, FlattenContext(nil))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 100))
	out := Truncate(strings.Repeat("é", 200), 100)
	assert.Equal(t, 100, utf8.RuneCountInString(out))
	assert.True(t, strings.HasSuffix(out, TruncationMarker))
}

func TestShrinkContext(t *testing.T) {
	ctx := context.Background()
	long := strings.Repeat("x", MaxContextChars+1)

	t.Run("未超限原样返回", func(t *testing.T) {
		s := &fakeSummarizer{out: "nope"}
		d := newTestDispatcher(t, &fakePlatform{}, s)
		out, res := d.ShrinkContext(ctx, "small")
		assert.Equal(t, "small", out)
		assert.Equal(t, ShrinkNone, res)
		assert.False(t, s.called)
	})

	t.Run("超限走摘要", func(t *testing.T) {
		d := newTestDispatcher(t, &fakePlatform{}, &fakeSummarizer{out: "summary"})
		out, res := d.ShrinkContext(ctx, long)
		assert.Equal(t, "summary", out)
		assert.Equal(t, ShrinkSummarized, res)
	})

	t.Run("摘要失败改为截断", func(t *testing.T) {
		d := newTestDispatcher(t, &fakePlatform{}, &fakeSummarizer{err: errors.New("rate limited")})
		out, res := d.ShrinkContext(ctx, long)
		assert.Equal(t, ShrinkTruncated, res)
		assert.Equal(t, MaxContextChars, utf8.RuneCountInString(out))
		assert.True(t, strings.HasSuffix(out, TruncationMarker))
	})

	t.Run("无摘要器直接截断", func(t *testing.T) {
		d := newTestDispatcher(t, &fakePlatform{}, nil)
		_, res := d.ShrinkContext(ctx, long)
		assert.Equal(t, ShrinkTruncated, res)
	})
}

func TestDispatcher_Run(t *testing.T) {
	ctx := context.Background()
	runtime := map[string]any{"customInput": "Mention the webinar"}

	t.Run("EMAIL 智能体走序列端点并附带兜底画像", func(t *testing.T) {
		p := &fakePlatform{
			agents: []octave.Agent{{OID: "ag_1", Name: "2001_Webinar", Type: "EMAIL"}},
			data: &octave.RunData{Emails: []octave.Email{
				{Subject: "Hi", Sections: octave.EmailSections{Greeting: "Hey {{First Name}},", Body: "Body text"}},
				{Subject: "", Email: "Plain follow-up"},
			}},
		}
		d := newTestDispatcher(t, p, nil)

		res, err := d.Run(ctx, Request{APIKey: "k", PlayCode: "2001", Context: runtime, CompanyName: "Acme"})
		require.NoError(t, err)
		assert.Equal(t, octave.EndpointSequence, p.endpoint)
		assert.Equal(t, "=== CUSTOM INPUT ===\nMention the webinar", p.req.RuntimeContext)
		require.NotNil(t, p.req.LinkedInProfile)
		assert.Equal(t, "https://www.linkedin.com/in/sample/", *p.req.LinkedInProfile)
		assert.Equal(t, "text", p.req.OutputFormat)
		require.NotNil(t, p.req.CompanyName)
		assert.Equal(t, "Acme", *p.req.CompanyName)

		assert.Len(t, res.Emails, 2)
		assert.Contains(t, res.Content, "EMAIL 1 OF 2")
		assert.Contains(t, res.Content, "SUBJECT: No subject")
		assert.Contains(t, res.Content, "Plain follow-up")
		assert.Contains(t, res.Content, "%signature%")
		assert.JSONEq(t, `{"emails":[{"subject":"Hi","sections":{"greeting":"Hey {{First Name}},","body":"Body text"}},{"subject":"","email":"Plain follow-up","sections":{}}]}`, string(res.JSONContent))
	})

	t.Run("CONTENT 智能体收到 JSON 字符串上下文", func(t *testing.T) {
		p := &fakePlatform{
			agents: []octave.Agent{{OID: "ag_2", Name: "0001 LinkedIn post", Type: "CONTENT"}},
			data:   &octave.RunData{Content: "Post body", JSONContent: json.RawMessage(`{"title":"t"}`)},
		}
		d := newTestDispatcher(t, p, nil)

		res, err := d.Run(ctx, Request{APIKey: "k", PlayCode: "0001", Context: runtime})
		require.NoError(t, err)
		assert.Equal(t, octave.EndpointContent, p.endpoint)
		assert.Equal(t, `{"customInput":"Mention the webinar"}`, p.req.RuntimeContext)
		assert.Nil(t, p.req.LinkedInProfile)
		assert.Equal(t, "Post body", res.Content)
		assert.JSONEq(t, `{"title":"t"}`, string(res.JSONContent))
		assert.Equal(t, "ag_2", res.Agent.OID)
	})

	t.Run("类型覆盖与指定智能体", func(t *testing.T) {
		p := &fakePlatform{data: &octave.RunData{Content: "prep"}}
		d := newTestDispatcher(t, p, nil)
		agent := &octave.Agent{OID: "ag_cp", Name: "Call prep"}

		_, err := d.Run(ctx, Request{APIKey: "k", Agent: agent, AgentType: octave.AgentTypeCallPrep})
		require.NoError(t, err)
		assert.Equal(t, octave.EndpointCallPrep, p.endpoint)
		assert.Equal(t, "ag_cp", p.req.AgentOID)
	})

	t.Run("上游失败转换为业务错误且只调用一次", func(t *testing.T) {
		p := &fakePlatform{
			agents: []octave.Agent{{OID: "ag_1", Name: "2001_x", Type: "CONTENT"}},
			runErr: &octave.APIError{Status: http.StatusBadGateway, Message: "agent crashed"},
		}
		d := newTestDispatcher(t, p, nil)

		_, err := d.Run(ctx, Request{APIKey: "k", PlayCode: "2001"})
		be, ok := common.AsBusinessError(err)
		require.True(t, ok)
		assert.Equal(t, common.CodeUpstreamFailed, be.Code)
		assert.Equal(t, http.StatusBadGateway, be.HTTPStatus())
		assert.Equal(t, 1, p.runs)
	})

	t.Run("超时", func(t *testing.T) {
		p := &fakePlatform{
			agents: []octave.Agent{{OID: "ag_1", Name: "2001_x", Type: "CONTENT"}},
			runErr: octave.ErrTimeout,
		}
		d := newTestDispatcher(t, p, nil)
		_, err := d.Run(ctx, Request{APIKey: "k", PlayCode: "2001"})
		assert.Equal(t, common.CodeTimeout, common.CodeOf(err))
	})

	t.Run("序列无邮件视为上游失败", func(t *testing.T) {
		p := &fakePlatform{
			agents: []octave.Agent{{OID: "ag_1", Name: "2001_x", Type: "EMAIL"}},
			data:   &octave.RunData{},
		}
		d := newTestDispatcher(t, p, nil)
		_, err := d.Run(ctx, Request{APIKey: "k", PlayCode: "2001"})
		assert.Equal(t, common.CodeUpstreamFailed, common.CodeOf(err))
	})

	t.Run("智能体列表失败", func(t *testing.T) {
		p := &fakePlatform{listErr: errors.New("dial tcp: refused")}
		d := newTestDispatcher(t, p, nil)
		_, err := d.Run(ctx, Request{APIKey: "k", PlayCode: "2001"})
		be, ok := common.AsBusinessError(err)
		require.True(t, ok)
		assert.Equal(t, "Failed to find agent in workspace", be.Message)
		assert.Zero(t, p.runs)
	})

	t.Run("缺少 API Key", func(t *testing.T) {
		d := newTestDispatcher(t, &fakePlatform{}, nil)
		_, err := d.Run(ctx, Request{PlayCode: "2001"})
		assert.Equal(t, common.CodeNotFound, common.CodeOf(err))
	})
}
