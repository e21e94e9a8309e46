package gtm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEntity(t *testing.T) {
	t.Run("已知字段进入变体，未知字段进入 extra", func(t *testing.T) {
		raw := []byte(`{
			"oId": "p_1", "name": "VP Ops", "active": true,
			"createdAt": "2024-01-02T00:00:00Z",
			"data": {
				"painPoints": ["manual reporting"],
				"commonJobTitles": ["VP Operations", "COO"],
				"seniority": "executive",
				"description": "Runs operations"
			}
		}`)
		ent, err := DecodeEntity(KindPersona, raw)
		require.NoError(t, err)
		assert.Equal(t, "p_1", ent.OID)
		assert.Equal(t, "Runs operations", ent.Description)

		persona, ok := ent.Data.(*PersonaData)
		require.True(t, ok)
		assert.Equal(t, []string{"manual reporting"}, persona.PainPoints)
		assert.Equal(t, []string{"seniority"}, ExtraKeys(persona))
		assert.JSONEq(t, `"executive"`, string(persona.Extra["seniority"]))
	})

	t.Run("案例的顶层公司字段并入 data", func(t *testing.T) {
		raw := []byte(`{"oId": "r_1", "name": "", "companyName": "Globex", "industry": "Energy", "data": {"industry": "Utilities"}}`)
		ent, err := DecodeEntity(KindReference, raw)
		require.NoError(t, err)
		ref := ent.Data.(*ReferenceData)
		assert.Equal(t, "Globex", ref.CompanyName)
		assert.Equal(t, "Utilities", ref.Industry)
	})

	t.Run("类型不符的字段保留为 extra", func(t *testing.T) {
		raw := []byte(`{"oId": "u_1", "name": "Routing", "data": {"summary": ["a", "b"], "scenarios": ["x"]}}`)
		ent, err := DecodeEntity(KindUseCase, raw)
		require.NoError(t, err)
		uc := ent.Data.(*UseCaseData)
		assert.Empty(t, uc.Summary)
		assert.Equal(t, []string{"x"}, uc.Scenarios)
		assert.Contains(t, uc.Extra, "summary")
	})

	t.Run("未知类型报错", func(t *testing.T) {
		_, err := DecodeEntity(Kind("widget"), []byte(`{}`))
		assert.Error(t, err)
	})
}

func TestEntity_MarshalKeepsExtra(t *testing.T) {
	raw := []byte(`{"oId":"s_1","name":"Mid-market","active":true,"data":{"industry":"SaaS","regions":["EMEA"]}}`)
	ent, err := DecodeEntity(KindSegment, raw)
	require.NoError(t, err)

	out, err := json.Marshal(ent)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &decoded))
	var data map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(decoded["data"], &data))
	assert.JSONEq(t, `"SaaS"`, string(data["industry"]))
	assert.JSONEq(t, `["EMEA"]`, string(data["regions"]))

	again, err := DecodeEntity(KindSegment, out)
	require.NoError(t, err)
	assert.Equal(t, ent.Data, again.Data)
}

func TestDecodeList_SkipsBrokenItems(t *testing.T) {
	items, err := DecodeList(KindPlaybook, []byte(`[{"oId":"pb_1","name":"A"}, "oops", {"oId":"pb_2","name":"B","data":{"keyInsight":"k"}}]`))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "k", items[1].Data.(*PlaybookData).KeyInsight)

	_, err = DecodeList(KindPlaybook, []byte(`{"not":"array"}`))
	assert.Error(t, err)
}

func TestParseRouteKind(t *testing.T) {
	for _, k := range Kinds {
		got, ok := ParseRouteKind(k.Route())
		require.True(t, ok, k)
		assert.Equal(t, k, got)
	}
	_, ok := ParseRouteKind("widgets")
	assert.False(t, ok)
}
