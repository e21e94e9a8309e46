package campaign

import (
	"fmt"
	"strings"
	"testing"

	"claireportal/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseList(t *testing.T) {
	t.Run("识别列并跳过空行", func(t *testing.T) {
		raw := "\xef\xbb\xbfCompany Name,Contact Name,Job Title,Email\n" +
			"Acme, Jane Doe ,VP Sales,jane@acme.com\n" +
			",,,\n" +
			"Globex,John Roe,CTO,john@globex.com\n"
		rows, total, err := ParseList([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Equal(t, []ListRow{
			{AccountName: "Acme", ProspectName: "Jane Doe", JobTitle: "VP Sales"},
			{AccountName: "Globex", ProspectName: "John Roe", JobTitle: "CTO"},
		}, rows)
	})

	t.Run("账户名列不被当作联系人列", func(t *testing.T) {
		raw := "account name,name,role\nAcme,Jane,CEO\n"
		rows, _, err := ParseList([]byte(raw))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Acme", rows[0].AccountName)
		assert.Equal(t, "Jane", rows[0].ProspectName)
	})

	t.Run("预览最多100行", func(t *testing.T) {
		var b strings.Builder
		b.WriteString("account,prospect,title\n")
		for i := 0; i < 150; i++ {
			fmt.Fprintf(&b, "Co %d,Person %d,Title\n", i, i)
		}
		rows, total, err := ParseList([]byte(b.String()))
		require.NoError(t, err)
		assert.Equal(t, 150, total)
		assert.Len(t, rows, previewRows)
	})

	t.Run("缺少必需列", func(t *testing.T) {
		_, _, err := ParseList([]byte("company,email\nAcme,a@b.c\n"))
		require.Error(t, err)
		assert.Equal(t, MsgListColumns, err.Error())
		assert.Equal(t, common.CodeInvalidRequest, common.CodeOf(err))
	})

	t.Run("空文件", func(t *testing.T) {
		_, _, err := ParseList(nil)
		assert.Equal(t, MsgListEmpty, err.Error())

		_, _, err = ParseList([]byte("company,contact,title\n"))
		assert.Equal(t, MsgListEmpty, err.Error())
	})
}
