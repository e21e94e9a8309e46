package common

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"claireportal/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type sampleRecord struct {
	ID     string `gorm:"primaryKey"`
	UserID string
	Status string
	Kind   string
}

func setupTestDB(t *testing.T) *gorm.DB {
	return testutil.NewTestDB(t, &sampleRecord{})
}

func TestBaseService_FindOwned(t *testing.T) {
	db := setupTestDB(t)
	svc := NewBaseService(db)
	ctx := context.Background()
	require.NoError(t, db.Create(&sampleRecord{ID: "r1", UserID: "u1", Status: "draft"}).Error)

	t.Run("属于本人", func(t *testing.T) {
		var rec sampleRecord
		require.NoError(t, svc.FindOwned(ctx, &rec, "r1", "u1", "Record not found"))
		assert.Equal(t, "draft", rec.Status)
	})

	t.Run("他人记录视为不存在", func(t *testing.T) {
		var rec sampleRecord
		err := svc.FindOwned(ctx, &rec, "r1", "u2", "Record not found")
		be, ok := AsBusinessError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusNotFound, be.HTTPStatus())
		assert.Equal(t, "Record not found", be.Message)
	})
}

func TestBaseService_GuardedUpdate(t *testing.T) {
	db := setupTestDB(t)
	svc := NewBaseService(db)
	ctx := context.Background()
	require.NoError(t, db.Create(&sampleRecord{ID: "r1", UserID: "u1", Status: "draft"}).Error)

	n, err := svc.GuardedUpdate(ctx, &sampleRecord{}, map[string]interface{}{"status": "done"}, "id = ? AND status IN ?", "r1", []string{"draft"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// 前置状态已变化，第二次更新不生效
	n, err = svc.GuardedUpdate(ctx, &sampleRecord{}, map[string]interface{}{"status": "other"}, "id = ? AND status IN ?", "r1", []string{"draft"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestBaseService_ApplyEqualFilters(t *testing.T) {
	db := setupTestDB(t)
	svc := NewBaseService(db)
	require.NoError(t, db.Create([]sampleRecord{
		{ID: "a", UserID: "u1", Status: "draft", Kind: "x"},
		{ID: "b", UserID: "u1", Status: "approved", Kind: "x"},
		{ID: "c", UserID: "u1", Status: "draft", Kind: "y"},
	}).Error)

	var got []sampleRecord
	q := svc.ApplyEqualFilters(db.Model(&sampleRecord{}), map[string]string{"status": "draft", "kind": ""})
	require.NoError(t, q.Order("id").Find(&got).Error)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestTranslateDBError(t *testing.T) {
	assert.NoError(t, TranslateDBError(nil, "x"))
	assert.Equal(t, CodeNotFound, CodeOf(TranslateDBError(gorm.ErrRecordNotFound, "x")))
	assert.Equal(t, CodePersistence, CodeOf(TranslateDBError(errors.New("disk full"), "x")))

	be := ErrConflict("busy")
	assert.Same(t, be, TranslateDBError(be, "x"))
}
