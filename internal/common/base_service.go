package common

import (
	"context"
	"errors"
	"sort"

	"gorm.io/gorm"
)

// BaseService 服务基类，封装按用户归属查询、条件更新等通用操作
type BaseService struct {
	DB *gorm.DB
}

// NewBaseService 创建BaseService实例
func NewBaseService(db *gorm.DB) *BaseService {
	return &BaseService{DB: db}
}

// ApplyUserFilter 限定为用户自己的记录
func (s *BaseService) ApplyUserFilter(query *gorm.DB, userID string) *gorm.DB {
	return query.Where("user_id = ?", userID)
}

// ApplyEqualFilters 按字段等值过滤，空值跳过；字段名按字典序应用，保证 SQL 稳定
func (s *BaseService) ApplyEqualFilters(query *gorm.DB, filters map[string]string) *gorm.DB {
	keys := make([]string, 0, len(filters))
	for k, v := range filters {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		query = query.Where(k+" = ?", filters[k])
	}
	return query
}

// ApplyPagination 应用分页条件
func (s *BaseService) ApplyPagination(query *gorm.DB, req PaginationRequest) *gorm.DB {
	return query.Offset(req.GetOffset()).Limit(req.GetPageSize())
}

// FindOwned 查询属于指定用户的记录，不存在返回 NotFound 业务错误
func (s *BaseService) FindOwned(ctx context.Context, model interface{}, id, userID, notFoundMsg string) error {
	err := s.ApplyUserFilter(s.DB.WithContext(ctx), userID).Where("id = ?", id).First(model).Error
	return TranslateDBError(err, notFoundMsg)
}

// GuardedUpdate 条件更新，返回受影响行数；用于单语句完成状态迁移
func (s *BaseService) GuardedUpdate(ctx context.Context, model interface{}, updates map[string]interface{}, condition string, args ...interface{}) (int64, error) {
	res := s.DB.WithContext(ctx).Model(model).Where(condition, args...).Updates(updates)
	if res.Error != nil {
		return 0, ErrPersistence("Failed to update record", res.Error)
	}
	return res.RowsAffected, nil
}

// Transaction 执行事务
func (s *BaseService) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.DB.WithContext(ctx).Transaction(fn)
}

// TranslateDBError 将 gorm 错误转换为业务错误
func TranslateDBError(err error, notFoundMsg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound(notFoundMsg)
	default:
		if _, ok := AsBusinessError(err); ok {
			return err
		}
		return ErrPersistence("Database error", err)
	}
}
