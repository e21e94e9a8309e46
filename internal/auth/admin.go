package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AdminUser 管理员名单
type AdminUser struct {
	Email     string    `json:"email" gorm:"primaryKey;size:255"`
	CreatedAt time.Time `json:"createdAt"`
}

func (AdminUser) TableName() string {
	return "admin_users"
}

// AdminPolicy 判定用户是否为管理员；所有管理员检查都经过它
type AdminPolicy interface {
	IsAdmin(ctx context.Context, user *UserContext) (bool, error)
}

// DBAdminPolicy 角色声明或 admin_users 表任一命中即为管理员
type DBAdminPolicy struct {
	db *gorm.DB
}

func NewDBAdminPolicy(db *gorm.DB) *DBAdminPolicy {
	return &DBAdminPolicy{db: db}
}

func (p *DBAdminPolicy) IsAdmin(ctx context.Context, user *UserContext) (bool, error) {
	if user == nil {
		return false, nil
	}
	if hasRole(user.Roles, []string{RoleAdmin}) {
		return true, nil
	}
	if user.Email == "" {
		return false, nil
	}

	var row AdminUser
	err := p.db.WithContext(ctx).Where("email = ?", strings.ToLower(user.Email)).First(&row).Error
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, nil
	default:
		return false, err
	}
}

// SeedAdmins 写入配置中的管理员邮箱，已存在则忽略
func (p *DBAdminPolicy) SeedAdmins(ctx context.Context, emails []string) error {
	for _, email := range emails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			continue
		}
		err := p.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&AdminUser{Email: email, CreatedAt: time.Now().UTC()}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// hasRole 检查是否有指定角色
func hasRole(userRoles []string, requiredRoles []string) bool {
	roleMap := make(map[string]bool, len(userRoles))
	for _, role := range userRoles {
		roleMap[strings.ToLower(role)] = true
	}
	for _, required := range requiredRoles {
		if roleMap[strings.ToLower(required)] {
			return true
		}
	}
	return false
}
