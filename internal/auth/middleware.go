package auth

import (
	"net/http"

	"claireportal/internal/common"
	"claireportal/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ContextKey 上下文键类型
type ContextKey string

const (
	// UserContextKey 用户上下文键
	UserContextKey ContextKey = "user"
	claimsKey      ContextKey = "auth_claims"

	RoleAdmin = "admin"

	MsgImpersonationForbidden = "Unauthorized: Admin access required for impersonation"
	MsgAdminRequired          = "Admin access required"
)

// UserContext 用户上下文
type UserContext struct {
	UserID string
	Email  string
	Roles  []string

	// EffectiveUserID 数据归属用户；管理员代入时为被代入用户
	EffectiveUserID string
	Impersonating   bool
	IsAdmin         bool
}

// AuthMiddleware JWT 认证中间件，优先读取 Authorization 头，其次读取会话 Cookie
func AuthMiddleware(jwtService *JWTService, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractTokenFromBearer(c.GetHeader("Authorization"))
		if token == "" && cookieName != "" {
			token, _ = c.Cookie(cookieName)
		}
		if token == "" {
			common.AbortWithError(c, common.ErrUnauthorized("Unauthorized"))
			return
		}

		claims, err := jwtService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			logger.WithContext(c.Request.Context()).Debug("令牌验证失败", zap.Error(err))
			common.AbortWithError(c, common.ErrUnauthorized("Unauthorized"))
			return
		}

		user := &UserContext{
			UserID:          claims.UserID,
			Email:           claims.Email,
			Roles:           claims.Roles,
			EffectiveUserID: claims.UserID,
		}
		c.Set(string(UserContextKey), user)
		c.Set(string(claimsKey), claims)
		c.Next()
	}
}

// ImpersonationMiddleware 每个请求重新校验管理员身份后才允许 ?impersonate=<userId>
func ImpersonationMiddleware(policy AdminPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		target := c.Query("impersonate")
		if target == "" {
			c.Next()
			return
		}

		user, ok := GetUserContext(c)
		if !ok {
			common.AbortWithError(c, common.ErrUnauthorized("Unauthorized"))
			return
		}

		isAdmin, err := policy.IsAdmin(c.Request.Context(), user)
		if err != nil {
			common.AbortWithError(c, common.ErrPersistence("Failed to verify admin access", err))
			return
		}
		if !isAdmin {
			logger.WithContext(c.Request.Context()).Warn("非管理员尝试代入用户",
				zap.String("user_id", user.UserID),
				zap.String("target", target),
			)
			common.AbortWithError(c, common.ErrForbidden(MsgImpersonationForbidden))
			return
		}

		user.IsAdmin = true
		user.Impersonating = true
		user.EffectiveUserID = target
		logger.WithContext(c.Request.Context()).Info("管理员代入用户",
			zap.String("admin_id", user.UserID),
			zap.String("target", target),
		)
		c.Next()
	}
}

// RequireAdmin 管理员路由守卫
func RequireAdmin(policy AdminPolicy, message string) gin.HandlerFunc {
	if message == "" {
		message = MsgAdminRequired
	}
	return func(c *gin.Context) {
		user, ok := GetUserContext(c)
		if !ok {
			common.AbortWithError(c, common.ErrUnauthorized("Unauthorized"))
			return
		}
		isAdmin, err := policy.IsAdmin(c.Request.Context(), user)
		if err != nil {
			common.AbortWithError(c, common.ErrPersistence("Failed to verify admin access", err))
			return
		}
		if !isAdmin {
			common.AbortWithError(c, common.ErrForbidden(message))
			return
		}
		user.IsAdmin = true
		c.Next()
	}
}

// Logout 作废当前令牌并清除会话 Cookie；需挂在 AuthMiddleware 之后
func Logout(jwtService *JWTService, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v, ok := c.Get(string(claimsKey)); ok {
			if err := jwtService.Revoke(c.Request.Context(), v.(*TokenClaims)); err != nil {
				logger.WithContext(c.Request.Context()).Warn("登出作废令牌失败", zap.Error(err))
			}
		}
		if cookieName != "" {
			c.SetCookie(cookieName, "", -1, "/", "", false, true)
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// GetUserContext 从 Gin Context 获取用户上下文
func GetUserContext(c *gin.Context) (*UserContext, bool) {
	v, exists := c.Get(string(UserContextKey))
	if !exists {
		return nil, false
	}
	user, ok := v.(*UserContext)
	return user, ok
}

// EffectiveUserID 返回本次请求操作的数据归属用户
func EffectiveUserID(c *gin.Context) string {
	if user, ok := GetUserContext(c); ok {
		return user.EffectiveUserID
	}
	return ""
}
