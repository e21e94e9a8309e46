// Package common 处理器共用的请求解析
package common

import (
	"errors"
	"io"

	"claireportal/internal/auth"
	appcommon "claireportal/internal/common"

	"github.com/gin-gonic/gin"
)

// MsgInvalidBody 请求体无法解析
const MsgInvalidBody = "Invalid request body"

// Actor 当前请求的操作者
type Actor struct {
	// UserID 数据归属用户，代入时为被代入用户
	UserID string
	// ActorID 实际登录用户
	ActorID string
	Email   string
}

// CurrentActor 从认证上下文取出操作者；未认证时写入 401
func CurrentActor(c *gin.Context) (Actor, bool) {
	user, ok := auth.GetUserContext(c)
	if !ok || user.EffectiveUserID == "" {
		appcommon.ResponseError(c, appcommon.ErrUnauthorized("Unauthorized"))
		return Actor{}, false
	}
	return Actor{UserID: user.EffectiveUserID, ActorID: user.UserID, Email: user.Email}, true
}

// BindJSON 解析 JSON 请求体，空请求体视为空对象；失败时写入 400
func BindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		appcommon.ResponseBadRequest(c, MsgInvalidBody)
		return false
	}
	return true
}
