package api

import (
	"claireportal/internal/auth"
	"claireportal/internal/common"
	"claireportal/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, c *AppContainer, h *Handlers) {
	authn := authenticate(c)

	// 客户端 API，管理员可通过 ?impersonate= 代入客户
	client := router.Group("/api/client")
	client.Use(authn, auth.ImpersonationMiddleware(c.AdminPolicy))
	registerClientRoutes(client, c, h)

	admin := router.Group("/api/admin")
	admin.Use(authn, auth.RequireAdmin(c.AdminPolicy, ""))
	registerAdminRoutes(admin, h)
}

// authenticate 未配置 JWT 密钥时所有受保护请求返回配置错误
func authenticate(c *AppContainer) gin.HandlerFunc {
	if c.JWTService == nil {
		return func(ctx *gin.Context) {
			common.AbortWithError(ctx, common.ErrMisconfigured())
		}
	}
	return auth.AuthMiddleware(c.JWTService, c.Config.Auth.SessionCookie)
}

func registerClientRoutes(g *gin.RouterGroup, c *AppContainer, h *Handlers) {
	// 调用外部智能体的接口按用户限流
	limited := middleware.RateLimitMiddleware(c.RateLimiter)

	g.POST("/logout", auth.Logout(c.JWTService, c.Config.Auth.SessionCookie))
	g.GET("/plays", h.Plays.List)

	g.POST("/execute-play", limited, h.Executions.Execute)
	g.GET("/play-execution-statuses", h.Executions.Statuses)
	executions := g.Group("/executions")
	{
		executions.GET("", h.Executions.List)
		executions.GET("/:id", h.Executions.Get)
		executions.PUT("/:id", h.Executions.Update)
		executions.POST("/:id/highlight", h.Executions.Highlight)
	}

	campaigns := g.Group("/campaigns")
	{
		campaigns.POST("", h.Campaigns.Create)
		campaigns.GET("", h.Campaigns.List)
		campaigns.GET("/:id", h.Campaigns.Get)
		campaigns.POST("/:id/intermediary", limited, h.Campaigns.GenerateIntermediary)
		campaigns.PUT("/:id/update-intermediaries", h.Campaigns.UpdateIntermediaries)
		campaigns.POST("/:id/list-questions", h.Campaigns.ListQuestions)
		campaigns.GET("/:id/preview-list", h.Campaigns.PreviewList)
		campaigns.POST("/:id/generate-copy", limited, h.Campaigns.GenerateCopy)
		campaigns.POST("/:id/approve-list", h.Campaigns.ApproveList)
		campaigns.POST("/:id/approve-copy", h.Campaigns.ApproveCopy)
		campaigns.POST("/:id/reject-copy", h.Campaigns.RejectCopy)
	}

	g.POST("/approve", h.Approvals.Request)
	g.PUT("/approve", h.Approvals.Decide)
	g.GET("/approve/:token", h.Approvals.GetByToken)
	g.POST("/approve-execution", h.Approvals.ApproveExecution)
	g.GET("/approvals/:subjectId/wait", h.Approvals.Wait)

	g.GET("/gtm-strategy", h.GTM.Library)
	g.POST("/gtm-strategy/:kind", h.GTM.Upsert)

	g.GET("/strategy/pdf", h.Strategy.PDF)
}

func registerAdminRoutes(g *gin.RouterGroup, h *Handlers) {
	g.POST("/regenerate-workspace", h.Workspace.Regenerate)
	g.POST("/campaigns/:id/upload-list", h.Campaigns.UploadList)
	g.GET("/plays-catalog", h.Plays.AdminCatalog)
}
