package api

import (
	"context"
	"time"

	"claireportal/api/handlers/approvals"
	"claireportal/api/handlers/campaigns"
	"claireportal/api/handlers/executions"
	gtmHandlers "claireportal/api/handlers/gtm"
	playHandlers "claireportal/api/handlers/plays"
	"claireportal/api/handlers/strategy"
	workspaceHandlers "claireportal/api/handlers/workspace"
	"claireportal/internal/ai/openai"
	"claireportal/internal/approval"
	"claireportal/internal/auth"
	"claireportal/internal/campaign"
	"claireportal/internal/config"
	"claireportal/internal/dispatch"
	"claireportal/internal/execution"
	"claireportal/internal/export"
	"claireportal/internal/gtm"
	"claireportal/internal/highlight"
	"claireportal/internal/infra/queue"
	"claireportal/internal/middleware"
	"claireportal/internal/octave"
	"claireportal/internal/plays"
	"claireportal/internal/security"
	"claireportal/internal/storage"
	"claireportal/internal/worker"
	"claireportal/internal/workspace"
	"claireportal/pkg/httputil"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppContainer 应用容器，集中管理所有服务依赖
type AppContainer struct {
	// 基础设施
	DB          *gorm.DB
	Config      *config.Config
	Logger      *zap.Logger
	RedisClient redis.UniversalClient
	QueueClient queue.Client

	// 认证相关；JWTService 为 nil 表示未配置密钥
	JWTService  *auth.JWTService
	AdminPolicy *auth.DBAdminPolicy

	// 外部依赖
	Octave   *octave.Client
	OpenAI   *openai.Client // 未配置 api_key 时为 nil
	Uploader storage.Uploader

	// 核心服务
	WorkspaceService *workspace.Service
	Dispatcher       *dispatch.Dispatcher
	Highlighter      *highlight.Highlighter
	Catalog          *plays.Catalog
	GTMService       *gtm.Service
	Approvals        *approval.Manager
	ExecutionService *execution.Service
	CampaignService  *campaign.Service
	ExportService    *export.Service

	RateLimiter  *middleware.RateLimiter
	WorkerServer *worker.Server
}

// Handlers 全部 HTTP 处理器
type Handlers struct {
	Plays      *playHandlers.Handler
	Executions *executions.Handler
	Campaigns  *campaigns.Handler
	Approvals  *approvals.Handler
	GTM        *gtmHandlers.Handler
	Strategy   *strategy.Handler
	Workspace  *workspaceHandlers.Handler
}

// Models 需要迁移的全部表
func Models() []any {
	return []any{
		&workspace.Account{},
		&workspace.ClientWorkspace{},
		&auth.AdminUser{},
		&plays.Play{},
		&execution.PlayExecution{},
		&campaign.Campaign{},
		&approval.Approval{},
		&approval.CampaignApproval{},
	}
}

// InitContainer 初始化应用容器；rdb 可为 nil（Redis 不可用时仅影响令牌黑名单与就绪检查）
func InitContainer(ctx context.Context, db *gorm.DB, rdb redis.UniversalClient, cfg *config.Config, logger *zap.Logger) (*AppContainer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &AppContainer{
		DB:          db,
		Config:      cfg,
		Logger:      logger,
		RedisClient: rdb,
		QueueClient: queue.NewClient(cfg.Redis),
	}

	if err := c.initAuth(ctx); err != nil {
		return nil, err
	}
	c.initCoreServices(ctx)
	c.initWorker()
	return c, nil
}

// InitHandlers 初始化所有 Handlers
func (c *AppContainer) InitHandlers() *Handlers {
	return &Handlers{
		Plays:      playHandlers.NewHandler(c.Catalog),
		Executions: executions.NewHandler(c.ExecutionService),
		Campaigns:  campaigns.NewHandler(c.CampaignService),
		Approvals:  approvals.NewHandler(c.Approvals, c.ExecutionService, c.CampaignService),
		GTM:        gtmHandlers.NewHandler(c.GTMService),
		Strategy:   strategy.NewHandler(c.ExportService),
		Workspace:  workspaceHandlers.NewHandler(c.WorkspaceService),
	}
}

// Close 释放队列与 Redis 连接
func (c *AppContainer) Close() {
	if c.QueueClient != nil {
		if err := c.QueueClient.Close(); err != nil {
			c.Logger.Warn("关闭队列客户端失败", zap.Error(err))
		}
	}
}

// --- 内部初始化方法 ---

func (c *AppContainer) initAuth(ctx context.Context) error {
	c.AdminPolicy = auth.NewDBAdminPolicy(c.DB)
	if err := c.AdminPolicy.SeedAdmins(ctx, c.Config.Auth.AdminEmails); err != nil {
		c.Logger.Warn("写入管理员名单失败", zap.Error(err))
	}

	if c.Config.Auth.JWTSecret == "" {
		// 不中断启动，受保护路由统一返回配置错误
		c.Logger.Error("auth.jwt_secret 未配置，受保护接口将返回配置错误")
		return nil
	}
	c.JWTService = auth.NewJWTService(c.Config.Auth.JWTSecret, c.Config.Auth.Issuer, c.Config.Auth.AccessTTL, c.RedisClient)
	return nil
}

func (c *AppContainer) initCoreServices(ctx context.Context) {
	cfg := c.Config

	repo := workspace.NewRepository(c.DB, security.NewSealer(cfg.Security.EncryptionKey))
	c.Octave = octave.NewClient(cfg.Octave, octave.WithLogger(c.Logger.Named("octave")))

	var summarizer dispatch.Summarizer
	var generator campaign.Generator
	if client, err := openai.NewClient(cfg.AI.OpenAI, c.Logger.Named("openai")); err != nil {
		c.Logger.Warn("OpenAI 未配置，超长上下文改为截断，活动中间产物生成不可用", zap.Error(err))
	} else {
		c.OpenAI = client
		summarizer = client
		generator = client
	}

	uploader, err := storage.New(ctx, cfg.Export.S3, c.Logger.Named("storage"))
	if err != nil {
		c.Logger.Warn("对象存储初始化失败，归档已关闭", zap.Error(err))
		uploader = storage.NopUploader{}
	}
	c.Uploader = uploader

	c.WorkspaceService = workspace.NewService(repo, c.Octave, cfg.Octave, c.Logger.Named("workspace"))
	c.Dispatcher = dispatch.NewDispatcher(c.Octave, summarizer, dispatch.Options{
		FallbackProfileURL: cfg.Octave.FallbackProfileURL,
		SummaryBudget:      cfg.AI.OpenAI.SummaryTokenBudget,
		TokenModel:         cfg.AI.OpenAI.SummaryModel,
	}, c.Logger.Named("dispatch"))

	registry := highlight.DefaultRegistry()
	c.Highlighter = highlight.NewHighlighter(registry)
	c.Catalog = plays.NewCatalog(c.DB, nil, registry, c.Logger.Named("plays"))
	c.GTMService = gtm.NewService(repo, c.Octave, c.Logger.Named("gtm"))

	var notifier approval.Notifier
	if url := cfg.Approval.NotifyWebhookURL; url != "" {
		notifier = approval.NewWebhookNotifier(url, httputil.NewClient(httputil.WithTimeout(10*time.Second), httputil.WithRetries(2)))
	}
	c.Approvals = approval.NewManager(c.DB,
		approval.WithNotifier(notifier),
		approval.WithEventBus(approval.NewEventBus(nil)),
		approval.WithManagerLogger(c.Logger.Named("approval")),
		approval.WithSubjectStore(approval.SubjectExecution, execution.SubjectStore{}),
		approval.WithDefaultDueDays(cfg.Approval.DefaultDueDays),
		approval.WithPortalBaseURL(cfg.Approval.PortalBaseURL),
	)

	c.ExecutionService = execution.NewService(c.DB, repo, c.Dispatcher, c.Catalog, c.QueueClient, c.Highlighter, c.Logger.Named("execution"))
	c.CampaignService = campaign.NewService(c.DB, campaign.Deps{
		Workspaces:  repo,
		Plays:       c.Catalog,
		Runner:      c.Dispatcher,
		Generator:   generator,
		Uploader:    c.Uploader,
		Approvals:   c.Approvals,
		Highlighter: c.Highlighter,
		Logger:      c.Logger.Named("campaign"),
	})
	c.ExportService = export.NewService(repo, export.NewRenderer(cfg.Export.LogoText), c.Uploader, c.Logger.Named("export"))
	c.RateLimiter = middleware.NewRateLimiter(nil)
}

func (c *AppContainer) initWorker() {
	c.WorkerServer = worker.NewServer(c.Config.Redis, c.Config.Worker, c.ExecutionService, c.Logger.Named("worker"))
}
