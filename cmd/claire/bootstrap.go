package main

import (
	"context"
	"fmt"

	"claireportal/api"
	"claireportal/internal/config"
	"claireportal/internal/infra"
	"claireportal/internal/logger"
	"claireportal/internal/security"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app 一次命令运行所需的依赖
type app struct {
	cfg       *config.Config
	db        *gorm.DB
	rdb       redis.UniversalClient
	container *api.AppContainer
}

// bootstrap 加载配置、日志与存储并组装容器；调用方负责 close
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagEnv, flagConfig)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	logger.Info("配置已加载",
		zap.String("env", flagEnv),
		zap.String("mode", cfg.Server.Mode),
		zap.String("octave_base_url", cfg.Octave.BaseURL),
		zap.String("octave_provisioning_key", security.Mask(cfg.Octave.ProvisioningAPIKey)),
	)
	if missing := cfg.Validate(); len(missing) > 0 {
		logger.Warn("部分配置缺失，相关功能不可用", zap.Strings("missing", missing))
	}

	db, err := infra.InitDatabase(&cfg.Database, cfg.Server.IsDevelopment())
	if err != nil {
		return nil, err
	}

	// Redis 只承载令牌黑名单与高亮队列，连接失败不阻断启动
	rdb, err := infra.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Warn("Redis 不可用，令牌黑名单与就绪检查降级", zap.Error(err))
		rdb = nil
	}

	container, err := api.InitContainer(ctx, db, rdb, cfg, logger.Get())
	if err != nil {
		_ = infra.CloseDatabase()
		return nil, err
	}
	return &app{cfg: cfg, db: db, rdb: rdb, container: container}, nil
}

func (a *app) close() {
	a.container.Close()
	if a.rdb != nil {
		if err := infra.CloseRedis(); err != nil {
			logger.Error("Redis 关闭异常", zap.Error(err))
		}
	}
	if err := infra.CloseDatabase(); err != nil {
		logger.Error("数据库关闭异常", zap.Error(err))
	}
	logger.Sync()
}

// migrate 建表并写入内置玩法目录
func (a *app) migrate(ctx context.Context) error {
	if err := infra.AutoMigrate(a.db, api.Models()...); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	seeded, err := a.container.Catalog.Seed(ctx)
	if err != nil {
		return err
	}
	// 表在容器初始化之后才存在时需要补写管理员
	if err := a.container.AdminPolicy.SeedAdmins(ctx, a.cfg.Auth.AdminEmails); err != nil {
		return err
	}
	logger.Info("数据库迁移完成", zap.Int("seeded_plays", seeded))
	return nil
}
