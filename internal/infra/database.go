package infra

import (
	"context"
	"fmt"
	"time"

	"claireportal/internal/config"
	"claireportal/internal/logger"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

var globalDB *gorm.DB

// dialector 按配置选择驱动；sqlite 仅用于本地开发
func dialector(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "postgres":
		return postgres.Open(cfg.GetDSN()), nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite 需要配置 database.path")
		}
		return sqlite.Open(cfg.Path), nil
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}
}

// InitDatabase 打开连接并 Ping；debug 模式输出全部 SQL
func InitDatabase(cfg *config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	dial, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	level := gormLogger.Warn
	if debug {
		level = gormLogger.Info
	}
	db, err := gorm.Open(dial, &gorm.Config{
		Logger: &GormZapLogger{
			ZapLogger:                 logger.Get().Named("gorm"),
			LogLevel:                  level,
			SlowThreshold:             slowQueryThreshold,
			IgnoreRecordNotFoundError: true,
		},
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库连接失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取 SQL DB 失败: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	logger.Info("数据库连接成功",
		zap.String("driver", driver),
		zap.String("host", cfg.Host),
		zap.String("database", cfg.DBName),
	)
	globalDB = db
	return db, nil
}

// AutoMigrate 建表或补齐缺失列
func AutoMigrate(db *gorm.DB, models ...any) error {
	start := time.Now()
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	logger.Info("数据库迁移完成",
		zap.Int("models", len(models)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// CloseDatabase 关闭 InitDatabase 打开的连接
func CloseDatabase() error {
	if globalDB == nil {
		return nil
	}
	sqlDB, err := globalDB.DB()
	if err != nil {
		return err
	}
	globalDB = nil
	return sqlDB.Close()
}
