package infra

import (
	"context"
	"fmt"
	"time"

	"claireportal/internal/config"
	"claireportal/internal/logger"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var globalRedis redis.UniversalClient

// redisMode 校验连接模式：standalone(默认)、sentinel、cluster
func redisMode(cfg *config.RedisConfig) (string, error) {
	switch cfg.Mode {
	case "", "standalone":
		return "standalone", nil
	case "sentinel":
		if cfg.MasterName == "" || len(cfg.SentinelAddrs) == 0 {
			return "", fmt.Errorf("哨兵模式需要配置 master_name 和 sentinel_addrs")
		}
		return "sentinel", nil
	case "cluster":
		if len(cfg.ClusterAddrs) == 0 {
			return "", fmt.Errorf("集群模式需要配置 cluster_addrs")
		}
		return "cluster", nil
	default:
		return "", fmt.Errorf("不支持的 Redis 模式: %s (可选: standalone, sentinel, cluster)", cfg.Mode)
	}
}

// universalOptions 三种模式统一映射到 UniversalOptions
func universalOptions(cfg *config.RedisConfig, mode string) *redis.UniversalOptions {
	opts := &redis.UniversalOptions{
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	switch mode {
	case "sentinel":
		opts.MasterName = cfg.MasterName
		opts.Addrs = cfg.SentinelAddrs
		opts.SentinelPassword = cfg.SentinelPassword
	case "cluster":
		opts.Addrs = cfg.ClusterAddrs
		opts.IsClusterMode = true
		opts.DB = 0
	default:
		opts.Addrs = []string{cfg.Addr()}
	}
	return opts
}

// InitRedis 建立连接并 Ping，失败时返回错误由调用方决定是否降级
func InitRedis(cfg *config.RedisConfig) (redis.UniversalClient, error) {
	mode, err := redisMode(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewUniversalClient(universalOptions(cfg, mode))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("Redis 连接失败: %w", err)
	}

	logger.Info("Redis 连接成功", zap.String("mode", mode), zap.Int("db", cfg.DB))
	globalRedis = rdb
	return rdb, nil
}

// CloseRedis 关闭 InitRedis 打开的连接
func CloseRedis() error {
	if globalRedis == nil {
		return nil
	}
	err := globalRedis.Close()
	globalRedis = nil
	return err
}

// AsynqRedisOpt 队列连接与 InitRedis 使用相同的模式选择；配置非法时退回单节点
func AsynqRedisOpt(cfg config.RedisConfig) asynq.RedisConnOpt {
	mode, err := redisMode(&cfg)
	if err != nil {
		mode = "standalone"
	}
	switch mode {
	case "sentinel":
		return asynq.RedisFailoverClientOpt{
			MasterName:       cfg.MasterName,
			SentinelAddrs:    cfg.SentinelAddrs,
			SentinelPassword: cfg.SentinelPassword,
			Password:         cfg.Password,
			DB:               cfg.DB,
			PoolSize:         cfg.PoolSize,
		}
	case "cluster":
		return asynq.RedisClusterClientOpt{Addrs: cfg.ClusterAddrs, Password: cfg.Password}
	default:
		return asynq.RedisClientOpt{Addr: cfg.Addr(), Password: cfg.Password, DB: cfg.DB, PoolSize: cfg.PoolSize}
	}
}
