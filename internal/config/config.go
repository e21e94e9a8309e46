package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingConfig 表示请求所需的配置项缺失
var ErrMissingConfig = errors.New("server configuration error")

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	AI       AIConfig       `mapstructure:"ai"`
	Octave   OctaveConfig   `mapstructure:"octave"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Export   ExportConfig   `mapstructure:"export"`
	Security SecurityConfig `mapstructure:"security"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// IsDevelopment 开发模式下错误响应附带堆栈
func (s ServerConfig) IsDevelopment() bool {
	return s.Mode == "debug"
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres（默认）或 sqlite
	Path            string `mapstructure:"path"`   // sqlite 文件路径
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 连接模式: standalone(单节点), sentinel(哨兵), cluster(集群)
	Mode string `mapstructure:"mode"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	MasterName       string   `mapstructure:"master_name"`
	SentinelAddrs    []string `mapstructure:"sentinel_addrs"`
	SentinelPassword string   `mapstructure:"sentinel_password"`

	ClusterAddrs []string `mapstructure:"cluster_addrs"`

	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
}

// Addr 单节点地址
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AIConfig AI 模型配置
type AIConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig OpenAI 配置
type OpenAIConfig struct {
	APIKey             string `mapstructure:"api_key"`
	BaseURL            string `mapstructure:"base_url"`
	OrgID              string `mapstructure:"org_id"`
	MaxRetries         int    `mapstructure:"max_retries"`
	Model              string `mapstructure:"model"`               // 战略元素生成，默认 gpt-4o
	SummaryModel       string `mapstructure:"summary_model"`       // 上下文摘要，默认 gpt-4o-mini
	SummaryTokenBudget int    `mapstructure:"summary_token_budget"` // 摘要目标长度（token）
}

// OctaveConfig 外部智能体平台配置
type OctaveConfig struct {
	BaseURL            string   `mapstructure:"base_url"`
	ProvisioningAPIKey string   `mapstructure:"provisioning_api_key"` // 仅用于 workspace/build
	PageSize           int      `mapstructure:"page_size"`
	ContentTimeout     int      `mapstructure:"content_timeout"`   // 秒
	SequenceTimeout    int      `mapstructure:"sequence_timeout"`  // 秒
	CallPrepTimeout    int      `mapstructure:"call_prep_timeout"` // 秒
	FallbackProfileURL string   `mapstructure:"fallback_profile_url"`
	BrandVoiceOID      string   `mapstructure:"brand_voice_oid"`
	DefaultAgentOIDs   []string `mapstructure:"default_agent_oids"`
}

// Timeouts 返回三类端点的超时
func (o OctaveConfig) Timeouts() (content, sequence, callPrep time.Duration) {
	return secondsOr(o.ContentTimeout, 120), secondsOr(o.SequenceTimeout, 180), secondsOr(o.CallPrepTimeout, 300)
}

func secondsOr(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	Issuer        string        `mapstructure:"issuer"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	SessionCookie string        `mapstructure:"session_cookie"`
	AdminEmails   []string      `mapstructure:"admin_emails"` // 启动时写入 admin_users
}

// ApprovalConfig 审批配置
type ApprovalConfig struct {
	DefaultDueDays   int    `mapstructure:"default_due_days"`
	NotifyWebhookURL string `mapstructure:"notify_webhook_url"`
	PortalBaseURL    string `mapstructure:"portal_base_url"` // 生成审批链接
}

// ExportConfig PDF 导出配置
type ExportConfig struct {
	LogoText string   `mapstructure:"logo_text"`
	S3       S3Config `mapstructure:"s3"`
}

// S3Config 对象存储配置
type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"` // 兼容 MinIO 等
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"` // 32 字节，用于密封工作区 API Key
}

// WorkerConfig 后台任务配置
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")
	setDefaults(v)

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // APP_OCTAVE_BASE_URL

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")
	v.SetDefault("octave.base_url", "https://app.octavehq.com/api/v2")
	v.SetDefault("octave.page_size", 50)
	v.SetDefault("octave.fallback_profile_url", "https://www.linkedin.com/in/coreypeck/")
	v.SetDefault("octave.brand_voice_oid", "bv_fractional_ops")
	v.SetDefault("ai.openai.model", "gpt-4o")
	v.SetDefault("ai.openai.summary_model", "gpt-4o-mini")
	v.SetDefault("ai.openai.summary_token_budget", 1500)
	v.SetDefault("ai.openai.max_retries", 3)
	v.SetDefault("auth.issuer", "claire-portal")
	v.SetDefault("auth.access_ttl", "24h")
	v.SetDefault("auth.session_cookie", "claire_session")
	v.SetDefault("approval.default_due_days", 7)
	v.SetDefault("export.logo_text", "FRACTIONAL OPS")
	v.SetDefault("worker.concurrency", 5)
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Validate 返回缺失的必填项，服务仍可启动，相关请求失败
func (c *Config) Validate() []string {
	var missing []string
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "auth.jwt_secret")
	}
	if c.Octave.BaseURL == "" {
		missing = append(missing, "octave.base_url")
	}
	if c.AI.OpenAI.APIKey == "" {
		missing = append(missing, "ai.openai.api_key")
	}
	if c.Octave.ProvisioningAPIKey == "" {
		missing = append(missing, "octave.provisioning_api_key")
	}
	return missing
}
