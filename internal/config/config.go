package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// TriageConfig 定义决策分类的核心业务配置
type TriageConfig struct {
	ActionKeywords      []string // 行动关键词列表，留空表示使用内置列表
	ReplyCountThreshold int      // 高频联系人阈值，回复次数超过此值触发分类，默认 3
	StaleUnreadDays     int      // 未读邮件滞留天数阈值，超过此值触发分类，默认 3
	BatchWorkers        int      // 批量分类的并发工作协程数，默认 4
	SnoozeDefault       time.Duration // 未指定恢复时间时的默认推迟时长，默认 24h
}

// ClassifierConfig 定义 AI 分类服务的调用配置
type ClassifierConfig struct {
	BaseURL       string        // 分类服务基础地址，留空表示禁用 AI，全部走降级路径
	APIKey        string        // 分类服务认证密钥
	Timeout       time.Duration // 单次分类请求超时，默认 5s
	RatePerSecond float64       // 每秒最大请求数，0 表示不限流，默认 5
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql"、"postgres" 或 "pgx"
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Enabled  bool   // 是否启用 Redis 缓存，默认关闭
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// JWTConfig 定义 JWT 认证相关配置
type JWTConfig struct {
	Secret        string        // JWT 签名密钥，必须至少 32 字符
	Issuer        string        // JWT 签发者标识，默认 "mailtriage"
	AccessExpiry  time.Duration // 访问令牌有效期，默认 15 分钟
	RefreshExpiry time.Duration // 刷新令牌有效期，默认 7 天
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server     ServerConfig     // HTTP 服务器配置
	Triage     TriageConfig     // 决策分类业务配置
	Classifier ClassifierConfig // AI 分类服务配置
	CORS       CORSConfig       // 跨域配置
	Log        LogConfig        // 日志配置
	Database   DatabaseConfig   // 数据库配置
	Redis      RedisConfig      // Redis 配置
	JWT        JWTConfig        // JWT 认证配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: MAILTRIAGE_
// 例如: MAILTRIAGE_SERVER_HOST, MAILTRIAGE_JWT_SECRET
//
// .env 文件位置：
//   - 当前目录的 .env
//   - 父目录的 .env（如果在 backend/ 子目录中运行）
//
// 返回值:
//   - *Config: 加载成功的配置对象
//   - error: 配置验证失败时返回错误
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("mailtriage")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("triage.action_keywords", "")
	viper.SetDefault("triage.reply_count_threshold", 3)
	viper.SetDefault("triage.stale_unread_days", 3)
	viper.SetDefault("triage.batch_workers", 4)
	viper.SetDefault("triage.snooze_default", "24h")
	viper.SetDefault("classifier.base_url", "")
	viper.SetDefault("classifier.api_key", "")
	viper.SetDefault("classifier.timeout", "5s")
	viper.SetDefault("classifier.rate_per_second", 5)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.issuer", "mailtriage")
	viper.SetDefault("jwt.access_expiry", "15m")
	viper.SetDefault("jwt.refresh_expiry", "168h")

	serverHost := viper.GetString("server.host")
	serverPort := viper.GetInt("server.port")

	keywords := parseKeywords(viper.GetString("triage.action_keywords"))

	replyThreshold := viper.GetInt("triage.reply_count_threshold")
	if replyThreshold <= 0 {
		replyThreshold = 3
	}

	staleDays := viper.GetInt("triage.stale_unread_days")
	if staleDays <= 0 {
		staleDays = 3
	}

	batchWorkers := viper.GetInt("triage.batch_workers")
	if batchWorkers <= 0 {
		batchWorkers = 4
	}

	snoozeDefault, err := time.ParseDuration(viper.GetString("triage.snooze_default"))
	if err != nil || snoozeDefault <= 0 {
		snoozeDefault = 24 * time.Hour
	}

	classifierTimeout, err := time.ParseDuration(viper.GetString("classifier.timeout"))
	if err != nil || classifierTimeout <= 0 {
		classifierTimeout = 5 * time.Second
	}

	ratePerSecond := viper.GetFloat64("classifier.rate_per_second")
	if ratePerSecond < 0 {
		return nil, fmt.Errorf("invalid classifier.rate_per_second: must not be negative")
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	accessExpiry, err := time.ParseDuration(viper.GetString("jwt.access_expiry"))
	if err != nil {
		accessExpiry = 15 * time.Minute
	}

	refreshExpiry, err := time.ParseDuration(viper.GetString("jwt.refresh_expiry"))
	if err != nil {
		refreshExpiry = 7 * 24 * time.Hour
	}

	jwtSecret := viper.GetString("jwt.secret")

	// 安全检查：禁止使用默认的 JWT secret
	if jwtSecret == "change-me-in-production" {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret cannot be the default value. Please set MAILTRIAGE_JWT_SECRET environment variable")
	}

	// JWT secret 必须至少 32 字符
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: serverHost,
			Port: serverPort,
		},
		Triage: TriageConfig{
			ActionKeywords:      keywords,
			ReplyCountThreshold: replyThreshold,
			StaleUnreadDays:     staleDays,
			BatchWorkers:        batchWorkers,
			SnoozeDefault:       snoozeDefault,
		},
		Classifier: ClassifierConfig{
			BaseURL:       viper.GetString("classifier.base_url"),
			APIKey:        viper.GetString("classifier.api_key"),
			Timeout:       classifierTimeout,
			RatePerSecond: ratePerSecond,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:        jwtSecret,
			Issuer:        viper.GetString("jwt.issuer"),
			AccessExpiry:  accessExpiry,
			RefreshExpiry: refreshExpiry,
		},
	}

	return cfg, nil
}

// parseKeywords 将逗号分隔的关键词字符串解析为小写关键词数组
//
// 参数:
//   - value: 逗号分隔的关键词字符串，如 "can you,please confirm"
//
// 返回值:
//   - []string: 解析后的小写关键词数组，留空表示使用内置列表
func parseKeywords(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（用于从 backend/ 子目录运行的情况）
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	// 尝试当前目录的 .env
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	// 尝试父目录的 .env（从 backend/ 目录运行时）
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
