package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
	Dispatch DispatchConfig `json:"dispatch"`
	Notify   NotifyConfig   `json:"notify"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env             string        `json:"env"`              // 运行环境: local / prod
	LogLevel        string        `json:"log_level"`        // 日志级别: debug / info / warn / error
	HTTPAddr        string        `json:"http_addr"`        // API 服务监听地址
	BaseURL         string        `json:"base_url"`         // 对外访问地址（用于邮件中的验证链接）
	RateLimit       float64       `json:"rate_limit"`       // 公开认证接口限流速率（token/s）
	RateBurst       float64       `json:"rate_burst"`       // 限流桶容量
	SeedDemo        bool          `json:"seed_demo"`        // 启动时创建演示账号
	DemoPassword    string        `json:"demo_password"`    // 演示账号密码
	ShutdownTimeout time.Duration `json:"shutdown_timeout"` // 优雅关闭等待时间（如 "10s"）
}

// DatabaseConfig 数据库配置。
type DatabaseConfig struct {
	Driver          string        `json:"driver"`            // mysql / sqlite
	DSN             string        `json:"dsn"`               // 数据库连接字符串（sqlite 为文件路径）
	MaxOpenConns    int           `json:"max_open_conns"`    // 连接池上限
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"` // 连接最长存活时间
}

// RedisConfig Redis 配置。Addr 为空表示不使用 Redis。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件发送配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret    string        `json:"jwt_secret"`    // JWT 签名密钥
	TokenTTL     time.Duration `json:"token_ttl"`     // 登录令牌有效期
	CookieName   string        `json:"cookie_name"`   // 登录 Cookie 名称
	CookieSecure bool          `json:"cookie_secure"` // 是否仅通过 HTTPS 发送 Cookie
	BcryptCost   int           `json:"bcrypt_cost"`   // bcrypt 计算成本
}

// DispatchConfig 提醒派发配置。
type DispatchConfig struct {
	Interval       time.Duration `json:"interval"`        // 轮询间隔
	BatchSize      int           `json:"batch_size"`      // 每个周期最多处理的提醒数
	ChannelTimeout time.Duration `json:"channel_timeout"` // 单次渠道投递超时
	DeliveryMode   string        `json:"delivery_mode"`   // 默认渠道；为 local-notify 时每条提醒都额外发送本机通知
	ReceiptTTL     time.Duration `json:"receipt_ttl"`     // 投递回执保留时间
}

// NotifyConfig 投递渠道配置。
type NotifyConfig struct {
	LocalCommand     string        `json:"local_command"`      // 本机通知命令
	ChatRelayURL     string        `json:"chat_relay_url"`     // 聊天机器人转发地址
	ChatRelayTimeout time.Duration `json:"chat_relay_timeout"` // 转发请求超时
	ChatRelayRate    int           `json:"chat_relay_rate"`    // 转发速率上限（条/秒）
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		// 即使没有配置文件，也允许环境变量覆盖默认值
		applyEnvOverrides(cfg)
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// 应用默认值（对于未设置的字段）
	applyDefaults(cfg)

	// 环境变量优先覆盖配置
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置中无法通过默认值修复的错误。
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Dispatch.DeliveryMode {
	case "local-notify", "chat-relay", "browser-poll":
	default:
		return fmt.Errorf("unsupported delivery mode %q", c.Dispatch.DeliveryMode)
	}
	if c.Dispatch.Interval < time.Second {
		return fmt.Errorf("dispatch interval %s is below 1s", c.Dispatch.Interval)
	}
	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:             "local",
			LogLevel:        "info",
			HTTPAddr:        ":3000",
			BaseURL:         "http://127.0.0.1:3000",
			RateLimit:       1,
			RateBurst:       5,
			SeedDemo:        false,
			DemoPassword:    "demo-password",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "mysql",
			DSN:             "root:@tcp(127.0.0.1:3306)/produse?parseTime=true&loc=UTC",
			MaxOpenConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
		Security: SecurityConfig{
			JWTSecret:    "dev_secret_change_me",
			TokenTTL:     7 * 24 * time.Hour,
			CookieName:   "token",
			CookieSecure: false,
			BcryptCost:   12,
		},
		Dispatch: DispatchConfig{
			Interval:       10 * time.Second,
			BatchSize:      50,
			ChannelTimeout: 5 * time.Second,
			DeliveryMode:   "local-notify",
			ReceiptTTL:     24 * time.Hour,
		},
		Notify: NotifyConfig{
			LocalCommand:     "termux-notification",
			ChatRelayURL:     "http://127.0.0.1:8080/send-message",
			ChatRelayTimeout: 4 * time.Second,
			ChatRelayRate:    5,
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.BaseURL == "" {
		cfg.App.BaseURL = defaults.App.BaseURL
	}
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = defaults.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.App.DemoPassword == "" {
		cfg.App.DemoPassword = defaults.App.DemoPassword
	}
	if cfg.App.ShutdownTimeout == 0 {
		cfg.App.ShutdownTimeout = defaults.App.ShutdownTimeout
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaults.Database.Driver
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = defaults.Database.DSN
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = defaults.Database.MaxOpenConns
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = defaults.Database.ConnMaxLifetime
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.TokenTTL == 0 {
		cfg.Security.TokenTTL = defaults.Security.TokenTTL
	}
	if cfg.Security.CookieName == "" {
		cfg.Security.CookieName = defaults.Security.CookieName
	}
	if cfg.Security.BcryptCost == 0 {
		cfg.Security.BcryptCost = defaults.Security.BcryptCost
	}
	if cfg.Dispatch.Interval == 0 {
		cfg.Dispatch.Interval = defaults.Dispatch.Interval
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = defaults.Dispatch.BatchSize
	}
	if cfg.Dispatch.ChannelTimeout == 0 {
		cfg.Dispatch.ChannelTimeout = defaults.Dispatch.ChannelTimeout
	}
	if cfg.Dispatch.DeliveryMode == "" {
		cfg.Dispatch.DeliveryMode = defaults.Dispatch.DeliveryMode
	}
	if cfg.Dispatch.ReceiptTTL == 0 {
		cfg.Dispatch.ReceiptTTL = defaults.Dispatch.ReceiptTTL
	}
	if cfg.Notify.LocalCommand == "" {
		cfg.Notify.LocalCommand = defaults.Notify.LocalCommand
	}
	if cfg.Notify.ChatRelayURL == "" {
		cfg.Notify.ChatRelayURL = defaults.Notify.ChatRelayURL
	}
	if cfg.Notify.ChatRelayTimeout == 0 {
		cfg.Notify.ChatRelayTimeout = defaults.Notify.ChatRelayTimeout
	}
	if cfg.Notify.ChatRelayRate == 0 {
		cfg.Notify.ChatRelayRate = defaults.Notify.ChatRelayRate
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS", "MAIL_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("delivery_mode", "DELIVERY_MODE")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	} else if v := os.Getenv("PORT"); v != "" {
		cfg.App.HTTPAddr = ":" + v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.App.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}
	if v := os.Getenv("APP_SEED_DEMO"); v != "" {
		cfg.App.SeedDemo = v == "true" || v == "1"
	}
	if v := os.Getenv("APP_DEMO_PASSWORD"); v != "" {
		cfg.App.DemoPassword = v
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := os.Getenv("APP_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Security.TokenTTL = d
		}
	}
	if v := os.Getenv("APP_COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Security.CookieSecure = b
		}
	}

	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Database.DSN = v
	} else if cfg.Database.Driver == "mysql" &&
		(hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "") {
		parsed := parseMySQLDSN(cfg.Database.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = v + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.Database.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := firstEnv("SMTP_HOST", "MAIL_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := firstEnv("SMTP_PORT", "MAIL_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := firstEnv("SMTP_USER", "MAIL_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := firstEnv("SMTP_FROM", "MAIL_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}

	if v := viper.GetString("delivery_mode"); v != "" {
		cfg.Dispatch.DeliveryMode = strings.ToLower(v)
	}
	if v := os.Getenv("DISPATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dispatch.Interval = d
		}
	}
	if v := os.Getenv("DISPATCH_BATCH_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.BatchSize = i
		}
	}
	if v := os.Getenv("DISPATCH_CHANNEL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dispatch.ChannelTimeout = d
		}
	}

	if v := os.Getenv("LOCAL_NOTIFY_COMMAND"); v != "" {
		cfg.Notify.LocalCommand = v
	}
	if v := os.Getenv("CHAT_RELAY_URL"); v != "" {
		cfg.Notify.ChatRelayURL = v
	}
	if v := os.Getenv("CHAT_RELAY_RATE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Notify.ChatRelayRate = i
		}
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	if dsn != "" {
		if parsed, err := mysql.ParseDSN(dsn); err == nil {
			return parsed
		}
	}
	fallback := mysql.NewConfig()
	fallback.User = "root"
	fallback.Net = "tcp"
	fallback.Addr = "127.0.0.1:3306"
	fallback.DBName = "produse"
	fallback.ParseTime = true
	fallback.Loc = time.UTC
	return fallback
}
