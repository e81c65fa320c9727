package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации агента.
type Config struct {
	Platform   PlatformConfig   `mapstructure:"platform"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Server     ServerConfig     `mapstructure:"server"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// PlatformConfig — доступ к чат-платформе.
type PlatformConfig struct {
	Token      string `mapstructure:"token"` // bearer-токен бота, обязателен
	GatewayURL string `mapstructure:"gateway_url"`
	APIBase    string `mapstructure:"api_base"`
}

// PolicyConfig — единственная политика процесса.
type PolicyConfig struct {
	ProhibitedRoleID string `mapstructure:"prohibited_role_id"` // обязателен
	AuditChannel     string `mapstructure:"audit_channel"`      // имя канала уведомлений, опционально
}

type SupervisorConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	ClosedBackoff     time.Duration `mapstructure:"closed_backoff"`
	FailureBackoff    time.Duration `mapstructure:"failure_backoff"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
}

type ScannerConfig struct {
	MemberDelay time.Duration `mapstructure:"member_delay"` // пауза между участниками
	PageSize    int           `mapstructure:"page_size"`
}

type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// ServerConfig описывает настройки Console API.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // пусто — /metrics не поднимаем
}

// DatabaseConfig описывает подключение к PostgreSQL (журнал решений).
// Пустой URL — журнал пишется в процесс-лог.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig — Pub/Sub для kill-switch. Пустой Addr выключает механизм.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам, настройки JWT и админа консоли.
type AuthConfig struct {
	PublicKeyPath     string        `mapstructure:"public_key_path"`
	PrivateKeyPath    string        `mapstructure:"private_key_path"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
	AdminUsername     string        `mapstructure:"admin_username"`
	AdminPasswordHash string        `mapstructure:"admin_password_hash"` // bcrypt
	PublicKey         []byte
	PrivateKey        []byte
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: PLATFORM_TOKEN=... перекроет platform.token
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключи консоли: PEM из ENV (Docker/K8s) или файл по пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate — без токена и запрещенной роли агенту нечего делать.
func (c *Config) Validate() error {
	if c.Platform.Token == "" {
		return errors.New("platform.token is required")
	}
	if c.Policy.ProhibitedRoleID == "" {
		return errors.New("policy.prohibited_role_id is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("platform.gateway_url", "wss://gateway.discord.gg/?v=10&encoding=json")
	v.SetDefault("platform.api_base", "https://discord.com/api/v10")
	v.SetDefault("supervisor.max_attempts", 10)
	v.SetDefault("supervisor.closed_backoff", 5*time.Second)
	v.SetDefault("supervisor.failure_backoff", 10*time.Second)
	v.SetDefault("supervisor.keepalive_interval", 5*time.Minute)
	v.SetDefault("scanner.member_delay", 100*time.Millisecond)
	v.SetDefault("scanner.page_size", 1000)
	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.flush_interval", time.Second)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8099)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource — универсальный хелпер: сырой PEM из ENV или файл по пути.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
