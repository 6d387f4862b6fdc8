package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"duotronics/pkg/logger"
)

const (
	// EnvConfigPath 指定守护进程配置文件的位置。
	EnvConfigPath = "DUOTRONICS_CONFIG"
	// DefaultPath 是未显式指定时使用的配置文件。
	DefaultPath = "configs/duotronics.yaml"

	envAddress     = "DUOTRONICS_ADDR"
	envStoreDriver = "DUOTRONICS_STORE_DRIVER"
	envStorePath   = "DUOTRONICS_STORE_PATH"
)

// 存储、密钥与事件的驱动名称。
const (
	StoreFile  = "file"
	StoreRedis = "redis"
	StoreMySQL = "mysql"

	SecretsPlaintext = "plaintext"
	SecretsSecretbox = "secretbox"

	EventsNone     = "none"
	EventsRabbitMQ = "rabbitmq"
)

// Config 描述了 duotronicsd 启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Secrets   SecretsConfig   `json:"secrets" yaml:"secrets"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Events    EventsConfig    `json:"events" yaml:"events"`
	Logging   logger.Config   `json:"logging" yaml:"logging"`
}

// ServerConfig 控制 API 服务与指标服务的监听地址。
type ServerConfig struct {
	Address                string `json:"address" yaml:"address"`
	MetricsAddress         string `json:"metrics_address" yaml:"metrics_address"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
}

// ShutdownTimeout 返回优雅退出的等待时间。
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// StoreConfig 选择半球配置的持久化后端。
type StoreConfig struct {
	Driver string      `json:"driver" yaml:"driver"`
	Path   string      `json:"path" yaml:"path"`
	Redis  RedisConfig `json:"redis" yaml:"redis"`
	MySQL  MySQLConfig `json:"mysql" yaml:"mysql"`
}

// RedisConfig 描述 Redis 后端。
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Key      string `json:"key" yaml:"key"`
}

// MySQLConfig 描述 MySQL 后端及连接池参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
}

// SecretsConfig 决定 API 密钥落盘前是否加密。
type SecretsConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	// KeyEnv 是保存 base64 编码 32 字节密钥的环境变量名。
	KeyEnv string `json:"key_env" yaml:"key_env"`
}

// ProvidersConfig 描述各厂商 API 的访问方式。
type ProvidersConfig struct {
	Anthropic      AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	OpenAI         OpenAIConfig    `json:"openai" yaml:"openai"`
	TimeoutSeconds int             `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Timeout 返回单次厂商调用的传输层超时。
func (p ProvidersConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// AnthropicConfig 描述 Anthropic Messages API。
type AnthropicConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Version string `json:"version" yaml:"version"`
}

// OpenAIConfig 描述 OpenAI Chat Completions API。
type OpenAIConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
}

// EventsConfig 控制流水线运行事件的投递。
type EventsConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RabbitMQConfig 描述事件投递使用的交换机。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url"`
	Exchange   string `json:"exchange" yaml:"exchange"`
	RoutingKey string `json:"routing_key" yaml:"routing_key"`
}

// ResolvePath 依次使用显式参数、环境变量与默认值确定配置路径。
func ResolvePath(flagValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(EnvConfigPath)); v != "" {
		return v
	}
	return DefaultPath
}

// Load 解析指定路径的配置文件。文件不存在时返回默认配置。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	var cfg Config
	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	default:
		if err := decode(path, content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, content []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.Unmarshal(content, cfg)
	}
	return yaml.Unmarshal(content, cfg)
}

// applyEnv 使用环境变量覆盖文件中的值。
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(envAddress)); v != "" {
		c.Server.Address = v
	}
	if v := strings.TrimSpace(os.Getenv(envStoreDriver)); v != "" {
		c.Store.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv(envStorePath)); v != "" {
		c.Store.Path = v
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = StoreFile
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(baseDir, "config.yaml")
	} else if !filepath.IsAbs(c.Store.Path) {
		c.Store.Path = filepath.Join(baseDir, c.Store.Path)
	}
	if c.Store.Redis.Address == "" {
		c.Store.Redis.Address = "127.0.0.1:6379"
	}

	c.Secrets.Driver = strings.ToLower(strings.TrimSpace(c.Secrets.Driver))
	if c.Secrets.Driver == "" {
		c.Secrets.Driver = SecretsPlaintext
	}
	if c.Secrets.KeyEnv == "" {
		c.Secrets.KeyEnv = "DUOTRONICS_SECRET_KEY"
	}

	if c.Providers.Anthropic.BaseURL == "" {
		c.Providers.Anthropic.BaseURL = "https://api.anthropic.com/v1"
	}
	if c.Providers.Anthropic.Version == "" {
		c.Providers.Anthropic.Version = "2023-06-01"
	}
	if c.Providers.OpenAI.BaseURL == "" {
		c.Providers.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.Providers.TimeoutSeconds <= 0 {
		c.Providers.TimeoutSeconds = 120
	}

	c.Events.Driver = strings.ToLower(strings.TrimSpace(c.Events.Driver))
	if c.Events.Driver == "" {
		c.Events.Driver = EventsNone
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}
}

// Validate 检查驱动名称与必填字段。
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreFile, StoreRedis:
	case StoreMySQL:
		if strings.TrimSpace(c.Store.MySQL.DSN) == "" {
			return errors.New("store.mysql.dsn 不能为空")
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Store.Driver)
	}

	switch c.Secrets.Driver {
	case SecretsPlaintext, SecretsSecretbox:
	default:
		return fmt.Errorf("不支持的密钥驱动: %s", c.Secrets.Driver)
	}

	switch c.Events.Driver {
	case EventsNone:
	case EventsRabbitMQ:
		if strings.TrimSpace(c.Events.RabbitMQ.URL) == "" {
			return errors.New("events.rabbitmq.url 不能为空")
		}
	default:
		return fmt.Errorf("不支持的事件驱动: %s", c.Events.Driver)
	}
	return nil
}
