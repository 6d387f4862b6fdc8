package hemisphere

import (
	"context"
	"fmt"
	"strings"

	xerrors "duotronics/internal/errors"
	"duotronics/internal/llm"
)

// Name 标识流水线中的一个半球。
type Name string

const (
	Logic  Name = "logic"
	Artist Name = "artist"
)

// Config 是单个半球的厂商、凭证与模型。
type Config struct {
	Provider llm.Provider `json:"provider" yaml:"provider"`
	APIKey   string       `json:"apiKey" yaml:"apiKey"`
	Model    string       `json:"model" yaml:"model"`
}

// Settings 是两个半球配置的整体记录，总是整体读写。
type Settings struct {
	Logic  Config `json:"logic" yaml:"logic"`
	Artist Config `json:"artist" yaml:"artist"`
}

// PublicConfig 是不含凭证的半球配置视图。
type PublicConfig struct {
	Provider llm.Provider `json:"provider"`
	Model    string       `json:"model"`
}

// Public 返回不含凭证的配置视图。
func (c Config) Public() PublicConfig {
	return PublicConfig{Provider: c.Provider, Model: c.Model}
}

// Get 按名称返回半球配置。
func (s Settings) Get(name Name) Config {
	if name == Artist {
		return s.Artist
	}
	return s.Logic
}

// Credentialed 判断两个半球是否都填写了凭证。
func (s Settings) Credentialed() bool {
	return strings.TrimSpace(s.Logic.APIKey) != "" && strings.TrimSpace(s.Artist.APIKey) != ""
}

// Complete 判断流水线运行所需的凭证与模型是否齐全。
func (s Settings) Complete() bool {
	return s.Credentialed() &&
		strings.TrimSpace(s.Logic.Model) != "" &&
		strings.TrimSpace(s.Artist.Model) != ""
}

// Validate 校验写入前的配置。
func (s Settings) Validate() error {
	for _, name := range []Name{Logic, Artist} {
		cfg := s.Get(name)
		if _, err := llm.ParseProvider(string(cfg.Provider)); err != nil {
			return xerrors.New(xerrors.CodeUnsupportedProvider, fmt.Sprintf("%s: unknown provider %q", name, cfg.Provider))
		}
		if strings.TrimSpace(cfg.APIKey) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s: apiKey is required", name))
		}
	}
	return nil
}

// Normalize 统一厂商大小写，并为缺省模型填入默认值。
func (s Settings) Normalize() Settings {
	normalize := func(c Config) Config {
		if p, err := llm.ParseProvider(string(c.Provider)); err == nil {
			c.Provider = p
		}
		c.APIKey = strings.TrimSpace(c.APIKey)
		c.Model = strings.TrimSpace(c.Model)
		if c.Model == "" {
			c.Model = llm.DefaultModel(c.Provider)
		}
		return c
	}
	return Settings{Logic: normalize(s.Logic), Artist: normalize(s.Artist)}
}

// Resolve 规范化从存储读出的记录，使手工编辑的厂商名与接口写入的一致。
// 无法识别的厂商视为未配置，缺省模型保持为空。
func (s Settings) Resolve() (Settings, error) {
	resolve := func(name Name, c Config) (Config, error) {
		p, err := llm.ParseProvider(string(c.Provider))
		if err != nil {
			return c, NotConfigured(fmt.Errorf("%s: 无法识别已保存的厂商 %q: %w", name, c.Provider, err))
		}
		c.Provider = p
		c.APIKey = strings.TrimSpace(c.APIKey)
		c.Model = strings.TrimSpace(c.Model)
		return c, nil
	}
	logic, err := resolve(Logic, s.Logic)
	if err != nil {
		return s, err
	}
	artist, err := resolve(Artist, s.Artist)
	if err != nil {
		return s, err
	}
	return Settings{Logic: logic, Artist: artist}, nil
}

// ErrNotConfigured 表示存储中没有可用的半球配置。
var ErrNotConfigured = xerrors.New(xerrors.CodeNotConfigured, "")

// Store 抽象半球配置的持久化。
type Store interface {
	// Read 返回当前配置；记录不存在或无法解析时返回 ErrNotConfigured。
	Read(ctx context.Context) (*Settings, error)
	// Write 整体覆盖已保存的配置。
	Write(ctx context.Context, settings Settings) error
}

// Load 读取并规范化存储中的配置，任何读取失败都归为未配置。
func Load(ctx context.Context, store Store) (*Settings, error) {
	if store == nil {
		return nil, ErrNotConfigured
	}
	settings, err := store.Read(ctx)
	if err != nil {
		return nil, NotConfigured(err)
	}
	if settings == nil {
		return nil, ErrNotConfigured
	}
	resolved, err := settings.Resolve()
	if err != nil {
		return nil, err
	}
	return &resolved, nil
}

// IsConfigured 判断存储中是否存在两个半球都带有凭证且厂商可识别的配置。
func IsConfigured(ctx context.Context, store Store) bool {
	settings, err := Load(ctx, store)
	if err != nil {
		return false
	}
	return settings.Credentialed()
}

// NotConfigured 将任意读取错误包装为未配置错误，保留原始原因。
func NotConfigured(cause error) error {
	if cause == nil {
		return ErrNotConfigured
	}
	if xerrors.CodeOf(cause) == xerrors.CodeNotConfigured {
		return cause
	}
	return xerrors.Wrap(xerrors.CodeNotConfigured, cause, "")
}
