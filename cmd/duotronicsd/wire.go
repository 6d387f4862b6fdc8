package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"duotronics/internal/config"
	"duotronics/internal/events"
	"duotronics/internal/hemisphere"
	"duotronics/internal/llm"
	"duotronics/internal/llm/anthropic"
	"duotronics/internal/llm/openai"
	"duotronics/internal/storage/file"
	"duotronics/internal/storage/mysql"
	"duotronics/internal/storage/redis"
)

// buildStore 按驱动创建半球配置存储，并按密钥配置包装加解密。
func buildStore(ctx context.Context, cfg *config.Config) (hemisphere.Store, func(), error) {
	var (
		inner   hemisphere.Store
		closeFn = func() {}
	)
	switch cfg.Store.Driver {
	case config.StoreFile:
		inner = file.NewStore(cfg.Store.Path)
	case config.StoreRedis:
		store, err := redis.NewStore(ctx, redis.Config{
			Address:  cfg.Store.Redis.Address,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Key:      cfg.Store.Redis.Key,
		})
		if err != nil {
			return nil, nil, err
		}
		inner, closeFn = store, func() { _ = store.Close() }
	case config.StoreMySQL:
		store, err := mysql.NewStore(ctx, mysql.Config{
			DSN:             cfg.Store.MySQL.DSN,
			MaxOpenConns:    cfg.Store.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Store.MySQL.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		inner, closeFn = store, func() { _ = store.Close() }
	default:
		return nil, nil, fmt.Errorf("不支持的存储驱动: %s", cfg.Store.Driver)
	}

	sealer, err := buildSealer(cfg.Secrets)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return hemisphere.NewSealedStore(inner, sealer), closeFn, nil
}

func buildSealer(cfg config.SecretsConfig) (hemisphere.Sealer, error) {
	switch cfg.Driver {
	case config.SecretsPlaintext:
		return hemisphere.PlaintextSealer{}, nil
	case config.SecretsSecretbox:
		key := strings.TrimSpace(os.Getenv(cfg.KeyEnv))
		if key == "" {
			return nil, fmt.Errorf("环境变量 %s 未设置", cfg.KeyEnv)
		}
		sealer, err := hemisphere.NewSecretboxSealer(key)
		if err != nil {
			return nil, err
		}
		return sealer, nil
	default:
		return nil, fmt.Errorf("不支持的密钥驱动: %s", cfg.Driver)
	}
}

func buildRegistry(cfg *config.Config) llm.Registry {
	timeout := cfg.Providers.Timeout()
	return llm.Registry{
		llm.ProviderAnthropic: anthropic.NewClient(anthropic.Config{
			BaseURL: cfg.Providers.Anthropic.BaseURL,
			Version: cfg.Providers.Anthropic.Version,
			Timeout: timeout,
		}),
		llm.ProviderOpenAI: openai.NewClient(openai.Config{
			BaseURL: cfg.Providers.OpenAI.BaseURL,
			Timeout: timeout,
		}),
	}
}

func buildPublisher(cfg *config.Config) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case config.EventsNone:
		return events.Noop{}, nil
	case config.EventsRabbitMQ:
		publisher, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:        cfg.Events.RabbitMQ.URL,
			Exchange:   cfg.Events.RabbitMQ.Exchange,
			RoutingKey: cfg.Events.RabbitMQ.RoutingKey,
		})
		if err != nil {
			return nil, err
		}
		return publisher, nil
	default:
		return nil, fmt.Errorf("不支持的事件驱动: %s", cfg.Events.Driver)
	}
}
