package redis

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	xerrors "duotronics/internal/errors"
	"duotronics/internal/hemisphere"
)

const defaultKey = "duotronics:hemispheres"

// Config 描述 Redis 存储的连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Key      string
}

// Store 将半球配置以单个 YAML 值保存到 Redis。
type Store struct {
	client *goredis.Client
	key    string
}

// NewStore 创建 Redis 存储并校验连接。
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, stdErrors.New("Redis address 不能为空"), "")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("连接 Redis 失败: %w", err), "")
	}
	return NewStoreWithClient(client, cfg.Key), nil
}

// NewStoreWithClient 使用已有的客户端创建存储。
func NewStoreWithClient(client *goredis.Client, key string) *Store {
	if strings.TrimSpace(key) == "" {
		key = defaultKey
	}
	return &Store{client: client, key: key}
}

// Read 实现 hemisphere.Store。
func (s *Store) Read(ctx context.Context) (*hemisphere.Settings, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if stdErrors.Is(err, goredis.Nil) {
			return nil, hemisphere.ErrNotConfigured
		}
		return nil, hemisphere.NotConfigured(fmt.Errorf("读取 Redis 配置失败: %w", err))
	}
	var settings hemisphere.Settings
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return nil, hemisphere.NotConfigured(fmt.Errorf("解析 Redis 配置失败: %w", err))
	}
	return &settings, nil
}

// Write 实现 hemisphere.Store。SET 本身是原子的，读者不会看到半写的记录。
func (s *Store) Write(ctx context.Context, settings hemisphere.Settings) error {
	encoded, err := yaml.Marshal(settings)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("序列化配置失败: %w", err), "")
	}
	if err := s.client.Set(ctx, s.key, encoded, 0).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("写入 Redis 配置失败: %w", err), "")
	}
	return nil
}

// Close 关闭底层连接。
func (s *Store) Close() error {
	return s.client.Close()
}
