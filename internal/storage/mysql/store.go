package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	xerrors "duotronics/internal/errors"
	"duotronics/internal/hemisphere"
	"duotronics/internal/llm"
)

const (
	selectHemispheresSQL = `SELECT name, provider, api_key, model FROM hemispheres`
	deleteHemispheresSQL = `DELETE FROM hemispheres`
	insertHemisphereSQL  = `INSERT INTO hemispheres (name, provider, api_key, model, updated_at) VALUES (?, ?, ?, ?, ?)`
)

// Store 将每个半球保存为 hemispheres 表中的一行。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore 连接 MySQL 并执行内嵌的迁移。
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("初始化 MySQL 存储失败: %w", err), "")
	}
	store := &Store{db: db, now: time.Now}
	if err := store.runMigrations(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("执行 MySQL 迁移失败: %w", err), "")
	}
	return store, nil
}

// Read 实现 hemisphere.Store。两个半球缺一即视为未配置。
func (s *Store) Read(ctx context.Context) (*hemisphere.Settings, error) {
	rows, err := s.db.QueryContext(ctx, selectHemispheresSQL)
	if err != nil {
		return nil, hemisphere.NotConfigured(fmt.Errorf("查询半球配置失败: %w", err))
	}
	defer rows.Close()

	var (
		settings hemisphere.Settings
		seen     = map[hemisphere.Name]bool{}
	)
	for rows.Next() {
		var name, provider, apiKey, model string
		if err := rows.Scan(&name, &provider, &apiKey, &model); err != nil {
			return nil, hemisphere.NotConfigured(fmt.Errorf("解析半球配置失败: %w", err))
		}
		cfg := hemisphere.Config{Provider: llm.Provider(provider), APIKey: apiKey, Model: model}
		switch hemisphere.Name(name) {
		case hemisphere.Logic:
			settings.Logic = cfg
		case hemisphere.Artist:
			settings.Artist = cfg
		default:
			continue
		}
		seen[hemisphere.Name(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, hemisphere.NotConfigured(fmt.Errorf("遍历半球配置失败: %w", err))
	}
	if !seen[hemisphere.Logic] || !seen[hemisphere.Artist] {
		return nil, hemisphere.ErrNotConfigured
	}
	return &settings, nil
}

// Write 实现 hemisphere.Store，在一个事务中替换全部记录。
func (s *Store) Write(ctx context.Context, settings hemisphere.Settings) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("开启事务失败: %w", err), "")
	}
	if _, err := tx.ExecContext(ctx, deleteHemispheresSQL); err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("清理半球配置失败: %w", err), "")
	}
	now := s.now().Unix()
	for _, name := range []hemisphere.Name{hemisphere.Logic, hemisphere.Artist} {
		cfg := settings.Get(name)
		if _, err := tx.ExecContext(ctx, insertHemisphereSQL, string(name), string(cfg.Provider), cfg.APIKey, cfg.Model, now); err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("写入 %s 配置失败: %w", name, err), "")
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("提交事务失败: %w", err), "")
	}
	return nil
}

// Close 关闭连接池。
func (s *Store) Close() error {
	return s.db.Close()
}
