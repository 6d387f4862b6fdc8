package mysql

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"duotronics/deploy/migrations"
)

var embeddedMigrations fs.FS = migrations.Files

const (
	createMigrationsTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`
	selectAppliedSQL = `SELECT version FROM schema_migrations`
	recordAppliedSQL = `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`
)

type migration struct {
	version    string
	name       string
	statements []string
}

// runMigrations 依次执行尚未应用的内嵌迁移，每个迁移一个事务。
func (s *Store) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createMigrationsTableSQL); err != nil {
		return fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, selectAppliedSQL)
	if err != nil {
		return fmt.Errorf("查询 schema_migrations 失败: %w", err)
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("解析 schema_migrations 失败: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("遍历 schema_migrations 失败: %w", err)
	}

	pending, err := readMigrations(embeddedMigrations)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if applied[m.version] {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}
	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("执行迁移 %s 失败: %w", m.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, recordAppliedSQL, m.version, s.now().Unix()); err != nil {
		tx.Rollback()
		return fmt.Errorf("记录迁移版本失败: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移事务失败: %w", err)
	}
	return nil
}

// readMigrations 读取 *.sql 文件并按版本号排序，版本号取文件名中第一个下划线之前的部分。
func readMigrations(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录失败: %w", err)
	}

	var out []migration
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		statements := splitStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		version := strings.TrimSuffix(name, ".sql")
		if idx := strings.IndexByte(version, '_'); idx > 0 {
			version = version[:idx]
		}
		out = append(out, migration{version: version, name: name, statements: statements})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].version == out[j].version {
			return out[i].name < out[j].name
		}
		return out[i].version < out[j].version
	})
	return out, nil
}

func splitStatements(content string) []string {
	var statements []string
	for _, stmt := range strings.Split(content, ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}
