package file

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "duotronics/internal/errors"
	"duotronics/internal/hemisphere"
)

// Store 将半球配置保存为一个人类可读的 YAML 文件。
type Store struct {
	path string
}

// NewStore 创建文件存储。path 为空时使用工作目录下的 config.yaml。
func NewStore(path string) *Store {
	if strings.TrimSpace(path) == "" {
		path = "config.yaml"
	}
	return &Store{path: path}
}

// Path 返回存储文件路径。
func (s *Store) Path() string {
	return s.path
}

// Read 实现 hemisphere.Store。文件不存在或内容无法解析都视为未配置。
func (s *Store) Read(_ context.Context) (*hemisphere.Settings, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if stdErrors.Is(err, fs.ErrNotExist) {
			return nil, hemisphere.ErrNotConfigured
		}
		return nil, hemisphere.NotConfigured(fmt.Errorf("读取配置文件失败: %w", err))
	}

	var settings hemisphere.Settings
	if err := yaml.Unmarshal(content, &settings); err != nil {
		return nil, hemisphere.NotConfigured(fmt.Errorf("解析配置文件失败: %w", err))
	}
	return &settings, nil
}

// Write 实现 hemisphere.Store，整体覆盖文件内容。
func (s *Store) Write(_ context.Context, settings hemisphere.Settings) error {
	encoded, err := yaml.Marshal(settings)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("序列化配置失败: %w", err), "")
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("创建配置目录失败: %w", err), "")
		}
	}
	if err := os.WriteFile(s.path, encoded, 0o600); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("写入配置文件失败: %w", err), "")
	}
	return nil
}
