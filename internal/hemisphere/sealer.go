package hemisphere

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// Sealer 负责在落盘前加密凭证、在读取后解密凭证。
type Sealer interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

// PlaintextSealer 原样保存凭证。凭证以明文形式落盘。
type PlaintextSealer struct{}

// Seal 实现 Sealer。
func (PlaintextSealer) Seal(plain string) (string, error) { return plain, nil }

// Open 实现 Sealer。
func (PlaintextSealer) Open(sealed string) (string, error) { return sealed, nil }

const sealedPrefix = "secretbox:"

// SecretboxSealer 使用 NaCl secretbox 加密凭证。
type SecretboxSealer struct {
	key [32]byte
}

// NewSecretboxSealer 从 base64 编码的 32 字节密钥创建 Sealer。
func NewSecretboxSealer(encodedKey string) (*SecretboxSealer, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, fmt.Errorf("解析 secretbox 密钥失败: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("secretbox 密钥长度必须为 32 字节，实际为 %d", len(raw))
	}
	s := &SecretboxSealer{}
	copy(s.key[:], raw)
	return s, nil
}

// Seal 实现 Sealer。空凭证保持为空，以便未配置判断不受影响。
func (s *SecretboxSealer) Seal(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("生成 nonce 失败: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(box), nil
}

// Open 实现 Sealer。未带前缀的值视为历史明文。
func (s *SecretboxSealer) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return sealed, nil
	}
	box, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("解码密文失败: %w", err)
	}
	if len(box) < 24 {
		return "", errors.New("密文长度不足")
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, &s.key)
	if !ok {
		return "", errors.New("凭证解密失败")
	}
	return string(plain), nil
}

// SealedStore 在底层 Store 之上透明地加解密凭证。
type SealedStore struct {
	inner  Store
	sealer Sealer
}

// NewSealedStore 包装 Store。sealer 为 nil 时使用 PlaintextSealer。
func NewSealedStore(inner Store, sealer Sealer) *SealedStore {
	if sealer == nil {
		sealer = PlaintextSealer{}
	}
	return &SealedStore{inner: inner, sealer: sealer}
}

// Read 实现 Store。无法解密的记录按未配置处理。
func (s *SealedStore) Read(ctx context.Context) (*Settings, error) {
	settings, err := s.inner.Read(ctx)
	if err != nil {
		return nil, err
	}
	opened := *settings
	if opened.Logic.APIKey, err = s.sealer.Open(settings.Logic.APIKey); err != nil {
		return nil, NotConfigured(err)
	}
	if opened.Artist.APIKey, err = s.sealer.Open(settings.Artist.APIKey); err != nil {
		return nil, NotConfigured(err)
	}
	return &opened, nil
}

// Write 实现 Store。
func (s *SealedStore) Write(ctx context.Context, settings Settings) error {
	sealed := settings
	var err error
	if sealed.Logic.APIKey, err = s.sealer.Seal(settings.Logic.APIKey); err != nil {
		return err
	}
	if sealed.Artist.APIKey, err = s.sealer.Seal(settings.Artist.APIKey); err != nil {
		return err
	}
	return s.inner.Write(ctx, sealed)
}
