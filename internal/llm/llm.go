package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	xerrors "duotronics/internal/errors"
)

// Role 表示对话消息的角色。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message 是与厂商无关的一条对话消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Provider 标识一个受支持的大模型厂商。
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

const (
	// PipelineMaxTokens 是流水线调用的输出上限。
	PipelineMaxTokens = 4096
	// ProbeMaxTokens 是连通性探测调用的输出上限。
	ProbeMaxTokens = 10
)

var catalogue = map[Provider][]string{
	ProviderAnthropic: {"claude-sonnet-4-5", "claude-opus-4-5", "claude-3-haiku-20240307"},
	ProviderOpenAI:    {"gpt-4o", "gpt-4-turbo", "gpt-3.5-turbo"},
}

// Providers 返回所有受支持的厂商。
func Providers() []Provider {
	return []Provider{ProviderAnthropic, ProviderOpenAI}
}

// ParseProvider 将字符串解析为 Provider。
func ParseProvider(raw string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := catalogue[p]; !ok {
		return "", xerrors.New(xerrors.CodeUnsupportedProvider, "", xerrors.WithMetadata("provider", raw))
	}
	return p, nil
}

// DefaultModel 返回厂商的默认模型。
func DefaultModel(p Provider) string {
	models := catalogue[p]
	if len(models) == 0 {
		return ""
	}
	return models[0]
}

// SuggestedModels 返回配置向导中展示的模型列表。
func SuggestedModels(p Provider) []string {
	return append([]string(nil), catalogue[p]...)
}

// Invocation 描述一次厂商调用。
type Invocation struct {
	APIKey    string
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
}

// Adapter 定义了调用单个厂商的统一接口。
type Adapter interface {
	Complete(ctx context.Context, inv Invocation) (string, error)
}

// AdapterFunc 允许普通函数实现 Adapter。
type AdapterFunc func(ctx context.Context, inv Invocation) (string, error)

// Complete 实现 Adapter。
func (f AdapterFunc) Complete(ctx context.Context, inv Invocation) (string, error) {
	return f(ctx, inv)
}

// Registry 将厂商映射到对应的适配器。
type Registry map[Provider]Adapter

// Adapter 返回厂商对应的适配器。
func (r Registry) Adapter(p Provider) (Adapter, error) {
	adapter, ok := r[p]
	if !ok || adapter == nil {
		return nil, xerrors.New(xerrors.CodeUnsupportedProvider, "", xerrors.WithMetadata("provider", string(p)))
	}
	return adapter, nil
}

// VendorMessage 从厂商的错误响应体中提取 error.message。
func VendorMessage(body []byte) string {
	var decoded struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return ""
	}
	return strings.TrimSpace(decoded.Error.Message)
}

// VendorMessageKey 是厂商原始错误信息在错误元数据中的键，仅在厂商返回了信息时存在。
const VendorMessageKey = "vendor_message"

// RejectedError 构造厂商拒绝请求时的统一错误。
func RejectedError(p Provider, status int, body []byte, fallback string) error {
	opts := []xerrors.Option{
		xerrors.WithMetadata("provider", string(p)),
		xerrors.WithMetadata("status", fmt.Sprint(status)),
	}
	message := VendorMessage(body)
	if message == "" {
		message = fallback
	} else {
		opts = append(opts, xerrors.WithMetadata(VendorMessageKey, message))
	}
	return xerrors.New(xerrors.CodeProviderRejected, message, opts...)
}
