package probe

import (
	"context"
	"log/slog"

	xerrors "duotronics/internal/errors"
	"duotronics/internal/llm"
	"duotronics/internal/observability/metrics"
	"duotronics/pkg/logger"
)

const (
	// probeUtterance 是探测时发送的唯一消息。
	probeUtterance = "Hi"

	msgKeyRequired     = "API key required"
	msgRejected        = "Invalid API key or model"
	msgConnection      = "Connection failed"
	msgUnknownProvider = "Unknown provider"
)

// Request 描述一次探测的输入。
type Request struct {
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey"`
	Model    string `json:"model"`
}

// Result 是探测结果，失败时 Error 为面向用户的简短说明。
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Prober 通过一次极小的调用验证凭据是否可用。
type Prober struct {
	adapters llm.Registry
	logger   *slog.Logger
}

// Option 定义 Prober 的可选配置。
type Option func(*Prober)

// WithLogger 设置日志。
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// New 创建 Prober。
func New(adapters llm.Registry, opts ...Option) *Prober {
	p := &Prober{adapters: adapters, logger: logger.Named("probe")}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Probe 执行一次探测。探测不会持久化任何内容。
func (p *Prober) Probe(ctx context.Context, req Request) Result {
	if req.APIKey == "" {
		return Result{Error: msgKeyRequired}
	}
	provider, err := llm.ParseProvider(req.Provider)
	if err != nil {
		return Result{Error: msgUnknownProvider}
	}
	adapter, err := p.adapters.Adapter(provider)
	if err != nil {
		return Result{Error: msgUnknownProvider}
	}

	model := req.Model
	if model == "" {
		model = llm.DefaultModel(provider)
	}

	_, err = adapter.Complete(ctx, llm.Invocation{
		APIKey:    req.APIKey,
		Model:     model,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: probeUtterance}},
		MaxTokens: llm.ProbeMaxTokens,
	})
	result := classify(err)
	metrics.ObserveProbe(string(provider), result.Success)

	log := logger.FromContext(ctx, p.logger)
	if result.Success {
		log.Info("probe succeeded", "provider", provider, "model", model)
	} else {
		log.Warn("probe failed", "provider", provider, "model", model, "code", xerrors.CodeOf(err), "error", err)
	}
	return result
}

// classify 将适配器错误映射为探测结果。
// 厂商返回 2xx 但响应体无法解析时仍视为成功。
func classify(err error) Result {
	if err == nil {
		return Result{Success: true}
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodeMalformedResponse:
		return Result{Success: true}
	case xerrors.CodeProviderRejected:
		if e, ok := xerrors.From(err); ok {
			if msg := e.Metadata()[llm.VendorMessageKey]; msg != "" {
				return Result{Error: msg}
			}
		}
		return Result{Error: msgRejected}
	case xerrors.CodeUnsupportedProvider:
		return Result{Error: msgUnknownProvider}
	default:
		return Result{Error: msgConnection}
	}
}
