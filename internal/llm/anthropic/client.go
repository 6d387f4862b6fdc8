package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "duotronics/internal/errors"
	"duotronics/internal/llm"
)

const (
	defaultBaseURL  = "https://api.anthropic.com/v1"
	defaultVersion  = "2023-06-01"
	defaultTimeout  = 120 * time.Second
	fallbackMessage = "Anthropic API error"
	maxErrorBody    = 4096
)

// Config 描述了调用 Anthropic Messages API 所需的连接信息。
type Config struct {
	BaseURL    string
	Version    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client 通过 HTTP 调用 Anthropic Messages API。
type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client
}

// NewClient 根据配置创建 Anthropic 客户端。
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = defaultVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: baseURL, version: version, httpClient: httpClient}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete 调用 Messages 接口并返回 content[0].text。
func (c *Client) Complete(ctx context.Context, inv llm.Invocation) (string, error) {
	conversation := llm.WithoutSystem(inv.Messages)
	messages := make([]message, 0, len(conversation))
	for _, msg := range conversation {
		messages = append(messages, message{Role: string(msg.Role), Content: msg.Content})
	}
	maxTokens := inv.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.PipelineMaxTokens
	}

	payload, err := json.Marshal(request{
		Model:     inv.Model,
		MaxTokens: maxTokens,
		System:    inv.System,
		Messages:  messages,
	})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, fmt.Errorf("序列化 Anthropic 请求失败: %w", err), "")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, fmt.Errorf("构建 Anthropic 请求失败: %w", err), "")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", inv.APIKey)
	httpReq.Header.Set("anthropic-version", c.version)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		code := xerrors.CodeTransportFailure
		if errors.Is(err, context.DeadlineExceeded) {
			code = xerrors.CodeTimeout
		}
		return "", xerrors.Wrap(code, err, "", xerrors.WithMetadata("provider", string(llm.ProviderAnthropic)))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", llm.RejectedError(llm.ProviderAnthropic, resp.StatusCode, body, fallbackMessage)
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", malformed(fmt.Errorf("解析 Anthropic 响应失败: %w", err))
	}
	if len(decoded.Content) == 0 {
		return "", malformed(errors.New("Anthropic 响应中没有 content"))
	}
	text := decoded.Content[0].Text
	if strings.TrimSpace(text) == "" {
		return "", malformed(errors.New("Anthropic 响应内容为空"))
	}
	return text, nil
}

// malformed 保留注册表中的英文提示，细节放在 cause 中。
func malformed(cause error) error {
	return xerrors.Wrap(xerrors.CodeMalformedResponse, cause, "",
		xerrors.WithMetadata("provider", string(llm.ProviderAnthropic)))
}
