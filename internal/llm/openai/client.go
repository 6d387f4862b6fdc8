package openai

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
	defaultBaseURL  = "https://api.openai.com/v1"
	defaultTimeout  = 120 * time.Second
	fallbackMessage = "OpenAI API error"
	maxErrorBody    = 4096
)

// Config 描述了调用 OpenAI Chat Completions API 所需的连接信息。
// 凭证不在此处配置，而是随每次调用传入。
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client 通过 HTTP 调用 OpenAI 提供的大模型能力。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{baseURL: baseURL, httpClient: httpClient}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

// Complete 调用 Chat Completions 接口并返回 choices[0].message.content。
func (c *Client) Complete(ctx context.Context, inv llm.Invocation) (string, error) {
	payload, err := buildPayload(inv)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, fmt.Errorf("构建 OpenAI 请求失败: %w", err), "")
	}
	httpReq.Header.Set("Authorization", "Bearer "+inv.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", xerrors.Wrap(xerrors.CodeTimeout, err, "", xerrors.WithMetadata("provider", string(llm.ProviderOpenAI)))
		}
		return "", xerrors.Wrap(xerrors.CodeTransportFailure, err, "", xerrors.WithMetadata("provider", string(llm.ProviderOpenAI)))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", llm.RejectedError(llm.ProviderOpenAI, resp.StatusCode, body, fallbackMessage)
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", malformed(fmt.Errorf("解析 OpenAI 响应失败: %w", err))
	}
	if len(decoded.Choices) == 0 {
		return "", malformed(errors.New("OpenAI 响应中没有有效的 choices"))
	}

	content := decoded.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", malformed(errors.New("OpenAI 响应内容为空"))
	}
	return content, nil
}

// malformed 保留注册表中的英文提示，细节放在 cause 中。
func malformed(cause error) error {
	return xerrors.Wrap(xerrors.CodeMalformedResponse, cause, "",
		xerrors.WithMetadata("provider", string(llm.ProviderOpenAI)))
}

// buildPayload 将系统提示词作为第一条 system 消息，其余 system 消息被丢弃。
func buildPayload(inv llm.Invocation) ([]byte, error) {
	conversation := llm.WithoutSystem(inv.Messages)
	messages := make([]message, 0, len(conversation)+1)
	if system := strings.TrimSpace(inv.System); system != "" {
		messages = append(messages, message{Role: string(llm.RoleSystem), Content: inv.System})
	}
	for _, msg := range conversation {
		messages = append(messages, message{Role: string(msg.Role), Content: msg.Content})
	}

	maxTokens := inv.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.PipelineMaxTokens
	}

	encoded, err := json.Marshal(request{
		Model:     inv.Model,
		MaxTokens: maxTokens,
		Messages:  messages,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, fmt.Errorf("序列化 OpenAI 请求失败: %w", err), "")
	}
	return encoded, nil
}
