package duotronics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// A chat round trip makes two sequential model calls, so it is generous.
const DefaultHTTPTimeout = 5 * time.Minute

// Client wraps the HTTP interactions with a duotronicsd instance.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResult is the outcome of one Logic then Artist run. Content always
// equals ArtistResponse.
type ChatResult struct {
	ID             string `json:"id,omitempty"`
	Content        string `json:"content"`
	LogicResponse  string `json:"logicResponse"`
	ArtistResponse string `json:"artistResponse"`
}

// Hemisphere is the provider, credential and model of one hemisphere.
type Hemisphere struct {
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey,omitempty"`
	Model    string `json:"model"`
}

// Settings carries both hemispheres; it is always written as a whole.
type Settings struct {
	Logic  Hemisphere `json:"logic"`
	Artist Hemisphere `json:"artist"`
}

// ConfigStatus is the public view of the stored settings. Credentials are
// never returned by the server.
type ConfigStatus struct {
	Configured bool        `json:"configured"`
	Logic      *Hemisphere `json:"logic,omitempty"`
	Artist     *Hemisphere `json:"artist,omitempty"`
}

// KeyTest asks the server to validate a credential and model pair.
type KeyTest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey"`
	Model    string `json:"model,omitempty"`
}

// KeyTestResult reports whether the pair is usable.
type KeyTestResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// APIError represents a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("duotronics api error (%d): %s", e.StatusCode, e.Message)
}

// NotConfigured reports whether the server has no usable hemisphere settings.
func (e *APIError) NotConfigured() bool {
	return e != nil && e.StatusCode == http.StatusServiceUnavailable
}

// NewClient instantiates a client for the duotronicsd API. When httpClient is
// nil, a default client is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Chat runs the pipeline over the conversation.
func (c *Client) Chat(ctx context.Context, messages []Message) (ChatResult, error) {
	var result ChatResult
	payload := struct {
		Messages []Message `json:"messages"`
	}{Messages: messages}
	if err := c.post(ctx, "/api/chat", payload, &result); err != nil {
		return ChatResult{}, err
	}
	return result, nil
}

// Config returns the public view of the stored settings.
func (c *Client) Config(ctx context.Context) (ConfigStatus, error) {
	var status ConfigStatus
	if err := c.get(ctx, "/api/config", &status); err != nil {
		return ConfigStatus{}, err
	}
	return status, nil
}

// SaveConfig overwrites the stored settings.
func (c *Client) SaveConfig(ctx context.Context, settings Settings) error {
	var resp KeyTestResult
	if err := c.post(ctx, "/api/config", settings, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &APIError{StatusCode: http.StatusOK, Message: resp.Error}
	}
	return nil
}

// TestKey validates a credential without persisting it.
func (c *Client) TestKey(ctx context.Context, test KeyTest) (KeyTestResult, error) {
	var result KeyTestResult
	if err := c.post(ctx, "/api/test-key", test, &result); err != nil {
		return KeyTestResult{}, err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
