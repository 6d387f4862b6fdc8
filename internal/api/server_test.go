package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "duotronics/internal/errors"
	"duotronics/internal/hemisphere"
	"duotronics/internal/llm"
	"duotronics/internal/pipeline"
	"duotronics/internal/probe"
	"duotronics/internal/storage/file"
	"duotronics/pkg/logger"
)

type stubRunner struct {
	result *pipeline.Result
	err    error
	got    []llm.Message
	ctxErr error
}

func (s *stubRunner) Run(ctx context.Context, conversation []llm.Message) (*pipeline.Result, error) {
	s.got = conversation
	s.ctxErr = ctx.Err()
	return s.result, s.err
}

type stubProber struct {
	got probe.Request
}

func (s *stubProber) Probe(_ context.Context, req probe.Request) probe.Result {
	s.got = req
	if req.APIKey == "good" {
		return probe.Result{Success: true}
	}
	return probe.Result{Error: "Invalid API key or model"}
}

type failingStore struct{}

func (failingStore) Read(context.Context) (*hemisphere.Settings, error) {
	return nil, errors.New("boom")
}

func (failingStore) Write(context.Context, hemisphere.Settings) error {
	return errors.New("disk full")
}

func newTestServer(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	srv := NewServer(":0", deps, WithLogger(logger.Discard()), WithAuditLogger(logger.Discard()))
	return srv.Handler(context.Background())
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatSuccess(t *testing.T) {
	runner := &stubRunner{result: &pipeline.Result{
		ID:             "run-1",
		Content:        "Four, of course!",
		LogicResponse:  "4",
		ArtistResponse: "Four, of course!",
	}}
	h := newTestServer(t, Dependencies{Pipeline: runner})

	rec := do(t, h, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"What is 2+2?"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Four, of course!", got["content"])
	assert.Equal(t, "4", got["logicResponse"])
	assert.Equal(t, "Four, of course!", got["artistResponse"])

	require.Len(t, runner.got, 1)
	assert.Equal(t, llm.RoleUser, runner.got[0].Role)
}

func TestChatErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"not configured", hemisphere.ErrNotConfigured, http.StatusServiceUnavailable, "Not configured"},
		{"vendor rejected", xerrors.New(xerrors.CodeProviderRejected, "invalid x-api-key"), http.StatusBadGateway, "invalid x-api-key"},
		{"transport", xerrors.New(xerrors.CodeTransportFailure, ""), http.StatusBadGateway, "Connection failed"},
		{"timeout", xerrors.New(xerrors.CodeTimeout, ""), http.StatusGatewayTimeout, ""},
		{"invalid", xerrors.New(xerrors.CodeInvalidArgument, "conversation is empty"), http.StatusBadRequest, "conversation is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestServer(t, Dependencies{Pipeline: &stubRunner{err: tc.err}})
			rec := do(t, h, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
			assert.Equal(t, tc.status, rec.Code)

			var got errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.NotEmpty(t, got.Error)
			if tc.msg != "" {
				assert.Equal(t, tc.msg, got.Error)
			}
		})
	}
}

func TestChatIgnoresClientDisconnect(t *testing.T) {
	runner := &stubRunner{result: &pipeline.Result{ID: "run-2", Content: "done"}}
	h := newTestServer(t, Dependencies{Pipeline: runner})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, runner.ctxErr)
}

func TestChatBadBody(t *testing.T) {
	h := newTestServer(t, Dependencies{Pipeline: &stubRunner{}})
	rec := do(t, h, http.MethodPost, "/api/chat", `{"messages":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigRoundTrip(t *testing.T) {
	store := file.NewStore(filepath.Join(t.TempDir(), "config.yaml"))
	h := newTestServer(t, Dependencies{Store: store})

	rec := do(t, h, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"configured":false}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/config", `{
		"logic":  {"provider":"anthropic","apiKey":"sk-ant-secret","model":"claude-opus-4-5"},
		"artist": {"provider":"OpenAI","apiKey":"sk-secret","model":""}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.JSONEq(t, `{
		"configured": true,
		"logic":  {"provider":"anthropic","model":"claude-opus-4-5"},
		"artist": {"provider":"openai","model":"gpt-4o"}
	}`, rec.Body.String())

	settings, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-secret", settings.Logic.APIKey)
}

func TestSaveConfigValidation(t *testing.T) {
	store := file.NewStore(filepath.Join(t.TempDir(), "config.yaml"))
	h := newTestServer(t, Dependencies{Store: store})

	cases := map[string]string{
		"bad json":         `{"logic":`,
		"unknown provider": `{"logic":{"provider":"cohere","apiKey":"k"},"artist":{"provider":"openai","apiKey":"k"}}`,
		"missing key":      `{"logic":{"provider":"openai","apiKey":"k"},"artist":{"provider":"openai","apiKey":""}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/config", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var got saveResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.False(t, got.Success)
			assert.NotEmpty(t, got.Error)
		})
	}
	assert.False(t, hemisphere.IsConfigured(context.Background(), store))
}

func TestConfigStoreFailures(t *testing.T) {
	h := newTestServer(t, Dependencies{Store: failingStore{}})

	rec := do(t, h, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"configured":false}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/config",
		`{"logic":{"provider":"openai","apiKey":"k"},"artist":{"provider":"openai","apiKey":"k"}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Failed to save config"}`, rec.Body.String())
}

func TestTestKey(t *testing.T) {
	prober := &stubProber{}
	h := newTestServer(t, Dependencies{Prober: prober})

	rec := do(t, h, http.MethodPost, "/api/test-key", `{"provider":"openai","apiKey":"good","model":"gpt-4o"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Equal(t, probe.Request{Provider: "openai", APIKey: "good", Model: "gpt-4o"}, prober.got)

	rec = do(t, h, http.MethodPost, "/api/test-key", `{"provider":"openai","apiKey":"bad"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Invalid API key or model"}`, rec.Body.String())
}

func TestRoutingAndMiddleware(t *testing.T) {
	h := newTestServer(t, Dependencies{})

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/chat", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}

func TestShutdownGuard(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	srv := NewServer(":0", Dependencies{}, WithLogger(logger.Discard()))
	h := srv.Handler(ctx)

	req := httptest.NewRequest(http.MethodGet, "/healthz", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// writeConfigFile 模拟运维人员直接编辑配置文件。
func writeConfigFile(t *testing.T, logicProvider, artistProvider string) *file.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "logic:\n" +
		"  provider: " + logicProvider + "\n" +
		"  apiKey: sk-logic\n" +
		"  model: claude-sonnet-4-5\n" +
		"artist:\n" +
		"  provider: " + artistProvider + "\n" +
		"  apiKey: sk-artist\n" +
		"  model: gpt-4o\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return file.NewStore(path)
}

func echoRegistry() llm.Registry {
	reply := llm.AdapterFunc(func(_ context.Context, inv llm.Invocation) (string, error) {
		return inv.APIKey, nil
	})
	return llm.Registry{llm.ProviderAnthropic: reply, llm.ProviderOpenAI: reply}
}

func TestHandEditedProviderCaseIsNormalized(t *testing.T) {
	store := writeConfigFile(t, "Anthropic", " OpenAI")
	orchestrator := pipeline.New(store, echoRegistry(), pipeline.WithLogger(logger.Discard()))
	h := newTestServer(t, Dependencies{Pipeline: orchestrator, Store: store})

	rec := do(t, h, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"configured": true,
		"logic":  {"provider":"anthropic","model":"claude-sonnet-4-5"},
		"artist": {"provider":"openai","model":"gpt-4o"}
	}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "sk-logic", got.LogicResponse)
	assert.Equal(t, "sk-artist", got.Content)
}

func TestHandEditedUnknownProviderIsNotConfigured(t *testing.T) {
	store := writeConfigFile(t, "cohere", "openai")
	orchestrator := pipeline.New(store, echoRegistry(), pipeline.WithLogger(logger.Discard()))
	h := newTestServer(t, Dependencies{Pipeline: orchestrator, Store: store})

	rec := do(t, h, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"configured":false}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"Not configured"}`, rec.Body.String())
	assert.False(t, hemisphere.IsConfigured(context.Background(), store))
}
