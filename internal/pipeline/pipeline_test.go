package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	xerrors "duotronics/internal/errors"
	"duotronics/internal/events"
	"duotronics/internal/events/eventstest"
	"duotronics/internal/hemisphere"
	"duotronics/internal/llm"
	"duotronics/internal/llm/openai"
	"duotronics/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticStore struct {
	settings *hemisphere.Settings
	err      error
}

func (s *staticStore) Read(context.Context) (*hemisphere.Settings, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.settings == nil {
		return nil, hemisphere.ErrNotConfigured
	}
	clone := *s.settings
	return &clone, nil
}

func (s *staticStore) Write(_ context.Context, settings hemisphere.Settings) error {
	s.settings = &settings
	return nil
}

type call struct {
	stage string
	inv   llm.Invocation
}

// recordingAdapter 记录调用顺序，并按阶段返回预设回复。
type recordingAdapter struct {
	mu      sync.Mutex
	calls   []call
	replies map[string]func(llm.Invocation) (string, error)
}

func (r *recordingAdapter) Complete(_ context.Context, inv llm.Invocation) (string, error) {
	stage := "artist"
	if inv.System == LogicSystemPrompt {
		stage = "logic"
	}
	r.mu.Lock()
	r.calls = append(r.calls, call{stage: stage, inv: inv})
	r.mu.Unlock()
	return r.replies[stage](inv)
}

func (r *recordingAdapter) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.stage)
	}
	return out
}

func configured() *staticStore {
	return &staticStore{settings: &hemisphere.Settings{
		Logic:  hemisphere.Config{Provider: llm.ProviderAnthropic, APIKey: "logic-key", Model: "claude-opus-4-5"},
		Artist: hemisphere.Config{Provider: llm.ProviderOpenAI, APIKey: "artist-key", Model: "gpt-4o"},
	}}
}

func registry(a llm.Adapter) llm.Registry {
	return llm.Registry{llm.ProviderAnthropic: a, llm.ProviderOpenAI: a}
}

// uppercaseLogicText 模拟一个把 Artist 输入中嵌入的 Logic 文本转为大写的厂商。
func uppercaseLogicText(inv llm.Invocation) (string, error) {
	content := inv.Messages[0].Content
	start := strings.Index(content, "Logic hemisphere response:\n")
	if start < 0 {
		return "", errors.New("logic text not embedded")
	}
	rest := content[start+len("Logic hemisphere response:\n"):]
	end := strings.Index(rest, "\n\nPlease rewrite")
	return strings.ToUpper(rest[:end]), nil
}

func TestRunScenarioTwoPlusTwo(t *testing.T) {
	adapter := &recordingAdapter{replies: map[string]func(llm.Invocation) (string, error){
		"logic":  func(llm.Invocation) (string, error) { return "4", nil },
		"artist": uppercaseLogicText,
	}}
	recorder := &eventstest.Recorder{}
	o := New(configured(), registry(adapter), WithLogger(logger.Discard()), WithPublisher(recorder))

	result, err := o.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "What is 2+2?"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.LogicResponse != "4" {
		t.Fatalf("unexpected logic response: %q", result.LogicResponse)
	}
	if result.Content != "4" || result.ArtistResponse != result.Content {
		t.Fatalf("unexpected content: %+v", result)
	}
	if result.ID == "" {
		t.Fatalf("expected run id")
	}
	if got := adapter.stages(); len(got) != 2 || got[0] != "logic" || got[1] != "artist" {
		t.Fatalf("unexpected call order: %v", got)
	}

	logicCall := adapter.calls[0].inv
	if logicCall.APIKey != "logic-key" || logicCall.Model != "claude-opus-4-5" || logicCall.MaxTokens != llm.PipelineMaxTokens {
		t.Fatalf("unexpected logic invocation: %+v", logicCall)
	}
	artistCall := adapter.calls[1].inv
	if artistCall.APIKey != "artist-key" || artistCall.System != ArtistSystemPrompt {
		t.Fatalf("unexpected artist invocation: %+v", artistCall)
	}

	evts := recorder.Events()
	if len(evts) != 1 || evts[0].Status != events.StatusSucceeded || evts[0].ID != result.ID {
		t.Fatalf("unexpected events: %+v", evts)
	}
}

func TestRunArtistSeesOnlyLatestUtteranceAndLogicOutput(t *testing.T) {
	adapter := &recordingAdapter{replies: map[string]func(llm.Invocation) (string, error){
		"logic":  func(llm.Invocation) (string, error) { return "Paris is the capital of France.", nil },
		"artist": func(llm.Invocation) (string, error) { return "It's Paris!", nil },
	}}
	o := New(configured(), registry(adapter), WithLogger(logger.Discard()))

	conversation := []llm.Message{
		{Role: llm.RoleSystem, Content: "client-side system note"},
		{Role: llm.RoleUser, Content: "secret earlier question"},
		{Role: llm.RoleAssistant, Content: "secret earlier answer"},
		{Role: llm.RoleUser, Content: "What is the capital of France?"},
	}
	if _, err := o.Run(context.Background(), conversation); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logicCall := adapter.calls[0].inv
	if len(logicCall.Messages) != len(conversation) {
		t.Fatalf("logic should receive the full conversation, got %d messages", len(logicCall.Messages))
	}

	artistCall := adapter.calls[1].inv
	if len(artistCall.Messages) != 1 || artistCall.Messages[0].Role != llm.RoleUser {
		t.Fatalf("artist should receive a single user message: %+v", artistCall.Messages)
	}
	content := artistCall.Messages[0].Content
	for _, leaked := range []string{"secret earlier question", "secret earlier answer", "client-side system note"} {
		if strings.Contains(content, leaked) {
			t.Fatalf("artist input leaked history %q: %s", leaked, content)
		}
	}
	if !strings.Contains(content, `"What is the capital of France?"`) || !strings.Contains(content, "Paris is the capital of France.") {
		t.Fatalf("artist input missing utterance or logic output: %s", content)
	}
}

func TestRunLogicFailureSkipsArtist(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer srv.Close()

	logic := openai.NewClient(openai.Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	artist := &recordingAdapter{replies: map[string]func(llm.Invocation) (string, error){
		"artist": func(llm.Invocation) (string, error) { return "unused", nil },
	}}

	store := configured()
	store.settings.Logic.Provider = llm.ProviderOpenAI
	store.settings.Artist.Provider = llm.ProviderAnthropic
	recorder := &eventstest.Recorder{}
	o := New(store, llm.Registry{llm.ProviderOpenAI: logic, llm.ProviderAnthropic: artist},
		WithLogger(logger.Discard()), WithPublisher(recorder))

	result, err := o.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	if err == nil || result != nil {
		t.Fatalf("expected failure without result, got %+v", result)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected exactly one logic call, got %d", n)
	}
	if n := len(artist.stages()); n != 0 {
		t.Fatalf("artist must not be called, got %d calls", n)
	}
	if xerrors.CodeOf(err) != xerrors.CodeProviderRejected || xerrors.MessageOf(err) != "Incorrect API key provided" {
		t.Fatalf("unexpected error: %v", err)
	}
	e, _ := xerrors.From(err)
	if e.Metadata()["stage"] != "logic" {
		t.Fatalf("stage metadata missing: %+v", e.Metadata())
	}

	evts := recorder.Events()
	if len(evts) != 1 || evts[0].Status != events.StatusFailed || evts[0].FailedStage != "logic" {
		t.Fatalf("unexpected events: %+v", evts)
	}
}

func TestRunArtistFailure(t *testing.T) {
	adapter := &recordingAdapter{replies: map[string]func(llm.Invocation) (string, error){
		"logic": func(llm.Invocation) (string, error) { return "draft", nil },
		"artist": func(llm.Invocation) (string, error) {
			return "", xerrors.New(xerrors.CodeTransportFailure, "")
		},
	}}
	o := New(configured(), registry(adapter), WithLogger(logger.Discard()))

	_, err := o.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	if xerrors.CodeOf(err) != xerrors.CodeTransportFailure {
		t.Fatalf("expected transport failure, got %v", err)
	}
	if got := adapter.stages(); len(got) != 2 {
		t.Fatalf("expected both stages to run, got %v", got)
	}
}

func TestRunNotConfigured(t *testing.T) {
	adapter := &recordingAdapter{}
	cases := map[string]*staticStore{
		"absent":        {},
		"storage error": {err: errors.New("disk gone")},
		"missing key":   {settings: &hemisphere.Settings{Logic: hemisphere.Config{Provider: llm.ProviderOpenAI, APIKey: "k", Model: "gpt-4o"}}},
		"missing model": {settings: &hemisphere.Settings{Logic: hemisphere.Config{Provider: llm.ProviderOpenAI, APIKey: "k"}, Artist: hemisphere.Config{Provider: llm.ProviderOpenAI, APIKey: "k", Model: "gpt-4o"}}},
		"unknown provider": {settings: &hemisphere.Settings{Logic: hemisphere.Config{Provider: "cohere", APIKey: "k", Model: "command"}, Artist: hemisphere.Config{Provider: llm.ProviderOpenAI, APIKey: "k", Model: "gpt-4o"}}},
	}
	for name, store := range cases {
		t.Run(name, func(t *testing.T) {
			o := New(store, registry(adapter), WithLogger(logger.Discard()))
			_, err := o.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
			if xerrors.CodeOf(err) != xerrors.CodeNotConfigured {
				t.Fatalf("expected not configured, got %v", err)
			}
		})
	}
	if len(adapter.stages()) != 0 {
		t.Fatalf("no provider call expected")
	}
}

func TestRunAcceptsStoredProviderCase(t *testing.T) {
	adapter := &recordingAdapter{replies: map[string]func(llm.Invocation) (string, error){
		"logic":  func(llm.Invocation) (string, error) { return "a", nil },
		"artist": func(llm.Invocation) (string, error) { return "b", nil },
	}}
	store := configured()
	store.settings.Logic.Provider = "ANTHROPIC"
	store.settings.Artist.Provider = " OpenAI "
	o := New(store, registry(adapter), WithLogger(logger.Discard()))

	result, err := o.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "x"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "b" {
		t.Fatalf("unexpected content: %q", result.Content)
	}
}

func TestRunRejectsEmptyConversation(t *testing.T) {
	adapter := &recordingAdapter{}
	o := New(configured(), registry(adapter), WithLogger(logger.Discard()))

	if _, err := o.Run(context.Background(), nil); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if len(adapter.stages()) != 0 {
		t.Fatalf("no provider call expected")
	}
}

func TestRunEventDuration(t *testing.T) {
	adapter := &recordingAdapter{replies: map[string]func(llm.Invocation) (string, error){
		"logic":  func(llm.Invocation) (string, error) { return "a", nil },
		"artist": func(llm.Invocation) (string, error) { return "b", nil },
	}}
	base := time.Unix(1700000000, 0)
	var tick int
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * 100 * time.Millisecond)
	}
	recorder := &eventstest.Recorder{}
	o := New(configured(), registry(adapter), WithLogger(logger.Discard()), WithPublisher(recorder), WithClock(clock))

	if _, err := o.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "x"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	evts := recorder.Events()
	// 起始、两次调用各两次读数、结束，共六次读数。
	if evts[0].DurationMillis != 500 {
		t.Fatalf("unexpected duration: %d", evts[0].DurationMillis)
	}
}
