package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "duotronics/internal/errors"
	"duotronics/internal/events"
	"duotronics/internal/hemisphere"
	"duotronics/internal/llm"
	"duotronics/internal/observability/metrics"
	"duotronics/pkg/logger"
)

// Result 是一次流水线运行的输出，Content 始终等于 ArtistResponse。
type Result struct {
	ID             string `json:"id"`
	Content        string `json:"content"`
	LogicResponse  string `json:"logicResponse"`
	ArtistResponse string `json:"artistResponse"`
}

// Orchestrator 依次驱动 Logic 与 Artist 两个半球。
type Orchestrator struct {
	store     hemisphere.Store
	adapters  llm.Registry
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option 定义可选的 Orchestrator 配置。
type Option func(*Orchestrator)

// WithLogger 设置默认日志；请求上下文中的日志优先。
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPublisher 设置运行事件的发布器。
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithClock 替换时间来源，便于测试。
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New 创建一个 Orchestrator。
func New(store hemisphere.Store, adapters llm.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		adapters:  adapters,
		publisher: events.Noop{},
		logger:    logger.Named("pipeline"),
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Run 执行一次完整的双半球流水线。
// Logic 失败时不会调用 Artist；任一阶段失败都不返回部分结果。
func (o *Orchestrator) Run(ctx context.Context, conversation []llm.Message) (*Result, error) {
	if err := llm.Validate(conversation); err != nil {
		return nil, err
	}

	settings, err := o.loadSettings(ctx)
	if err != nil {
		return nil, err
	}

	run := &runState{
		id:       o.newID(),
		started:  o.now(),
		settings: *settings,
		log:      logger.FromContext(ctx, o.logger),
	}
	run.log = run.log.With("run_id", run.id)

	logicResponse, err := o.invoke(ctx, run, hemisphere.Logic, conversation, LogicSystemPrompt)
	if err != nil {
		o.finish(ctx, run, hemisphere.Logic, err)
		return nil, err
	}

	artistInput := []llm.Message{{
		Role:    llm.RoleUser,
		Content: ArtistInput(llm.LastUserUtterance(conversation), logicResponse),
	}}
	artistResponse, err := o.invoke(ctx, run, hemisphere.Artist, artistInput, ArtistSystemPrompt)
	if err != nil {
		o.finish(ctx, run, hemisphere.Artist, err)
		return nil, err
	}

	o.finish(ctx, run, "", nil)
	return &Result{
		ID:             run.id,
		Content:        artistResponse,
		LogicResponse:  logicResponse,
		ArtistResponse: artistResponse,
	}, nil
}

type runState struct {
	id       string
	started  time.Time
	settings hemisphere.Settings
	log      *slog.Logger
}

// loadSettings 每次运行都重新读取配置，配置变更无需重启即可生效。
func (o *Orchestrator) loadSettings(ctx context.Context) (*hemisphere.Settings, error) {
	settings, err := hemisphere.Load(ctx, o.store)
	if err != nil {
		return nil, err
	}
	if !settings.Complete() {
		return nil, hemisphere.ErrNotConfigured
	}
	return settings, nil
}

func (o *Orchestrator) invoke(ctx context.Context, run *runState, stage hemisphere.Name, messages []llm.Message, system string) (string, error) {
	cfg := run.settings.Get(stage)
	adapter, err := o.adapters.Adapter(cfg.Provider)
	if err != nil {
		return "", stageError(stage, err)
	}

	started := o.now()
	reply, err := adapter.Complete(ctx, llm.Invocation{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		System:    system,
		Messages:  messages,
		MaxTokens: llm.PipelineMaxTokens,
	})
	elapsed := o.now().Sub(started)
	metrics.ObserveStage(string(stage), string(cfg.Provider), err, elapsed)

	if err != nil {
		run.log.Warn("hemisphere call failed",
			"stage", stage,
			"provider", cfg.Provider,
			"model", cfg.Model,
			"code", xerrors.CodeOf(err),
			"error", err,
		)
		return "", stageError(stage, err)
	}
	run.log.Debug("hemisphere call completed",
		"stage", stage,
		"provider", cfg.Provider,
		"model", cfg.Model,
		"duration", elapsed,
		"reply_len", len(reply),
	)
	return reply, nil
}

// stageError 为错误附加阶段信息，同时保留原始错误码与面向用户的信息。
func stageError(stage hemisphere.Name, err error) error {
	if e, ok := xerrors.From(err); ok {
		opts := []xerrors.Option{xerrors.WithMetadata("stage", string(stage))}
		for k, v := range e.Metadata() {
			opts = append(opts, xerrors.WithMetadata(k, v))
		}
		return xerrors.Wrap(e.Code(), err, e.Message(), opts...)
	}
	return xerrors.Wrap(xerrors.CodeUnknown, err, "", xerrors.WithMetadata("stage", string(stage)))
}

// finish 记录运行摘要并发布事件；发布失败只记录日志。
func (o *Orchestrator) finish(ctx context.Context, run *runState, failedStage hemisphere.Name, err error) {
	event := events.RunEvent{
		ID:             run.id,
		Status:         events.StatusSucceeded,
		LogicProvider:  string(run.settings.Logic.Provider),
		LogicModel:     run.settings.Logic.Model,
		ArtistProvider: string(run.settings.Artist.Provider),
		ArtistModel:    run.settings.Artist.Model,
		FinishedAt:     o.now().UTC(),
	}
	event.DurationMillis = event.FinishedAt.Sub(run.started).Milliseconds()
	if err != nil {
		event.Status = events.StatusFailed
		event.FailedStage = string(failedStage)
		event.ErrorCode = string(xerrors.CodeOf(err))
	}

	run.log.Info("pipeline run finished",
		"status", event.Status,
		"failed_stage", event.FailedStage,
		"duration_ms", event.DurationMillis,
	)
	if pubErr := o.publisher.Publish(context.WithoutCancel(ctx), event); pubErr != nil {
		run.log.Warn("publish run event failed", "error", pubErr)
	}
}
