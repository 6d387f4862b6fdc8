package events

import (
	"context"
	"time"
)

// Status 描述一次流水线运行的最终状态。
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// RunEvent 是一次流水线运行的摘要，不包含任何对话内容。
type RunEvent struct {
	ID             string    `json:"id"`
	Status         Status    `json:"status"`
	FailedStage    string    `json:"failed_stage,omitempty"`
	ErrorCode      string    `json:"error_code,omitempty"`
	LogicProvider  string    `json:"logic_provider,omitempty"`
	LogicModel     string    `json:"logic_model,omitempty"`
	ArtistProvider string    `json:"artist_provider,omitempty"`
	ArtistModel    string    `json:"artist_model,omitempty"`
	DurationMillis int64     `json:"duration_ms"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Publisher 将运行事件投递到外部系统。
type Publisher interface {
	Publish(ctx context.Context, event RunEvent) error
	Close() error
}

// Noop 丢弃所有事件。
type Noop struct{}

// Publish 实现 Publisher。
func (Noop) Publish(context.Context, RunEvent) error { return nil }

// Close 实现 Publisher。
func (Noop) Close() error { return nil }
