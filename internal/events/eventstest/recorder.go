// Package eventstest provides an in-memory events.Publisher for tests.
package eventstest

import (
	"context"
	"sync"

	"duotronics/internal/events"
)

// Recorder 在内存中保存已发布的事件。
type Recorder struct {
	mu     sync.Mutex
	events []events.RunEvent
}

// Publish 实现 events.Publisher。
func (r *Recorder) Publish(_ context.Context, event events.RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Close 实现 events.Publisher。
func (r *Recorder) Close() error { return nil }

// Events 返回已记录事件的副本。
func (r *Recorder) Events() []events.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.RunEvent(nil), r.events...)
}
