package memory

import (
	"context"
	"fmt"
	"sort"

	"taskhive/pkg/outbox"
)

// EventLog exposes committed outbox rows with the same surface as
// outbox.Repository, so the dispatcher and replay run against memory too.
type EventLog struct {
	s *Store
}

func (s *Store) Outbox() *EventLog {
	return &EventLog{s: s}
}

// Events 返回所有已提交事件，按 id 升序
func (l *EventLog) Events() []outbox.Event {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	out := make([]outbox.Event, 0, len(l.s.state.events))
	for _, e := range l.s.state.events {
		out = append(out, cloneEvent(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *EventLog) GetPendingEvents(_ context.Context, limit int) ([]*outbox.Event, error) {
	now := l.s.nowFn()
	return l.filter(limit, func(e outbox.Event) bool {
		return e.Status == outbox.StatusPending && (e.NextRetryAt == nil || !e.NextRetryAt.After(now))
	}), nil
}

func (l *EventLog) GetFailedEvents(_ context.Context, limit int) ([]*outbox.Event, error) {
	return l.filter(limit, func(e outbox.Event) bool {
		return e.Status == outbox.StatusFailed
	}), nil
}

func (l *EventLog) filter(limit int, match func(outbox.Event) bool) []*outbox.Event {
	var out []*outbox.Event
	for _, e := range l.Events() {
		if !match(e) {
			continue
		}
		ev := e
		out = append(out, &ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (l *EventLog) GetEventByID(_ context.Context, eventID int64) (*outbox.Event, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	e, ok := l.s.state.events[eventID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", outbox.ErrEventNotFound, eventID)
	}
	ev := cloneEvent(e)
	return &ev, nil
}

func (l *EventLog) MarkAsSent(_ context.Context, eventID int64) error {
	return l.update(eventID, func(e *outbox.Event) {
		e.Status = outbox.StatusSent
	})
}

func (l *EventLog) MarkAsFailed(_ context.Context, eventID int64, maxRetries int) error {
	now := l.s.nowFn()
	return l.update(eventID, func(e *outbox.Event) {
		e.RetryCount++
		e.Status, e.NextRetryAt = outbox.NextRetry(e.RetryCount, maxRetries, now)
	})
}

func (l *EventLog) ResetEvent(_ context.Context, eventID int64) error {
	return l.update(eventID, func(e *outbox.Event) {
		e.Status = outbox.StatusPending
		e.RetryCount = 0
		e.NextRetryAt = nil
	})
}

func (l *EventLog) update(eventID int64, fn func(e *outbox.Event)) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	e, ok := l.s.state.events[eventID]
	if !ok {
		return fmt.Errorf("%w: %d", outbox.ErrEventNotFound, eventID)
	}
	fn(&e)
	e.UpdatedAt = l.s.nowFn()
	l.s.state.events[eventID] = e
	return nil
}
