// Package journal records webhook deliveries and their outcomes. The caller
// always sees a fast 200; the journal is where operational visibility lives.
package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Entry struct {
	ID          string     `json:"id"`
	Topic       string     `json:"topic"`
	Key         string     `json:"key"`
	Status      Status     `json:"status"`
	Detail      string     `json:"detail,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type Backend interface {
	Record(ctx context.Context, entry Entry) error
	Complete(ctx context.Context, id string, status Status, detail string, at time.Time) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Journal wraps a backend and fans every write out to live subscribers (the
// websocket feed). Backend failures are logged, never surfaced to handlers:
// losing a journal row must not fail a delivery.
type Journal struct {
	backend Backend
	logger  *slog.Logger

	mu   sync.Mutex
	subs map[chan Entry]struct{}
}

func New(backend Backend, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		backend: backend,
		logger:  logger,
		subs:    map[chan Entry]struct{}{},
	}
}

func (j *Journal) Record(ctx context.Context, entry Entry) {
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}
	if err := j.backend.Record(ctx, entry); err != nil {
		j.logger.Warn("journal record failed", "delivery_id", entry.ID, "error", err)
	}
	j.broadcast(entry)
}

func (j *Journal) Complete(ctx context.Context, entry Entry, status Status, detail string) {
	at := time.Now().UTC()
	if err := j.backend.Complete(ctx, entry.ID, status, detail, at); err != nil {
		j.logger.Warn("journal complete failed", "delivery_id", entry.ID, "error", err)
	}
	entry.Status = status
	entry.Detail = detail
	entry.CompletedAt = &at
	j.broadcast(entry)
}

func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return j.backend.Recent(ctx, limit)
}

// Subscribe returns a channel of journal events and a cancel func. Slow
// subscribers drop events instead of blocking deliveries.
func (j *Journal) Subscribe() (<-chan Entry, func()) {
	ch := make(chan Entry, 64)
	j.mu.Lock()
	j.subs[ch] = struct{}{}
	j.mu.Unlock()
	cancel := func() {
		j.mu.Lock()
		if _, ok := j.subs[ch]; ok {
			delete(j.subs, ch)
			close(ch)
		}
		j.mu.Unlock()
	}
	return ch, cancel
}

func (j *Journal) broadcast(entry Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for ch := range j.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

func (j *Journal) Close() error {
	j.mu.Lock()
	for ch := range j.subs {
		delete(j.subs, ch)
		close(ch)
	}
	j.mu.Unlock()
	return j.backend.Close()
}
