// Package sequencer serializes asynchronous work that shares a correlation
// key. Webhook deliveries for the same order must not interleave, while
// unrelated orders proceed concurrently.
package sequencer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Task is one unit of key-scoped work. A returned error is logged and
// swallowed so later tasks for the same key still run.
type Task func(ctx context.Context) error

type chain struct {
	pending []Task
}

// Sequencer guarantees, per key, strict enqueue-order execution with no
// overlap. Keys are independent: each active key is drained by its own
// goroutine, and the key's entry is removed once its chain is empty, so the
// map is bounded by the number of keys with in-flight or queued work.
type Sequencer struct {
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	chains map[string]*chain
	closed bool
	wg     sync.WaitGroup
}

func New(logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sequencer{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		chains: map[string]*chain{},
	}
}

// Enqueue appends a task behind any in-flight work for the key. Returns false
// when the sequencer is closed and the task was not accepted.
func (s *Sequencer) Enqueue(key string, task Task) bool {
	if task == nil {
		return false
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	c, active := s.chains[key]
	if !active {
		c = &chain{}
		s.chains[key] = c
		s.wg.Add(1)
	}
	c.pending = append(c.pending, task)
	s.mu.Unlock()

	if !active {
		go s.drain(key, c)
	}
	return true
}

func (s *Sequencer) drain(key string, c *chain) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(c.pending) == 0 {
			// Delete only if the map still points at this chain; a newer
			// enqueue must not lose its tracking entry to an older drain.
			if s.chains[key] == c {
				delete(s.chains, key)
			}
			s.mu.Unlock()
			return
		}
		task := c.pending[0]
		c.pending = c.pending[1:]
		s.mu.Unlock()

		s.run(key, task)
	}
}

func (s *Sequencer) run(key string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sequenced task panicked", "key", key, "panic", fmt.Sprint(r))
		}
	}()
	if err := task(s.ctx); err != nil {
		s.logger.Error("sequenced task failed", "key", key, "error", err)
	}
}

// ActiveKeys reports how many keys currently have queued or in-flight work.
func (s *Sequencer) ActiveKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chains)
}

// Close stops accepting work, cancels the context handed to tasks, and waits
// for already-queued chains to drain.
func (s *Sequencer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// Drain waits for all queued chains without refusing new work. Test helper
// and shutdown aid for callers that want a settled state.
func (s *Sequencer) Drain() {
	s.wg.Wait()
}
