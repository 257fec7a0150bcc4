// Package cache holds the per-quiz score board used by result statistics.
// Entries are dropped whenever an attempt of the quiz is finalized.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/mind-engage/quizhub/internal/results"
)

type ScoreBoard interface {
	// Scores returns the cached finalized scores; ok is false on a miss.
	Scores(ctx context.Context, quizID string) (entries []results.Entry, ok bool, err error)
	Put(ctx context.Context, quizID string, entries []results.Entry) error
	Invalidate(ctx context.Context, quizID string) error
}

type memEntry struct {
	entries []results.Entry
	expires time.Time
}

// Memory is a process-local ScoreBoard.
type Memory struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]memEntry
	now func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, m: map[string]memEntry{}, now: time.Now}
}

func (c *Memory) Scores(_ context.Context, quizID string) ([]results.Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[quizID]
	if !ok {
		return nil, false, nil
	}
	if c.ttl > 0 && c.now().After(e.expires) {
		delete(c.m, quizID)
		return nil, false, nil
	}
	return append([]results.Entry(nil), e.entries...), true, nil
}

func (c *Memory) Put(_ context.Context, quizID string, entries []results.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[quizID] = memEntry{
		entries: append([]results.Entry(nil), entries...),
		expires: c.now().Add(c.ttl),
	}
	return nil
}

func (c *Memory) Invalidate(_ context.Context, quizID string) error {
	c.mu.Lock()
	delete(c.m, quizID)
	c.mu.Unlock()
	return nil
}
