package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ObiAU/commentcurator/internal/models"
)

// Memory is an in-process history store. Records older than the retention
// period are pruned by a background ticker.
type Memory struct {
	mu            sync.RWMutex
	records       map[string][]models.Record
	retention     time.Duration
	cleanupTicker *time.Ticker
	stopChan      chan struct{}
	stopOnce      sync.Once
}

var _ models.HistoryStore = (*Memory)(nil)

// NewMemory returns a store that keeps records for retention (at least the
// dedup window).
func NewMemory(retention time.Duration) *Memory {
	if retention < models.DedupWindow {
		retention = models.DedupWindow
	}

	m := &Memory{
		records:   make(map[string][]models.Record),
		retention: retention,
		stopChan:  make(chan struct{}),
	}

	m.cleanupTicker = time.NewTicker(1 * time.Hour)
	go m.cleanup()

	return m
}

func (m *Memory) Exists(_ context.Context, content string, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.records[content] {
		if r.PublishID != "" && r.PublishedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) Append(_ context.Context, record models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.PublishedAt.IsZero() {
		record.PublishedAt = time.Now()
	}
	m.records[record.Content] = append(m.records[record.Content], record)
	return nil
}

// Recent returns the newest records first, up to limit.
func (m *Memory) Recent(_ context.Context, limit int) ([]models.Record, error) {
	m.mu.RLock()
	out := make([]models.Record, 0, len(m.records))
	for _, rs := range m.records {
		out = append(out, rs...)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, rs := range m.records {
		n += len(rs)
	}
	return n
}

func (m *Memory) cleanup() {
	for {
		select {
		case <-m.cleanupTicker.C:
			m.prune(time.Now())
		case <-m.stopChan:
			return
		}
	}
}

func (m *Memory) prune(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-m.retention)

	for content, rs := range m.records {
		kept := rs[:0]
		for _, r := range rs {
			if !r.PublishedAt.Before(cutoff) {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(m.records, content)
			continue
		}
		m.records[content] = kept
	}
}

// Close stops the cleanup goroutine.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() {
		m.cleanupTicker.Stop()
		close(m.stopChan)
	})
	return nil
}

func (m *Memory) Stats() map[string]interface{} {
	return map[string]interface{}{
		"records":   m.Len(),
		"retention": m.retention.String(),
	}
}
