package archive

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
)

// Mapping is one hash -> tags record.
type Mapping struct {
	Hash []byte
	Tags []string
}

// Memory is an in-process sink that keeps committed batches.
type Memory struct {
	mu        sync.Mutex
	open      bool
	pending   []Mapping
	committed [][]Mapping
	aborted   int
}

var (
	_ booru.Sink    = (*Memory)(nil)
	_ booru.Aborter = (*Memory)(nil)
)

// NewMemory constructs an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// BeginBatch opens a batch.
func (m *Memory) BeginBatch(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		return errors.New("batch already open")
	}
	m.open = true
	m.pending = nil
	return nil
}

// AddMapping buffers a mapping in the open batch.
func (m *Memory) AddMapping(_ context.Context, hash []byte, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return errors.New("no open batch")
	}
	m.pending = append(m.pending, Mapping{
		Hash: append([]byte(nil), hash...),
		Tags: append([]string(nil), tags...),
	})
	return nil
}

// CommitBatch publishes the buffered mappings.
func (m *Memory) CommitBatch(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return errors.New("no open batch")
	}
	m.committed = append(m.committed, m.pending)
	m.pending = nil
	m.open = false
	return nil
}

// Abort drops the open batch.
func (m *Memory) Abort(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		m.aborted++
	}
	m.pending = nil
	m.open = false
	return nil
}

// Batches returns the committed batches in commit order.
func (m *Memory) Batches() [][]Mapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Mapping, len(m.committed))
	copy(out, m.committed)
	return out
}

// Aborted reports how many open batches were abandoned.
func (m *Memory) Aborted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aborted
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
