package tagcache

import (
	"context"
	"sync"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
)

// Memory is a process-local cache for tests and dry runs.
type Memory struct {
	mu   sync.RWMutex
	tags map[string]booru.TagType
}

var _ booru.TagCache = (*Memory)(nil)

// NewMemory constructs an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{tags: make(map[string]booru.TagType)}
}

// Lookup returns the stored type for name.
func (m *Memory) Lookup(_ context.Context, name string) (booru.Tag, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kind, ok := m.tags[name]
	if !ok {
		return booru.Tag{}, false, nil
	}
	return booru.Tag{Name: name, Type: kind}, true, nil
}

// InsertIfAbsent stores name -> kind unless name is already known.
func (m *Memory) InsertIfAbsent(_ context.Context, name string, kind booru.TagType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tags[name]; exists {
		return false, nil
	}
	m.tags[name] = kind
	return true, nil
}

// Flush is a no-op.
func (m *Memory) Flush(context.Context) error {
	return nil
}

// Counts returns how many tags of each type are stored.
func (m *Memory) Counts(context.Context) (map[booru.TagType]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[booru.TagType]int)
	for _, kind := range m.tags {
		out[kind]++
	}
	return out, nil
}

// Len reports how many tags are stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tags)
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
