package visitors

import (
	"sort"
	"sync"

	"github.com/haukened/rr-portal/internal/portal/domain"
)

// memoryStore keeps evicted visitors in a map. Used when no database path
// is configured; contents are lost on exit.
type memoryStore struct {
	mu       sync.RWMutex
	visitors map[string]domain.Visitor
}

// NewMemoryStore returns an empty Store backed by a map.
func NewMemoryStore() Store {
	return &memoryStore{visitors: make(map[string]domain.Visitor)}
}

func (s *memoryStore) Get(addr string) (domain.Visitor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.visitors[addr]
	return v, ok, nil
}

func (s *memoryStore) Put(v domain.Visitor) error {
	s.mu.Lock()
	s.visitors[v.Addr] = v
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Keys(fn func(addr string) bool) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.visitors))
	for k := range s.visitors {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	for _, k := range keys {
		if !fn(k) {
			break
		}
	}
	return nil
}

func (s *memoryStore) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.visitors), nil
}

func (s *memoryStore) Close() error { return nil }

var _ Store = (*memoryStore)(nil)
