package visitors

import "github.com/haukened/rr-portal/internal/portal/domain"

// Store persists visitors evicted from the active table.
type Store interface {
	// Get returns the stored visitor for addr, if any.
	Get(addr string) (domain.Visitor, bool, error)
	// Put inserts or replaces the visitor keyed by its Addr.
	Put(v domain.Visitor) error
	// Keys calls fn for every stored address until fn returns false.
	Keys(fn func(addr string) bool) error
	// Len returns the number of stored visitors.
	Len() (int, error)
	Close() error
}
