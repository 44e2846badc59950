// Package visitors remembers the clients that talk to the portal.
//
// Recently active visitors live in an LRU. Entries pushed out of the LRU
// are written to a Store, and a bloom filter over every address ever seen
// lets first-time visitors skip the store lookup entirely.
package visitors

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"

	"github.com/haukened/rr-portal/internal/portal/common/clock"
	"github.com/haukened/rr-portal/internal/portal/common/log"
	"github.com/haukened/rr-portal/internal/portal/domain"
)

// ErrClosed is returned by a Registry after Close.
var ErrClosed = errors.New("visitor registry closed")

// Options sizes the registry.
type Options struct {
	// CacheSize bounds the active visitor table.
	CacheSize int
	// Capacity and FPRate size the seen-address bloom filter.
	Capacity uint64
	FPRate   float64
}

// Registry tracks visitors in memory. Store writes for evicted entries
// happen on a background writer, never under the lock Observe takes.
type Registry struct {
	mu     sync.Mutex
	active *lru.Cache[string, domain.Visitor]
	// pending holds evicted visitors until the writer has stored them.
	pending map[string]pendingVisitor
	seq     uint64
	seen    *bloom.BloomFilter
	store   Store
	clock   clock.Clock
	logger  log.Logger
	closed  bool

	wake       chan struct{}
	quit       chan struct{}
	writerDone chan struct{}
}

type pendingVisitor struct {
	visitor domain.Visitor
	seq     uint64
}

// OpenStore returns a bbolt store at path, or an in-memory store when path is empty.
func OpenStore(path string) (Store, error) {
	if path == "" {
		return NewMemoryStore(), nil
	}
	st, err := NewBoltStore(path)
	if err != nil {
		return nil, fmt.Errorf("open visitor db %s: %w", path, err)
	}
	return st, nil
}

// New builds a Registry over store and seeds the bloom filter with every
// address the store already holds. The registry owns store from here on.
func New(opts Options, store Store, clk clock.Clock, logger log.Logger) (*Registry, error) {
	if store == nil {
		return nil, errors.New("visitors: nil store")
	}
	if opts.Capacity == 0 {
		opts.Capacity = 1
	}
	if !(opts.FPRate > 0 && opts.FPRate < 1) {
		opts.FPRate = 0.01
	}

	r := &Registry{
		pending:    make(map[string]pendingVisitor),
		seen:       bloom.NewWithEstimates(uint(opts.Capacity), opts.FPRate),
		store:      store,
		clock:      clk,
		logger:     logger,
		wake:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	// Runs inside active.Add, so r.mu is already held.
	active, err := lru.NewWithEvict(opts.CacheSize, func(addr string, v domain.Visitor) {
		r.seq++
		r.pending[addr] = pendingVisitor{visitor: v, seq: r.seq}
	})
	if err != nil {
		return nil, fmt.Errorf("visitors: %w", err)
	}
	r.active = active

	if err := store.Keys(func(addr string) bool {
		r.seen.AddString(addr)
		return true
	}); err != nil {
		return nil, fmt.Errorf("visitors: seed filter: %w", err)
	}

	go r.writeLoop()
	return r, nil
}

// Observe records one event from addr and returns the updated visitor.
func (r *Registry) Observe(addr string, kind domain.Activity, name string) (domain.Visitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.Visitor{}, ErrClosed
	}

	v, err := r.lookupLocked(addr)
	if err != nil {
		return domain.Visitor{}, err
	}
	if v.Addr == "" {
		v.Addr = addr
	}
	v.Observe(r.clock.Now(), kind, name)

	r.seen.AddString(addr)
	r.active.Add(addr, v)
	if len(r.pending) > 0 {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
	return v, nil
}

// lookup returns what is known about addr without recording anything.
func (r *Registry) lookup(addr string) (domain.Visitor, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.Visitor{}, false, ErrClosed
	}
	v, err := r.lookupLocked(addr)
	if err != nil {
		return domain.Visitor{}, false, err
	}
	return v, v.Addr != "", nil
}

func (r *Registry) lookupLocked(addr string) (domain.Visitor, error) {
	if v, ok := r.active.Get(addr); ok {
		return v, nil
	}
	if p, ok := r.pending[addr]; ok {
		return p.visitor, nil
	}
	if !r.seen.TestString(addr) {
		return domain.Visitor{}, nil
	}
	v, ok, err := r.store.Get(addr)
	if err != nil {
		return domain.Visitor{}, fmt.Errorf("load visitor %s: %w", addr, err)
	}
	if !ok {
		// bloom false positive
		return domain.Visitor{}, nil
	}
	return v, nil
}

// Active returns the number of visitors in the active table.
func (r *Registry) Active() int {
	return r.active.Len()
}

func (r *Registry) writeLoop() {
	defer close(r.writerDone)
	for {
		select {
		case <-r.wake:
			r.flushPending()
		case <-r.quit:
			return
		}
	}
}

// flushPending writes a snapshot of the pending visitors. An entry leaves
// pending only if it was not evicted again while being written. Failed
// writes stay pending for the next flush or Close.
func (r *Registry) flushPending() {
	r.mu.Lock()
	batch := make(map[string]pendingVisitor, len(r.pending))
	for addr, p := range r.pending {
		batch[addr] = p
	}
	r.mu.Unlock()

	for addr, p := range batch {
		if err := r.store.Put(p.visitor); err != nil {
			r.logger.Error(map[string]any{"addr": addr, "error": err}, "Failed to persist evicted visitor")
			continue
		}
		r.mu.Lock()
		if cur, ok := r.pending[addr]; ok && cur.seq == p.seq {
			delete(r.pending, addr)
		}
		r.mu.Unlock()
	}
}

// Close stops the writer, stores every pending and active visitor and
// closes the store.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.quit)
	<-r.writerDone

	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	// Pending entries are older than any active entry for the same address.
	for _, p := range r.pending {
		err = multierr.Append(err, r.store.Put(p.visitor))
	}
	for _, addr := range r.active.Keys() {
		if v, ok := r.active.Peek(addr); ok {
			err = multierr.Append(err, r.store.Put(v))
		}
	}
	return multierr.Append(err, r.store.Close())
}

// AddrKey reduces a peer address to the host part, so every port a client
// uses maps to the same visitor.
func AddrKey(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP.String()
	case *net.TCPAddr:
		return a.IP.String()
	case nil:
		return ""
	}
	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		return host
	}
	return addr.String()
}
