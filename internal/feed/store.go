package feed

import (
	"slices"
	"strings"
	"sync"

	"github.com/xenking/kart-feed/internal/domain/product"
)

// State is the cached feed of one key.
type State struct {
	Items        []product.Product
	Page         int // last page successfully loaded, 0 if none
	HasMore      bool
	ScrollOffset float64
	Err          error
}

// Loaded reports whether at least one page was applied.
func (s State) Loaded() bool {
	return s.Page > 0
}

type entry struct {
	state State
	ids   map[string]struct{}
}

// Store caches feed state per key for the lifetime of a session. Items are
// deduplicated by product id across pages.
type Store struct {
	mu      sync.RWMutex
	entries map[Key]*entry
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[Key]*entry)}
}

// Get returns a copy of the state of key.
func (s *Store) Get(key Key) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return State{}, false
	}
	st := e.state
	st.Items = slices.Clone(e.state.Items)
	return st, true
}

// SetInitial replaces the state of key with its first page.
func (s *Store) SetInitial(key Key, items []product.Product, page int, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setInitialLocked(key, items, page, hasMore)
}

// SetInitialIfAbsent behaves like SetInitial unless key already holds a
// loaded state. It reports whether the state was written.
func (s *Store) SetInitialIfAbsent(key Key, items []product.Product, page int, hasMore bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && e.state.Loaded() {
		return false
	}
	s.setInitialLocked(key, items, page, hasMore)
	return true
}

func (s *Store) setInitialLocked(key Key, items []product.Product, page int, hasMore bool) {
	e := &entry{ids: make(map[string]struct{}, len(items))}
	if prev, ok := s.entries[key]; ok {
		e.state.ScrollOffset = prev.state.ScrollOffset
	}
	e.state.Items = e.appendUnique(make([]product.Product, 0, len(items)), items)
	e.state.Page = page
	e.state.HasMore = hasMore
	s.entries[key] = e
}

// AppendPage appends a further page to key, skipping items whose id is
// already present. It returns the number of items added.
func (s *Store) AppendPage(key Key, items []product.Product, page int, hasMore bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(key)
	before := len(e.state.Items)
	e.state.Items = e.appendUnique(e.state.Items, items)
	e.state.Page = page
	e.state.HasMore = hasMore
	e.state.Err = nil
	return len(e.state.Items) - before
}

// SetScrollOffset records the last scroll position of key.
func (s *Store) SetScrollOffset(key Key, offset float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryLocked(key).state.ScrollOffset = offset
}

// SetError records a user-visible failure for key, or clears it when err is
// nil. Items are left untouched.
func (s *Store) SetError(key Key, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryLocked(key).state.Err = err
}

// Keys returns the cached keys in a stable order.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b Key) int {
		return strings.Compare(a.String(), b.String())
	})
	return keys
}

// Len returns the number of cached keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Reset drops every cached state.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
}

func (s *Store) entryLocked(key Key) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{ids: make(map[string]struct{})}
		s.entries[key] = e
	}
	return e
}

func (e *entry) appendUnique(dst, items []product.Product) []product.Product {
	for _, p := range items {
		if _, dup := e.ids[p.ID]; dup {
			continue
		}
		e.ids[p.ID] = struct{}{}
		dst = append(dst, p)
	}
	return dst
}
