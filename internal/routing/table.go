package routing

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Client is what the table routes to.
type Client interface {
	ID() string
	Matches(host, wsAddressingURI, path string, isWSCall bool) bool
}

// State of a table.
type State int

const (
	// StateActive accepts inserts and lookups
	StateActive State = iota
	// StateClosed rejects everything
	StateClosed
)

func (s State) String() string {
	if s == StateClosed {
		return "closed"
	}
	return "active"
}

// Entry is one ranked client.
type Entry[C Client] struct {
	ID     string
	Rank   int
	Seq    uint64
	Client C
}

type snapshot[C Client] struct {
	entries []Entry[C]
	def     C
	closed  bool
}

// Table is a copy-on-write, rank-ordered set of clients plus a default.
type Table[C Client] struct {
	current atomic.Pointer[snapshot[C]]
	mu      sync.Mutex
	seq     uint64
}

// NewTable creates an Active table around the default client.
func NewTable[C Client](def C) *Table[C] {
	t := &Table[C]{}
	t.current.Store(&snapshot[C]{def: def})
	return t
}

// Resolve returns the client of the first entry, in priority order, that
// matches the request, or the default client when none does.
func (t *Table[C]) Resolve(host, wsAddressingURI, path string, isWSCall bool) (C, error) {
	s := t.current.Load()
	if s.closed {
		var zero C
		return zero, ErrTableClosed
	}
	for _, e := range s.entries {
		if e.Client.Matches(host, wsAddressingURI, path, isWSCall) {
			return e.Client, nil
		}
	}
	return s.def, nil
}

// Insert adds c under id at the position implied by rank. An existing entry
// with the same id is replaced in the same step and returned so the caller
// can close it after the swap.
func (t *Table[C]) Insert(id string, rank int, c C) (old C, replaced bool, err error) {
	if id == "" {
		return old, false, ErrInvalidEntry
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.current.Load()
	if s.closed {
		return old, false, ErrTableClosed
	}
	if id == s.def.ID() {
		return old, false, ErrReservedID
	}

	t.seq++
	entries := make([]Entry[C], 0, len(s.entries)+1)
	for _, e := range s.entries {
		if e.ID == id {
			old, replaced = e.Client, true
			continue
		}
		entries = append(entries, e)
	}
	entries = append(entries, Entry[C]{ID: id, Rank: rank, Seq: t.seq, Client: c})
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Rank != entries[j].Rank {
			return entries[i].Rank > entries[j].Rank
		}
		return entries[i].Seq < entries[j].Seq
	})

	t.current.Store(&snapshot[C]{entries: entries, def: s.def})
	return old, replaced, nil
}

// Remove unpublishes the entry and returns its client. Lookups started after
// Remove returns never see it.
func (t *Table[C]) Remove(id string) (C, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed C
	s := t.current.Load()
	if s.closed {
		return removed, ErrTableClosed
	}

	found := false
	entries := make([]Entry[C], 0, len(s.entries))
	for _, e := range s.entries {
		if e.ID == id {
			removed, found = e.Client, true
			continue
		}
		entries = append(entries, e)
	}
	if !found {
		return removed, ErrEntryNotFound
	}

	t.current.Store(&snapshot[C]{entries: entries, def: s.def})
	return removed, nil
}

// Get returns the client registered under id.
func (t *Table[C]) Get(id string) (C, bool) {
	s := t.current.Load()
	for _, e := range s.entries {
		if e.ID == id {
			return e.Client, true
		}
	}
	var zero C
	return zero, false
}

// Entries returns the entries in evaluation order.
func (t *Table[C]) Entries() []Entry[C] {
	s := t.current.Load()
	out := make([]Entry[C], len(s.entries))
	copy(out, s.entries)
	return out
}

// Default returns the fallback client.
func (t *Table[C]) Default() C {
	return t.current.Load().def
}

// Len returns the number of entries, excluding the default.
func (t *Table[C]) Len() int {
	return len(t.current.Load().entries)
}

// State reports whether the table is Active or Closed.
func (t *Table[C]) State() State {
	if t.current.Load().closed {
		return StateClosed
	}
	return StateActive
}

// Close moves the table to Closed and returns every client, entries in
// evaluation order followed by the default. Later calls return nil.
func (t *Table[C]) Close() []C {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.current.Load()
	if s.closed {
		return nil
	}

	clients := make([]C, 0, len(s.entries)+1)
	for _, e := range s.entries {
		clients = append(clients, e.Client)
	}
	clients = append(clients, s.def)

	t.current.Store(&snapshot[C]{closed: true})
	return clients
}
