package account

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the set of entries a market operation is allowed to touch,
// keyed by location. It also records which entries changed so the caller
// can persist only those.
//
// Not safe for concurrent use; the owner of the market serializes access.
type Ledger struct {
	entries map[common.Hash]*Entry
	dirty   map[common.Hash]struct{}
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		entries: make(map[common.Hash]*Entry),
		dirty:   make(map[common.Hash]struct{}),
	}
}

// Get returns the entry at loc.
func (l *Ledger) Get(loc common.Hash) (*Entry, bool) {
	e, ok := l.entries[loc]
	return e, ok
}

// Put adds or replaces an entry and marks it changed.
func (l *Ledger) Put(e *Entry) {
	l.entries[e.Location] = e
	l.dirty[e.Location] = struct{}{}
}

// Load adds an entry read from storage without marking it changed.
func (l *Ledger) Load(e *Entry) {
	l.entries[e.Location] = e
}

// Credit adds to the entry at loc.
func (l *Ledger) Credit(loc common.Hash, base, quote uint64) error {
	e, ok := l.entries[loc]
	if !ok {
		return ErrEntryNotFound
	}
	if err := e.Credit(base, quote); err != nil {
		return err
	}
	l.dirty[loc] = struct{}{}
	return nil
}

// Touch marks the entry at loc changed after the caller mutated it directly.
func (l *Ledger) Touch(loc common.Hash) {
	if _, ok := l.entries[loc]; ok {
		l.dirty[loc] = struct{}{}
	}
}

// Len returns the number of entries.
func (l *Ledger) Len() int { return len(l.entries) }

// Entries returns every entry ordered by location.
func (l *Ledger) Entries() []*Entry {
	out := make([]*Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sortByLocation(out)
	return out
}

// Dirty returns the changed entries ordered by location.
func (l *Ledger) Dirty() []*Entry {
	out := make([]*Entry, 0, len(l.dirty))
	for loc := range l.dirty {
		out = append(out, l.entries[loc])
	}
	sortByLocation(out)
	return out
}

// ClearDirty forgets pending changes, typically after they were persisted.
func (l *Ledger) ClearDirty() {
	l.dirty = make(map[common.Hash]struct{})
}

// Clone deep-copies the ledger, including the changed set.
func (l *Ledger) Clone() *Ledger {
	c := NewLedger()
	for loc, e := range l.entries {
		cp := *e
		c.entries[loc] = &cp
	}
	for loc := range l.dirty {
		c.dirty[loc] = struct{}{}
	}
	return c
}

// Totals sums all balances.
func (l *Ledger) Totals() (base, quote uint64) {
	for _, e := range l.entries {
		base += e.BaseAmount
		quote += e.QuoteAmount
	}
	return base, quote
}

// Equal reports whether both ledgers hold identical entries.
func (l *Ledger) Equal(o *Ledger) bool {
	if len(l.entries) != len(o.entries) {
		return false
	}
	for loc, e := range l.entries {
		oe, ok := o.entries[loc]
		if !ok || *oe != *e {
			return false
		}
	}
	return true
}

func sortByLocation(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Location[:], entries[j].Location[:]) < 0
	})
}
