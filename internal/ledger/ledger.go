package ledger

import (
	"slices"
	"strings"
	"sync"

	"github.com/oshokin/loadshed/internal/domain/shed"
)

// View is the read-only side of the ledger handed to policies.
type View interface {
	Has(device string, role shed.Role) bool
	Get(device string, role shed.Role) (*shed.Override, bool)
	All() []*shed.Override
	Len() int
}

// Ledger is the set of held overrides keyed by device and role.
type Ledger struct {
	mu      sync.RWMutex
	entries map[shed.Key]*shed.Override
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[shed.Key]*shed.Override)}
}

// Add records an override, replacing any previous one for the same key.
// It reports whether an entry was replaced.
func (l *Ledger) Add(o *shed.Override) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := o.Key()
	_, replaced := l.entries[key]
	l.entries[key] = o.Clone()

	return replaced
}

// Remove deletes the override for the key and reports whether one existed.
func (l *Ledger) Remove(device string, role shed.Role) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := shed.Key{Device: device, Role: role}
	if _, ok := l.entries[key]; !ok {
		return false
	}

	delete(l.entries, key)

	return true
}

// Has reports whether an override is held for the key.
func (l *Ledger) Has(device string, role shed.Role) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.entries[shed.Key{Device: device, Role: role}]

	return ok
}

// Get returns a copy of the override held for the key.
func (l *Ledger) Get(device string, role shed.Role) (*shed.Override, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	o, ok := l.entries[shed.Key{Device: device, Role: role}]
	if !ok {
		return nil, false
	}

	return o.Clone(), true
}

// All returns copies of every held override ordered by device then role.
func (l *Ledger) All() []*shed.Override {
	l.mu.RLock()

	all := make([]*shed.Override, 0, len(l.entries))
	for _, o := range l.entries {
		all = append(all, o.Clone())
	}

	l.mu.RUnlock()

	slices.SortFunc(all, func(a, b *shed.Override) int {
		if c := strings.Compare(a.Point.Device, b.Point.Device); c != 0 {
			return c
		}

		return strings.Compare(string(a.Point.Role), string(b.Point.Role))
	})

	return all
}

// IsEmpty reports whether no override is held.
func (l *Ledger) IsEmpty() bool {
	return l.Len() == 0
}

// Len returns the number of held overrides.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.entries)
}
