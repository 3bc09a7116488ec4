package flash

import (
	"maps"
	"slices"
)

// Well-known keys used by the convenience accessors.
const (
	KeyNotice = "notice"
	KeyAlert  = "alert"
)

type entry struct {
	value any
	// used marks the entry for deletion at the next sweep.
	used bool
	// scoped marks entries written through Now during this cycle.
	scoped bool
}

// Store holds flash entries for one session. A value written during one
// request cycle survives exactly one more cycle unless kept or discarded.
// A Store is not safe for concurrent use.
type Store struct {
	entries map[string]*entry
	swept   bool
}

// New creates an empty store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Begin starts a new request cycle. Sweep runs at most once per cycle.
func (s *Store) Begin() {
	s.swept = false
}

// Get returns the value for key. Reading never changes retention state.
func (s *Store) Get(key string) (any, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Has reports whether key is present, regardless of its value.
func (s *Store) Has(key string) bool {
	_, ok := s.entries[key]
	return ok
}

// Set stores value under key and marks it fresh.
func (s *Store) Set(key string, value any) {
	s.entries[key] = &entry{value: value}
}

// BulkSet merges values into the store. Every key named by values is marked
// used before the merge so merging a snapshot never prolongs stale keys; the
// merged values are readable until the next sweep unless kept.
func (s *Store) BulkSet(values map[string]any) {
	for _, k := range sortedKeys(values) {
		e, ok := s.entries[k]
		if !ok {
			e = &entry{}
			s.entries[k] = e
		}
		e.value = values[k]
		e.used = true
		e.scoped = false
	}
}

// Delete removes key and its bookkeeping.
func (s *Store) Delete(key string) {
	delete(s.entries, key)
}

// Keep marks the given keys, or every key when none are given, as fresh so
// they survive the next sweep. Keep with no arguments leaves now-scoped
// entries alone; naming a now-scoped key explicitly promotes it.
func (s *Store) Keep(keys ...string) {
	if len(keys) == 0 {
		for _, e := range s.entries {
			if !e.scoped {
				e.used = false
			}
		}
		return
	}
	for _, k := range keys {
		if e, ok := s.entries[k]; ok {
			e.used = false
			e.scoped = false
		}
	}
}

// Discard marks the given keys, or every key when none are given, as used so
// the next sweep removes them.
func (s *Store) Discard(keys ...string) {
	if len(keys) == 0 {
		for _, e := range s.entries {
			e.used = true
		}
		return
	}
	for _, k := range keys {
		s.use(k, true)
	}
}

// Sweep advances every entry by one cycle: used entries are deleted and
// fresh ones become used. Calls after the first within the same cycle are
// no-ops. It returns how many entries were kept and dropped.
func (s *Store) Sweep() (kept, dropped int) {
	if s.swept {
		return len(s.entries), 0
	}
	s.swept = true
	for _, k := range s.Keys() {
		e := s.entries[k]
		if e.used {
			delete(s.entries, k)
			dropped++
			continue
		}
		e.used = true
		kept++
	}
	return kept, dropped
}

// Replace discards all entries and bookkeeping and installs values as fresh
// entries.
func (s *Store) Replace(values map[string]any) {
	s.entries = make(map[string]*entry, len(values))
	for k, v := range values {
		s.Set(k, v)
	}
}

// Keys returns the present keys in sorted order.
func (s *Store) Keys() []string {
	return slices.Sorted(maps.Keys(s.entries))
}

// Len returns the number of present entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// Values returns a copy of all present entries.
func (s *Store) Values() map[string]any {
	out := make(map[string]any, len(s.entries))
	for k, e := range s.entries {
		out[k] = e.value
	}
	return out
}

// Notice returns the "notice" entry as a string.
func (s *Store) Notice() string { return s.str(KeyNotice) }

// SetNotice sets the "notice" entry.
func (s *Store) SetNotice(msg string) { s.Set(KeyNotice, msg) }

// Alert returns the "alert" entry as a string.
func (s *Store) Alert() string { return s.str(KeyAlert) }

// SetAlert sets the "alert" entry.
func (s *Store) SetAlert(msg string) { s.Set(KeyAlert, msg) }

// Now returns a view whose writes are visible only for the current cycle.
func (s *Store) Now() Now {
	return Now{store: s}
}

func (s *Store) use(key string, used bool) {
	if e, ok := s.entries[key]; ok {
		e.used = used
	}
}

func (s *Store) str(key string) string {
	v, _ := s.Get(key)
	msg, _ := v.(string)
	return msg
}

// Now is the current-cycle view of a Store.
type Now struct {
	store *Store
}

// Get delegates to the underlying store.
func (n Now) Get(key string) (any, bool) {
	return n.store.Get(key)
}

// Set writes value so that it is removed by the next sweep without ever
// reaching the next cycle.
func (n Now) Set(key string, value any) {
	n.store.Set(key, value)
	n.store.Discard(key)
	n.store.entries[key].scoped = true
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
