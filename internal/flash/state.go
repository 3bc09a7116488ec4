package flash

// KeyState is the retention state of a single flash key. It is derived from
// the entry, never stored.
type KeyState string

const (
	Absent        KeyState = "ABSENT"
	Fresh         KeyState = "FRESH"
	PendingDelete KeyState = "PENDING_DELETE"
)

// State returns the retention state of key.
func (s *Store) State(key string) KeyState {
	e, ok := s.entries[key]
	switch {
	case !ok:
		return Absent
	case e.used:
		return PendingDelete
	default:
		return Fresh
	}
}

// States returns the retention state of every present key.
func (s *Store) States() map[string]KeyState {
	out := make(map[string]KeyState, len(s.entries))
	for k := range s.entries {
		out[k] = s.State(k)
	}
	return out
}
