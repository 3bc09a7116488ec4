// Package session provides cookie-identified sessions on top of a pluggable
// persistence backend, and the dispatch hook that loads and saves them.
package session

import (
	"context"
	"maps"
	"slices"
	"time"
)

// Data is the persisted form of a session: opaque blobs keyed by name.
type Data map[string][]byte

// Backend persists session data. Implementations must be safe for
// concurrent use; concurrent saves of the same session are last-write-wins.
type Backend interface {
	// Load returns the data for id, and false if no such session exists.
	Load(ctx context.Context, id string) (Data, bool, error)
	// Save replaces the data for id and refreshes its timestamp.
	Save(ctx context.Context, id string, data Data) error
	// Delete removes id. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
	// Expire removes sessions not saved since before and returns how many.
	Expire(ctx context.Context, before time.Time) (int, error)
}

// Counter is implemented by backends that can report how many sessions they
// hold.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Session is the per-request view of one session.
type Session struct {
	ID string

	data      Data
	isNew     bool
	prevID    string
	destroyed bool
	onRotate  func(id string)
}

func newSession(id string, data Data, isNew bool) *Session {
	if data == nil {
		data = make(Data)
	}
	return &Session{ID: id, data: data, isNew: isNew}
}

// IsNew reports whether the session was created by this request.
func (s *Session) IsNew() bool { return s.isNew }

// Get returns the blob stored under key.
func (s *Session) Get(key string) ([]byte, bool) {
	v, ok := s.data[key]
	return v, ok
}

// Set stores a blob under key.
func (s *Session) Set(key string, value []byte) {
	s.data[key] = value
}

// Delete removes key.
func (s *Session) Delete(key string) {
	delete(s.data, key)
}

// Keys returns the stored keys in sorted order.
func (s *Session) Keys() []string {
	return slices.Sorted(maps.Keys(s.data))
}

// Reset clears all data and moves the session to a fresh ID. The old ID is
// deleted from the backend when the request finishes.
func (s *Session) Reset() {
	if s.prevID == "" && !s.isNew {
		s.prevID = s.ID
	}
	s.ID = NewID()
	s.data = make(Data)
	s.isNew = true
	s.destroyed = false
	if s.onRotate != nil {
		s.onRotate(s.ID)
	}
}

// Destroy removes the session from the backend when the request finishes.
func (s *Session) Destroy() {
	s.destroyed = true
	s.data = make(Data)
}

type ctxKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session of the current request, or nil when
// sessions are disabled.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}
