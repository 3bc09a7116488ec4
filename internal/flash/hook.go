package flash

import (
	"context"
	"errors"
	"net/http"

	"github.com/matheus3301/flashd/internal/bus"
	"github.com/matheus3301/flashd/internal/dispatch"
	"github.com/matheus3301/flashd/internal/session"
	"go.uber.org/zap"
)

// SessionKey is the session entry the flash is persisted under.
const SessionKey = "flash"

type ctxKey struct{}

// WithStore attaches s to ctx.
func WithStore(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the flash of the current request. Outside a request
// handled by Hook it returns a fresh ephemeral store so reads and writes
// remain safe.
func FromContext(ctx context.Context) *Store {
	if s, ok := ctx.Value(ctxKey{}).(*Store); ok {
		return s
	}
	return New()
}

// Hook attaches the session's flash to each request and sweeps it when the
// request ends. It must be registered after the session hook.
type Hook struct {
	bus *bus.Bus
}

// NewHook creates the flash lifecycle hook.
func NewHook(b *bus.Bus) *Hook {
	return &Hook{bus: b}
}

func (h *Hook) Name() string { return "flash" }

func (h *Hook) Before(_ http.ResponseWriter, r *http.Request) (*http.Request, error) {
	s := New()
	if sess := session.FromContext(r.Context()); sess != nil {
		if data, ok := sess.Get(SessionKey); ok {
			loaded, err := Decode(data)
			if err != nil {
				dispatch.Logger(r.Context()).Warn("discarding unreadable flash", zap.Error(err))
			} else {
				s = loaded
			}
		}
	}
	s.Begin()
	return r.WithContext(WithStore(r.Context(), s)), nil
}

func (h *Hook) After(_ http.ResponseWriter, r *http.Request) error {
	s, ok := r.Context().Value(ctxKey{}).(*Store)
	if !ok {
		return nil
	}
	kept, dropped := s.Sweep()

	sess := session.FromContext(r.Context())
	if sess == nil {
		// Sessions disabled: nothing outlives the request.
		return nil
	}
	h.bus.Emit(bus.KindFlashSwept, bus.FlashSwept{SessionID: sess.ID, Kept: kept, Dropped: dropped})

	data, err := h.encode(r.Context(), s)
	if err != nil || data == nil {
		// Never leave the previous cycle's flash behind.
		sess.Delete(SessionKey)
		return err
	}
	sess.Set(SessionKey, data)
	return nil
}

// encode serializes the swept store. Entries whose values cannot be encoded
// are dropped and logged so the rest of the flash still reaches the next
// cycle. It returns nil data when nothing is left to persist.
func (h *Hook) encode(ctx context.Context, s *Store) ([]byte, error) {
	if s.Len() == 0 {
		return nil, nil
	}
	data, err := Encode(s)
	if !errors.Is(err, ErrUnencodable) {
		return data, err
	}
	for _, k := range s.dropUnencodable() {
		dispatch.Logger(ctx).Warn("dropping flash entry that cannot be persisted", zap.String("key", k))
	}
	if s.Len() == 0 {
		return nil, nil
	}
	return Encode(s)
}
