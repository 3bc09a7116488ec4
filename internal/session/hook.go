package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/matheus3301/flashd/internal/bus"
	"github.com/matheus3301/flashd/internal/dispatch"
	"go.uber.org/zap"
)

// DefaultCookieName is used when Options.CookieName is empty.
const DefaultCookieName = "flashd_session"

// Options controls the session cookie.
type Options struct {
	CookieName string
	Path       string
	Secure     bool
	// MaxAge is the cookie lifetime; zero makes it a browser-session cookie.
	MaxAge time.Duration
}

func (o Options) cookieName() string {
	if o.CookieName != "" {
		return o.CookieName
	}
	return DefaultCookieName
}

// Hook loads the request's session before the handler and persists it
// afterwards.
type Hook struct {
	backend Backend
	opts    Options
	logger  *zap.Logger
	bus     *bus.Bus
}

// NewHook creates a session hook backed by backend.
func NewHook(backend Backend, opts Options, logger *zap.Logger, b *bus.Bus) *Hook {
	return &Hook{backend: backend, opts: opts, logger: logger, bus: b}
}

func (h *Hook) Name() string { return "session" }

func (h *Hook) Before(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	sess, err := h.load(r)
	if err != nil {
		return nil, &dispatch.StatusError{Code: http.StatusServiceUnavailable, Err: err}
	}
	sess.onRotate = func(id string) {
		http.SetCookie(w, h.cookie(id))
	}
	if sess.IsNew() {
		http.SetCookie(w, h.cookie(sess.ID))
		h.bus.Emit(bus.KindSessionCreated, bus.SessionChange{SessionID: sess.ID})
	}
	return r.WithContext(WithSession(r.Context(), sess)), nil
}

func (h *Hook) After(_ http.ResponseWriter, r *http.Request) error {
	sess := FromContext(r.Context())
	if sess == nil {
		return nil
	}
	ctx := r.Context()
	var errs []error
	if sess.prevID != "" {
		if err := h.backend.Delete(ctx, sess.prevID); err != nil {
			errs = append(errs, fmt.Errorf("delete rotated session: %w", err))
		}
		h.bus.Emit(bus.KindSessionReset, bus.SessionChange{SessionID: sess.ID})
	}
	if sess.destroyed {
		if err := h.backend.Delete(ctx, sess.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete session: %w", err))
		}
		return errors.Join(errs...)
	}
	if err := h.backend.Save(ctx, sess.ID, sess.data); err != nil {
		errs = append(errs, fmt.Errorf("save session: %w", err))
	}
	return errors.Join(errs...)
}

func (h *Hook) load(r *http.Request) (*Session, error) {
	c, err := r.Cookie(h.opts.cookieName())
	if err != nil {
		return newSession(NewID(), nil, true), nil
	}
	if err := ValidateID(c.Value); err != nil {
		dispatch.Logger(r.Context()).Debug("ignoring session cookie", zap.Error(err))
		return newSession(NewID(), nil, true), nil
	}
	data, ok, err := h.backend.Load(r.Context(), c.Value)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		// Unknown or expired: never adopt a client-chosen ID.
		return newSession(NewID(), nil, true), nil
	}
	return newSession(c.Value, data, false), nil
}

func (h *Hook) cookie(id string) *http.Cookie {
	path := h.opts.Path
	if path == "" {
		path = "/"
	}
	c := &http.Cookie{
		Name:     h.opts.cookieName(),
		Value:    id,
		Path:     path,
		HttpOnly: true,
		Secure:   h.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if h.opts.MaxAge > 0 {
		c.MaxAge = int(h.opts.MaxAge / time.Second)
	}
	return c
}
