package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/flashd/internal/bus"
	"go.uber.org/zap"
)

// Hook is a pair of callbacks run around every request. Before may return a
// derived request (typically carrying new context values) which is passed to
// the rest of the chain; a nil request keeps the current one.
type Hook interface {
	Name() string
	Before(w http.ResponseWriter, r *http.Request) (*http.Request, error)
	After(w http.ResponseWriter, r *http.Request) error
}

// StatusError aborts a request with a specific HTTP status.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s: %v", e.Code, http.StatusText(e.Code), e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Dispatcher runs an ordered list of hooks around HTTP handlers.
type Dispatcher struct {
	hooks  []Hook
	logger *zap.Logger
	bus    *bus.Bus
}

// New creates a dispatcher with no hooks.
func New(logger *zap.Logger, b *bus.Bus) *Dispatcher {
	return &Dispatcher{logger: logger, bus: b}
}

// Use appends hooks. Before callbacks run in registration order and After
// callbacks in reverse order.
func (d *Dispatcher) Use(hooks ...Hook) {
	d.hooks = append(d.hooks, hooks...)
}

// Hooks returns the names of the registered hooks in order.
func (d *Dispatcher) Hooks() []string {
	names := make([]string, len(d.hooks))
	for i, h := range d.hooks {
		names[i] = h.Name()
	}
	return names
}

// Wrap returns a handler that runs next inside the hook chain.
func (d *Dispatcher) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()
		logger := d.logger.With(
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		r = r.WithContext(withLogger(r.Context(), logger))
		rw := &responseWriter{ResponseWriter: w}

		// Only hooks whose Before succeeded get their After.
		ran := make([]Hook, 0, len(d.hooks))
		var abort error
		for _, h := range d.hooks {
			nr, err := h.Before(rw, r)
			if err != nil {
				abort = fmt.Errorf("%s: %w", h.Name(), err)
				break
			}
			if nr != nil {
				r = nr
			}
			ran = append(ran, h)
		}

		if abort != nil {
			logger.Error("request aborted", zap.Error(abort))
			code := http.StatusInternalServerError
			var se *StatusError
			if errors.As(abort, &se) {
				code = se.Code
			}
			http.Error(rw, http.StatusText(code), code)
		} else {
			serve(next, rw, r, logger)
		}

		for i := len(ran) - 1; i >= 0; i-- {
			if err := ran[i].After(rw, r); err != nil {
				logger.Error("after hook failed", zap.String("hook", ran[i].Name()), zap.Error(err))
			}
		}

		elapsed := time.Since(start)
		logger.Debug("request done", zap.Int("status", rw.Status()), zap.Duration("elapsed", elapsed))
		d.bus.Emit(bus.KindRequestDone, bus.RequestDone{
			Method:   r.Method,
			Path:     r.URL.Path,
			Status:   rw.Status(),
			Duration: elapsed,
		})
	})
}

func serve(next http.Handler, w *responseWriter, r *http.Request, logger *zap.Logger) {
	defer func() {
		if v := recover(); v != nil {
			if v == http.ErrAbortHandler {
				panic(v)
			}
			logger.Error("handler panic", zap.Any("panic", v), zap.Stack("stack"))
			if !w.wrote {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}
	}()
	next.ServeHTTP(w, r)
}

type loggerKey struct{}

func withLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// Logger returns the request-scoped logger, or a no-op logger outside a
// dispatched request.
func Logger(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// responseWriter records the status code written by the handler.
type responseWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.status = code
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(p)
}

// Status returns the written status, or 200 if nothing was written.
func (w *responseWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
