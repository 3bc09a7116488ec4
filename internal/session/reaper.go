package session

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/flashd/internal/bus"
	"go.uber.org/zap"
)

// Reaper periodically removes sessions that have not been saved within TTL.
type Reaper struct {
	backend  Backend
	ttl      time.Duration
	interval time.Duration
	bus      *bus.Bus
	logger   *zap.Logger
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper creates a reaper. It checks every half TTL, but at least once a
// minute and at most once a second.
func NewReaper(backend Backend, ttl time.Duration, b *bus.Bus, logger *zap.Logger) *Reaper {
	interval := min(max(ttl/2, time.Second), time.Minute)
	return &Reaper{
		backend:  backend,
		ttl:      ttl,
		interval: interval,
		bus:      b,
		logger:   logger,
		now:      time.Now,
	}
}

// Start begins the background loop.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop stops the loop and waits for it to exit.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Reap(ctx); err != nil {
				r.logger.Error("session expiry failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Reap removes expired sessions once and returns how many were removed. A
// reaper without a positive TTL never removes anything.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	if r.ttl <= 0 {
		return 0, nil
	}
	n, err := r.backend.Expire(ctx, r.now().Add(-r.ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("expired sessions", zap.Int("count", n))
		r.bus.Emit(bus.KindSessionExpired, bus.SessionChange{Count: n})
	}
	return n, nil
}
