// Package metrics counts bus events and serves them in the Prometheus text
// exposition format.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/matheus3301/flashd/internal/bus"
	"github.com/matheus3301/flashd/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

const namespace = "flashd"

// Collector feeds bus events into a private Prometheus registry.
type Collector struct {
	bus      *bus.Bus
	logger   *zap.Logger
	registry *prometheus.Registry
	handler  http.Handler

	sweeps   prometheus.Counter
	kept     prometheus.Counter
	dropped  prometheus.Counter
	sessions *prometheus.CounterVec
	requests *prometheus.CounterVec

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a collector reading from b.
func New(b *bus.Bus, logger *zap.Logger) *Collector {
	c := &Collector{
		bus:      b,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flash",
			Name:      "sweeps_total",
			Help:      "Flash sweeps performed at the end of a request.",
		}),
		kept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flash",
			Name:      "kept_total",
			Help:      "Flash entries carried into the next request.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flash",
			Name:      "dropped_total",
			Help:      "Flash entries removed by a sweep.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "changes_total",
			Help:      "Session lifecycle changes, by kind.",
		}, []string{"change"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by status code.",
		}, []string{"code"}),
	}
	for _, change := range []string{"created", "reset", "expired"} {
		c.sessions.WithLabelValues(change)
	}

	c.registry.MustRegister(c.sweeps, c.kept, c.dropped, c.sessions, c.requests)
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "dropped_events",
		Help:      "Bus deliveries skipped because a subscriber was full.",
	}, func() float64 { return float64(b.Dropped()) }))

	c.handler = promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(logger),
	})
	return c
}

// WatchSessions exposes the number of stored sessions as a gauge read from
// counter at scrape time.
func (c *Collector) WatchSessions(counter session.Counter) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "stored",
		Help:      "Sessions currently held by the backend.",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := counter.Count(ctx)
		if err != nil {
			c.logger.Warn("count sessions", zap.Error(err))
			return 0
		}
		return float64(n)
	}))
}

// Start subscribes to the bus and begins counting.
func (c *Collector) Start(ctx context.Context) {
	ch, unsub := c.bus.Subscribe("", 256)
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer unsub()
		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				c.Observe(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops counting and waits for the subscriber goroutine.
func (c *Collector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Observe records one event.
func (c *Collector) Observe(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case bus.RequestDone:
		c.requests.WithLabelValues(strconv.Itoa(p.Status)).Inc()
	case bus.FlashSwept:
		c.sweeps.Inc()
		c.kept.Add(float64(p.Kept))
		c.dropped.Add(float64(p.Dropped))
	case bus.SessionChange:
		switch evt.Kind {
		case bus.KindSessionCreated:
			c.sessions.WithLabelValues("created").Inc()
		case bus.KindSessionReset:
			c.sessions.WithLabelValues("reset").Inc()
		case bus.KindSessionExpired:
			c.sessions.WithLabelValues("expired").Add(float64(p.Count))
		}
	}
}

// Families gathers the current metric families sorted by name.
func (c *Collector) Families() ([]*dto.MetricFamily, error) {
	return c.registry.Gather()
}

// ServeHTTP writes all families in the text exposition format.
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.handler.ServeHTTP(w, r)
}
