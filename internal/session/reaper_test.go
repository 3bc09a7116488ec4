package session

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/flashd/internal/bus"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestReaperReap(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	backend.now = func() time.Time { return base }
	_ = backend.Save(ctx, "a", Data{})
	_ = backend.Save(ctx, "b", Data{})

	b := bus.New()
	ch, unsub := b.Subscribe("session.", 1)
	defer unsub()

	r := NewReaper(backend, 10*time.Minute, b, zap.NewNop())
	r.now = func() time.Time { return base.Add(5 * time.Minute) }
	if n, err := r.Reap(ctx); err != nil || n != 0 {
		t.Fatalf("Reap() before TTL = %d, %v", n, err)
	}

	r.now = func() time.Time { return base.Add(11 * time.Minute) }
	n, err := r.Reap(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Reap() = %d, want 2", n)
	}

	evt := <-ch
	if change, ok := evt.Payload.(bus.SessionChange); !ok || change.Count != 2 {
		t.Errorf("payload = %#v", evt.Payload)
	}
}

func TestReaperStartStop(t *testing.T) {
	r := NewReaper(NewMemory(), time.Second, nil, zap.NewNop())
	r.Start(context.Background())
	r.Stop()
	// Stop is safe to call twice.
	r.Stop()
}

func TestReaperInterval(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want time.Duration
	}{
		{100 * time.Millisecond, time.Second},
		{10 * time.Second, 5 * time.Second},
		{24 * time.Hour, time.Minute},
	}
	for _, tt := range tests {
		r := NewReaper(NewMemory(), tt.ttl, nil, zap.NewNop())
		if r.interval != tt.want {
			t.Errorf("ttl %v: interval = %v, want %v", tt.ttl, r.interval, tt.want)
		}
	}
}

func TestReaperZeroTTLKeepsSessions(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	if err := backend.Save(ctx, "a", Data{"flash": []byte("x")}); err != nil {
		t.Fatal(err)
	}

	r := NewReaper(backend, 0, nil, zap.NewNop())
	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err := r.Reap(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || backend.Len() != 1 {
		t.Errorf("Reap() with zero TTL removed %d, left %d; want 0, 1", n, backend.Len())
	}
}
