package session

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	data      Data
	updatedAt time.Time
}

// Memory is an in-process Backend. Its contents are lost on restart.
type Memory struct {
	mu   sync.RWMutex
	data map[string]*memEntry
	now  func() time.Time
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]*memEntry),
		now:  time.Now,
	}
}

func (m *Memory) Load(_ context.Context, id string) (Data, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[id]
	if !ok {
		return nil, false, nil
	}
	return copyData(e.data), true, nil
}

func (m *Memory) Save(_ context.Context, id string, data Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = &memEntry{data: copyData(data), updatedAt: m.now()}
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func (m *Memory) Expire(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, e := range m.data {
		if e.updatedAt.Before(before) {
			delete(m.data, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored sessions.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Count implements Counter.
func (m *Memory) Count(context.Context) (int, error) {
	return m.Len(), nil
}

func copyData(d Data) Data {
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = append([]byte(nil), v...)
	}
	return out
}
