package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory Store. It is safe for concurrent use and intended
// for tests and one-shot runs that do not persist models.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, name string) (*Record, error) {
	m.mu.RLock()
	v, ok := m.data[string(key(name))]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeRecord(v)
}

// Put stores the encoded record, so later changes to rec are not seen.
func (m *Memory) Put(_ context.Context, rec *Record) error {
	if err := validName(rec.Name); err != nil {
		return err
	}
	val, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[string(key(rec.Name))] = val
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.data, string(key(name)))
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Info, 0, len(keys))
	for _, k := range keys {
		rec, err := decodeRecord(m.data[k])
		if err != nil {
			return nil, err
		}
		out = append(out, rec.Info)
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
