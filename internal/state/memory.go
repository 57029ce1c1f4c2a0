package state

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps everything in process memory. It is used for dry runs
// and in tests.
type MemoryBackend struct {
	mu          sync.Mutex
	current     []byte
	history     [][]byte
	checkpoints map[string][]byte
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{checkpoints: make(map[string][]byte)}
}

func (b *MemoryBackend) ReadCurrent(_ context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil, ErrNotFound
	}
	return clone(b.current), nil
}

func (b *MemoryBackend) WriteCurrent(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = clone(data)
	return nil
}

func (b *MemoryBackend) AppendHistory(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, clone(data))
	return nil
}

func (b *MemoryBackend) ReadHistory(_ context.Context) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.history))
	for i, h := range b.history {
		out[i] = clone(h)
	}
	return out, nil
}

func (b *MemoryBackend) WriteCheckpoint(_ context.Context, label string, data []byte) error {
	if err := ValidateLabel(label); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.checkpoints[label]; ok {
		return ErrCheckpointExists
	}
	b.checkpoints[label] = clone(data)
	return nil
}

func (b *MemoryBackend) ReadCheckpoint(_ context.Context, label string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.checkpoints[label]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(data), nil
}

func (b *MemoryBackend) ListCheckpoints(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	labels := make([]string, 0, len(b.checkpoints))
	for label := range b.checkpoints {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels, nil
}

func (b *MemoryBackend) Close() error { return nil }

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
