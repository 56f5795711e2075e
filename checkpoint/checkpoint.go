// Package checkpoint persists per-thread graph state. One Saver
// instance serves the whole process; threads are independent.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when a thread has no checkpoint yet.
var ErrNotFound = errors.New("checkpoint not found")

// Saver stores serialized state keyed by thread id.
type Saver interface {
	// Put overwrites the checkpoint for a thread.
	Put(ctx context.Context, threadID string, state json.RawMessage) error

	// Get returns the checkpoint for a thread, or ErrNotFound.
	Get(ctx context.Context, threadID string) (json.RawMessage, error)
}

// Load fetches and decodes a thread's checkpoint. The boolean reports
// whether a checkpoint existed.
func Load[S any](ctx context.Context, saver Saver, threadID string) (*S, bool, error) {
	data, err := saver.Get(ctx, threadID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}

	var state S
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, false, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return &state, true, nil
}

// Save encodes and stores a thread's state.
func Save[S any](ctx context.Context, saver Saver, threadID string, state *S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", threadID, err)
	}
	if err := saver.Put(ctx, threadID, data); err != nil {
		return fmt.Errorf("store checkpoint %s: %w", threadID, err)
	}
	return nil
}

// Memory is an in-process Saver. Suitable for single-instance
// deployments and tests; state is lost on restart.
type Memory struct {
	mu    sync.RWMutex
	store map[string]json.RawMessage
}

// NewMemory creates an empty in-memory saver.
func NewMemory() *Memory {
	return &Memory{store: make(map[string]json.RawMessage)}
}

// Put stores a copy of the state.
func (m *Memory) Put(_ context.Context, threadID string, state json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make(json.RawMessage, len(state))
	copy(buf, state)
	m.store[threadID] = buf
	return nil
}

// Get returns a copy of the stored state.
func (m *Memory) Get(_ context.Context, threadID string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.store[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	buf := make(json.RawMessage, len(state))
	copy(buf, state)
	return buf, nil
}
