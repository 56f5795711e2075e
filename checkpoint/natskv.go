package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"
)

// CheckpointsBucket is the KV bucket name for thread checkpoints.
const CheckpointsBucket = "AGENT_CHECKPOINTS"

// checkpointTTL expires abandoned conversations.
const checkpointTTL = 30 * 24 * time.Hour

// NATSKV is a Saver backed by a JetStream KV bucket, so checkpoints
// survive restarts and are shared across instances.
type NATSKV struct {
	bucket jetstream.KeyValue
}

// NewNATSKV creates (or adopts) the checkpoints bucket.
func NewNATSKV(nc *natsclient.Client) (*NATSKV, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}

	// CreateOrUpdateKeyValue is idempotent and handles race conditions
	bucket, err := js.CreateOrUpdateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket:      CheckpointsBucket,
		Description: "Per-thread agent graph checkpoints",
		TTL:         checkpointTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update kv bucket: %w", err)
	}

	return &NATSKV{bucket: bucket}, nil
}

// Put overwrites the checkpoint for a thread.
func (s *NATSKV) Put(ctx context.Context, threadID string, state json.RawMessage) error {
	if _, err := s.bucket.Put(ctx, threadID, state); err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

// Get returns the checkpoint for a thread.
func (s *NATSKV) Get(ctx context.Context, threadID string) (json.RawMessage, error) {
	entry, err := s.bucket.Get(ctx, threadID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return entry.Value(), nil
}
