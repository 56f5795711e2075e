package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/natsclient"
)

// TurnFinishedSubject receives one event per completed agent turn.
const TurnFinishedSubject = "agent.turn.finished"

// TurnFinishedEvent is published after a turn completes so downstream
// consumers can react to stage movement without polling.
type TurnFinishedEvent struct {
	SessionID     string    `json:"session_id"`
	AssistantType string    `json:"assistant_type"`
	Workflow      string    `json:"workflow,omitempty"`
	StageID       string    `json:"stage_id,omitempty"`
	ArtifactKeys  []string  `json:"artifact_keys,omitempty"`
	FinishedAt    time.Time `json:"finished_at"`
}

// PublishTurnFinished publishes the event to JetStream. A nil client
// degrades to a no-op so NATS stays optional.
func PublishTurnFinished(ctx context.Context, nc *natsclient.Client, ev TurnFinishedEvent) error {
	if nc == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal turn event: %w", err)
	}
	if err := nc.PublishToStream(ctx, TurnFinishedSubject, data); err != nil {
		return fmt.Errorf("publish turn event: %w", err)
	}
	return nil
}
