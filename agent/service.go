package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/lisa/checkpoint"
	"github.com/c360studio/lisa/graph"
	"github.com/c360studio/lisa/llm"
	"github.com/c360studio/lisa/stream"
	"github.com/c360studio/lisa/workflow"
)

// Service drives one streamed agent turn per request. Graphs are
// compiled once per assistant type and shared; per-thread serialization
// happens inside the graph runtime.
type Service struct {
	client *llm.Client
	saver  checkpoint.Saver
	nc     *natsclient.Client
	logger *slog.Logger

	onNode func(node string, duration time.Duration, err error)

	mu     sync.Mutex
	graphs map[string]*graph.Compiled[State]
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithNATS attaches the JetStream client used for turn-finished events.
func WithNATS(nc *natsclient.Client) ServiceOption {
	return func(s *Service) { s.nc = nc }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithNodeObserver forwards per-node timings, used for metrics.
func WithNodeObserver(fn func(node string, duration time.Duration, err error)) ServiceOption {
	return func(s *Service) { s.onNode = fn }
}

// NewService builds the service around a shared LLM client and the
// process-wide checkpointer.
func NewService(client *llm.Client, saver checkpoint.Saver, opts ...ServiceOption) *Service {
	s := &Service{
		client: client,
		saver:  saver,
		graphs: make(map[string]*graph.Compiled[State]),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Service) compiled(assistantType string) (*graph.Compiled[State], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.graphs[assistantType]; ok {
		return g, nil
	}

	nodes := NewNodes(s.client, assistantType, s.logger)
	opts := []graph.Option{
		graph.WithLogger(s.logger),
		graph.WithCheckpointer(s.saver),
	}
	if s.onNode != nil {
		opts = append(opts, graph.WithNodeObserver(s.onNode))
	}
	g, err := Assemble(nodes, opts...)
	if err != nil {
		return nil, fmt.Errorf("assemble %s graph: %w", assistantType, err)
	}
	s.graphs[assistantType] = g
	return g, nil
}

// History returns the checkpointed conversation state for a thread.
func (s *Service) History(ctx context.Context, threadID string) (*State, bool, error) {
	return checkpoint.Load[State](ctx, s.saver, threadID)
}

// StreamTurn runs one agent turn. The user message is appended to the
// thread state, graph events flow to sink, and the final state is
// returned for the caller to persist session context from. A terminal
// finish or error event is always emitted.
func (s *Service) StreamTurn(ctx context.Context, threadID, assistantType string, userMsg workflow.Message, sink stream.Sink) (*State, error) {
	g, err := s.compiled(assistantType)
	if err != nil {
		return nil, err
	}

	// The checkpoint load happens inside the thread lock so a
	// concurrent turn on the same thread cannot read a stale snapshot
	// and checkpoint over this turn's updates.
	w := stream.NewWriter(sink)
	state, runErr := g.RunTurn(stream.WithWriter(ctx, w), threadID, func(s *State) {
		s.AppendMessages(userMsg)
	})
	if state == nil {
		w.Error(runErr)
		return nil, runErr
	}
	if runErr != nil {
		s.logger.Error("Turn failed",
			"session_id", threadID,
			"node", nodeName(runErr),
			"kind", llm.ErrorKind(runErr),
			"error", runErr)
		w.Error(runErr)
		return state, runErr
	}
	w.Finish("stop")

	if err := PublishTurnFinished(ctx, s.nc, TurnFinishedEvent{
		SessionID:     threadID,
		AssistantType: assistantType,
		Workflow:      state.CurrentWorkflow,
		StageID:       state.CurrentStageID,
		ArtifactKeys:  artifactKeys(state),
		FinishedAt:    time.Now(),
	}); err != nil {
		// Event delivery is best effort; the turn already succeeded.
		s.logger.Warn("Turn event publish failed",
			"session_id", threadID,
			"error", err)
	}

	return state, nil
}

func nodeName(err error) string {
	var nodeErr *graph.NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr.Node
	}
	return ""
}

func artifactKeys(state *State) []string {
	if len(state.Artifacts) == 0 {
		return nil
	}
	keys := make([]string, 0, len(state.Artifacts))
	for k := range state.Artifacts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
