package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/lisa/checkpoint"
)

// defaultMaxSteps bounds a single invocation. The agent graphs here are
// acyclic, so hitting the bound means a wiring bug, not a long loop.
const defaultMaxSteps = 16

type options struct {
	logger *slog.Logger
	saver  checkpoint.Saver
	onNode func(node string, duration time.Duration, err error)
}

// Option configures a compiled graph.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCheckpointer attaches the process-wide saver. State is persisted
// after every super-step.
func WithCheckpointer(saver checkpoint.Saver) Option {
	return func(o *options) { o.saver = saver }
}

// WithNodeObserver installs a hook called after every node execution,
// used for metrics.
func WithNodeObserver(fn func(node string, duration time.Duration, err error)) Option {
	return func(o *options) { o.onNode = fn }
}

// Compiled is the immutable runnable graph. Safe for concurrent use;
// per-thread execution is serialized internally so two turns for the
// same thread never interleave.
type Compiled[S any] struct {
	graph   *Graph[S]
	options options

	maxSteps int
	threads  sync.Map // threadID -> *sync.Mutex
}

// NodeError wraps a node failure with the node's name for logging and
// error classification upstream.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

func (c *Compiled[S]) logger() *slog.Logger {
	if c.options.logger != nil {
		return c.options.logger
	}
	return slog.Default()
}

func (c *Compiled[S]) threadLock(threadID string) *sync.Mutex {
	mu, _ := c.threads.LoadOrStore(threadID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Run executes the graph for one turn, mutating state through node
// updates. The state is checkpointed after every super-step, so a
// failure mid-turn leaves the last completed super-step durable.
//
// The caller supplies the state; when the state comes from this
// thread's checkpoint, use RunTurn instead so the load happens under
// the thread lock.
func (c *Compiled[S]) Run(ctx context.Context, threadID string, state *S) error {
	mu := c.threadLock(threadID)
	mu.Lock()
	defer mu.Unlock()

	return c.run(ctx, threadID, state)
}

// RunTurn loads the thread's checkpoint, applies prepare to the loaded
// state (a zero state when no checkpoint exists) and executes the
// graph, all under the thread lock. Loading outside the lock would let
// two concurrent turns on one thread read the same snapshot and the
// later checkpoint overwrite the earlier turn's updates.
//
// The returned state is the loaded-and-prepared state, carrying
// whatever updates completed before any error.
func (c *Compiled[S]) RunTurn(ctx context.Context, threadID string, prepare func(*S)) (*S, error) {
	mu := c.threadLock(threadID)
	mu.Lock()
	defer mu.Unlock()

	state := new(S)
	if c.options.saver != nil {
		loaded, found, err := checkpoint.Load[S](ctx, c.options.saver, threadID)
		if err != nil {
			return nil, fmt.Errorf("graph: load thread %s: %w", threadID, err)
		}
		if found {
			state = loaded
		}
	}
	if prepare != nil {
		prepare(state)
	}
	return state, c.run(ctx, threadID, state)
}

func (c *Compiled[S]) run(ctx context.Context, threadID string, state *S) error {
	current := c.graph.entry
	for step := 0; step < c.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if current == END {
			return nil
		}

		fn, ok := c.graph.nodes[current]
		if !ok {
			return fmt.Errorf("graph: route to unknown node %q", current)
		}

		cmd, err := c.runNode(ctx, current, fn, state)
		if err != nil {
			return &NodeError{Node: current, Err: err}
		}

		if cmd.Update != nil {
			cmd.Update(state)
		}
		if err := c.saveCheckpoint(ctx, threadID, state); err != nil {
			return err
		}

		next, err := c.route(current, cmd, state)
		if err != nil {
			return err
		}
		current = next
	}

	return fmt.Errorf("graph: exceeded %d steps starting at %q", c.maxSteps, c.graph.entry)
}

// runNode executes a node under its retry policy.
func (c *Compiled[S]) runNode(ctx context.Context, name string, fn NodeFunc[S], state *S) (Command[S], error) {
	policy, ok := c.graph.policy[name]
	if !ok {
		policy = NoRetry()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		start := time.Now()
		cmd, err := fn(ctx, state)
		duration := time.Since(start)

		if c.options.onNode != nil {
			c.options.onNode(name, duration, err)
		}
		if err == nil {
			c.logger().Debug("Node completed",
				"node", name,
				"goto", cmd.Goto,
				"duration_ms", duration.Milliseconds())
			return cmd, nil
		}

		lastErr = err
		retryable := policy.RetryOn != nil && policy.RetryOn(err)
		if !retryable || attempt == policy.MaxAttempts {
			break
		}

		backoff := policy.backoff(attempt)
		c.logger().Warn("Node failed, retrying",
			"node", name,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return Command[S]{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return Command[S]{}, lastErr
}

// route resolves the next node from the command and the edges.
func (c *Compiled[S]) route(current string, cmd Command[S], state *S) (string, error) {
	if cmd.Goto != "" {
		return cmd.Goto, nil
	}
	if router, ok := c.graph.conds[current]; ok {
		return router(state), nil
	}
	if next, ok := c.graph.edges[current]; ok {
		return next, nil
	}
	return "", fmt.Errorf("graph: node %q returned no goto and has no edge", current)
}

func (c *Compiled[S]) saveCheckpoint(ctx context.Context, threadID string, state *S) error {
	if c.options.saver == nil {
		return nil
	}
	if err := checkpoint.Save(ctx, c.options.saver, threadID, state); err != nil {
		return fmt.Errorf("graph: %w", err)
	}
	return nil
}
