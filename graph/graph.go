// Package graph provides a typed-state graph runtime for agent
// workflows: named nodes, static and conditional edges, per-thread
// checkpointing and classified retry.
package graph

import (
	"context"
	"fmt"
)

// Sentinel node names.
const (
	// START is the implicit entry edge source.
	START = "__start__"
	// END terminates the invocation.
	END = "__end__"
)

// Command is a node's control directive: where to go next and how to
// patch the shared state before moving on.
type Command[S any] struct {
	// Goto names the next node, or END. Empty follows the node's
	// static or conditional edge.
	Goto string

	// Update mutates the shared state. Applied before the checkpoint
	// for this super-step is written.
	Update func(*S)
}

// NodeFunc executes one node against the current state snapshot.
type NodeFunc[S any] func(ctx context.Context, state *S) (Command[S], error)

// RouterFunc selects the next node for a conditional edge.
type RouterFunc[S any] func(state *S) string

// Graph is a graph under construction. Not safe for concurrent use;
// Compile produces the immutable runnable form.
type Graph[S any] struct {
	nodes  map[string]NodeFunc[S]
	edges  map[string]string
	conds  map[string]RouterFunc[S]
	entry  string
	policy map[string]RetryPolicy
}

// New creates an empty graph.
func New[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:  make(map[string]NodeFunc[S]),
		edges:  make(map[string]string),
		conds:  make(map[string]RouterFunc[S]),
		policy: make(map[string]RetryPolicy),
	}
}

// AddNode registers a node. Re-registering a name panics: graphs are
// assembled once at startup and a duplicate is a programming error.
func (g *Graph[S]) AddNode(name string, fn NodeFunc[S]) *Graph[S] {
	if name == START || name == END {
		panic(fmt.Sprintf("graph: %q is reserved", name))
	}
	if _, exists := g.nodes[name]; exists {
		panic(fmt.Sprintf("graph: node %q already registered", name))
	}
	g.nodes[name] = fn
	return g
}

// AddEdge wires a static edge from one node to the next (or END).
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.edges[from] = to
	return g
}

// AddConditionalEdge wires a router that picks the next node from the
// state after from executes.
func (g *Graph[S]) AddConditionalEdge(from string, router RouterFunc[S]) *Graph[S] {
	g.conds[from] = router
	return g
}

// SetEntry names the node START leads to.
func (g *Graph[S]) SetEntry(name string) *Graph[S] {
	g.entry = name
	return g
}

// WithRetryPolicy attaches a retry policy to a node.
func (g *Graph[S]) WithRetryPolicy(node string, policy RetryPolicy) *Graph[S] {
	g.policy[node] = policy
	return g
}

// Compile validates the graph and returns the runnable form.
func (g *Graph[S]) Compile(opts ...Option) (*Compiled[S], error) {
	if g.entry == "" {
		return nil, fmt.Errorf("graph: entry node not set")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return nil, fmt.Errorf("graph: entry node %q not registered", g.entry)
	}
	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("graph: edge from unknown node %q", from)
		}
		if to != END {
			if _, ok := g.nodes[to]; !ok {
				return nil, fmt.Errorf("graph: edge %q -> unknown node %q", from, to)
			}
		}
	}
	for from := range g.conds {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("graph: conditional edge from unknown node %q", from)
		}
		if _, static := g.edges[from]; static {
			return nil, fmt.Errorf("graph: node %q has both static and conditional edges", from)
		}
	}
	// Nodes without edges are legal: they must route via Command.Goto,
	// which is checked at runtime.

	c := &Compiled[S]{
		graph:    g,
		maxSteps: defaultMaxSteps,
	}
	for _, opt := range opts {
		opt(&c.options)
	}
	return c, nil
}
