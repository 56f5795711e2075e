package stream

import (
	"context"
	"sync"
)

// Sink receives protocol events in emission order.
type Sink func(Event)

// Writer emits protocol events for one graph invocation. It enforces
// the protocol invariants: exactly one text-start/text-end bracket per
// message id, strictly forward text deltas, and tool-input before
// tool-output. A Writer buffers nothing; every event goes straight to
// the sink.
type Writer struct {
	mu      sync.Mutex
	sink    Sink
	emitted map[string]int // message id -> bytes already emitted
	closed  map[string]bool
}

// NewWriter creates a writer bound to a sink.
func NewWriter(sink Sink) *Writer {
	return &Writer{
		sink:    sink,
		emitted: make(map[string]int),
		closed:  make(map[string]bool),
	}
}

// Text emits the unseen suffix of full for the given message id,
// opening the text bracket on first call. Callers pass the accumulated
// text; the writer tracks what was already sent so re-sends collapse
// to nothing.
func (w *Writer) Text(id, full string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed[id] {
		return
	}

	sent, started := w.emitted[id]
	if !started {
		w.sink(Event{Type: TypeTextStart, ID: id})
		w.emitted[id] = 0
		sent = 0
	}
	if len(full) <= sent {
		return
	}

	w.sink(Event{Type: TypeTextDelta, ID: id, Delta: full[sent:]})
	w.emitted[id] = len(full)
}

// EndText closes the text bracket for a message id. Ending an id that
// never started opens and closes an empty bracket so the client always
// sees a well-formed pair.
func (w *Writer) EndText(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed[id] {
		return
	}
	if _, started := w.emitted[id]; !started {
		w.sink(Event{Type: TypeTextStart, ID: id})
		w.emitted[id] = 0
	}
	w.sink(Event{Type: TypeTextEnd, ID: id})
	w.closed[id] = true
}

// ToolInput emits a tool-input-available event.
func (w *Writer) ToolInput(callID, toolName string, input any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sink(Event{
		Type:       TypeToolInputAvailable,
		ToolCallID: callID,
		ToolName:   toolName,
		Input:      input,
	})
}

// ToolOutput emits a tool-output-available event.
func (w *Writer) ToolOutput(callID string, output any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sink(Event{
		Type:       TypeToolOutputAvailable,
		ToolCallID: callID,
		Output:     output,
	})
}

// Progress emits a progress snapshot.
func (w *Writer) Progress(p Progress) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sink(Event{Type: TypeProgress, Data: &p})
}

// Finish emits the finish event.
func (w *Writer) Finish(reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sink(Event{Type: TypeFinish, FinishReason: reason})
}

// Error emits a sanitized error event. Raw errors never reach the wire.
func (w *Writer) Error(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sink(Event{Type: TypeError, ErrorText: Sanitize(err)})
}

type writerKey struct{}

// WithWriter returns a context carrying the writer. The graph driver
// installs a per-invocation writer before running nodes.
func WithWriter(ctx context.Context, w *Writer) context.Context {
	return context.WithValue(ctx, writerKey{}, w)
}

// FromContext returns the writer for the current invocation. Nodes
// running outside a streaming invocation get a writer that discards
// events, so emission never needs a nil check.
func FromContext(ctx context.Context) *Writer {
	if w, ok := ctx.Value(writerKey{}).(*Writer); ok && w != nil {
		return w
	}
	return NewWriter(func(Event) {})
}
