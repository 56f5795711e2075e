// Package stream implements the data-stream protocol the browser UI
// consumes: token deltas, tool events and progress snapshots multiplexed
// onto one SSE response.
package stream

// Event types understood by the client.
const (
	TypeTextStart = "text-start"
	TypeTextDelta = "text-delta"
	TypeTextEnd   = "text-end"

	TypeToolInputAvailable  = "tool-input-available"
	TypeToolOutputAvailable = "tool-output-available"

	TypeProgress = "data-progress"

	TypeFinish = "finish"
	TypeError  = "error"
)

// Event is one protocol event. Fields are sparse; which ones are set
// depends on Type.
type Event struct {
	Type string `json:"type"`

	// Text events
	ID    string `json:"id,omitempty"`
	Delta string `json:"delta,omitempty"`

	// Tool events
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	Input      any    `json:"input,omitempty"`
	Output     any    `json:"output,omitempty"`

	// Progress events
	Data *Progress `json:"data,omitempty"`

	// Finish / error
	FinishReason string `json:"finishReason,omitempty"`
	ErrorText    string `json:"errorText,omitempty"`
}

// StageView is one plan stage as shown in the progress strip.
type StageView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ArtifactProgress describes the artifact being produced right now.
type ArtifactProgress struct {
	Template   string `json:"template,omitempty"`
	Completed  bool   `json:"completed"`
	Generating bool   `json:"generating"`
}

// Progress is the idempotent progress snapshot; the client merges
// snapshots last-wins.
type Progress struct {
	Stages            []StageView      `json:"stages"`
	CurrentStageIndex int              `json:"currentStageIndex"`
	CurrentTask       string           `json:"currentTask,omitempty"`
	ArtifactProgress  ArtifactProgress `json:"artifactProgress"`
	Artifacts         map[string]any   `json:"artifacts,omitempty"`
}
