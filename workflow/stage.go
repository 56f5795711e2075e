package workflow

import (
	"errors"
	"fmt"
)

// Stage statuses.
const (
	StagePending   = "pending"
	StageActive    = "active"
	StageCompleted = "completed"
)

// Sentinel errors for plan operations.
var (
	ErrStageNotFound = errors.New("stage not found in plan")
	ErrNotSuccessor  = errors.New("transition target is not the next stage")
)

// Stage is one entry of a workflow plan.
type Stage struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ArtifactTemplate binds a stage to the artifact it produces.
type ArtifactTemplate struct {
	Stage   string `json:"stage"`
	Key     string `json:"key"`
	Name    string `json:"name"`
	Outline string `json:"outline"`
}

// ActiveStageIndex returns the index of the active stage, or -1.
func ActiveStageIndex(plan []Stage) int {
	for i, s := range plan {
		if s.Status == StageActive {
			return i
		}
	}
	return -1
}

// StageIndex returns the index of a stage id, or -1.
func StageIndex(plan []Stage, id string) int {
	for i, s := range plan {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// ValidatePlan enforces the plan invariant: at most one active stage,
// everything before it completed, everything after it pending.
func ValidatePlan(plan []Stage) error {
	active := -1
	for i, s := range plan {
		switch s.Status {
		case StagePending, StageActive, StageCompleted:
		default:
			return fmt.Errorf("stage %s has unknown status %q", s.ID, s.Status)
		}
		if s.Status != StageActive {
			continue
		}
		if active >= 0 {
			return fmt.Errorf("plan has two active stages: %s and %s", plan[active].ID, s.ID)
		}
		active = i
	}
	if active < 0 {
		return nil
	}
	for i, s := range plan {
		if i < active && s.Status != StageCompleted {
			return fmt.Errorf("stage %s precedes the active stage but is %s", s.ID, s.Status)
		}
		if i > active && s.Status != StagePending {
			return fmt.Errorf("stage %s follows the active stage but is %s", s.ID, s.Status)
		}
	}
	return nil
}

// AdvancePlan moves the plan to the target stage, completing the current
// active stage. Only the immediate successor is a legal target.
func AdvancePlan(plan []Stage, targetID string) ([]Stage, error) {
	target := StageIndex(plan, targetID)
	if target < 0 {
		return nil, fmt.Errorf("%w: %s", ErrStageNotFound, targetID)
	}
	active := ActiveStageIndex(plan)
	if target != active+1 {
		return nil, fmt.Errorf("%w: %s", ErrNotSuccessor, targetID)
	}

	out := make([]Stage, len(plan))
	copy(out, plan)
	if active >= 0 {
		out[active].Status = StageCompleted
	}
	out[target].Status = StageActive
	return out, nil
}

// EnsureStage activates stageID if the plan has no active stage yet.
// Used when a checkpoint carries a stage id the plan does not reflect.
func EnsureStage(plan []Stage, stageID string) []Stage {
	if ActiveStageIndex(plan) >= 0 {
		return plan
	}
	idx := StageIndex(plan, stageID)
	if idx < 0 {
		idx = 0
	}
	out := make([]Stage, len(plan))
	copy(out, plan)
	for i := range out {
		switch {
		case i < idx:
			out[i].Status = StageCompleted
		case i == idx:
			out[i].Status = StageActive
		default:
			out[i].Status = StagePending
		}
	}
	return out
}
