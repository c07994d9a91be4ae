package jobs

import (
	"errors"
	"fmt"
)

// Status is the state of a job.
type Status string

const (
	StatusIdle              Status = "idle"
	StatusModeSelected      Status = "mode-selected"
	StatusPreparing         Status = "preparing"
	StatusAnalyzing         Status = "analyzing-chunks"
	StatusGenerating        Status = "generating-final-report"
	StatusCompleted         Status = "completed"
	StatusPausedAwaitResume Status = "paused-awaiting-resume"
	StatusPausedRateLimited Status = "paused-rate-limited"
	StatusCancelled         Status = "cancelled"
	StatusError             Status = "error"
)

// ErrInvalidTransition is returned when a control does not apply to the
// current status.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status][]Status{
	StatusIdle:              {StatusModeSelected},
	StatusModeSelected:      {StatusPreparing, StatusCancelled},
	StatusPreparing:         {StatusAnalyzing, StatusError, StatusCancelled},
	StatusAnalyzing:         {StatusPausedAwaitResume, StatusPausedRateLimited, StatusGenerating, StatusError, StatusCancelled},
	StatusPausedAwaitResume: {StatusAnalyzing, StatusError, StatusCancelled},
	StatusPausedRateLimited: {StatusAnalyzing, StatusCancelled},
	StatusGenerating:        {StatusCompleted, StatusPausedRateLimited, StatusError, StatusCancelled},
	StatusError:             {StatusIdle},
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Active reports whether the job holds work that Cancel would abort.
func (s Status) Active() bool {
	return s.CanTransition(StatusCancelled)
}

// Paused reports whether s is one of the paused states.
func (s Status) Paused() bool {
	return s == StatusPausedAwaitResume || s == StatusPausedRateLimited
}

// Terminal reports whether no control can move the job any further.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
