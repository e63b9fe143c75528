package domain

import (
	"errors"
	"fmt"
	"strings"
)

var allowedTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusScheduled:  {SessionStatusInProgress, SessionStatusCompleted, SessionStatusCancelled},
	SessionStatusInProgress: {SessionStatusCompleted, SessionStatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the session state machine.
func CanTransition(from, to SessionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var ErrInvalidPayload = errors.New("invalid transition payload")

// TransitionPayload is the closed set of per-target request bodies.
type TransitionPayload interface {
	Target() SessionStatus
	Validate() error
	isTransitionPayload()
}

type StartPayload struct {
	InstructorNotes *string
}

func (StartPayload) Target() SessionStatus { return SessionStatusInProgress }
func (StartPayload) Validate() error       { return nil }
func (StartPayload) isTransitionPayload()  {}

type CompletionPayload struct {
	Summary          string
	InstructorNotes  *string
	ActualDuration   int
	SessionArtifacts []string
}

func (CompletionPayload) Target() SessionStatus { return SessionStatusCompleted }
func (CompletionPayload) isTransitionPayload()  {}

func (p CompletionPayload) Validate() error {
	if strings.TrimSpace(p.Summary) == "" {
		return fmt.Errorf("%w: summary is required", ErrInvalidPayload)
	}
	if p.ActualDuration <= 0 {
		return fmt.Errorf("%w: actual duration must be positive", ErrInvalidPayload)
	}
	for i, ref := range p.SessionArtifacts {
		if strings.TrimSpace(ref) == "" {
			return fmt.Errorf("%w: session artifact %d is empty", ErrInvalidPayload, i)
		}
	}
	return nil
}

type CancellationPayload struct {
	Reason *string
}

func (CancellationPayload) Target() SessionStatus { return SessionStatusCancelled }
func (CancellationPayload) Validate() error       { return nil }
func (CancellationPayload) isTransitionPayload()  {}
