package mission

import (
	"errors"

	"github.com/arachnid-agents/mission-control/pkg/models"
)

// ErrAlreadySending is returned when a mission is submitted while a previous
// submission for it is still in flight.
var ErrAlreadySending = errors.New("mission submission already in flight")

// Kind classifies a rejected submission.
type Kind string

const (
	// KindInput is a field rule failure, malformed payload or unknown mission.
	KindInput Kind = "input_validation"
	// KindSequencing is a submission attempted before its predecessor is locked.
	KindSequencing Kind = "sequencing"
	// KindAbuse is a filled-in honeypot.
	KindAbuse Kind = "abuse"
)

// RuleError is returned when a submission is rejected. Message is safe to
// show to the participant.
type RuleError struct {
	Kind    Kind
	Mission models.MissionID
	Field   string
	Message string

	cause error
}

func (e *RuleError) Error() string {
	if e.Mission != "" {
		return string(e.Mission) + ": " + e.Message
	}
	return e.Message
}

func (e *RuleError) Unwrap() error { return e.cause }
