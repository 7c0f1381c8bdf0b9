package engine

import (
	"errors"
	"fmt"
)

// Missing-link errors: data the workflow needs in order to proceed is absent.
var (
	ErrTaskNotFound                = errors.New("task not found")
	ErrSubmissionNotFound          = errors.New("submission not found")
	ErrReviewTaskNotFound          = errors.New("review task not found")
	ErrReviewNotFound              = errors.New("review not found")
	ErrMissingIndicatorAssociation = errors.New("missing indicator association")
	ErrIndicatorNotFound           = errors.New("indicator not found")
	ErrUserNotFound                = errors.New("user not found")
)

// Configuration errors: the indicator or its roles are misconfigured.
var (
	ErrRoleNotFoundForVerificationLevel = errors.New("role not found for verification level")
	ErrIndicatorPublished               = errors.New("indicator is published to a programme and cannot change")
)

var (
	ErrReviewAlreadyRecorded = errors.New("review already recorded")
	ErrReviewerMismatch      = errors.New("reviewer is not the assigned verifier")
	ErrInvalidTransition     = errors.New("invalid status transition")
)

// AttachmentNotFoundError is returned when a submission references a prior attachment that does not exist.
type AttachmentNotFoundError struct {
	ID string
}

func (e AttachmentNotFoundError) Error() string {
	return fmt.Sprintf("attachment %s not found", e.ID)
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition %s -> %s", e.Entity, e.From, e.To)
}

func (e TransitionError) Unwrap() error { return ErrInvalidTransition }
