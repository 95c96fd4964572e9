package model

import "time"

// Status strings as persisted in the status column.
const (
	InstanceStatusDraft            = "draft"
	InstanceStatusPending          = "pending"
	InstanceStatusInProgress       = "in_progress"
	InstanceStatusChangesRequested = "changes_requested"
	InstanceStatusApproved         = "approved"
	InstanceStatusRejected         = "rejected"
	InstanceStatusCancelled        = "cancelled"
)

// InstanceStatus is the instance lifecycle state. Each variant carries only
// the fields valid for that state, so an impossible combination (a Draft
// with a current step, a Cancelled-from-Draft with a submission time) is
// unrepresentable rather than merely unvalidated.
//
// The interface is sealed: only the variants in this file implement it.
type InstanceStatus interface {
	// Kind returns the storage string for the variant.
	Kind() string

	isInstanceStatus()
}

// StatusDraft is the initial state: not yet submitted, no step, no
// timestamps.
type StatusDraft struct{}

// StatusPending is submitted but no approval step is active yet.
type StatusPending struct {
	SubmittedAt time.Time
}

// StatusInProgress has one active approval step.
type StatusInProgress struct {
	CurrentStepID WorkflowStepID
	SubmittedAt   time.Time
}

// StatusChangesRequested means an approver asked the initiator to revise.
// It is not terminal; resubmission returns the instance to InProgress. The
// step that raised the request stays recorded as the current step.
type StatusChangesRequested struct {
	CurrentStepID WorkflowStepID
	SubmittedAt   time.Time
}

// StatusApproved is terminal.
type StatusApproved struct {
	CompletedAt time.Time
}

// StatusRejected is terminal.
type StatusRejected struct {
	CompletedAt time.Time
}

// StatusCancelled is terminal. The origin sub-variant records which state
// the instance was cancelled from, because the fields that survive
// cancellation differ per origin.
type StatusCancelled struct {
	From CancelledFrom
}

func (StatusDraft) Kind() string            { return InstanceStatusDraft }
func (StatusPending) Kind() string          { return InstanceStatusPending }
func (StatusInProgress) Kind() string       { return InstanceStatusInProgress }
func (StatusChangesRequested) Kind() string { return InstanceStatusChangesRequested }
func (StatusApproved) Kind() string         { return InstanceStatusApproved }
func (StatusRejected) Kind() string         { return InstanceStatusRejected }
func (StatusCancelled) Kind() string        { return InstanceStatusCancelled }

func (StatusDraft) isInstanceStatus()            {}
func (StatusPending) isInstanceStatus()          {}
func (StatusInProgress) isInstanceStatus()       {}
func (StatusChangesRequested) isInstanceStatus() {}
func (StatusApproved) isInstanceStatus()         {}
func (StatusRejected) isInstanceStatus()         {}
func (StatusCancelled) isInstanceStatus()        {}

// CancelledFrom is the origin of a cancellation. Sealed like InstanceStatus.
type CancelledFrom interface {
	isCancelledFrom()
}

// CancelledFromDraft records cancellation of a never-submitted instance.
type CancelledFromDraft struct {
	CompletedAt time.Time
}

// CancelledFromPending records cancellation after submission but before any
// step became active.
type CancelledFromPending struct {
	SubmittedAt time.Time
	CompletedAt time.Time
}

// CancelledFromActive records cancellation from InProgress or
// ChangesRequested; the step that was current at the time is preserved.
type CancelledFromActive struct {
	CurrentStepID WorkflowStepID
	SubmittedAt   time.Time
	CompletedAt   time.Time
}

func (CancelledFromDraft) isCancelledFrom()   {}
func (CancelledFromPending) isCancelledFrom() {}
func (CancelledFromActive) isCancelledFrom()  {}

// CompletedAtTime returns the cancellation time regardless of origin.
func (s StatusCancelled) CompletedAtTime() time.Time {
	switch from := s.From.(type) {
	case CancelledFromDraft:
		return from.CompletedAt
	case CancelledFromPending:
		return from.CompletedAt
	case CancelledFromActive:
		return from.CompletedAt
	}
	return time.Time{}
}

// SubmittedAtTime returns the submission time if the origin had one.
func (s StatusCancelled) SubmittedAtTime() (time.Time, bool) {
	switch from := s.From.(type) {
	case CancelledFromPending:
		return from.SubmittedAt, true
	case CancelledFromActive:
		return from.SubmittedAt, true
	}
	return time.Time{}, false
}

// CurrentStep returns the step that was current at cancellation, if the
// origin had one.
func (s StatusCancelled) CurrentStep() (WorkflowStepID, bool) {
	if from, ok := s.From.(CancelledFromActive); ok {
		return from.CurrentStepID, true
	}
	return WorkflowStepID{}, false
}

// IsTerminal reports whether the status admits no further transitions.
func IsTerminal(status InstanceStatus) bool {
	switch status.(type) {
	case StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Step status strings as persisted in the status column.
const (
	StepStatusPending   = "pending"
	StepStatusActive    = "active"
	StepStatusCompleted = "completed"
	StepStatusSkipped   = "skipped"
)

// Step decisions, set only when a step is Completed.
const (
	DecisionApproved       = "approved"
	DecisionRejected       = "rejected"
	DecisionRequestChanges = "request_changes"
)
