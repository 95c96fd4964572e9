package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowInstance is one approval request moving through the lifecycle
// Draft → Pending → InProgress/ChangesRequested → Approved/Rejected, with
// Cancelled reachable from every non-terminal state.
//
// Transitions are pure: they take the receiver by value and return the new
// instance or an error, never mutating in place. Every accepted transition
// increments the version by exactly one.
type WorkflowInstance struct {
	id                WorkflowInstanceID
	tenantID          TenantID
	definitionID      DefinitionID
	definitionVersion int
	displayNumber     DisplayNumber
	title             string
	formData          json.RawMessage
	status            InstanceStatus
	version           Version
	initiatedBy       UserID
	createdAt         time.Time
	updatedAt         time.Time
}

// NewWorkflowInstanceParams carries the inputs for creating a Draft
// instance. The display number must already be allocated by the store.
type NewWorkflowInstanceParams struct {
	TenantID          TenantID
	DefinitionID      DefinitionID
	DefinitionVersion int
	DisplayNumber     DisplayNumber
	Title             string
	FormData          json.RawMessage
	InitiatedBy       UserID
	Now               time.Time
}

// NewWorkflowInstance creates a Draft instance at version 1.
func NewWorkflowInstance(p NewWorkflowInstanceParams) (WorkflowInstance, error) {
	if p.TenantID.IsZero() {
		return WorkflowInstance{}, NewValidationError("tenant id is required")
	}
	if p.InitiatedBy.IsZero() {
		return WorkflowInstance{}, NewValidationError("initiator is required")
	}
	if p.DefinitionID == "" {
		return WorkflowInstance{}, NewValidationError("definition id is required")
	}
	if p.DefinitionVersion < 1 {
		return WorkflowInstance{}, NewValidationError("definition version must be positive")
	}
	if p.DisplayNumber < 1 {
		return WorkflowInstance{}, NewValidationError("display number must be positive")
	}
	if p.Title == "" {
		return WorkflowInstance{}, NewValidationError("title is required")
	}

	return WorkflowInstance{
		id:                NewWorkflowInstanceID(),
		tenantID:          p.TenantID,
		definitionID:      p.DefinitionID,
		definitionVersion: p.DefinitionVersion,
		displayNumber:     p.DisplayNumber,
		title:             p.Title,
		formData:          p.FormData,
		status:            StatusDraft{},
		version:           InitialVersion(),
		initiatedBy:       p.InitiatedBy,
		createdAt:         p.Now,
		updatedAt:         p.Now,
	}, nil
}

func (w WorkflowInstance) ID() WorkflowInstanceID        { return w.id }
func (w WorkflowInstance) TenantID() TenantID            { return w.tenantID }
func (w WorkflowInstance) DefinitionID() DefinitionID    { return w.definitionID }
func (w WorkflowInstance) DefinitionVersion() int        { return w.definitionVersion }
func (w WorkflowInstance) DisplayNumber() DisplayNumber  { return w.displayNumber }
func (w WorkflowInstance) Title() string                 { return w.title }
func (w WorkflowInstance) FormData() json.RawMessage     { return w.formData }
func (w WorkflowInstance) Status() InstanceStatus        { return w.status }
func (w WorkflowInstance) Version() Version              { return w.version }
func (w WorkflowInstance) InitiatedBy() UserID           { return w.initiatedBy }
func (w WorkflowInstance) CreatedAt() time.Time          { return w.createdAt }
func (w WorkflowInstance) UpdatedAt() time.Time          { return w.updatedAt }

// CurrentStepID returns the active step, if the status carries one.
func (w WorkflowInstance) CurrentStepID() (WorkflowStepID, bool) {
	switch s := w.status.(type) {
	case StatusInProgress:
		return s.CurrentStepID, true
	case StatusChangesRequested:
		return s.CurrentStepID, true
	case StatusCancelled:
		return s.CurrentStep()
	}
	return WorkflowStepID{}, false
}

// SubmittedAt returns the submission time, if the status carries one.
func (w WorkflowInstance) SubmittedAt() (time.Time, bool) {
	switch s := w.status.(type) {
	case StatusPending:
		return s.SubmittedAt, true
	case StatusInProgress:
		return s.SubmittedAt, true
	case StatusChangesRequested:
		return s.SubmittedAt, true
	case StatusCancelled:
		return s.SubmittedAtTime()
	}
	return time.Time{}, false
}

// CompletedAt returns the completion time, if the status carries one.
func (w WorkflowInstance) CompletedAt() (time.Time, bool) {
	switch s := w.status.(type) {
	case StatusApproved:
		return s.CompletedAt, true
	case StatusRejected:
		return s.CompletedAt, true
	case StatusCancelled:
		return s.CompletedAtTime(), true
	}
	return time.Time{}, false
}

// Submitted transitions Draft → Pending.
func (w WorkflowInstance) Submitted(now time.Time) (WorkflowInstance, error) {
	if _, ok := w.status.(StatusDraft); !ok {
		return w, NewInvalidTransitionError(
			fmt.Sprintf("cannot submit instance in status %q", w.status.Kind()))
	}
	w.status = StatusPending{SubmittedAt: now}
	return w.bump(now), nil
}

// Activated makes stepID the current step, entering InProgress from
// Pending or ChangesRequested, or advancing the chain while already
// InProgress. The original submission time is preserved.
func (w WorkflowInstance) Activated(stepID WorkflowStepID, now time.Time) (WorkflowInstance, error) {
	if stepID.IsZero() {
		return w, NewValidationError("step id is required")
	}
	switch s := w.status.(type) {
	case StatusPending:
		w.status = StatusInProgress{CurrentStepID: stepID, SubmittedAt: s.SubmittedAt}
	case StatusChangesRequested:
		w.status = StatusInProgress{CurrentStepID: stepID, SubmittedAt: s.SubmittedAt}
	case StatusInProgress:
		w.status = StatusInProgress{CurrentStepID: stepID, SubmittedAt: s.SubmittedAt}
	default:
		return w, NewInvalidTransitionError(
			fmt.Sprintf("cannot activate step on instance in status %q", w.status.Kind()))
	}
	return w.bump(now), nil
}

// CompleteWithApproval transitions InProgress → Approved.
func (w WorkflowInstance) CompleteWithApproval(now time.Time) (WorkflowInstance, error) {
	if _, ok := w.status.(StatusInProgress); !ok {
		return w, NewInvalidTransitionError(
			fmt.Sprintf("cannot approve instance in status %q", w.status.Kind()))
	}
	w.status = StatusApproved{CompletedAt: now}
	return w.bump(now), nil
}

// CompleteWithRejection transitions InProgress → Rejected.
func (w WorkflowInstance) CompleteWithRejection(now time.Time) (WorkflowInstance, error) {
	if _, ok := w.status.(StatusInProgress); !ok {
		return w, NewInvalidTransitionError(
			fmt.Sprintf("cannot reject instance in status %q", w.status.Kind()))
	}
	w.status = StatusRejected{CompletedAt: now}
	return w.bump(now), nil
}

// CompleteWithRequestChanges transitions InProgress → ChangesRequested.
// The instance gets no completion time: this is a detour back to the
// initiator, not a terminal outcome.
func (w WorkflowInstance) CompleteWithRequestChanges(now time.Time) (WorkflowInstance, error) {
	s, ok := w.status.(StatusInProgress)
	if !ok {
		return w, NewInvalidTransitionError(
			fmt.Sprintf("cannot request changes on instance in status %q", w.status.Kind()))
	}
	w.status = StatusChangesRequested{CurrentStepID: s.CurrentStepID, SubmittedAt: s.SubmittedAt}
	return w.bump(now), nil
}

// Resubmitted transitions ChangesRequested → InProgress with replacement
// form data, a fresh current step, and the resubmission time as the new
// submission time.
func (w WorkflowInstance) Resubmitted(formData json.RawMessage, stepID WorkflowStepID, now time.Time) (WorkflowInstance, error) {
	if stepID.IsZero() {
		return w, NewValidationError("step id is required")
	}
	if _, ok := w.status.(StatusChangesRequested); !ok {
		return w, NewInvalidTransitionError(
			fmt.Sprintf("cannot resubmit instance in status %q", w.status.Kind()))
	}
	w.formData = formData
	w.status = StatusInProgress{CurrentStepID: stepID, SubmittedAt: now}
	return w.bump(now), nil
}

// Cancelled transitions any non-terminal state → Cancelled, with the
// sub-variant matching the origin state.
func (w WorkflowInstance) Cancelled(now time.Time) (WorkflowInstance, error) {
	switch s := w.status.(type) {
	case StatusDraft:
		w.status = StatusCancelled{From: CancelledFromDraft{CompletedAt: now}}
	case StatusPending:
		w.status = StatusCancelled{From: CancelledFromPending{
			SubmittedAt: s.SubmittedAt,
			CompletedAt: now,
		}}
	case StatusInProgress:
		w.status = StatusCancelled{From: CancelledFromActive{
			CurrentStepID: s.CurrentStepID,
			SubmittedAt:   s.SubmittedAt,
			CompletedAt:   now,
		}}
	case StatusChangesRequested:
		w.status = StatusCancelled{From: CancelledFromActive{
			CurrentStepID: s.CurrentStepID,
			SubmittedAt:   s.SubmittedAt,
			CompletedAt:   now,
		}}
	default:
		return w, NewInvalidTransitionError(
			fmt.Sprintf("cannot cancel instance in status %q", w.status.Kind()))
	}
	return w.bump(now), nil
}

func (w WorkflowInstance) bump(now time.Time) WorkflowInstance {
	w.version = w.version.Next()
	w.updatedAt = now
	return w
}

// WorkflowInstanceRecord is the flattened row shape for persistence. The
// status variant's exclusive fields become nullable columns.
type WorkflowInstanceRecord struct {
	ID                string
	TenantID          string
	DefinitionID      string
	DefinitionVersion int
	DisplayNumber     int64
	Title             string
	FormData          []byte
	Status            string
	Version           int
	CurrentStepID     *string
	SubmittedAt       *time.Time
	CompletedAt       *time.Time
	InitiatedBy       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Record flattens the instance to its row shape.
func (w WorkflowInstance) Record() WorkflowInstanceRecord {
	rec := WorkflowInstanceRecord{
		ID:                w.id.String(),
		TenantID:          w.tenantID.String(),
		DefinitionID:      string(w.definitionID),
		DefinitionVersion: w.definitionVersion,
		DisplayNumber:     w.displayNumber.Int64(),
		Title:             w.title,
		FormData:          w.formData,
		Status:            w.status.Kind(),
		Version:           w.version.Int(),
		InitiatedBy:       w.initiatedBy.String(),
		CreatedAt:         w.createdAt,
		UpdatedAt:         w.updatedAt,
	}
	if stepID, ok := w.CurrentStepID(); ok {
		s := stepID.String()
		rec.CurrentStepID = &s
	}
	if t, ok := w.SubmittedAt(); ok {
		submitted := t
		rec.SubmittedAt = &submitted
	}
	if t, ok := w.CompletedAt(); ok {
		completed := t
		rec.CompletedAt = &completed
	}
	return rec
}

// InstanceFromRecord rebuilds the status ADT from a stored row. Rows whose
// nullable columns are structurally inconsistent with the status string are
// rejected with a validation error, never silently coerced.
func InstanceFromRecord(rec WorkflowInstanceRecord) (WorkflowInstance, error) {
	id, err := ParseWorkflowInstanceID(rec.ID)
	if err != nil {
		return WorkflowInstance{}, err
	}
	tenantID, err := ParseTenantID(rec.TenantID)
	if err != nil {
		return WorkflowInstance{}, err
	}
	initiatedBy, err := ParseUserID(rec.InitiatedBy)
	if err != nil {
		return WorkflowInstance{}, err
	}
	version, err := ParseVersion(rec.Version)
	if err != nil {
		return WorkflowInstance{}, err
	}
	displayNumber, err := ParseDisplayNumber(rec.DisplayNumber)
	if err != nil {
		return WorkflowInstance{}, err
	}
	if rec.DefinitionID == "" {
		return WorkflowInstance{}, NewValidationError("definition id is required")
	}
	if rec.DefinitionVersion < 1 {
		return WorkflowInstance{}, NewValidationError("definition version must be positive")
	}

	status, err := instanceStatusFromRecord(rec)
	if err != nil {
		return WorkflowInstance{}, err
	}

	return WorkflowInstance{
		id:                id,
		tenantID:          tenantID,
		definitionID:      DefinitionID(rec.DefinitionID),
		definitionVersion: rec.DefinitionVersion,
		displayNumber:     displayNumber,
		title:             rec.Title,
		formData:          rec.FormData,
		status:            status,
		version:           version,
		initiatedBy:       initiatedBy,
		createdAt:         rec.CreatedAt,
		updatedAt:         rec.UpdatedAt,
	}, nil
}

func instanceStatusFromRecord(rec WorkflowInstanceRecord) (InstanceStatus, error) {
	inconsistent := func(reason string) error {
		return NewValidationError(fmt.Sprintf(
			"instance row %s is inconsistent for status %q: %s", rec.ID, rec.Status, reason))
	}

	var currentStepID WorkflowStepID
	if rec.CurrentStepID != nil {
		parsed, err := ParseWorkflowStepID(*rec.CurrentStepID)
		if err != nil {
			return nil, err
		}
		currentStepID = parsed
	}

	switch rec.Status {
	case InstanceStatusDraft:
		if rec.CurrentStepID != nil || rec.SubmittedAt != nil || rec.CompletedAt != nil {
			return nil, inconsistent("draft rows must have no step or timestamps")
		}
		return StatusDraft{}, nil

	case InstanceStatusPending:
		if rec.SubmittedAt == nil {
			return nil, inconsistent("submitted_at is required")
		}
		if rec.CurrentStepID != nil || rec.CompletedAt != nil {
			return nil, inconsistent("pending rows must have no step or completion time")
		}
		return StatusPending{SubmittedAt: *rec.SubmittedAt}, nil

	case InstanceStatusInProgress, InstanceStatusChangesRequested:
		if rec.CurrentStepID == nil {
			return nil, inconsistent("current_step_id is required")
		}
		if rec.SubmittedAt == nil {
			return nil, inconsistent("current_step_id is set but submitted_at is missing")
		}
		if rec.CompletedAt != nil {
			return nil, inconsistent("active rows must have no completion time")
		}
		if rec.Status == InstanceStatusInProgress {
			return StatusInProgress{CurrentStepID: currentStepID, SubmittedAt: *rec.SubmittedAt}, nil
		}
		return StatusChangesRequested{CurrentStepID: currentStepID, SubmittedAt: *rec.SubmittedAt}, nil

	case InstanceStatusApproved, InstanceStatusRejected:
		if rec.CompletedAt == nil {
			return nil, inconsistent("completed_at is required")
		}
		if rec.CurrentStepID != nil || rec.SubmittedAt != nil {
			return nil, inconsistent("terminal rows carry only completed_at")
		}
		if rec.Status == InstanceStatusApproved {
			return StatusApproved{CompletedAt: *rec.CompletedAt}, nil
		}
		return StatusRejected{CompletedAt: *rec.CompletedAt}, nil

	case InstanceStatusCancelled:
		if rec.CompletedAt == nil {
			return nil, inconsistent("completed_at is required")
		}
		switch {
		case rec.CurrentStepID != nil:
			if rec.SubmittedAt == nil {
				return nil, inconsistent("current_step_id is set but submitted_at is missing")
			}
			return StatusCancelled{From: CancelledFromActive{
				CurrentStepID: currentStepID,
				SubmittedAt:   *rec.SubmittedAt,
				CompletedAt:   *rec.CompletedAt,
			}}, nil
		case rec.SubmittedAt != nil:
			return StatusCancelled{From: CancelledFromPending{
				SubmittedAt: *rec.SubmittedAt,
				CompletedAt: *rec.CompletedAt,
			}}, nil
		default:
			return StatusCancelled{From: CancelledFromDraft{CompletedAt: *rec.CompletedAt}}, nil
		}

	default:
		return nil, NewValidationError(fmt.Sprintf("unknown instance status %q", rec.Status))
	}
}
