package model

import (
	"fmt"
	"time"
)

// WorkflowStep is one decision point inside an instance's approval chain.
// Steps are created Pending when the instance is submitted, become Active
// when their predecessor completes, and are Completed exactly once —
// immutable thereafter. A resubmission creates fresh step rows instead of
// reopening old ones.
type WorkflowStep struct {
	id          WorkflowStepID
	instanceID  WorkflowInstanceID
	tenantID    TenantID
	stepID      string
	position    int
	status      string
	version     Version
	assignedTo  UserID
	decision    string
	comment     string
	completedAt time.Time
	createdAt   time.Time
	updatedAt   time.Time
}

// NewWorkflowStepParams carries the inputs for creating a Pending step.
// StepID is the template-defined slug within the definition, not the row
// identity. Position is the step's zero-based place in its chain and fixes
// the order in which steps activate.
type NewWorkflowStepParams struct {
	InstanceID WorkflowInstanceID
	TenantID   TenantID
	StepID     string
	Position   int
	AssignedTo UserID
	Now        time.Time
}

// NewWorkflowStep creates a Pending step at version 1.
func NewWorkflowStep(p NewWorkflowStepParams) (WorkflowStep, error) {
	if p.InstanceID.IsZero() {
		return WorkflowStep{}, NewValidationError("instance id is required")
	}
	if p.TenantID.IsZero() {
		return WorkflowStep{}, NewValidationError("tenant id is required")
	}
	if p.StepID == "" {
		return WorkflowStep{}, NewValidationError("step id is required")
	}
	if p.AssignedTo.IsZero() {
		return WorkflowStep{}, NewValidationError("assignee is required")
	}
	if p.Position < 0 {
		return WorkflowStep{}, NewValidationError("step position must not be negative")
	}

	return WorkflowStep{
		id:         NewWorkflowStepID(),
		instanceID: p.InstanceID,
		tenantID:   p.TenantID,
		stepID:     p.StepID,
		position:   p.Position,
		status:     StepStatusPending,
		version:    InitialVersion(),
		assignedTo: p.AssignedTo,
		createdAt:  p.Now,
		updatedAt:  p.Now,
	}, nil
}

func (s WorkflowStep) ID() WorkflowStepID             { return s.id }
func (s WorkflowStep) InstanceID() WorkflowInstanceID { return s.instanceID }
func (s WorkflowStep) TenantID() TenantID             { return s.tenantID }
func (s WorkflowStep) StepID() string                 { return s.stepID }
func (s WorkflowStep) Position() int                  { return s.position }
func (s WorkflowStep) Status() string                 { return s.status }
func (s WorkflowStep) Version() Version               { return s.version }
func (s WorkflowStep) AssignedTo() UserID             { return s.assignedTo }
func (s WorkflowStep) Comment() string                { return s.comment }
func (s WorkflowStep) CreatedAt() time.Time           { return s.createdAt }
func (s WorkflowStep) UpdatedAt() time.Time           { return s.updatedAt }

// Decision returns the recorded decision; it is set only once the step is
// Completed.
func (s WorkflowStep) Decision() (string, bool) {
	if s.status != StepStatusCompleted {
		return "", false
	}
	return s.decision, true
}

// CompletedAt returns the completion time for Completed steps.
func (s WorkflowStep) CompletedAt() (time.Time, bool) {
	if s.status != StepStatusCompleted {
		return time.Time{}, false
	}
	return s.completedAt, true
}

// Activated transitions Pending → Active.
func (s WorkflowStep) Activated(now time.Time) (WorkflowStep, error) {
	if s.status != StepStatusPending {
		return s, NewInvalidTransitionError(
			fmt.Sprintf("cannot activate step in status %q", s.status))
	}
	s.status = StepStatusActive
	return s.bump(now), nil
}

// Approve transitions Active → Completed with an approved decision.
func (s WorkflowStep) Approve(comment string, now time.Time) (WorkflowStep, error) {
	return s.complete(DecisionApproved, comment, now)
}

// Reject transitions Active → Completed with a rejected decision.
func (s WorkflowStep) Reject(comment string, now time.Time) (WorkflowStep, error) {
	return s.complete(DecisionRejected, comment, now)
}

// RequestChanges transitions Active → Completed with a request-changes
// decision, sending the instance back to its initiator.
func (s WorkflowStep) RequestChanges(comment string, now time.Time) (WorkflowStep, error) {
	return s.complete(DecisionRequestChanges, comment, now)
}

func (s WorkflowStep) complete(decision, comment string, now time.Time) (WorkflowStep, error) {
	if s.status != StepStatusActive {
		return s, NewInvalidTransitionError(
			fmt.Sprintf("cannot decide step in status %q", s.status))
	}
	s.status = StepStatusCompleted
	s.decision = decision
	s.comment = comment
	s.completedAt = now
	return s.bump(now), nil
}

// Skipped transitions Pending → Skipped, used when a sibling decision makes
// the step moot (a rejection or request-changes short-circuits the rest of
// the chain).
func (s WorkflowStep) Skipped(now time.Time) (WorkflowStep, error) {
	if s.status != StepStatusPending {
		return s, NewInvalidTransitionError(
			fmt.Sprintf("cannot skip step in status %q", s.status))
	}
	s.status = StepStatusSkipped
	return s.bump(now), nil
}

func (s WorkflowStep) bump(now time.Time) WorkflowStep {
	s.version = s.version.Next()
	s.updatedAt = now
	return s
}

// WorkflowStepRecord is the flattened row shape for persistence.
type WorkflowStepRecord struct {
	ID          string
	InstanceID  string
	TenantID    string
	StepID      string
	Position    int
	Status      string
	Version     int
	AssignedTo  *string
	Decision    *string
	Comment     *string
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Record flattens the step to its row shape.
func (s WorkflowStep) Record() WorkflowStepRecord {
	rec := WorkflowStepRecord{
		ID:         s.id.String(),
		InstanceID: s.instanceID.String(),
		TenantID:   s.tenantID.String(),
		StepID:     s.stepID,
		Position:   s.position,
		Status:     s.status,
		Version:    s.version.Int(),
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
	if !s.assignedTo.IsZero() {
		assignee := s.assignedTo.String()
		rec.AssignedTo = &assignee
	}
	if s.status == StepStatusCompleted {
		decision := s.decision
		rec.Decision = &decision
		completed := s.completedAt
		rec.CompletedAt = &completed
		if s.comment != "" {
			comment := s.comment
			rec.Comment = &comment
		}
	}
	return rec
}

// StepFromRecord rebuilds a step from a stored row, rejecting rows whose
// decision columns are inconsistent with the status.
func StepFromRecord(rec WorkflowStepRecord) (WorkflowStep, error) {
	id, err := ParseWorkflowStepID(rec.ID)
	if err != nil {
		return WorkflowStep{}, err
	}
	instanceID, err := ParseWorkflowInstanceID(rec.InstanceID)
	if err != nil {
		return WorkflowStep{}, err
	}
	tenantID, err := ParseTenantID(rec.TenantID)
	if err != nil {
		return WorkflowStep{}, err
	}
	version, err := ParseVersion(rec.Version)
	if err != nil {
		return WorkflowStep{}, err
	}
	if rec.StepID == "" {
		return WorkflowStep{}, NewValidationError("step id is required")
	}
	if rec.Position < 0 {
		return WorkflowStep{}, NewValidationError("step position must not be negative")
	}

	inconsistent := func(reason string) error {
		return NewValidationError(fmt.Sprintf(
			"step row %s is inconsistent for status %q: %s", rec.ID, rec.Status, reason))
	}

	step := WorkflowStep{
		id:         id,
		instanceID: instanceID,
		tenantID:   tenantID,
		stepID:     rec.StepID,
		position:   rec.Position,
		status:     rec.Status,
		version:    version,
		createdAt:  rec.CreatedAt,
		updatedAt:  rec.UpdatedAt,
	}

	if rec.AssignedTo != nil {
		assignee, err := ParseUserID(*rec.AssignedTo)
		if err != nil {
			return WorkflowStep{}, err
		}
		step.assignedTo = assignee
	}

	switch rec.Status {
	case StepStatusPending, StepStatusActive, StepStatusSkipped:
		if rec.Decision != nil || rec.CompletedAt != nil {
			return WorkflowStep{}, inconsistent("decision is only valid on completed steps")
		}
	case StepStatusCompleted:
		if rec.Decision == nil {
			return WorkflowStep{}, inconsistent("decision is required")
		}
		if rec.CompletedAt == nil {
			return WorkflowStep{}, inconsistent("completed_at is required")
		}
		switch *rec.Decision {
		case DecisionApproved, DecisionRejected, DecisionRequestChanges:
		default:
			return WorkflowStep{}, NewValidationError(
				fmt.Sprintf("unknown step decision %q", *rec.Decision))
		}
		step.decision = *rec.Decision
		step.completedAt = *rec.CompletedAt
		if rec.Comment != nil {
			step.comment = *rec.Comment
		}
	default:
		return WorkflowStep{}, NewValidationError(fmt.Sprintf("unknown step status %q", rec.Status))
	}

	return step, nil
}
