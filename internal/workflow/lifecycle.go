package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ringiflow/ringiflow/internal/store"
	"github.com/ringiflow/ringiflow/model"
)

// CreateInput carries the inputs for creating a draft instance.
type CreateInput struct {
	DefinitionID string
	Title        string
	FormData     json.RawMessage
}

// Create makes a new Draft instance against the latest version of the
// definition and allocates its display number.
func (s *Service) Create(ctx context.Context, rctx *model.RequestContext, in CreateInput) (inst model.WorkflowInstance, err error) {
	defer func(start time.Time) { s.observe("create", start, err) }(time.Now())
	if err := validateRequest(rctx); err != nil {
		return model.WorkflowInstance{}, err
	}
	def, ok := s.registry.Latest(in.DefinitionID)
	if !ok {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow definition %q not found", in.DefinitionID))
	}

	err = s.inTx(ctx, rctx.TenantID, func(tx *store.TxContext) error {
		number, err := s.numbers.Next(ctx, tx)
		if err != nil {
			return err
		}
		inst, err = model.NewWorkflowInstance(model.NewWorkflowInstanceParams{
			TenantID:          rctx.TenantID,
			DefinitionID:      model.DefinitionID(def.ID),
			DefinitionVersion: def.Version,
			DisplayNumber:     number,
			Title:             in.Title,
			FormData:          in.FormData,
			InitiatedBy:       rctx.SubjectID,
			Now:               s.clock.Now(),
		})
		if err != nil {
			return err
		}
		return s.instances.Insert(ctx, tx, inst)
	})
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordInstanceCreate(def.ID)
	}
	s.opLogger(rctx, "create").Info("workflow instance created",
		zap.String("instance_id", inst.ID().String()),
		zap.String("definition_id", def.ID),
		zap.Int64("display_number", inst.DisplayNumber().Int64()),
	)
	return inst, nil
}

// SubmitInput carries the inputs for submitting a draft. Approvers maps
// each definition step id to the user who will decide it.
type SubmitInput struct {
	InstanceID      model.WorkflowInstanceID
	Approvers       map[string]model.UserID
	ExpectedVersion int
}

// Submit moves a Draft into the approval chain: the definition's
// participating steps are materialized as step rows, the first is
// activated, and the instance lands InProgress on it. Only the initiator
// may submit.
func (s *Service) Submit(ctx context.Context, rctx *model.RequestContext, in SubmitInput) (detail InstanceDetail, err error) {
	defer func(start time.Time) { s.observe("submit", start, err) }(time.Now())
	if err := validateRequest(rctx); err != nil {
		return InstanceDetail{}, err
	}
	expected, err := parseExpectedVersion(in.ExpectedVersion)
	if err != nil {
		return InstanceDetail{}, err
	}

	err = s.inTx(ctx, rctx.TenantID, func(tx *store.TxContext) error {
		inst, err := s.loadInstance(ctx, tx, in.InstanceID, expected)
		if err != nil {
			return err
		}
		if err := requireInitiator(rctx, inst, "submit"); err != nil {
			return err
		}

		steps, err := s.buildChain(ctx, tx, inst, inst.FormData(), in.Approvers)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		inst, err = inst.Submitted(now)
		if err != nil {
			return err
		}
		if err := s.instances.UpdateWithVersionCheck(ctx, tx, inst); err != nil {
			return err
		}

		first, err := steps[0].Activated(now)
		if err != nil {
			return err
		}
		if err := s.steps.UpdateWithVersionCheck(ctx, tx, first); err != nil {
			return err
		}
		steps[0] = first

		inst, err = inst.Activated(first.ID(), now)
		if err != nil {
			return err
		}
		if err := s.instances.UpdateWithVersionCheck(ctx, tx, inst); err != nil {
			return err
		}

		detail = InstanceDetail{Instance: inst, Steps: steps}
		return nil
	})
	if err != nil {
		return InstanceDetail{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordInstanceSubmit(string(detail.Instance.DefinitionID()))
	}
	s.opLogger(rctx, "submit").Info("workflow instance submitted",
		zap.String("instance_id", detail.Instance.ID().String()),
		zap.Int("steps", len(detail.Steps)),
	)
	return detail, nil
}

// ResubmitInput carries the inputs for resubmitting after requested
// changes. The form data replaces the previous submission wholesale.
type ResubmitInput struct {
	InstanceID      model.WorkflowInstanceID
	FormData        json.RawMessage
	Approvers       map[string]model.UserID
	ExpectedVersion int
}

// Resubmit sends a ChangesRequested instance back through the chain with
// revised form data. The chain is rebuilt from scratch: conditions are
// re-evaluated against the new form data and fresh step rows are created,
// so decisions from the previous round stay on their old rows. Only the
// initiator may resubmit.
func (s *Service) Resubmit(ctx context.Context, rctx *model.RequestContext, in ResubmitInput) (detail InstanceDetail, err error) {
	defer func(start time.Time) { s.observe("resubmit", start, err) }(time.Now())
	if err := validateRequest(rctx); err != nil {
		return InstanceDetail{}, err
	}
	expected, err := parseExpectedVersion(in.ExpectedVersion)
	if err != nil {
		return InstanceDetail{}, err
	}

	err = s.inTx(ctx, rctx.TenantID, func(tx *store.TxContext) error {
		inst, err := s.loadInstance(ctx, tx, in.InstanceID, expected)
		if err != nil {
			return err
		}
		if err := requireInitiator(rctx, inst, "resubmit"); err != nil {
			return err
		}
		if _, ok := inst.Status().(model.StatusChangesRequested); !ok {
			return model.NewInvalidTransitionError(fmt.Sprintf(
				"cannot resubmit instance in status %q", inst.Status().Kind()))
		}

		steps, err := s.buildChain(ctx, tx, inst, in.FormData, in.Approvers)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		first, err := steps[0].Activated(now)
		if err != nil {
			return err
		}
		if err := s.steps.UpdateWithVersionCheck(ctx, tx, first); err != nil {
			return err
		}
		steps[0] = first

		inst, err = inst.Resubmitted(in.FormData, first.ID(), now)
		if err != nil {
			return err
		}
		if err := s.instances.UpdateWithVersionCheck(ctx, tx, inst); err != nil {
			return err
		}

		// The detail carries every round's rows, not just the fresh chain:
		// earlier rounds' completed steps keep their decisions and comments.
		all, err := s.steps.ListByInstance(ctx, tx, inst.ID())
		if err != nil {
			return err
		}
		detail = InstanceDetail{Instance: inst, Steps: all}
		return nil
	})
	if err != nil {
		return InstanceDetail{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordInstanceSubmit(string(detail.Instance.DefinitionID()))
	}
	s.opLogger(rctx, "resubmit").Info("workflow instance resubmitted",
		zap.String("instance_id", detail.Instance.ID().String()),
		zap.Int("steps", len(detail.Steps)),
	)
	return detail, nil
}

// CancelInput carries the inputs for cancelling an instance.
type CancelInput struct {
	InstanceID      model.WorkflowInstanceID
	ExpectedVersion int
}

// Cancel withdraws a non-terminal instance. Pending steps are skipped so
// nobody is left with a decision to make; the step that was active keeps
// its last state, with the instance's cancelled status authoritative. Only
// the initiator may cancel.
func (s *Service) Cancel(ctx context.Context, rctx *model.RequestContext, in CancelInput) (cancelled model.WorkflowInstance, err error) {
	defer func(start time.Time) { s.observe("cancel", start, err) }(time.Now())
	if err := validateRequest(rctx); err != nil {
		return model.WorkflowInstance{}, err
	}
	expected, err := parseExpectedVersion(in.ExpectedVersion)
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	err = s.inTx(ctx, rctx.TenantID, func(tx *store.TxContext) error {
		inst, err := s.loadInstance(ctx, tx, in.InstanceID, expected)
		if err != nil {
			return err
		}
		if err := requireInitiator(rctx, inst, "cancel"); err != nil {
			return err
		}

		now := s.clock.Now()
		inst, err = inst.Cancelled(now)
		if err != nil {
			return err
		}
		if err := s.skipPendingSteps(ctx, tx, inst.ID(), now); err != nil {
			return err
		}
		if err := s.instances.UpdateWithVersionCheck(ctx, tx, inst); err != nil {
			return err
		}
		cancelled = inst
		return nil
	})
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordCancellation(string(cancelled.DefinitionID()))
	}
	s.opLogger(rctx, "cancel").Info("workflow instance cancelled",
		zap.String("instance_id", cancelled.ID().String()),
	)
	return cancelled, nil
}

// buildChain routes the definition's steps against the form data and
// creates Pending step rows with the given approvers. Every participating
// step must have an approver assigned.
func (s *Service) buildChain(ctx context.Context, tx *store.TxContext, inst model.WorkflowInstance, formData json.RawMessage, approvers map[string]model.UserID) ([]model.WorkflowStep, error) {
	def, ok := s.registry.Get(string(inst.DefinitionID()), inst.DefinitionVersion())
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf(
			"workflow definition %s@%d not found", inst.DefinitionID(), inst.DefinitionVersion()))
	}

	participating, err := s.router.ParticipatingSteps(def, formData)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	steps := make([]model.WorkflowStep, 0, len(participating))
	for i, stepDef := range participating {
		assignee, ok := approvers[stepDef.ID]
		if !ok || assignee.IsZero() {
			return nil, model.NewValidationError(fmt.Sprintf(
				"approver is required for step %q", stepDef.ID))
		}
		step, err := model.NewWorkflowStep(model.NewWorkflowStepParams{
			InstanceID: inst.ID(),
			TenantID:   inst.TenantID(),
			StepID:     stepDef.ID,
			Position:   i,
			AssignedTo: assignee,
			Now:        now,
		})
		if err != nil {
			return nil, err
		}
		if err := s.steps.Insert(ctx, tx, step); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// skipPendingSteps marks every Pending step of the instance as Skipped.
func (s *Service) skipPendingSteps(ctx context.Context, tx *store.TxContext, instanceID model.WorkflowInstanceID, now time.Time) error {
	steps, err := s.steps.ListByInstance(ctx, tx, instanceID)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if step.Status() != model.StepStatusPending {
			continue
		}
		skipped, err := step.Skipped(now)
		if err != nil {
			return err
		}
		if err := s.steps.UpdateWithVersionCheck(ctx, tx, skipped); err != nil {
			return err
		}
	}
	return nil
}
