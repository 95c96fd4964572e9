package workflow

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ringiflow/ringiflow/internal/store"
	"github.com/ringiflow/ringiflow/model"
)

// DecisionInput carries the inputs for deciding the current step. The
// decision lands on whatever step is current; ExpectedVersion pins the
// instance state the approver saw, so a decision raced by another writer
// fails with CONFLICT instead of applying to a state the approver never
// reviewed. IdempotencyKey, when set, deduplicates retries of the same
// decision.
type DecisionInput struct {
	InstanceID      model.WorkflowInstanceID
	Comment         string
	ExpectedVersion int
	IdempotencyKey  string
}

// DecisionResult summarizes the instance after a decision. It is small and
// JSON-stable so idempotent replays can serve it from cache.
type DecisionResult struct {
	InstanceID    string `json:"instance_id"`
	DisplayNumber int64  `json:"display_number"`
	Status        string `json:"status"`
	Version       int    `json:"version"`
}

// ApproveStep records an approval on the current step. The chain advances
// to the next pending step, or the instance completes as Approved when the
// approved step was the last one.
func (s *Service) ApproveStep(ctx context.Context, rctx *model.RequestContext, in DecisionInput) (DecisionResult, error) {
	return s.decide(ctx, rctx, in, model.DecisionApproved)
}

// RejectStep records a rejection on the current step. Remaining pending
// steps are skipped and the instance completes as Rejected.
func (s *Service) RejectStep(ctx context.Context, rctx *model.RequestContext, in DecisionInput) (DecisionResult, error) {
	return s.decide(ctx, rctx, in, model.DecisionRejected)
}

// RequestChangesStep sends the instance back to its initiator for rework.
// Remaining pending steps are skipped; the instance moves to
// ChangesRequested and waits for a resubmission.
func (s *Service) RequestChangesStep(ctx context.Context, rctx *model.RequestContext, in DecisionInput) (DecisionResult, error) {
	return s.decide(ctx, rctx, in, model.DecisionRequestChanges)
}

// decisionOps maps a decision to its operation label.
var decisionOps = map[string]string{
	model.DecisionApproved:       "approve",
	model.DecisionRejected:       "reject",
	model.DecisionRequestChanges: "request_changes",
}

func (s *Service) decide(ctx context.Context, rctx *model.RequestContext, in DecisionInput, decision string) (result DecisionResult, err error) {
	defer func(start time.Time) { s.observe(decisionOps[decision], start, err) }(time.Now())
	if err := validateRequest(rctx); err != nil {
		return DecisionResult{}, err
	}
	expected, err := parseExpectedVersion(in.ExpectedVersion)
	if err != nil {
		return DecisionResult{}, err
	}

	var idemKey, inputHash string
	if in.IdempotencyKey != "" && s.idem != nil {
		idemKey = FormatIdempotencyKey(rctx.TenantID.String(), in.InstanceID.String(), in.IdempotencyKey)
		inputHash = decisionInputHash(rctx, in, decision)
		if cached, found, err := s.idem.Check(ctx, idemKey, inputHash); err != nil {
			return DecisionResult{}, err
		} else if found {
			if s.metrics != nil {
				s.metrics.RecordIdempotentReplay()
			}
			return *cached, nil
		}
	}

	var definitionID string
	err = s.inTx(ctx, rctx.TenantID, func(tx *store.TxContext) error {
		inst, err := s.loadInstance(ctx, tx, in.InstanceID, expected)
		if err != nil {
			return err
		}
		ip, ok := inst.Status().(model.StatusInProgress)
		if !ok {
			return model.NewInvalidTransitionError(fmt.Sprintf(
				"cannot decide on instance in status %q", inst.Status().Kind()))
		}

		step, err := s.steps.FindByID(ctx, tx, ip.CurrentStepID)
		if err != nil {
			return err
		}
		if step.AssignedTo() != rctx.SubjectID {
			return model.NewForbiddenError(fmt.Sprintf(
				"step %q is not assigned to the caller", step.StepID()))
		}

		now := s.clock.Now()
		var decided model.WorkflowStep
		switch decision {
		case model.DecisionApproved:
			decided, err = step.Approve(in.Comment, now)
		case model.DecisionRejected:
			decided, err = step.Reject(in.Comment, now)
		case model.DecisionRequestChanges:
			decided, err = step.RequestChanges(in.Comment, now)
		default:
			return model.NewInternalError(fmt.Sprintf("unknown decision %q", decision))
		}
		if err != nil {
			return err
		}
		if err := s.steps.UpdateWithVersionCheck(ctx, tx, decided); err != nil {
			return err
		}

		switch decision {
		case model.DecisionApproved:
			inst, err = s.advanceOrComplete(ctx, tx, inst, now)
		case model.DecisionRejected:
			if err = s.skipPendingSteps(ctx, tx, inst.ID(), now); err != nil {
				return err
			}
			inst, err = inst.CompleteWithRejection(now)
		case model.DecisionRequestChanges:
			if err = s.skipPendingSteps(ctx, tx, inst.ID(), now); err != nil {
				return err
			}
			inst, err = inst.CompleteWithRequestChanges(now)
		}
		if err != nil {
			return err
		}
		if err := s.instances.UpdateWithVersionCheck(ctx, tx, inst); err != nil {
			return err
		}

		definitionID = string(inst.DefinitionID())
		result = DecisionResult{
			InstanceID:    inst.ID().String(),
			DisplayNumber: inst.DisplayNumber().Int64(),
			Status:        inst.Status().Kind(),
			Version:       inst.Version().Int(),
		}
		return nil
	})
	if err != nil {
		return DecisionResult{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordDecision(definitionID, decision)
		if result.Status == model.InstanceStatusApproved || result.Status == model.InstanceStatusRejected {
			s.metrics.RecordCompletion(definitionID, result.Status)
		}
	}

	if idemKey != "" {
		if err := s.idem.Store(ctx, idemKey, inputHash, result, s.idemTTL); err != nil {
			// The decision is committed; a failed cache write only costs
			// replay protection for this key.
			s.opLogger(rctx, "decision").Warn("storing idempotency result failed",
				zap.String("instance_id", in.InstanceID.String()), zap.Error(err))
		}
	}

	s.opLogger(rctx, "decision").Info("step decided",
		zap.String("instance_id", result.InstanceID),
		zap.String("decision", decision),
		zap.String("status", result.Status),
	)
	return result, nil
}

// advanceOrComplete moves the chain to the next pending step after an
// approval, or completes the instance when none remains. Step rows are
// listed in creation order, so the first Pending row is the next in the
// chain.
func (s *Service) advanceOrComplete(ctx context.Context, tx *store.TxContext, inst model.WorkflowInstance, now time.Time) (model.WorkflowInstance, error) {
	steps, err := s.steps.ListByInstance(ctx, tx, inst.ID())
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	for _, step := range steps {
		if step.Status() != model.StepStatusPending {
			continue
		}
		next, err := step.Activated(now)
		if err != nil {
			return model.WorkflowInstance{}, err
		}
		if err := s.steps.UpdateWithVersionCheck(ctx, tx, next); err != nil {
			return model.WorkflowInstance{}, err
		}
		return inst.Activated(next.ID(), now)
	}
	return inst.CompleteWithApproval(now)
}

// decisionInputHash fingerprints the decision so a reused idempotency key
// with different input is detected as a conflict.
func decisionInputHash(rctx *model.RequestContext, in DecisionInput, decision string) string {
	payload := fmt.Sprintf("%s|%s|%s|%d|%s",
		decision, in.InstanceID.String(), rctx.SubjectID.String(), in.ExpectedVersion, in.Comment)
	return fmt.Sprintf("%x", sha256.Sum256([]byte(payload)))
}
