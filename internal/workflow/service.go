// Package workflow orchestrates the approval lifecycle: creating and
// submitting instances, recording decisions, and routing the chain to its
// outcome. All writes run inside tenant-scoped transactions with optimistic
// locking; the pure state machines live in the model package.
package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ringiflow/ringiflow/internal/definition"
	"github.com/ringiflow/ringiflow/internal/observability"
	"github.com/ringiflow/ringiflow/internal/store"
	"github.com/ringiflow/ringiflow/model"
)

// Service exposes the approval workflow use cases.
type Service struct {
	registry  *definition.Registry
	router    *definition.Router
	txm       store.TransactionManager
	instances store.InstanceRepository
	steps     store.StepRepository
	numbers   store.DisplayNumberAllocator
	idem      IdempotencyStore
	idemTTL   time.Duration
	clock     model.Clock
	logger    *zap.Logger
	metrics   *observability.Metrics

	defaultPageSize int
	maxPageSize     int
}

// ServiceParams carries the dependencies for NewService. Idem may be nil to
// disable decision deduplication and Metrics may be nil to disable metric
// recording; Clock defaults to the system clock and Logger to a no-op
// logger.
type ServiceParams struct {
	Registry  *definition.Registry
	Router    *definition.Router
	Txm       store.TransactionManager
	Instances store.InstanceRepository
	Steps     store.StepRepository
	Numbers   store.DisplayNumberAllocator
	Idem      IdempotencyStore
	IdemTTL   time.Duration
	Clock     model.Clock
	Logger    *zap.Logger
	Metrics   *observability.Metrics

	// DefaultPageSize is the page size List uses when the caller does not
	// ask for one; MaxPageSize caps what the caller may ask for. Zero
	// values fall back to the built-in defaults.
	DefaultPageSize int
	MaxPageSize     int
}

const (
	defaultIdemTTL = 24 * time.Hour

	defaultPageSize = 20
	maxPageSize     = 100
)

// NewService creates a workflow service.
func NewService(p ServiceParams) *Service {
	if p.Clock == nil {
		p.Clock = model.SystemClock{}
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.IdemTTL <= 0 {
		p.IdemTTL = defaultIdemTTL
	}
	if p.DefaultPageSize <= 0 {
		p.DefaultPageSize = defaultPageSize
	}
	if p.MaxPageSize <= 0 {
		p.MaxPageSize = maxPageSize
	}
	return &Service{
		registry:  p.Registry,
		router:    p.Router,
		txm:       p.Txm,
		instances: p.Instances,
		steps:     p.Steps,
		numbers:   p.Numbers,
		idem:      p.Idem,
		idemTTL:   p.IdemTTL,
		clock:     p.Clock,
		logger:    p.Logger,
		metrics:   p.Metrics,

		defaultPageSize: p.DefaultPageSize,
		maxPageSize:     p.MaxPageSize,
	}
}

// InstanceDetail is an instance together with its step rows in chain order.
type InstanceDetail struct {
	Instance model.WorkflowInstance
	Steps    []model.WorkflowStep
}

// inTx runs fn inside a tenant-scoped transaction, committing on success
// and rolling back on error.
func (s *Service) inTx(ctx context.Context, tenantID model.TenantID, fn func(tx *store.TxContext) error) error {
	tx, err := s.txm.Begin(ctx, tenantID)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// loadInstance fetches an instance and enforces the caller's expected
// version. A mismatch means the caller decided against a state that has
// already moved on.
func (s *Service) loadInstance(ctx context.Context, tx *store.TxContext, id model.WorkflowInstanceID, expected model.Version) (model.WorkflowInstance, error) {
	inst, err := s.instances.FindByID(ctx, tx, id)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if inst.Version() != expected {
		return model.WorkflowInstance{}, model.NewConflictError(fmt.Sprintf(
			"workflow instance %q is at version %d, expected %d",
			id.String(), inst.Version(), expected.Int()))
	}
	return inst, nil
}

// requireInitiator enforces that only the instance's initiator may perform
// the operation.
func requireInitiator(rctx *model.RequestContext, inst model.WorkflowInstance, action string) error {
	if inst.InitiatedBy() != rctx.SubjectID {
		return model.NewForbiddenError(fmt.Sprintf(
			"only the initiator may %s workflow instance %q", action, inst.ID().String()))
	}
	return nil
}

func validateRequest(rctx *model.RequestContext) error {
	if rctx == nil {
		return model.NewValidationError("request context is required")
	}
	if err := rctx.Validate(); err != nil {
		return model.NewValidationError(err.Error())
	}
	return nil
}

func parseExpectedVersion(v int) (model.Version, error) {
	version, err := model.ParseVersion(v)
	if err != nil {
		return 0, model.NewValidationError("expected_version must be a positive integer")
	}
	return version, nil
}

func (s *Service) opLogger(rctx *model.RequestContext, op string) *zap.Logger {
	return s.logger.With(
		zap.String("operation", op),
		zap.String("tenant_id", rctx.TenantID.String()),
		zap.String("subject_id", rctx.SubjectID.String()),
		zap.String("correlation_id", rctx.CorrelationID),
	)
}

// observe records the operation's duration and conflict outcome when
// metrics are enabled.
func (s *Service) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordOperationDuration(op, time.Since(start))
	if model.IsConflict(err) {
		s.metrics.RecordVersionConflict(op)
	}
}
