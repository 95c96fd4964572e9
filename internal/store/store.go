package store

import (
	"context"

	"github.com/ringiflow/ringiflow/model"
)

// TransactionManager opens tenant-scoped transactions. Every repository
// method requires a TxContext, so no read or write can run outside a
// transaction or without a tenant bound to it.
type TransactionManager interface {
	// Begin opens a transaction bound to the given tenant. The caller must
	// finish it with Commit or Rollback; Rollback is safe to defer.
	Begin(ctx context.Context, tenantID model.TenantID) (*TxContext, error)
}

// InstanceRepository persists workflow instances. All methods are scoped to
// the transaction's tenant: an instance belonging to another tenant behaves
// as if it does not exist.
type InstanceRepository interface {
	// Insert persists a new instance. Returns CONFLICT if the ID is taken.
	Insert(ctx context.Context, tx *TxContext, inst model.WorkflowInstance) error

	// UpdateWithVersionCheck persists an updated instance. The stored row
	// must still be at the version the update was derived from (the
	// instance's version minus one); otherwise CONFLICT is returned and
	// nothing is written.
	UpdateWithVersionCheck(ctx context.Context, tx *TxContext, inst model.WorkflowInstance) error

	// FindByID retrieves an instance by ID. Returns NOT_FOUND if it does
	// not exist or belongs to a different tenant.
	FindByID(ctx context.Context, tx *TxContext, id model.WorkflowInstanceID) (model.WorkflowInstance, error)

	// FindByDisplayNumber retrieves an instance by its tenant-sequential
	// display number.
	FindByDisplayNumber(ctx context.Context, tx *TxContext, number model.DisplayNumber) (model.WorkflowInstance, error)

	// List returns the tenant's instances, newest first.
	List(ctx context.Context, tx *TxContext, filters ListFilters) ([]model.WorkflowInstance, error)
}

// StepRepository persists workflow steps, scoped like InstanceRepository.
type StepRepository interface {
	// Insert persists a new step. Returns CONFLICT if the ID is taken.
	Insert(ctx context.Context, tx *TxContext, step model.WorkflowStep) error

	// UpdateWithVersionCheck persists an updated step with the same
	// stale-version semantics as the instance repository.
	UpdateWithVersionCheck(ctx context.Context, tx *TxContext, step model.WorkflowStep) error

	// FindByID retrieves a step by ID.
	FindByID(ctx context.Context, tx *TxContext, id model.WorkflowStepID) (model.WorkflowStep, error)

	// ListByInstance returns all steps of an instance in creation order.
	ListByInstance(ctx context.Context, tx *TxContext, instanceID model.WorkflowInstanceID) ([]model.WorkflowStep, error)
}

// DisplayNumberAllocator hands out per-tenant sequential display numbers.
type DisplayNumberAllocator interface {
	// Next allocates the tenant's next display number, starting at 1. The
	// allocation is part of the transaction: a rollback returns the number
	// to the sequence only on the in-memory implementation; the Postgres
	// implementation may leave gaps, which callers must tolerate.
	Next(ctx context.Context, tx *TxContext) (model.DisplayNumber, error)
}

// ListFilters are optional filters for listing instances.
type ListFilters struct {
	// Status filters on the status column when non-empty.
	Status string
	// InitiatedBy filters on the initiator when non-zero.
	InitiatedBy model.UserID
	Limit       int
	Offset      int
}
