package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ringiflow/ringiflow/model"
)

// MemoryStore is an in-memory backing store for testing. It keeps the same
// row shapes as Postgres and reproduces the version-check and tenant-scoping
// semantics of the Pg repositories.
//
// Transactions are serialized: Begin takes the store lock and holds it until
// Commit or Rollback, buffering writes in an overlay that is applied on
// commit and discarded on rollback. That is stricter isolation than
// Postgres, which is fine for tests.
type MemoryStore struct {
	mu        sync.Mutex
	instances map[string]model.WorkflowInstanceRecord
	steps     map[string]model.WorkflowStepRecord
	counters  map[string]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]model.WorkflowInstanceRecord),
		steps:     make(map[string]model.WorkflowStepRecord),
		counters:  make(map[string]int64),
	}
}

// MemoryTransactionManager opens transactions against a MemoryStore.
type MemoryTransactionManager struct {
	store *MemoryStore
}

// NewMemoryTransactionManager creates a transaction manager on the store.
func NewMemoryTransactionManager(store *MemoryStore) *MemoryTransactionManager {
	return &MemoryTransactionManager{store: store}
}

// Begin opens a tenant-scoped transaction. It blocks while another
// transaction is open.
func (m *MemoryTransactionManager) Begin(_ context.Context, tenantID model.TenantID) (*TxContext, error) {
	if tenantID.IsZero() {
		return nil, model.NewValidationError("tenant id is required")
	}
	m.store.mu.Lock()
	return &TxContext{
		tenantID: tenantID,
		mem: &memTx{
			store:     m.store,
			instances: make(map[string]model.WorkflowInstanceRecord),
			steps:     make(map[string]model.WorkflowStepRecord),
			counters:  make(map[string]int64),
		},
	}, nil
}

// memTx buffers a transaction's writes until commit.
type memTx struct {
	store     *MemoryStore
	instances map[string]model.WorkflowInstanceRecord
	steps     map[string]model.WorkflowStepRecord
	counters  map[string]int64
}

func (t *memTx) commit() {
	for id, rec := range t.instances {
		t.store.instances[id] = rec
	}
	for id, rec := range t.steps {
		t.store.steps[id] = rec
	}
	for tenant, n := range t.counters {
		t.store.counters[tenant] = n
	}
	t.store.mu.Unlock()
}

func (t *memTx) rollback() {
	t.store.mu.Unlock()
}

func (t *memTx) instance(id string) (model.WorkflowInstanceRecord, bool) {
	if rec, ok := t.instances[id]; ok {
		return rec, true
	}
	rec, ok := t.store.instances[id]
	return rec, ok
}

func (t *memTx) step(id string) (model.WorkflowStepRecord, bool) {
	if rec, ok := t.steps[id]; ok {
		return rec, true
	}
	rec, ok := t.store.steps[id]
	return rec, ok
}

// eachInstance visits committed rows with the overlay shadowing them, then
// overlay-only rows.
func (t *memTx) eachInstance(fn func(model.WorkflowInstanceRecord)) {
	for id, rec := range t.store.instances {
		if staged, ok := t.instances[id]; ok {
			fn(staged)
			continue
		}
		fn(rec)
	}
	for id, rec := range t.instances {
		if _, ok := t.store.instances[id]; !ok {
			fn(rec)
		}
	}
}

func (t *memTx) eachStep(fn func(model.WorkflowStepRecord)) {
	for id, rec := range t.store.steps {
		if staged, ok := t.steps[id]; ok {
			fn(staged)
			continue
		}
		fn(rec)
	}
	for id, rec := range t.steps {
		if _, ok := t.store.steps[id]; !ok {
			fn(rec)
		}
	}
}

func (t *memTx) lastNumber(tenant string) int64 {
	if n, ok := t.counters[tenant]; ok {
		return n
	}
	return t.store.counters[tenant]
}

// MemoryInstanceRepository is the in-memory InstanceRepository.
type MemoryInstanceRepository struct{}

// NewMemoryInstanceRepository creates an in-memory instance repository.
func NewMemoryInstanceRepository() *MemoryInstanceRepository {
	return &MemoryInstanceRepository{}
}

// Insert persists a new instance.
func (r *MemoryInstanceRepository) Insert(_ context.Context, tx *TxContext, inst model.WorkflowInstance) error {
	mem := tx.memTxn()
	rec := inst.Record()
	if _, exists := mem.instance(rec.ID); exists {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q already exists", rec.ID),
		)
	}
	mem.instances[rec.ID] = rec
	return nil
}

// UpdateWithVersionCheck persists an updated instance. Like the Postgres
// repository, a missing row, a foreign tenant's row, and a stale version
// all surface as CONFLICT: the guarded update matched nothing.
func (r *MemoryInstanceRepository) UpdateWithVersionCheck(_ context.Context, tx *TxContext, inst model.WorkflowInstance) error {
	mem := tx.memTxn()
	rec := inst.Record()
	cur, exists := mem.instance(rec.ID)
	if !exists || cur.TenantID != tx.tenantID.String() || cur.Version != rec.Version-1 {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d)", rec.ID, rec.Version-1),
		)
	}
	mem.instances[rec.ID] = rec
	return nil
}

// FindByID retrieves an instance by ID, scoped to the transaction's tenant.
func (r *MemoryInstanceRepository) FindByID(_ context.Context, tx *TxContext, id model.WorkflowInstanceID) (model.WorkflowInstance, error) {
	mem := tx.memTxn()
	rec, exists := mem.instance(id.String())
	if !exists || rec.TenantID != tx.tenantID.String() {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", id.String()),
		)
	}
	return model.InstanceFromRecord(rec)
}

// FindByDisplayNumber retrieves an instance by display number.
func (r *MemoryInstanceRepository) FindByDisplayNumber(_ context.Context, tx *TxContext, number model.DisplayNumber) (model.WorkflowInstance, error) {
	mem := tx.memTxn()
	var found *model.WorkflowInstanceRecord
	mem.eachInstance(func(rec model.WorkflowInstanceRecord) {
		if rec.TenantID == tx.tenantID.String() && rec.DisplayNumber == number.Int64() {
			found = &rec
		}
	})
	if found == nil {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow instance #%d not found", number.Int64()),
		)
	}
	return model.InstanceFromRecord(*found)
}

// List returns the tenant's instances, newest first.
func (r *MemoryInstanceRepository) List(_ context.Context, tx *TxContext, filters ListFilters) ([]model.WorkflowInstance, error) {
	mem := tx.memTxn()
	var recs []model.WorkflowInstanceRecord
	mem.eachInstance(func(rec model.WorkflowInstanceRecord) {
		if rec.TenantID != tx.tenantID.String() {
			return
		}
		if filters.Status != "" && rec.Status != filters.Status {
			return
		}
		if !filters.InitiatedBy.IsZero() && rec.InitiatedBy != filters.InitiatedBy.String() {
			return
		}
		recs = append(recs, rec)
	})

	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].DisplayNumber > recs[j].DisplayNumber
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(recs) {
			recs = nil
		} else {
			recs = recs[filters.Offset:]
		}
	}
	if filters.Limit > 0 && filters.Limit < len(recs) {
		recs = recs[:filters.Limit]
	}

	var instances []model.WorkflowInstance
	for _, rec := range recs {
		inst, err := model.InstanceFromRecord(rec)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// MemoryStepRepository is the in-memory StepRepository.
type MemoryStepRepository struct{}

// NewMemoryStepRepository creates an in-memory step repository.
func NewMemoryStepRepository() *MemoryStepRepository {
	return &MemoryStepRepository{}
}

// Insert persists a new step.
func (r *MemoryStepRepository) Insert(_ context.Context, tx *TxContext, step model.WorkflowStep) error {
	mem := tx.memTxn()
	rec := step.Record()
	if _, exists := mem.step(rec.ID); exists {
		return model.NewConflictError(
			fmt.Sprintf("workflow step %q already exists", rec.ID),
		)
	}
	mem.steps[rec.ID] = rec
	return nil
}

// UpdateWithVersionCheck persists an updated step with optimistic locking.
func (r *MemoryStepRepository) UpdateWithVersionCheck(_ context.Context, tx *TxContext, step model.WorkflowStep) error {
	mem := tx.memTxn()
	rec := step.Record()
	cur, exists := mem.step(rec.ID)
	if !exists || cur.TenantID != tx.tenantID.String() || cur.Version != rec.Version-1 {
		return model.NewConflictError(
			fmt.Sprintf("workflow step %q version conflict (expected %d)", rec.ID, rec.Version-1),
		)
	}
	mem.steps[rec.ID] = rec
	return nil
}

// FindByID retrieves a step by ID, scoped to the transaction's tenant.
func (r *MemoryStepRepository) FindByID(_ context.Context, tx *TxContext, id model.WorkflowStepID) (model.WorkflowStep, error) {
	mem := tx.memTxn()
	rec, exists := mem.step(id.String())
	if !exists || rec.TenantID != tx.tenantID.String() {
		return model.WorkflowStep{}, model.NewNotFoundError(
			fmt.Sprintf("workflow step %q not found", id.String()),
		)
	}
	return model.StepFromRecord(rec)
}

// ListByInstance returns an instance's steps in creation order.
func (r *MemoryStepRepository) ListByInstance(_ context.Context, tx *TxContext, instanceID model.WorkflowInstanceID) ([]model.WorkflowStep, error) {
	mem := tx.memTxn()
	var recs []model.WorkflowStepRecord
	mem.eachStep(func(rec model.WorkflowStepRecord) {
		if rec.TenantID == tx.tenantID.String() && rec.InstanceID == instanceID.String() {
			recs = append(recs, rec)
		}
	})

	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].Position < recs[j].Position
	})

	var steps []model.WorkflowStep
	for _, rec := range recs {
		step, err := model.StepFromRecord(rec)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// MemoryDisplayNumberAllocator allocates per-tenant sequential display
// numbers. Unlike the Postgres allocator, a rollback returns the number to
// the sequence.
type MemoryDisplayNumberAllocator struct{}

// NewMemoryDisplayNumberAllocator creates an in-memory allocator.
func NewMemoryDisplayNumberAllocator() *MemoryDisplayNumberAllocator {
	return &MemoryDisplayNumberAllocator{}
}

// Next allocates the tenant's next display number.
func (a *MemoryDisplayNumberAllocator) Next(_ context.Context, tx *TxContext) (model.DisplayNumber, error) {
	mem := tx.memTxn()
	tenant := tx.tenantID.String()
	next := mem.lastNumber(tenant) + 1
	mem.counters[tenant] = next
	return model.ParseDisplayNumber(next)
}
