package store

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ringiflow/ringiflow/model"
)

func newDraft(t *testing.T, tenantID model.TenantID, number int64, createdAt time.Time) model.WorkflowInstance {
	t.Helper()
	displayNumber, err := model.ParseDisplayNumber(number)
	if err != nil {
		t.Fatalf("ParseDisplayNumber: %v", err)
	}
	inst, err := model.NewWorkflowInstance(model.NewWorkflowInstanceParams{
		TenantID:          tenantID,
		DefinitionID:      "expense-approval",
		DefinitionVersion: 1,
		DisplayNumber:     displayNumber,
		Title:             "Team offsite budget",
		FormData:          json.RawMessage(`{"amount":1200}`),
		InitiatedBy:       model.NewUserID(),
		Now:               createdAt,
	})
	if err != nil {
		t.Fatalf("NewWorkflowInstance: %v", err)
	}
	return inst
}

func begin(t *testing.T, manager *MemoryTransactionManager, tenantID model.TenantID) *TxContext {
	t.Helper()
	tx, err := manager.Begin(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return tx
}

func commit(t *testing.T, tx *TxContext) {
	t.Helper()
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestMemoryInstanceRepository_insertAndFind(t *testing.T) {
	ctx := context.Background()
	manager := NewMemoryTransactionManager(NewMemoryStore())
	repo := NewMemoryInstanceRepository()
	tenantID := model.NewTenantID()
	inst := newDraft(t, tenantID, 1, time.Now().UTC())

	tx := begin(t, manager, tenantID)
	if err := repo.Insert(ctx, tx, inst); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	commit(t, tx)

	tx = begin(t, manager, tenantID)
	defer tx.Rollback(ctx)

	got, err := repo.FindByID(ctx, tx, inst.ID())
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if !reflect.DeepEqual(got, inst) {
		t.Errorf("FindByID mismatch:\n got %+v\nwant %+v", got, inst)
	}

	byNumber, err := repo.FindByDisplayNumber(ctx, tx, inst.DisplayNumber())
	if err != nil {
		t.Fatalf("FindByDisplayNumber: %v", err)
	}
	if byNumber.ID() != inst.ID() {
		t.Errorf("FindByDisplayNumber returned %s, want %s", byNumber.ID(), inst.ID())
	}
}

func TestMemoryInstanceRepository_crossTenantIsNotFound(t *testing.T) {
	ctx := context.Background()
	manager := NewMemoryTransactionManager(NewMemoryStore())
	repo := NewMemoryInstanceRepository()
	tenantID := model.NewTenantID()
	inst := newDraft(t, tenantID, 1, time.Now().UTC())

	tx := begin(t, manager, tenantID)
	if err := repo.Insert(ctx, tx, inst); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	commit(t, tx)

	tx = begin(t, manager, model.NewTenantID())
	defer tx.Rollback(ctx)

	if _, err := repo.FindByID(ctx, tx, inst.ID()); !model.IsNotFound(err) {
		t.Errorf("FindByID across tenants: error = %v, want not found", err)
	}
	if _, err := repo.FindByDisplayNumber(ctx, tx, inst.DisplayNumber()); !model.IsNotFound(err) {
		t.Errorf("FindByDisplayNumber across tenants: error = %v, want not found", err)
	}
}

func TestMemoryInstanceRepository_staleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	manager := NewMemoryTransactionManager(NewMemoryStore())
	repo := NewMemoryInstanceRepository()
	tenantID := model.NewTenantID()
	inst := newDraft(t, tenantID, 1, time.Now().UTC())

	tx := begin(t, manager, tenantID)
	if err := repo.Insert(ctx, tx, inst); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	commit(t, tx)

	// Two writers derive updates from the same stored version.
	first, err := inst.Submitted(time.Now().UTC())
	if err != nil {
		t.Fatalf("Submitted: %v", err)
	}
	second, err := inst.Cancelled(time.Now().UTC())
	if err != nil {
		t.Fatalf("Cancelled: %v", err)
	}

	tx = begin(t, manager, tenantID)
	if err := repo.UpdateWithVersionCheck(ctx, tx, first); err != nil {
		t.Fatalf("first UpdateWithVersionCheck: %v", err)
	}
	commit(t, tx)

	tx = begin(t, manager, tenantID)
	err = repo.UpdateWithVersionCheck(ctx, tx, second)
	tx.Rollback(ctx)
	if !model.IsConflict(err) {
		t.Fatalf("second UpdateWithVersionCheck: error = %v, want conflict", err)
	}

	// The winner's write stands.
	tx = begin(t, manager, tenantID)
	defer tx.Rollback(ctx)
	got, err := repo.FindByID(ctx, tx, inst.ID())
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Status().Kind() != model.InstanceStatusPending {
		t.Errorf("status = %q, want pending", got.Status().Kind())
	}
	if got.Version() != 2 {
		t.Errorf("version = %d, want 2", got.Version())
	}
}

func TestMemoryInstanceRepository_concurrentWritersRaceForOneWin(t *testing.T) {
	ctx := context.Background()
	manager := NewMemoryTransactionManager(NewMemoryStore())
	repo := NewMemoryInstanceRepository()
	tenantID := model.NewTenantID()
	inst := newDraft(t, tenantID, 1, time.Now().UTC())

	tx := begin(t, manager, tenantID)
	if err := repo.Insert(ctx, tx, inst); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	commit(t, tx)

	// Both writers derive their update from the same stored version and
	// commit from separate goroutines. Whichever lands second must see a
	// conflict, never a silent overwrite.
	first, err := inst.Submitted(time.Now().UTC())
	if err != nil {
		t.Fatalf("Submitted: %v", err)
	}
	second, err := inst.Cancelled(time.Now().UTC())
	if err != nil {
		t.Fatalf("Cancelled: %v", err)
	}

	updates := []model.WorkflowInstance{first, second}
	errs := make([]error, len(updates))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, upd := range updates {
		wg.Add(1)
		go func(i int, upd model.WorkflowInstance) {
			defer wg.Done()
			<-start
			tx, err := manager.Begin(ctx, tenantID)
			if err != nil {
				errs[i] = err
				return
			}
			if err := repo.UpdateWithVersionCheck(ctx, tx, upd); err != nil {
				tx.Rollback(ctx)
				errs[i] = err
				return
			}
			errs[i] = tx.Commit(ctx)
		}(i, upd)
	}
	close(start)
	wg.Wait()

	var wins, conflicts int
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case model.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("writer %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins = %d, conflicts = %d, want exactly one of each", wins, conflicts)
	}

	tx = begin(t, manager, tenantID)
	defer tx.Rollback(ctx)
	got, err := repo.FindByID(ctx, tx, inst.ID())
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Version() != 2 {
		t.Errorf("version = %d, want 2", got.Version())
	}
}

func TestMemoryInstanceRepository_updateAcrossTenantsConflicts(t *testing.T) {
	ctx := context.Background()
	manager := NewMemoryTransactionManager(NewMemoryStore())
	repo := NewMemoryInstanceRepository()
	tenantID := model.NewTenantID()
	inst := newDraft(t, tenantID, 1, time.Now().UTC())

	tx := begin(t, manager, tenantID)
	if err := repo.Insert(ctx, tx, inst); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	commit(t, tx)

	updated, err := inst.Submitted(time.Now().UTC())
	if err != nil {
		t.Fatalf("Submitted: %v", err)
	}

	tx = begin(t, manager, model.NewTenantID())
	defer tx.Rollback(ctx)
	if err := repo.UpdateWithVersionCheck(ctx, tx, updated); !model.IsConflict(err) {
		t.Errorf("update from foreign tenant: error = %v, want conflict", err)
	}
}

func TestTxContext_rollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	manager := NewMemoryTransactionManager(NewMemoryStore())
	repo := NewMemoryInstanceRepository()
	tenantID := model.NewTenantID()
	inst := newDraft(t, tenantID, 1, time.Now().UTC())

	tx := begin(t, manager, tenantID)
	if err := repo.Insert(ctx, tx, inst); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	tx = begin(t, manager, tenantID)
	defer tx.Rollback(ctx)
	if _, err := repo.FindByID(ctx, tx, inst.ID()); !model.IsNotFound(err) {
		t.Errorf("FindByID after rollback: error = %v, want not found", err)
	}
}

func TestTxContext_commitConsumes(t *testing.T) {
	ctx := context.Background()
	manager := NewMemoryTransactionManager(NewMemoryStore())
	tenantID := model.NewTenantID()

	tx := begin(t, manager, tenantID)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := tx.Commit(ctx); err == nil {
		t.Error("second Commit succeeded, want error")
	}
	// Deferred rollback after commit must be a no-op.
	if err := tx.Rollback(ctx); err != nil {
		t.Errorf("Rollback after Commit: %v, want nil", err)
	}
}

func TestTxContext_pgxAccessorPanicsOnMemoryTx(t *testing.T) {
	ctx := context.Background()
	manager := NewMemoryTransactionManager(NewMemoryStore())
	tx := begin(t, manager, model.NewTenantID())
	defer tx.Rollback(ctx)

	defer func() {
		if recover() == nil {
			t.Error("pgxTx on memory transaction did not panic")
		}
	}()
	tx.pgxTx()
}

func TestMemoryDisplayNumberAllocator(t *testing.T) {
	ctx := context.Background()
	manager := NewMemoryTransactionManager(NewMemoryStore())
	alloc := NewMemoryDisplayNumberAllocator()
	tenantA := model.NewTenantID()
	tenantB := model.NewTenantID()

	tx := begin(t, manager, tenantA)
	for want := int64(1); want <= 3; want++ {
		got, err := alloc.Next(ctx, tx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got.Int64() != want {
			t.Errorf("Next = %d, want %d", got.Int64(), want)
		}
	}
	commit(t, tx)

	// Tenants count independently.
	tx = begin(t, manager, tenantB)
	got, err := alloc.Next(ctx, tx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.Int64() != 1 {
		t.Errorf("first number for second tenant = %d, want 1", got.Int64())
	}
	commit(t, tx)

	// A rolled-back allocation returns the number to the sequence.
	tx = begin(t, manager, tenantA)
	if _, err := alloc.Next(ctx, tx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	tx.Rollback(ctx)

	tx = begin(t, manager, tenantA)
	defer tx.Rollback(ctx)
	got, err = alloc.Next(ctx, tx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.Int64() != 4 {
		t.Errorf("Next after rollback = %d, want 4", got.Int64())
	}
}

func TestMemoryInstanceRepository_listFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	manager := NewMemoryTransactionManager(NewMemoryStore())
	repo := NewMemoryInstanceRepository()
	tenantID := model.NewTenantID()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	older := newDraft(t, tenantID, 1, base)
	newer := newDraft(t, tenantID, 2, base.Add(time.Hour))
	submitted, err := newDraft(t, tenantID, 3, base.Add(2*time.Hour)).Submitted(base.Add(3 * time.Hour))
	if err != nil {
		t.Fatalf("Submitted: %v", err)
	}
	foreign := newDraft(t, model.NewTenantID(), 1, base)

	tx := begin(t, manager, tenantID)
	for _, inst := range []model.WorkflowInstance{older, newer, submitted} {
		if err := repo.Insert(ctx, tx, inst); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	commit(t, tx)

	tx = begin(t, manager, foreign.TenantID())
	if err := repo.Insert(ctx, tx, foreign); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	commit(t, tx)

	tx = begin(t, manager, tenantID)
	defer tx.Rollback(ctx)

	all, err := repo.List(ctx, tx, ListFilters{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List returned %d instances, want 3", len(all))
	}
	wantOrder := []model.WorkflowInstanceID{submitted.ID(), newer.ID(), older.ID()}
	for i, want := range wantOrder {
		if all[i].ID() != want {
			t.Errorf("List[%d] = %s, want %s", i, all[i].ID(), want)
		}
	}

	drafts, err := repo.List(ctx, tx, ListFilters{Status: model.InstanceStatusDraft})
	if err != nil {
		t.Fatalf("List drafts: %v", err)
	}
	if len(drafts) != 2 {
		t.Errorf("List drafts returned %d instances, want 2", len(drafts))
	}

	byInitiator, err := repo.List(ctx, tx, ListFilters{InitiatedBy: older.InitiatedBy()})
	if err != nil {
		t.Fatalf("List by initiator: %v", err)
	}
	if len(byInitiator) != 1 || byInitiator[0].ID() != older.ID() {
		t.Errorf("List by initiator = %v, want only %s", byInitiator, older.ID())
	}

	paged, err := repo.List(ctx, tx, ListFilters{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List paged: %v", err)
	}
	if len(paged) != 1 || paged[0].ID() != newer.ID() {
		t.Errorf("List paged = %v, want only %s", paged, newer.ID())
	}
}

func TestMemoryStepRepository_lifecycle(t *testing.T) {
	ctx := context.Background()
	manager := NewMemoryTransactionManager(NewMemoryStore())
	repo := NewMemoryStepRepository()
	tenantID := model.NewTenantID()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	instanceID := model.NewWorkflowInstanceID()

	newStep := func(slug string, position int, createdAt time.Time) model.WorkflowStep {
		step, err := model.NewWorkflowStep(model.NewWorkflowStepParams{
			InstanceID: instanceID,
			TenantID:   tenantID,
			StepID:     slug,
			Position:   position,
			AssignedTo: model.NewUserID(),
			Now:        createdAt,
		})
		if err != nil {
			t.Fatalf("NewWorkflowStep: %v", err)
		}
		return step
	}
	// Same created_at: chain position decides the order.
	first := newStep("manager-approval", 0, base)
	second := newStep("finance-approval", 1, base)

	tx := begin(t, manager, tenantID)
	for _, step := range []model.WorkflowStep{second, first} {
		if err := repo.Insert(ctx, tx, step); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	commit(t, tx)

	tx = begin(t, manager, tenantID)
	steps, err := repo.ListByInstance(ctx, tx, instanceID)
	if err != nil {
		t.Fatalf("ListByInstance: %v", err)
	}
	if len(steps) != 2 || steps[0].ID() != first.ID() || steps[1].ID() != second.ID() {
		t.Fatalf("ListByInstance order = %v, want [%s %s]", steps, first.ID(), second.ID())
	}

	active, err := first.Activated(base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Activated: %v", err)
	}
	if err := repo.UpdateWithVersionCheck(ctx, tx, active); err != nil {
		t.Fatalf("UpdateWithVersionCheck: %v", err)
	}
	commit(t, tx)

	// A second activation derived from the stale version loses.
	stale, err := first.Activated(base.Add(2 * time.Hour))
	if err != nil {
		t.Fatalf("Activated: %v", err)
	}
	tx = begin(t, manager, tenantID)
	defer tx.Rollback(ctx)
	if err := repo.UpdateWithVersionCheck(ctx, tx, stale); !model.IsConflict(err) {
		t.Errorf("stale update: error = %v, want conflict", err)
	}

	got, err := repo.FindByID(ctx, tx, first.ID())
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Status() != model.StepStatusActive || got.Version() != 2 {
		t.Errorf("step = %q v%d, want active v2", got.Status(), got.Version())
	}
}
