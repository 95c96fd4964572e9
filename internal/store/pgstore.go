package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ringiflow/ringiflow/model"
)

// PgTransactionManager opens Postgres transactions with the tenant bound to
// the connection via set_config, so row-level security policies keyed on
// current_setting('app.tenant_id') apply to every statement in the
// transaction. The setting is transaction-local and resets on commit or
// rollback.
type PgTransactionManager struct {
	pool *pgxpool.Pool
}

// NewPgTransactionManager creates a transaction manager on the given pool.
func NewPgTransactionManager(pool *pgxpool.Pool) *PgTransactionManager {
	return &PgTransactionManager{pool: pool}
}

// Begin opens a transaction and binds the tenant to it.
func (m *PgTransactionManager) Begin(ctx context.Context, tenantID model.TenantID) (*TxContext, error) {
	if tenantID.IsZero() {
		return nil, model.NewValidationError("tenant id is required")
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`SELECT set_config('app.tenant_id', $1, true)`, tenantID.String(),
	); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("set tenant for transaction: %w", err)
	}

	return &TxContext{tenantID: tenantID, pg: tx}, nil
}

const instanceColumns = `id, tenant_id, definition_id, definition_version, display_number,
	       title, form_data, status, version, current_step_id,
	       submitted_at, completed_at, initiated_by, created_at, updated_at`

// PgInstanceRepository is a PostgreSQL-backed InstanceRepository using pgx/v5.
type PgInstanceRepository struct{}

// NewPgInstanceRepository creates a new PostgreSQL instance repository.
func NewPgInstanceRepository() *PgInstanceRepository {
	return &PgInstanceRepository{}
}

// Insert persists a new instance.
func (r *PgInstanceRepository) Insert(ctx context.Context, tx *TxContext, inst model.WorkflowInstance) error {
	rec := inst.Record()
	_, err := tx.pgxTx().Exec(ctx, `
		INSERT INTO workflow_instances (
			id, tenant_id, definition_id, definition_version, display_number,
			title, form_data, status, version, current_step_id,
			submitted_at, completed_at, initiated_by, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)`,
		rec.ID, rec.TenantID, rec.DefinitionID, rec.DefinitionVersion, rec.DisplayNumber,
		rec.Title, rec.FormData, rec.Status, rec.Version, rec.CurrentStepID,
		rec.SubmittedAt, rec.CompletedAt, rec.InitiatedBy, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow instance: %w", err)
	}
	return nil
}

// UpdateWithVersionCheck persists an updated instance with optimistic
// locking. The WHERE clause pins the row to the version the update was
// derived from; zero rows affected means another writer got there first.
func (r *PgInstanceRepository) UpdateWithVersionCheck(ctx context.Context, tx *TxContext, inst model.WorkflowInstance) error {
	rec := inst.Record()
	tag, err := tx.pgxTx().Exec(ctx, `
		UPDATE workflow_instances SET
			title = $1,
			form_data = $2,
			status = $3,
			version = $4,
			current_step_id = $5,
			submitted_at = $6,
			completed_at = $7,
			updated_at = $8
		WHERE id = $9 AND tenant_id = $10 AND version = $11`,
		rec.Title, rec.FormData, rec.Status, rec.Version, rec.CurrentStepID,
		rec.SubmittedAt, rec.CompletedAt, rec.UpdatedAt,
		rec.ID, tx.tenantID.String(), rec.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update workflow instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d)", rec.ID, rec.Version-1),
		)
	}
	return nil
}

// FindByID retrieves an instance by ID, scoped to the transaction's tenant.
func (r *PgInstanceRepository) FindByID(ctx context.Context, tx *TxContext, id model.WorkflowInstanceID) (model.WorkflowInstance, error) {
	row := tx.pgxTx().QueryRow(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE id = $1 AND tenant_id = $2`,
		id.String(), tx.tenantID.String(),
	)
	inst, err := scanInstance(row)
	if err == pgx.ErrNoRows {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", id.String()),
		)
	}
	return inst, err
}

// FindByDisplayNumber retrieves an instance by display number.
func (r *PgInstanceRepository) FindByDisplayNumber(ctx context.Context, tx *TxContext, number model.DisplayNumber) (model.WorkflowInstance, error) {
	row := tx.pgxTx().QueryRow(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE display_number = $1 AND tenant_id = $2`,
		number.Int64(), tx.tenantID.String(),
	)
	inst, err := scanInstance(row)
	if err == pgx.ErrNoRows {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow instance #%d not found", number.Int64()),
		)
	}
	return inst, err
}

// List returns the tenant's instances, newest first.
func (r *PgInstanceRepository) List(ctx context.Context, tx *TxContext, filters ListFilters) ([]model.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + `
	          FROM workflow_instances
	          WHERE tenant_id = $1`
	args := []any{tx.tenantID.String()}
	argIdx := 2

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}
	if !filters.InitiatedBy.IsZero() {
		query += fmt.Sprintf(" AND initiated_by = $%d", argIdx)
		args = append(args, filters.InitiatedBy.String())
		argIdx++
	}

	query += " ORDER BY created_at DESC, display_number DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := tx.pgxTx().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflow instances: %w", err)
	}
	defer rows.Close()

	var instances []model.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func scanInstance(row pgx.Row) (model.WorkflowInstance, error) {
	var rec model.WorkflowInstanceRecord
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.DefinitionID, &rec.DefinitionVersion, &rec.DisplayNumber,
		&rec.Title, &rec.FormData, &rec.Status, &rec.Version, &rec.CurrentStepID,
		&rec.SubmittedAt, &rec.CompletedAt, &rec.InitiatedBy, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.WorkflowInstance{}, err
	}
	if err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("scan workflow instance: %w", err)
	}
	return model.InstanceFromRecord(rec)
}

const stepColumns = `id, instance_id, tenant_id, step_id, position, status, version,
	       assigned_to, decision, comment, completed_at, created_at, updated_at`

// PgStepRepository is a PostgreSQL-backed StepRepository.
type PgStepRepository struct{}

// NewPgStepRepository creates a new PostgreSQL step repository.
func NewPgStepRepository() *PgStepRepository {
	return &PgStepRepository{}
}

// Insert persists a new step.
func (r *PgStepRepository) Insert(ctx context.Context, tx *TxContext, step model.WorkflowStep) error {
	rec := step.Record()
	_, err := tx.pgxTx().Exec(ctx, `
		INSERT INTO workflow_steps (
			id, instance_id, tenant_id, step_id, position, status, version,
			assigned_to, decision, comment, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.InstanceID, rec.TenantID, rec.StepID, rec.Position, rec.Status, rec.Version,
		rec.AssignedTo, rec.Decision, rec.Comment, rec.CompletedAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow step: %w", err)
	}
	return nil
}

// UpdateWithVersionCheck persists an updated step with optimistic locking.
func (r *PgStepRepository) UpdateWithVersionCheck(ctx context.Context, tx *TxContext, step model.WorkflowStep) error {
	rec := step.Record()
	tag, err := tx.pgxTx().Exec(ctx, `
		UPDATE workflow_steps SET
			status = $1,
			version = $2,
			decision = $3,
			comment = $4,
			completed_at = $5,
			updated_at = $6
		WHERE id = $7 AND tenant_id = $8 AND version = $9`,
		rec.Status, rec.Version, rec.Decision, rec.Comment, rec.CompletedAt, rec.UpdatedAt,
		rec.ID, tx.tenantID.String(), rec.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update workflow step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("workflow step %q version conflict (expected %d)", rec.ID, rec.Version-1),
		)
	}
	return nil
}

// FindByID retrieves a step by ID, scoped to the transaction's tenant.
func (r *PgStepRepository) FindByID(ctx context.Context, tx *TxContext, id model.WorkflowStepID) (model.WorkflowStep, error) {
	row := tx.pgxTx().QueryRow(ctx, `
		SELECT `+stepColumns+`
		FROM workflow_steps
		WHERE id = $1 AND tenant_id = $2`,
		id.String(), tx.tenantID.String(),
	)
	step, err := scanStep(row)
	if err == pgx.ErrNoRows {
		return model.WorkflowStep{}, model.NewNotFoundError(
			fmt.Sprintf("workflow step %q not found", id.String()),
		)
	}
	return step, err
}

// ListByInstance returns an instance's steps in creation order.
func (r *PgStepRepository) ListByInstance(ctx context.Context, tx *TxContext, instanceID model.WorkflowInstanceID) ([]model.WorkflowStep, error) {
	rows, err := tx.pgxTx().Query(ctx, `
		SELECT `+stepColumns+`
		FROM workflow_steps
		WHERE instance_id = $1 AND tenant_id = $2
		ORDER BY created_at ASC, position ASC`,
		instanceID.String(), tx.tenantID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query workflow steps: %w", err)
	}
	defer rows.Close()

	var steps []model.WorkflowStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func scanStep(row pgx.Row) (model.WorkflowStep, error) {
	var rec model.WorkflowStepRecord
	err := row.Scan(
		&rec.ID, &rec.InstanceID, &rec.TenantID, &rec.StepID, &rec.Position, &rec.Status, &rec.Version,
		&rec.AssignedTo, &rec.Decision, &rec.Comment, &rec.CompletedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.WorkflowStep{}, err
	}
	if err != nil {
		return model.WorkflowStep{}, fmt.Errorf("scan workflow step: %w", err)
	}
	return model.StepFromRecord(rec)
}

// PgDisplayNumberAllocator allocates display numbers from a per-tenant
// counter row. Allocation holds a row lock until the transaction finishes,
// so two submissions in the same tenant cannot get the same number; a
// rolled-back transaction leaves a gap in the sequence.
type PgDisplayNumberAllocator struct{}

// NewPgDisplayNumberAllocator creates a new counter-backed allocator.
func NewPgDisplayNumberAllocator() *PgDisplayNumberAllocator {
	return &PgDisplayNumberAllocator{}
}

// Next allocates the tenant's next display number.
func (a *PgDisplayNumberAllocator) Next(ctx context.Context, tx *TxContext) (model.DisplayNumber, error) {
	var number int64
	err := tx.pgxTx().QueryRow(ctx, `
		INSERT INTO display_numbers (tenant_id, last_number)
		VALUES ($1, 1)
		ON CONFLICT (tenant_id)
		DO UPDATE SET last_number = display_numbers.last_number + 1
		RETURNING last_number`,
		tx.tenantID.String(),
	).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("allocate display number: %w", err)
	}
	return model.ParseDisplayNumber(number)
}
