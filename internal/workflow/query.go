package workflow

import (
	"context"

	"github.com/ringiflow/ringiflow/internal/store"
	"github.com/ringiflow/ringiflow/model"
)

// Get returns an instance with its step rows in chain order.
func (s *Service) Get(ctx context.Context, rctx *model.RequestContext, id model.WorkflowInstanceID) (InstanceDetail, error) {
	if err := validateRequest(rctx); err != nil {
		return InstanceDetail{}, err
	}

	var detail InstanceDetail
	err := s.inTx(ctx, rctx.TenantID, func(tx *store.TxContext) error {
		inst, err := s.instances.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		steps, err := s.steps.ListByInstance(ctx, tx, id)
		if err != nil {
			return err
		}
		detail = InstanceDetail{Instance: inst, Steps: steps}
		return nil
	})
	return detail, err
}

// GetByDisplayNumber resolves the tenant's display number to an instance
// and returns it with its steps.
func (s *Service) GetByDisplayNumber(ctx context.Context, rctx *model.RequestContext, number model.DisplayNumber) (InstanceDetail, error) {
	if err := validateRequest(rctx); err != nil {
		return InstanceDetail{}, err
	}

	var detail InstanceDetail
	err := s.inTx(ctx, rctx.TenantID, func(tx *store.TxContext) error {
		inst, err := s.instances.FindByDisplayNumber(ctx, tx, number)
		if err != nil {
			return err
		}
		steps, err := s.steps.ListByInstance(ctx, tx, inst.ID())
		if err != nil {
			return err
		}
		detail = InstanceDetail{Instance: inst, Steps: steps}
		return nil
	})
	return detail, err
}

// ListInput filters and paginates the tenant's instances.
type ListInput struct {
	// Status filters on the status string when non-empty.
	Status string
	// Mine restricts the listing to instances the caller initiated.
	Mine     bool
	Page     int
	PageSize int
}

// List returns a page of the tenant's instances, newest first, together
// with the total count matching the filters.
func (s *Service) List(ctx context.Context, rctx *model.RequestContext, in ListInput) ([]model.WorkflowInstance, int, error) {
	if err := validateRequest(rctx); err != nil {
		return nil, 0, err
	}

	size := in.PageSize
	if size <= 0 {
		size = s.defaultPageSize
	}
	if size > s.maxPageSize {
		size = s.maxPageSize
	}
	filters := store.ListFilters{
		Status: in.Status,
		Limit:  size,
		Offset: (in.Page - 1) * size,
	}
	if in.Mine {
		filters.InitiatedBy = rctx.SubjectID
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}

	var page []model.WorkflowInstance
	var total int
	err := s.inTx(ctx, rctx.TenantID, func(tx *store.TxContext) error {
		var err error
		page, err = s.instances.List(ctx, tx, filters)
		if err != nil {
			return err
		}
		all, err := s.instances.List(ctx, tx, store.ListFilters{
			Status:      filters.Status,
			InitiatedBy: filters.InitiatedBy,
		})
		if err != nil {
			return err
		}
		total = len(all)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return page, total, nil
}
