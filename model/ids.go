package model

import (
	"fmt"

	"github.com/google/uuid"
)

// Opaque identifiers for the core aggregates. They wrap UUIDv7 values so
// that identifiers sort roughly by creation time, which keeps index pages
// warm on append-heavy tables.

// TenantID identifies a tenant. Every entity belongs to exactly one tenant.
type TenantID uuid.UUID

// UserID identifies a user. The core stores user IDs opaquely; display
// names are resolved by an identity collaborator outside this module.
type UserID uuid.UUID

// WorkflowInstanceID identifies one approval request.
type WorkflowInstanceID uuid.UUID

// WorkflowStepID identifies one decision point row within an instance.
type WorkflowStepID uuid.UUID

// DefinitionID identifies a workflow definition (template). Definitions are
// authored in YAML and addressed by slug, e.g. "expense-approval".
type DefinitionID string

func newUUID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// NewTenantID generates a fresh tenant identifier.
func NewTenantID() TenantID { return TenantID(newUUID()) }

// NewUserID generates a fresh user identifier.
func NewUserID() UserID { return UserID(newUUID()) }

// NewWorkflowInstanceID generates a fresh instance identifier.
func NewWorkflowInstanceID() WorkflowInstanceID { return WorkflowInstanceID(newUUID()) }

// NewWorkflowStepID generates a fresh step identifier.
func NewWorkflowStepID() WorkflowStepID { return WorkflowStepID(newUUID()) }

func (id TenantID) String() string           { return uuid.UUID(id).String() }
func (id UserID) String() string             { return uuid.UUID(id).String() }
func (id WorkflowInstanceID) String() string { return uuid.UUID(id).String() }
func (id WorkflowStepID) String() string     { return uuid.UUID(id).String() }

func (id TenantID) IsZero() bool           { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsZero() bool             { return uuid.UUID(id) == uuid.Nil }
func (id WorkflowInstanceID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }
func (id WorkflowStepID) IsZero() bool     { return uuid.UUID(id) == uuid.Nil }

// ParseTenantID parses a tenant identifier from its string form.
func ParseTenantID(s string) (TenantID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return TenantID{}, NewValidationError(fmt.Sprintf("invalid tenant id %q", s))
	}
	return TenantID(id), nil
}

// ParseUserID parses a user identifier from its string form.
func ParseUserID(s string) (UserID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, NewValidationError(fmt.Sprintf("invalid user id %q", s))
	}
	return UserID(id), nil
}

// ParseWorkflowInstanceID parses an instance identifier from its string form.
func ParseWorkflowInstanceID(s string) (WorkflowInstanceID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return WorkflowInstanceID{}, NewValidationError(fmt.Sprintf("invalid workflow instance id %q", s))
	}
	return WorkflowInstanceID(id), nil
}

// ParseWorkflowStepID parses a step identifier from its string form.
func ParseWorkflowStepID(s string) (WorkflowStepID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return WorkflowStepID{}, NewValidationError(fmt.Sprintf("invalid workflow step id %q", s))
	}
	return WorkflowStepID(id), nil
}
