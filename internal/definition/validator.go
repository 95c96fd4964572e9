package definition

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/ringiflow/ringiflow/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates definitions structurally and compiles their step
// conditions to catch broken expressions at load time instead of at the
// first submission that hits them.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions.
func (v *Validator) Validate(defs []model.WorkflowDefinition) []VError {
	var errs []VError

	seen := make(map[string]string)
	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		errs = append(errs, v.validateDefinition(prefix, def)...)

		if def.ID != "" {
			key := versionKey(def.ID, def.Version)
			if other, dup := seen[key]; dup {
				errs = append(errs, VError{
					Path:    prefix,
					Code:    "DUPLICATE",
					Message: fmt.Sprintf("definition %s already loaded from %s", key, other),
				})
			} else {
				seen[key] = def.SourceFile
			}
		}
	}
	return errs
}

func (v *Validator) validateDefinition(prefix string, def model.WorkflowDefinition) []VError {
	var errs []VError

	if def.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if def.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if def.Version < 1 {
		errs = append(errs, VError{Path: prefix + ".version", Code: "RANGE", Message: "version must be a positive integer"})
	}
	if len(def.Steps) == 0 {
		errs = append(errs, VError{Path: prefix + ".steps", Code: "REQUIRED", Message: "at least one step is required"})
	}

	stepIDs := make(map[string]bool)
	for i, s := range def.Steps {
		sp := fmt.Sprintf("%s.steps[%d]", prefix, i)
		if s.ID == "" {
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "step id is required"})
		} else if stepIDs[s.ID] {
			errs = append(errs, VError{Path: sp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate step id %q", s.ID)})
		}
		stepIDs[s.ID] = true

		if s.Name == "" {
			errs = append(errs, VError{Path: sp + ".name", Code: "REQUIRED", Message: "step name is required"})
		}
		if s.Condition != "" {
			if _, err := expr.Compile(s.Condition, expr.AllowUndefinedVariables(), expr.AsBool()); err != nil {
				errs = append(errs, VError{
					Path:    sp + ".condition",
					Code:    "INVALID_EXPRESSION",
					Message: fmt.Sprintf("condition does not compile: %v", err),
				})
			}
		}
	}

	return errs
}
