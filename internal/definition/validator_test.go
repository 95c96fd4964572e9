package definition

import (
	"testing"

	"github.com/ringiflow/ringiflow/model"
)

func validDef() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		ID:      "expense-approval",
		Name:    "Expense approval",
		Version: 1,
		Steps: []model.StepDefinition{
			{ID: "manager-approval", Name: "Manager approval"},
			{ID: "finance-approval", Name: "Finance approval", Condition: "form.amount > 1000"},
		},
	}
}

func hasError(errs []VError, code, path string) bool {
	for _, e := range errs {
		if e.Code == code && e.Path == path {
			return true
		}
	}
	return false
}

func TestValidator_validDefinition(t *testing.T) {
	v := NewValidator()
	errs := v.Validate([]model.WorkflowDefinition{validDef()})
	if len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestValidator_requiredFields(t *testing.T) {
	v := NewValidator()
	def := model.WorkflowDefinition{}
	errs := v.Validate([]model.WorkflowDefinition{def})

	if !hasError(errs, "REQUIRED", "definitions[0].id") {
		t.Error("missing id not reported")
	}
	if !hasError(errs, "REQUIRED", "definitions[0].name") {
		t.Error("missing name not reported")
	}
	if !hasError(errs, "RANGE", "definitions[0].version") {
		t.Error("zero version not reported")
	}
	if !hasError(errs, "REQUIRED", "definitions[0].steps") {
		t.Error("empty steps not reported")
	}
}

func TestValidator_duplicateStepID(t *testing.T) {
	v := NewValidator()
	def := validDef()
	def.Steps = append(def.Steps, model.StepDefinition{ID: "manager-approval", Name: "Again"})

	errs := v.Validate([]model.WorkflowDefinition{def})
	if !hasError(errs, "DUPLICATE", "definitions[0].steps[2].id") {
		t.Errorf("duplicate step id not reported: %v", errs)
	}
}

func TestValidator_brokenCondition(t *testing.T) {
	v := NewValidator()
	def := validDef()
	def.Steps[1].Condition = "form.amount >"

	errs := v.Validate([]model.WorkflowDefinition{def})
	if !hasError(errs, "INVALID_EXPRESSION", "definitions[0].steps[1].condition") {
		t.Errorf("broken condition not reported: %v", errs)
	}
}

func TestValidator_duplicateDefinitionVersion(t *testing.T) {
	v := NewValidator()
	first := validDef()
	first.SourceFile = "a.yaml"
	second := validDef()
	second.SourceFile = "b.yaml"

	errs := v.Validate([]model.WorkflowDefinition{first, second})
	if !hasError(errs, "DUPLICATE", "definitions[1]") {
		t.Errorf("duplicate id@version not reported: %v", errs)
	}
}
