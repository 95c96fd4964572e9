package definition

import (
	"encoding/json"
	"testing"

	"github.com/ringiflow/ringiflow/model"
)

func routerDef() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		ID:      "expense-approval",
		Name:    "Expense approval",
		Version: 1,
		Steps: []model.StepDefinition{
			{ID: "manager-approval", Name: "Manager approval"},
			{ID: "finance-approval", Name: "Finance approval", Condition: "form.amount > 1000"},
			{ID: "director-approval", Name: "Director approval", Condition: "form.amount > 10000"},
		},
	}
}

func stepIDs(steps []model.StepDefinition) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return ids
}

func TestRouter_ParticipatingSteps(t *testing.T) {
	r := NewRouter()

	tests := []struct {
		name string
		form string
		want []string
	}{
		{"small amount", `{"amount":100}`, []string{"manager-approval"}},
		{"medium amount", `{"amount":5000}`, []string{"manager-approval", "finance-approval"}},
		{"large amount", `{"amount":50000}`, []string{"manager-approval", "finance-approval", "director-approval"}},
		{"missing field", `{}`, []string{"manager-approval"}},
		{"null field", `{"amount":null}`, []string{"manager-approval"}},
		{"empty form", ``, []string{"manager-approval"}},
		{"unrelated fields only", `{"category":"travel"}`, []string{"manager-approval"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps, err := r.ParticipatingSteps(routerDef(), json.RawMessage(tt.form))
			if err != nil {
				t.Fatalf("ParticipatingSteps: %v", err)
			}
			got := stepIDs(steps)
			if len(got) != len(tt.want) {
				t.Fatalf("steps = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("steps[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRouter_absentFieldSkipsCondition(t *testing.T) {
	r := NewRouter()
	def := model.WorkflowDefinition{
		ID:      "expense-approval",
		Name:    "Expense approval",
		Version: 1,
		Steps: []model.StepDefinition{
			{ID: "manager-approval", Name: "Manager approval"},
			{ID: "finance-approval", Name: "Finance approval", Condition: `form["amount"] > 1000`},
			{ID: "compliance-review", Name: "Compliance review", Condition: `form.amount > 100 && form.category == "travel"`},
		},
	}

	// Bracket access and dotted access both resolve against the form map;
	// a submission without the referenced fields routes past both steps
	// instead of failing the whole submit.
	steps, err := r.ParticipatingSteps(def, json.RawMessage(`{"note":"lunch"}`))
	if err != nil {
		t.Fatalf("ParticipatingSteps: %v", err)
	}
	got := stepIDs(steps)
	if len(got) != 1 || got[0] != "manager-approval" {
		t.Errorf("steps = %v, want [manager-approval]", got)
	}

	// With every referenced field present the conditions evaluate normally.
	steps, err = r.ParticipatingSteps(def, json.RawMessage(`{"amount":5000,"category":"travel"}`))
	if err != nil {
		t.Fatalf("ParticipatingSteps: %v", err)
	}
	if len(steps) != 3 {
		t.Errorf("steps = %v, want all three", stepIDs(steps))
	}
}

func TestRouter_emptyChainIsRejected(t *testing.T) {
	r := NewRouter()
	def := model.WorkflowDefinition{
		ID:      "conditional-only",
		Name:    "Conditional only",
		Version: 1,
		Steps: []model.StepDefinition{
			{ID: "finance-approval", Name: "Finance approval", Condition: "form.amount > 1000"},
		},
	}

	_, err := r.ParticipatingSteps(def, json.RawMessage(`{"amount":10}`))
	if !model.IsValidation(err) {
		t.Errorf("error = %v, want validation", err)
	}
}

func TestRouter_nonBooleanConditionFails(t *testing.T) {
	r := NewRouter()
	def := routerDef()
	def.Steps[1].Condition = `form.amount + 1`

	_, err := r.ParticipatingSteps(def, json.RawMessage(`{"amount":10}`))
	if !model.IsValidation(err) {
		t.Errorf("error = %v, want validation", err)
	}
}

func TestRouter_cachesPrograms(t *testing.T) {
	r := NewRouter()
	for i := 0; i < 3; i++ {
		if _, err := r.ParticipatingSteps(routerDef(), json.RawMessage(`{"amount":5000}`)); err != nil {
			t.Fatalf("ParticipatingSteps: %v", err)
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.cache) != 2 {
		t.Errorf("cache holds %d programs, want 2", len(r.cache))
	}
}
