package definition

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"github.com/ringiflow/ringiflow/model"
)

// Router decides which of a definition's steps participate in an instance's
// approval chain. Unconditional steps always participate; conditional steps
// participate when their expression evaluates to true against the
// instance's form data, exposed to the expression as `form`. A condition
// referencing a form field the submission does not carry evaluates to
// non-participation: an absent amount cannot exceed a threshold.
//
// Compiled programs are cached per expression, so the cost of compiling a
// condition is paid once per process, not once per submission.
type Router struct {
	mu    sync.RWMutex
	cache map[string]*compiledCondition
}

// compiledCondition pairs a compiled program with the form fields its
// expression dereferences, collected from the parse tree.
type compiledCondition struct {
	program *vm.Program
	fields  []string
}

// NewRouter creates a Router with an empty program cache.
func NewRouter() *Router {
	return &Router{cache: make(map[string]*compiledCondition)}
}

// ParticipatingSteps returns the definition's steps that apply to the given
// form data, in definition order. A definition whose conditions exclude
// every step yields a validation error: an approval chain with nobody in it
// cannot be submitted.
func (r *Router) ParticipatingSteps(def model.WorkflowDefinition, formData json.RawMessage) ([]model.StepDefinition, error) {
	form := parseForm(formData)
	env := map[string]any{"form": form}

	var steps []model.StepDefinition
	for _, step := range def.Steps {
		if step.Condition == "" {
			steps = append(steps, step)
			continue
		}
		ok, err := r.evaluate(step.Condition, form, env)
		if err != nil {
			return nil, model.NewValidationError(fmt.Sprintf(
				"condition on step %q failed to evaluate: %v", step.ID, err))
		}
		if ok {
			steps = append(steps, step)
		}
	}

	if len(steps) == 0 {
		return nil, model.NewValidationError(fmt.Sprintf(
			"no steps of definition %q apply to the submitted form data", def.ID))
	}
	return steps, nil
}

func parseForm(formData json.RawMessage) map[string]any {
	form := map[string]any{}
	if len(formData) > 0 {
		// Non-object form data leaves the map empty; conditions referencing
		// missing fields see nil rather than erroring out.
		_ = json.Unmarshal(formData, &form)
	}
	return form
}

func (r *Router) evaluate(condition string, form map[string]any, env map[string]any) (bool, error) {
	r.mu.RLock()
	cc, ok := r.cache[condition]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if cc, ok = r.cache[condition]; !ok {
			var err error
			cc, err = compileCondition(condition)
			if err != nil {
				r.mu.Unlock()
				return false, err
			}
			r.cache[condition] = cc
		}
		r.mu.Unlock()
	}

	// A field the expression needs but the form does not carry (or carries
	// as JSON null) short-circuits to false before the program runs, so the
	// runtime never faces a nil operand.
	for _, field := range cc.fields {
		if v, exists := form[field]; !exists || v == nil {
			return false, nil
		}
	}

	result, err := vm.Run(cc.program, env)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean, got %T", condition, result)
	}
	return b, nil
}

func compileCondition(condition string) (*compiledCondition, error) {
	program, err := expr.Compile(condition, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, err
	}

	tree, err := parser.Parse(condition)
	if err != nil {
		return nil, err
	}
	collector := &formFieldCollector{}
	ast.Walk(&tree.Node, collector)

	return &compiledCondition{program: program, fields: collector.fields}, nil
}

// formFieldCollector gathers the names of fields dereferenced off the
// `form` variable, whether written as form.amount or form["amount"].
type formFieldCollector struct {
	fields []string
}

func (c *formFieldCollector) Visit(node *ast.Node) {
	member, ok := (*node).(*ast.MemberNode)
	if !ok {
		return
	}
	ident, ok := member.Node.(*ast.IdentifierNode)
	if !ok || ident.Value != "form" {
		return
	}
	if prop, ok := member.Property.(*ast.StringNode); ok {
		c.fields = append(c.fields, prop.Value)
	}
}
