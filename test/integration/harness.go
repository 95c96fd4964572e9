// Package integration wires a fully assembled workflow service against
// definitions loaded from real YAML files and the in-memory store, and
// drives complete approval lifecycles through the public service API.
package integration

import (
	"context"
	"encoding/json"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ringiflow/ringiflow/internal/definition"
	"github.com/ringiflow/ringiflow/internal/store"
	"github.com/ringiflow/ringiflow/internal/workflow"
	"github.com/ringiflow/ringiflow/model"
)

// Harness encapsulates a fully wired workflow service with in-memory
// storage, definitions loaded from testdata YAML, and a set of personas.
type Harness struct {
	t *testing.T

	Service  *workflow.Service
	Registry *definition.Registry
	Loader   *definition.Loader
	Idem     *workflow.MemoryIdempotencyStore
	Clock    *manualClock

	TenantID  model.TenantID
	Initiator *model.RequestContext
	Manager   *model.RequestContext
	Finance   *model.RequestContext
	Director  *model.RequestContext
}

// manualClock is advanced explicitly by tests.
type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

// Advance moves the clock forward and returns the new time.
func (c *manualClock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}

// testdataDir resolves a path under this package's testdata directory.
func testdataDir(t *testing.T, parts ...string) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot resolve caller for testdata path")
	}
	return filepath.Join(append([]string{filepath.Dir(thisFile), "testdata"}, parts...)...)
}

// NewHarness loads the definitions under testdata/workflows, validates
// them, and wires a workflow service over the in-memory store.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	loader := definition.NewLoader()
	defs, err := loader.LoadAll([]string{testdataDir(t, "workflows")})
	if err != nil {
		t.Fatalf("loading definitions: %v", err)
	}
	if verrs := definition.NewValidator().Validate(defs); len(verrs) > 0 {
		t.Fatalf("definition validation: %v", verrs)
	}

	registry := definition.NewRegistry(defs)
	clock := &manualClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	idem := workflow.NewMemoryIdempotencyStore()

	svc := workflow.NewService(workflow.ServiceParams{
		Registry:  registry,
		Router:    definition.NewRouter(),
		Txm:       store.NewMemoryTransactionManager(store.NewMemoryStore()),
		Instances: store.NewMemoryInstanceRepository(),
		Steps:     store.NewMemoryStepRepository(),
		Numbers:   store.NewMemoryDisplayNumberAllocator(),
		Idem:      idem,
		Clock:     clock,
	})

	tenantID := model.NewTenantID()
	persona := func() *model.RequestContext {
		return &model.RequestContext{SubjectID: model.NewUserID(), TenantID: tenantID}
	}

	return &Harness{
		t:         t,
		Service:   svc,
		Registry:  registry,
		Loader:    loader,
		Idem:      idem,
		Clock:     clock,
		TenantID:  tenantID,
		Initiator: persona(),
		Manager:   persona(),
		Finance:   persona(),
		Director:  persona(),
	}
}

// Approvers assigns the standard personas to the expense-approval chain.
func (h *Harness) Approvers() map[string]model.UserID {
	return map[string]model.UserID{
		"manager-approval":  h.Manager.SubjectID,
		"finance-approval":  h.Finance.SubjectID,
		"director-approval": h.Director.SubjectID,
		"compliance-review": h.Finance.SubjectID,
	}
}

// CreateAndSubmit creates an expense draft with the given form fields and
// submits it, returning the in-progress detail.
func (h *Harness) CreateAndSubmit(t *testing.T, form map[string]any) workflow.InstanceDetail {
	t.Helper()

	data, err := json.Marshal(form)
	if err != nil {
		t.Fatalf("marshal form: %v", err)
	}
	inst, err := h.Service.Create(context.Background(), h.Initiator, workflow.CreateInput{
		DefinitionID: "expense-approval",
		Title:        "Quarterly expense",
		FormData:     data,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	detail, err := h.Service.Submit(context.Background(), h.Initiator, workflow.SubmitInput{
		InstanceID:      inst.ID(),
		Approvers:       h.Approvers(),
		ExpectedVersion: inst.Version().Int(),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return detail
}

// Get fetches the instance detail as the initiator.
func (h *Harness) Get(t *testing.T, id model.WorkflowInstanceID) workflow.InstanceDetail {
	t.Helper()
	detail, err := h.Service.Get(context.Background(), h.Initiator, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return detail
}

// ActiveStep returns the single active step of the detail, failing the test
// when there is not exactly one.
func ActiveStep(t *testing.T, detail workflow.InstanceDetail) model.WorkflowStep {
	t.Helper()
	var active []model.WorkflowStep
	for _, s := range detail.Steps {
		if s.Status() == model.StepStatusActive {
			active = append(active, s)
		}
	}
	if len(active) != 1 {
		t.Fatalf("active steps = %d, want 1", len(active))
	}
	return active[0]
}
