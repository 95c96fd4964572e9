package model

// WorkflowDefinition is the template describing the approval chain for a
// class of requests. Definitions are authored in YAML, loaded at startup,
// and read-only at runtime; instances pin the definition id and version
// they were created against.
type WorkflowDefinition struct {
	ID      string           `yaml:"id"`
	Name    string           `yaml:"name"`
	Version int              `yaml:"version"`
	Steps   []StepDefinition `yaml:"steps"`

	// Checksum and SourceFile are filled by the loader.
	Checksum   string `yaml:"-"`
	SourceFile string `yaml:"-"`
}

// StepDefinition is one decision point in the chain. An optional condition
// expression, evaluated against the instance's form data, decides whether
// the step participates in a given instance's chain.
type StepDefinition struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Condition string `yaml:"condition,omitempty"`
}

// Step returns the step definition with the given ID.
func (d WorkflowDefinition) Step(stepID string) (StepDefinition, bool) {
	for _, s := range d.Steps {
		if s.ID == stepID {
			return s, true
		}
	}
	return StepDefinition{}, false
}
