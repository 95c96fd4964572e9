package definition

import (
	"testing"
)

func TestLoader_LoadFile(t *testing.T) {
	l := NewLoader()
	def, err := l.LoadFile("testdata/workflows/expense-approval.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if def.ID != "expense-approval" {
		t.Errorf("ID = %q, want expense-approval", def.ID)
	}
	if def.Name != "Expense approval" {
		t.Errorf("Name = %q, want Expense approval", def.Name)
	}
	if def.Version != 1 {
		t.Errorf("Version = %d, want 1", def.Version)
	}
	if len(def.Steps) != 3 {
		t.Fatalf("Steps = %d, want 3", len(def.Steps))
	}
	if def.Steps[0].ID != "manager-approval" {
		t.Errorf("Steps[0].ID = %q, want manager-approval", def.Steps[0].ID)
	}
	if def.Steps[0].Condition != "" {
		t.Errorf("Steps[0].Condition = %q, want empty", def.Steps[0].Condition)
	}
	if def.Steps[1].Condition != "form.amount > 1000" {
		t.Errorf("Steps[1].Condition = %q", def.Steps[1].Condition)
	}
	if def.Checksum == "" {
		t.Error("Checksum should not be empty")
	}
	if def.SourceFile != "testdata/workflows/expense-approval.yaml" {
		t.Errorf("SourceFile = %q", def.SourceFile)
	}
}

func TestLoader_LoadFile_not_found(t *testing.T) {
	l := NewLoader()
	_, err := l.LoadFile("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("LoadFile() with missing file should return error")
	}
}

func TestLoader_LoadFile_invalid_yaml(t *testing.T) {
	l := NewLoader()
	_, err := l.LoadFile("testdata/invalid/bad.yaml")
	if err == nil {
		t.Fatal("LoadFile() with invalid YAML should return error")
	}
}

func TestLoader_LoadAll(t *testing.T) {
	l := NewLoader()
	defs, err := l.LoadAll([]string{"testdata/workflows"})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("LoadAll() returned %d definitions, want 2", len(defs))
	}
	for _, def := range defs {
		if def.ID != "expense-approval" {
			t.Errorf("ID = %q, want expense-approval", def.ID)
		}
	}
}

func TestLoader_LoadAll_invalid_dir(t *testing.T) {
	l := NewLoader()
	_, err := l.LoadAll([]string{"testdata/nonexistent"})
	if err == nil {
		t.Fatal("LoadAll() with missing directory should return error")
	}
}

func TestLoader_LoadAll_invalid_yaml(t *testing.T) {
	l := NewLoader()
	_, err := l.LoadAll([]string{"testdata/invalid"})
	if err == nil {
		t.Fatal("LoadAll() with invalid YAML should return error")
	}
}

func TestLoader_Checksum_deterministic(t *testing.T) {
	l := NewLoader()
	def1, _ := l.LoadFile("testdata/workflows/expense-approval.yaml")
	def2, _ := l.LoadFile("testdata/workflows/expense-approval.yaml")
	if def1.Checksum != def2.Checksum {
		t.Error("Checksum should be deterministic")
	}
}
