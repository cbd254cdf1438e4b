package models

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSpec(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	return path
}

func TestLoadTaskSpecsSingle(t *testing.T) {
	path := writeSpec(t, "task.yaml", `
id: auth-fix
name: Fix auth token refresh
target_files:
  - internal/auth/token.go
instruction_path: instructions/auth-fix.md
`)

	specs, err := LoadTaskSpecs([]string{path})
	if err != nil {
		t.Fatalf("LoadTaskSpecs: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("len = %d, want 1", len(specs))
	}
	s := specs[0]
	if s.ID != "auth-fix" || s.Name != "Fix auth token refresh" {
		t.Errorf("spec = %+v", s)
	}
	if len(s.TargetFiles) != 1 || s.TargetFiles[0] != "internal/auth/token.go" {
		t.Errorf("TargetFiles = %v", s.TargetFiles)
	}
}

func TestLoadTaskSpecsList(t *testing.T) {
	path := writeSpec(t, "tasks.yaml", `
tasks:
  - id: t1
    name: First
    instruction_path: t1.md
  - id: t2
    name: Second
    depends_on: [t1]
    instruction_path: t2.md
`)

	specs, err := LoadTaskSpecs([]string{path})
	if err != nil {
		t.Fatalf("LoadTaskSpecs: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("len = %d, want 2", len(specs))
	}
	if !specs[1].DependsOnTask("t1") {
		t.Error("t2 does not depend on t1")
	}
	if specs[1].DependsOnTask("t9") {
		t.Error("t2 claims dependency on t9")
	}
}

func TestLoadTaskSpecsMergesFiles(t *testing.T) {
	a := writeSpec(t, "a.yaml", "id: t1\nname: A\ninstruction_path: a.md\n")
	b := writeSpec(t, "b.yaml", "id: t2\nname: B\ninstruction_path: b.md\n")

	specs, err := LoadTaskSpecs([]string{a, b})
	if err != nil {
		t.Fatalf("LoadTaskSpecs: %v", err)
	}
	if len(specs) != 2 || specs[0].ID != "t1" || specs[1].ID != "t2" {
		t.Errorf("specs = %+v", specs)
	}
}

func TestLoadTaskSpecsRejectsDuplicates(t *testing.T) {
	a := writeSpec(t, "a.yaml", "id: t1\nname: A\ninstruction_path: a.md\n")
	b := writeSpec(t, "b.yaml", "id: t1\nname: B\ninstruction_path: b.md\n")

	_, err := LoadTaskSpecs([]string{a, b})
	if err == nil || !strings.Contains(err.Error(), "duplicate task id") {
		t.Errorf("err = %v, want duplicate task id", err)
	}
}

func TestLoadTaskSpecsValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing id",
			content: "name: A\ninstruction_path: a.md\n",
			wantErr: "missing id",
		},
		{
			name:    "missing name",
			content: "id: t1\ninstruction_path: a.md\n",
			wantErr: "missing name",
		},
		{
			name:    "missing instruction path",
			content: "id: t1\nname: A\n",
			wantErr: "missing instruction_path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSpec(t, "task.yaml", tt.content)
			_, err := LoadTaskSpecs([]string{path})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTaskSpecsMissingFile(t *testing.T) {
	if _, err := LoadTaskSpecs([]string{"/nonexistent/task.yaml"}); err == nil {
		t.Error("missing file accepted")
	}
}
