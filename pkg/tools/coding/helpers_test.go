package coding

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/entrhq/evocode/pkg/security/workspace"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read test file: %v", err)
	}
	return string(data)
}

func createWorkspaceGuard(t *testing.T, dir string) *workspace.Guard {
	t.Helper()
	guard, err := workspace.NewGuard(dir)
	if err != nil {
		t.Fatalf("Failed to create workspace guard: %v", err)
	}
	return guard
}
