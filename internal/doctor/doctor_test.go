package doctor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunHealthyOnFreshWorkspace(t *testing.T) {
	dir := t.TempDir()
	report := Run(Options{WorkDir: dir})
	if !report.Healthy {
		t.Fatalf("expected healthy report on fresh workspace, got %+v", report.Checks)
	}
}

func TestRunFlagsStaleHeartbeat(t *testing.T) {
	dir := t.TempDir()
	report := Run(Options{WorkDir: dir, AgentIDs: []string{"jerry"}})
	if report.Healthy {
		t.Fatalf("expected unhealthy report: jerry has no heartbeat file")
	}
}

func TestRunFlagsUnwritableBoardFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".task_board.json")
	if err := os.WriteFile(path, []byte("{}"), 0o444); err != nil {
		t.Fatal(err)
	}
	report := Run(Options{WorkDir: dir})
	if report.Healthy {
		t.Fatalf("expected unhealthy report: board file is read-only")
	}
}
