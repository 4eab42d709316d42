package textgrad

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cleoai/cleo/internal/protocol"
)

func TestRunBelowAggregateThresholdIsNoop(t *testing.T) {
	dir := t.TempDir()
	memDir := filepath.Join(dir, "memory")
	overridesDir := filepath.Join(dir, "overrides")

	for i := 0; i < AggregateThreshold-1; i++ {
		entry := CritiqueLogEntry{TaskID: "t", AgentID: "jerry"}
		if err := AppendCritique(memDir, entry); err != nil {
			t.Fatalf("AppendCritique: %v", err)
		}
	}

	p := New(memDir, overridesDir)
	stats := p.Run()
	if stats.AgentsPatched != 0 {
		t.Fatalf("should not patch below the aggregate threshold, got %+v", stats)
	}
}

func TestRecurringIssueWritesPatchFile(t *testing.T) {
	dir := t.TempDir()
	memDir := filepath.Join(dir, "memory")
	overridesDir := filepath.Join(dir, "overrides")
	issue := "forgot to check the null case before dereferencing"

	for i := 0; i < AggregateThreshold; i++ {
		entry := CritiqueLogEntry{TaskID: "t", AgentID: "jerry"}
		if i < RecurrenceMin+2 {
			entry.Items = []protocol.CritiqueItem{{Issue: issue}}
		}
		if err := AppendCritique(memDir, entry); err != nil {
			t.Fatalf("AppendCritique: %v", err)
		}
	}

	p := New(memDir, overridesDir)
	stats := p.Run()
	if stats.AgentsPatched != 1 {
		t.Fatalf("expected one agent patched, got %+v", stats)
	}

	path := filepath.Join(overridesDir, "jerry_textgrad.md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected patch file to exist: %v", err)
	}
	if !strings.Contains(string(data), "forgot to check the null case") {
		t.Fatalf("patch file missing the recurring issue text: %s", data)
	}
}

func TestIssueBelowRecurrenceMinDoesNotPatch(t *testing.T) {
	dir := t.TempDir()
	memDir := filepath.Join(dir, "memory")
	overridesDir := filepath.Join(dir, "overrides")

	for i := 0; i < AggregateThreshold; i++ {
		entry := CritiqueLogEntry{TaskID: "t", AgentID: "jerry"}
		if i < RecurrenceMin-1 {
			entry.Items = []protocol.CritiqueItem{{Issue: "a one-off nitpick about formatting"}}
		}
		if err := AppendCritique(memDir, entry); err != nil {
			t.Fatalf("AppendCritique: %v", err)
		}
	}

	p := New(memDir, overridesDir)
	stats := p.Run()
	if stats.AgentsPatched != 0 {
		t.Fatalf("an issue below RecurrenceMin should never patch, got %+v", stats)
	}
}

func TestDecayRemovesPatchWhenIssueStopsRecurring(t *testing.T) {
	dir := t.TempDir()
	memDir := filepath.Join(dir, "memory")
	overridesDir := filepath.Join(dir, "overrides")
	issue := "misreads the user's stated deadline"

	// Enough old occurrences to make it recurring overall, but none in the
	// most recent DecayWindow entries, so it should decay away.
	for i := 0; i < RecurrenceMin+1; i++ {
		entry := CritiqueLogEntry{TaskID: "t", AgentID: "jerry", Items: []protocol.CritiqueItem{{Issue: issue}}}
		if err := AppendCritique(memDir, entry); err != nil {
			t.Fatalf("AppendCritique: %v", err)
		}
	}
	for i := 0; i < DecayWindow; i++ {
		entry := CritiqueLogEntry{TaskID: "t", AgentID: "jerry"}
		if err := AppendCritique(memDir, entry); err != nil {
			t.Fatalf("AppendCritique: %v", err)
		}
	}

	p := New(memDir, overridesDir)
	stats := p.Run()
	if stats.Decayed == 0 {
		t.Fatalf("expected the old issue to have decayed, got %+v", stats)
	}
	path := filepath.Join(overridesDir, "jerry_textgrad.md")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("patch file should have been removed once every issue decayed")
	}
}

func TestIssueKeyIsCaseInsensitiveAndTruncated(t *testing.T) {
	long := strings.Repeat("x", 100)
	k1 := issueKey(strings.ToUpper(long))
	k2 := issueKey(long)
	if k1 != k2 {
		t.Fatalf("issueKey should be case-insensitive")
	}
	if len(k1) != issueKeyLen {
		t.Fatalf("want truncation to %d chars, got %d", issueKeyLen, len(k1))
	}
}
