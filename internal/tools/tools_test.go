package tools

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cleoai/cleo/internal/contextbus"
)

func TestMemoryStoreThenRecallRoundTrips(t *testing.T) {
	dir := t.TempDir()
	bus := contextbus.New(filepath.Join(dir, ".context_bus.json"))
	e := &Executor{WorkDir: dir, Bus: bus}

	if _, err := e.Execute(context.Background(), "memory_store", map[string]any{"key": "foo", "value": "bar"}); err != nil {
		t.Fatal(err)
	}
	out, err := e.Execute(context.Background(), "memory_recall", map[string]any{"key": "foo"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "bar" {
		t.Fatalf("expected bar, got %q", out)
	}
}

func TestUnknownToolReturnsError(t *testing.T) {
	e := &Executor{}
	if _, err := e.Execute(context.Background(), "bogus", nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestA2ADelegateWithoutClientConfiguredErrors(t *testing.T) {
	e := &Executor{}
	if _, err := e.Execute(context.Background(), "a2a_delegate", map[string]any{"message": "hi"}); err == nil {
		t.Fatal("expected error when a2a client unset")
	}
}
