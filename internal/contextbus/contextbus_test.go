package contextbus

import (
	"path/filepath"
	"testing"
)

func TestBusSetGet(t *testing.T) {
	bus := New(filepath.Join(t.TempDir(), "bus.json"))
	if err := bus.Set("intent:task-1", map[string]string{"core_goal": "ship it"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var got map[string]string
	ok, err := bus.Get("intent:task-1", &got)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got["core_goal"] != "ship it" {
		t.Fatalf("got %v", got)
	}
}

func TestBusGetMissingKey(t *testing.T) {
	bus := New(filepath.Join(t.TempDir(), "bus.json"))
	ok, err := bus.Get("nope", nil)
	if err != nil || ok {
		t.Fatalf("expected ok=false for missing key, got ok=%v err=%v", ok, err)
	}
}

func TestBusKeysFiltersByPrefix(t *testing.T) {
	bus := New(filepath.Join(t.TempDir(), "bus.json"))
	_ = bus.Set("agent:leo:status", "idle")
	_ = bus.Set("agent:jerry:status", "busy")
	_ = bus.Set("intent:task-1", "x")

	keys, err := bus.Keys("agent:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("want 2 agent keys, got %v", keys)
	}
}

func TestBusDelete(t *testing.T) {
	bus := New(filepath.Join(t.TempDir(), "bus.json"))
	_ = bus.Set("k", "v")
	if err := bus.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, _ := bus.Get("k", nil)
	if ok {
		t.Fatalf("key should be gone after Delete")
	}
}

func TestMailboxSendAndReadFrom(t *testing.T) {
	dir := t.TempDir()
	mb := NewMailbox(dir, "jerry")

	if err := mb.Send(Message{From: "leo", Type: "directive", Content: "start"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := mb.Send(Message{From: "leo", Type: "directive", Content: "continue"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs, next, err := mb.ReadFrom(0)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(msgs) != 2 || next != 2 {
		t.Fatalf("want 2 messages/next=2, got %d/%d", len(msgs), next)
	}

	if err := mb.Send(Message{From: "leo", Type: "directive", Content: "third"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	more, next2, err := mb.ReadFrom(next)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(more) != 1 || next2 != 3 {
		t.Fatalf("want 1 new message/next=3, got %d/%d", len(more), next2)
	}
}

func TestMailboxFIFOTrim(t *testing.T) {
	dir := t.TempDir()
	mb := NewMailbox(dir, "jerry")

	for i := 0; i < maxMailboxHistory+10; i++ {
		if err := mb.Send(Message{From: "leo", Type: "directive", Content: i}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	msgs, _, err := mb.ReadFrom(0)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(msgs) != maxMailboxHistory {
		t.Fatalf("want trimmed to %d, got %d", maxMailboxHistory, len(msgs))
	}
}

func TestOffsetCursorRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := NewOffsetCursor(dir, "jerry", "ui")
	if got := c.Load(); got != 0 {
		t.Fatalf("fresh cursor should start at 0, got %d", got)
	}
	if err := c.Save(7); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := c.Load(); got != 7 {
		t.Fatalf("want 7, got %d", got)
	}
}
