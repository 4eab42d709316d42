// Package contextbus implements the shared, file-locked key-value store and
// the per-agent append-only mailboxes workers use to exchange anything that
// isn't a Task (spec §3: "ContextBus entry", "Mailbox"; spec §4's ownership
// summary: "the ContextBus owns intent anchors and agent statuses").
//
// Both stores use internal/filelock around a full read-modify-write cycle,
// the same primitive TaskBoard builds on, so the two can be safely shared
// across OS processes.
package contextbus

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cleoai/cleo/internal/filelock"
)

// Bus is the shared KV store keyed by namespaced strings such as
// "intent:<task_id>" or "agent:<id>:status" (spec §3, "ContextBus entry").
type Bus struct {
	path string
	lock *filelock.Lock
}

type busDocument map[string]json.RawMessage

// New opens (or creates) the ContextBus persisted at path.
func New(path string) *Bus {
	return &Bus{path: path, lock: filelock.New(path + ".lock")}
}

// Set stores value (marshaled to JSON) under key, replacing any prior entry.
func (b *Bus) Set(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return b.mutate(func(doc busDocument) busDocument {
		doc[key] = data
		return doc
	})
}

// Get unmarshals the value stored under key into out. Returns false if key
// is not set.
func (b *Bus) Get(key string, out any) (bool, error) {
	doc, err := b.load()
	if err != nil {
		return false, err
	}
	raw, ok := doc[key]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	return true, json.Unmarshal(raw, out)
}

// Delete removes key, if present. A no-op on an unknown key.
func (b *Bus) Delete(key string) error {
	return b.mutate(func(doc busDocument) busDocument {
		delete(doc, key)
		return doc
	})
}

// Keys returns every key currently set whose name has the given prefix
// (e.g. "agent:" to list every agent status entry).
func (b *Bus) Keys(prefix string) ([]string, error) {
	doc, err := b.load()
	if err != nil {
		return nil, err
	}
	var keys []string
	for k := range doc {
		if prefix == "" || (len(k) >= len(prefix) && k[:len(prefix)] == prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (b *Bus) load() (busDocument, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return busDocument{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return busDocument{}, nil
	}
	var doc busDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return busDocument{}, nil
	}
	if doc == nil {
		doc = busDocument{}
	}
	return doc, nil
}

func (b *Bus) mutate(fn func(busDocument) busDocument) error {
	return b.lock.With(context.Background(), func() error {
		doc, err := b.load()
		if err != nil {
			return err
		}
		doc = fn(doc)
		if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
			return err
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		tmp := b.path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return err
		}
		return os.Rename(tmp, b.path)
	})
}
