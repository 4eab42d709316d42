package contextbus

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cleoai/cleo/internal/filelock"
)

// maxMailboxHistory is the FIFO trim bound from spec §5 ("Mailbox history:
// FIFO-trimmed to 50 messages per file").
const maxMailboxHistory = 50

// Message is one mailbox entry (spec §3, "Mailbox").
type Message struct {
	From    string    `json:"from"`
	Type    string    `json:"type"`
	Content any       `json:"content"`
	TS      time.Time `json:"ts"`
}

// Mailbox is a single agent's append-only JSON-Lines inbox, plus the
// reader's own offset cursor (spec §3, "Mailbox": "Consumers read-then-
// advance via their own offset file. Never mutated retroactively.").
type Mailbox struct {
	dir      string
	agentID  string
	dataPath string
	lock     *filelock.Lock
}

// NewMailbox returns the mailbox for agentID, rooted at dir (one JSONL file
// per agent, named "<agentID>.jsonl").
func NewMailbox(dir, agentID string) *Mailbox {
	path := filepath.Join(dir, agentID+".jsonl")
	return &Mailbox{dir: dir, agentID: agentID, dataPath: path, lock: filelock.New(path + ".lock")}
}

// Send appends msg to the mailbox, stamping TS if zero, then trims the file
// to the most recent maxMailboxHistory entries (spec §5). Append order is
// the ordering guarantee readers rely on.
func (m *Mailbox) Send(msg Message) error {
	if msg.TS.IsZero() {
		msg.TS = time.Now().UTC()
	}
	return m.lock.With(context.Background(), func() error {
		msgs, err := m.readAll()
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
		if len(msgs) > maxMailboxHistory {
			msgs = msgs[len(msgs)-maxMailboxHistory:]
		}
		return m.writeAll(msgs)
	})
}

// ReadFrom returns every message at index >= offset, plus the offset the
// caller should pass next call. Offsets are relative to the file's current
// (already FIFO-trimmed) contents — a consumer that hasn't read in a while
// may silently skip trimmed history, matching the "never mutated
// retroactively, only trimmed" contract.
func (m *Mailbox) ReadFrom(offset int) ([]Message, int, error) {
	var msgs []Message
	err := m.lock.With(context.Background(), func() error {
		all, err := m.readAll()
		if err != nil {
			return err
		}
		if offset < 0 {
			offset = 0
		}
		if offset < len(all) {
			msgs = append([]Message(nil), all[offset:]...)
		}
		return nil
	})
	if err != nil {
		return nil, offset, err
	}
	return msgs, offset + len(msgs), nil
}

func (m *Mailbox) readAll() ([]Message, error) {
	f, err := os.Open(m.dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var msgs []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, scanner.Err()
}

func (m *Mailbox) writeAll(msgs []Message) error {
	if err := os.MkdirAll(filepath.Dir(m.dataPath), 0o755); err != nil {
		return err
	}
	tmp := m.dataPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, msg := range msgs {
		if err := enc.Encode(msg); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, m.dataPath)
}

// OffsetCursor persists a reading agent's own progress through a mailbox, a
// separate small file per (mailbox, reader) pair — "each worker process
// owns its mailbox offset cursor" (spec §4's ownership summary).
type OffsetCursor struct {
	path string
}

// NewOffsetCursor returns the cursor file for reader's view of the mailbox
// rooted at dir for agentID.
func NewOffsetCursor(dir, agentID, reader string) *OffsetCursor {
	return &OffsetCursor{path: filepath.Join(dir, agentID+"."+reader+".offset")}
}

// Load returns the persisted offset, or 0 if never saved.
func (c *OffsetCursor) Load() int {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return 0
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return 0
	}
	return n
}

// Save persists offset.
func (c *OffsetCursor) Save(offset int) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(offset)
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
