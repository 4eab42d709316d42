package a2a

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cleoai/cleo/internal/filelock"
	"github.com/cleoai/cleo/internal/orchestrator"
	"github.com/cleoai/cleo/internal/taskboard"
)

// mapDocument is the persisted shape of .a2a_task_map.json (spec §6.1).
type mapDocument struct {
	A2AToClleo map[string]string `json:"a2a_to_cleo"`
	CleoToA2A  map[string]string `json:"cleo_to_a2a"`
}

// Bridge maps A2A tasks to TaskBoard tasks in both directions (spec
// §4.9.4, §4.9.5). The mapping file is serialized JSON; spec §6.1 notes a
// separate lock is not required, but Cleo still guards it with one file
// lock to avoid read-modify-write races between the gateway and A2A server
// goroutines.
type Bridge struct {
	board   *taskboard.Board
	workDir string
	path    string
	lock    *filelock.Lock
	mu      sync.Mutex
}

// NewBridge returns a Bridge backed by board, persisting its id map under
// workDir/.a2a_task_map.json.
func NewBridge(board *taskboard.Board, workDir string) *Bridge {
	path := filepath.Join(workDir, ".a2a_task_map.json")
	return &Bridge{board: board, workDir: workDir, path: path, lock: filelock.New(path + ".lock")}
}

func (b *Bridge) load() mapDocument {
	doc := mapDocument{A2AToClleo: map[string]string{}, CleoToA2A: map[string]string{}}
	data, err := os.ReadFile(b.path)
	if err != nil {
		return doc
	}
	var parsed mapDocument
	if json.Unmarshal(data, &parsed) != nil {
		return doc
	}
	if parsed.A2AToClleo != nil {
		doc.A2AToClleo = parsed.A2AToClleo
	}
	if parsed.CleoToA2A != nil {
		doc.CleoToA2A = parsed.CleoToA2A
	}
	return doc
}

func (b *Bridge) save(doc mapDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}

// HandleInbound implements spec §4.9.4: extract text/file parts into a
// description, derive a contextId, create a root planner task, and persist
// the bidirectional id mapping.
func (b *Bridge) HandleInbound(msg Message, contextID string) (Task, error) {
	var textParts []string
	var fileNotes []string
	for _, p := range msg.Parts {
		switch p.Kind {
		case PartKindText:
			textParts = append(textParts, p.Text)
		case PartKindFile:
			if p.Data != "" {
				raw, err := base64.StdEncoding.DecodeString(p.Data)
				if err == nil {
					name := sanitizeFilename(p.Name)
					dest := filepath.Join(b.workDir, "a2a", name)
					if os.MkdirAll(filepath.Dir(dest), 0o755) == nil && os.WriteFile(dest, raw, 0o644) == nil {
						fileNotes = append(fileNotes, fmt.Sprintf("[附件: %s]", dest))
					}
				}
			} else if p.URI != "" {
				fileNotes = append(fileNotes, fmt.Sprintf("[附件: %s]", p.URI))
			}
		}
	}

	if contextID == "" {
		contextID = "ctx-" + randomHex(12)
	}

	description := strings.Join(textParts, "\n")
	if len(fileNotes) > 0 {
		description = strings.TrimSpace(description + "\n" + strings.Join(fileNotes, "\n"))
	}
	description = fmt.Sprintf("[A2A source: %s] %s", contextID, description)

	cleoTask := b.board.Create(description, taskboard.WithRequiredRole("planner"))

	a2aID := "a2a-" + randomHex(12)

	b.mu.Lock()
	err := b.lock.With(context.Background(), func() error {
		doc := b.load()
		doc.A2AToClleo[a2aID] = cleoTask.ID
		doc.CleoToA2A[cleoTask.ID] = a2aID
		return b.save(doc)
	})
	b.mu.Unlock()
	if err != nil {
		return Task{}, fmt.Errorf("a2a: persist task map: %w", err)
	}

	return Task{
		ID:        a2aID,
		ContextID: contextID,
		Status:    TaskStatus{State: StateSubmitted, Timestamp: time.Now().UTC()},
		Kind:      "task",
	}, nil
}

// CleoIDFor resolves an a2a id to its Cleo task id.
func (b *Bridge) CleoIDFor(a2aID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.load().A2AToClleo[a2aID]
	return id, ok
}

// A2AIDFor resolves a Cleo task id to its a2a id.
func (b *Bridge) A2AIDFor(cleoID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.load().CleoToA2A[cleoID]
	return id, ok
}

// GetTaskStatus implements spec §4.9.5: resolve the Cleo task, map its
// status, and embed progress/artifacts as appropriate.
func (b *Bridge) GetTaskStatus(a2aID string) (Task, error) {
	cleoID, ok := b.CleoIDFor(a2aID)
	if !ok {
		return Task{ID: a2aID, Status: TaskStatus{State: StateFailed, Timestamp: time.Now().UTC()}}, fmt.Errorf("a2a: unknown task %s", a2aID)
	}
	t := b.board.Get(cleoID)
	if t == nil {
		return Task{ID: a2aID, Status: TaskStatus{State: StateFailed, Timestamp: time.Now().UTC()}}, fmt.Errorf("a2a: cleo task %s not found", cleoID)
	}

	wire := Task{ID: a2aID, Status: TaskStatus{State: WireState(t.Status), Timestamp: time.Now().UTC()}, Kind: "task"}

	if wire.Status.State == StateWorking && t.AgentID != "" {
		var hb orchestrator.Heartbeat
		if data, err := os.ReadFile(filepath.Join(b.workDir, ".heartbeats", t.AgentID+".json")); err == nil {
			if json.Unmarshal(data, &hb) == nil && hb.Progress != "" {
				wire.Status.Message = &Message{Role: "agent", Parts: []Part{{Kind: PartKindText, Text: hb.Progress}}, MessageID: NewMessageID()}
			}
		}
	}

	if wire.Status.State == StateCompleted {
		wire.Artifacts = []Artifact{{
			ArtifactID: "artifact-" + randomHex(8),
			Name:       "result",
			Parts:      []Part{{Kind: PartKindText, Text: t.Result}},
		}}
	}

	return wire, nil
}

// CancelTask implements tasks/cancel by resolving and cancelling the
// underlying Cleo task.
func (b *Bridge) CancelTask(a2aID string) (Task, error) {
	cleoID, ok := b.CleoIDFor(a2aID)
	if !ok {
		return Task{}, fmt.Errorf("a2a: unknown task %s", a2aID)
	}
	b.board.Cancel(cleoID)
	return b.GetTaskStatus(a2aID)
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	if name == "" || name == "." || name == ".." {
		return "attachment-" + randomHex(8)
	}
	return name
}
