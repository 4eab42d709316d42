// Package taskboard implements the durable, file-locked task lifecycle store
// and work-queue described in spec §4.2: role-based self-claiming,
// critique-loop semantics, and timeout recovery. It is the heart of Cleo —
// every worker, the orchestrator, the HTTP/WS gateways, and the A2A bridge
// all read and write through this one type.
package taskboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cleoai/cleo/internal/errs"
	"github.com/cleoai/cleo/internal/filelock"
	"github.com/cleoai/cleo/internal/protocol"
	"github.com/cleoai/cleo/internal/textgrad"
)

// Default timeout/cost constants from spec §4.2.3.
const (
	DefaultClaimedTimeout = 600 * time.Second
	DefaultReviewTimeout  = 300 * time.Second
)

// document is the on-disk shape of .task_board.json (spec §6.1).
type document struct {
	Tasks map[string]*Task `json:"tasks"`
	// Order preserves insertion order for claim_next scanning and
	// collect_results joining — Go maps don't, so we track it explicitly.
	Order []string `json:"order"`
}

// Board is the file-locked TaskBoard (spec §4.2). Safe for concurrent use
// by multiple goroutines within one process, and safe to share the backing
// file with other OS processes via the filelock.Lock.
type Board struct {
	path string
	lock *filelock.Lock

	mu  sync.RWMutex // guards cache; allows lock-free reads for the gateway
	doc document

	ClaimedTimeout time.Duration
	ReviewTimeout  time.Duration

	// MemoryDir, when set, is where AddCritique appends its entry to
	// critique_log.jsonl for the TextGrad pipeline to consume (spec §4.6
	// step 1). Left empty in tests that don't exercise TextGrad.
	MemoryDir string
}

// New opens (or creates) the TaskBoard persisted at path.
func New(path string) (*Board, error) {
	b := &Board{
		path:           path,
		lock:           filelock.New(path + ".lock"),
		ClaimedTimeout: DefaultClaimedTimeout,
		ReviewTimeout:  DefaultReviewTimeout,
	}
	if err := b.reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// reload reads the document from disk into the in-memory cache. A parse
// failure (partial write from a crashed process) is treated as an empty
// board, per the crash-recovery policy in spec §7, with a loud log.
func (b *Board) reload() error {
	doc, err := loadDocument(b.path)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.doc = doc
	b.mu.Unlock()
	return nil
}

func loadDocument(path string) (document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{Tasks: map[string]*Task{}}, nil
		}
		return document{}, err
	}
	if len(data) == 0 {
		return document{Tasks: map[string]*Task{}}, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Printf("[BOARD] WARNING: %s is corrupt (%v) — replacing with an empty board", path, err)
		return document{Tasks: map[string]*Task{}}, nil
	}
	if doc.Tasks == nil {
		doc.Tasks = map[string]*Task{}
	}
	return doc, nil
}

func (b *Board) persist() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(b.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}

// mutate runs fn under the file lock with the freshest on-disk state loaded,
// then persists whatever fn left in b.doc. This is the single choke point
// every "atomic under the lock" operation in spec §4.2's table goes through.
func (b *Board) mutate(fn func() error) error {
	return b.lock.With(context.Background(), func() error {
		doc, err := loadDocument(b.path)
		if err != nil {
			return err
		}
		b.mu.Lock()
		b.doc = doc
		err = fn()
		b.mu.Unlock()
		if err != nil {
			return err
		}
		return b.persist()
	})
}

// Create inserts a new task in pending status (spec §4.2, "create").
// Never fails on valid input.
func (b *Board) Create(description string, opts ...CreateOption) *Task {
	t := &Task{
		ID:          uuid.New().String(),
		Description: description,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(t)
	}
	_ = b.mutate(func() error {
		b.doc.Tasks[t.ID] = t
		b.doc.Order = append(b.doc.Order, t.ID)
		return nil
	})
	return t.clone()
}

// CreateOption configures optional Task fields for Create.
type CreateOption func(*Task)

func WithBlockedBy(ids []string) CreateOption    { return func(t *Task) { t.BlockedBy = ids } }
func WithMinReputation(r float64) CreateOption   { return func(t *Task) { t.MinReputation = r } }
func WithRequiredRole(role string) CreateOption  { return func(t *Task) { t.RequiredRole = role } }
func WithParentID(id string) CreateOption        { return func(t *Task) { t.ParentID = id } }
func WithComplexity(c protocol.Complexity) CreateOption {
	return func(t *Task) { t.Complexity = c }
}
func WithToolHint(hint []protocol.ToolCategory) CreateOption {
	return func(t *Task) { t.ToolHint = hint }
}

// Get returns a copy of the task with the given id, or nil if unknown.
func (b *Board) Get(id string) *Task {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.doc.Tasks[id].clone()
}

// List returns a copy of every task, in insertion order. Read-only snapshot:
// taken without the file lock, per the "read-only snapshots accept
// inconsistent intermediate states" policy in spec §5.
func (b *Board) List() []*Task {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Task, 0, len(b.doc.Order))
	for _, id := range b.doc.Order {
		if t, ok := b.doc.Tasks[id]; ok {
			out = append(out, t.clone())
		}
	}
	return out
}

// Children returns every task whose ParentID equals id, in insertion order.
func (b *Board) Children(id string) []*Task {
	all := b.List()
	out := make([]*Task, 0)
	for _, t := range all {
		if t.ParentID == id {
			out = append(out, t)
		}
	}
	return out
}

// SubmitForReview requires status claimed; sets result, status=review,
// review_submitted_at (spec §4.2, "submit_for_review"). Silent no-op on
// unknown id or wrong status.
func (b *Board) SubmitForReview(taskID, resultText string) error {
	return b.mutate(func() error {
		t, ok := b.doc.Tasks[taskID]
		if !ok || t.Status != StatusClaimed {
			return nil
		}
		t.Result = resultText
		t.Status = StatusReview
		now := time.Now().UTC()
		t.ReviewSubmittedAt = &now
		return nil
	})
}

// AddCritique attaches a reviewer critique. Resolves the Open Question in
// spec §9: passed=false on a task never critiqued before moves it to
// `critique` (critique_round=1) for a targeted revision; a second critique
// (critique_round>=1), or any passed=true critique, forces `completed`
// regardless of verdict — the advisory policy always wins eventually.
func (b *Board) AddCritique(taskID, reviewerID string, passed bool, suggestions []string, comment string, score float64) error {
	return b.mutate(func() error {
		t, ok := b.doc.Tasks[taskID]
		if !ok {
			return nil
		}
		spec := protocol.CritiqueSpec{
			TaskID:     taskID,
			ReviewerID: reviewerID,
			Verdict:    protocol.VerdictLGTM,
			Confidence: 1,
			Timestamp:  time.Now().UTC(),
		}
		if !passed {
			spec.Verdict = protocol.VerdictNeedsWork
			for _, s := range suggestions {
				spec.Items = append(spec.Items, protocol.CritiqueItem{Suggestion: s})
			}
		}
		t.Critique = &spec
		t.ReviewScores = append(t.ReviewScores, ReviewScore{
			ReviewerID: reviewerID, Score: score, Comment: comment, Timestamp: spec.Timestamp,
		})

		if b.MemoryDir != "" {
			entry := textgrad.CritiqueLogEntry{TaskID: taskID, AgentID: reviewerID, Items: spec.Items}
			if err := textgrad.AppendCritique(b.MemoryDir, entry); err != nil {
				log.Printf("[BOARD] WARNING: failed to append critique log entry for %s: %v", taskID, err)
			}
		}

		if !passed && t.CritiqueRound == 0 {
			t.CritiqueRound = 1
			t.Status = StatusCritique
			return nil
		}
		t.Status = StatusCompleted
		now := time.Now().UTC()
		t.CompletedAt = &now
		return nil
	})
}

// AddReview appends a legacy simple-score review; does not transition
// status (spec §4.2, "add_review").
func (b *Board) AddReview(taskID, reviewerID string, score float64, comment string) error {
	return b.mutate(func() error {
		t, ok := b.doc.Tasks[taskID]
		if !ok {
			return nil
		}
		t.ReviewScores = append(t.ReviewScores, ReviewScore{
			ReviewerID: reviewerID, Score: score, Comment: comment, Timestamp: time.Now().UTC(),
		})
		return nil
	})
}

// Complete forces status=completed (spec §4.2, "complete").
func (b *Board) Complete(taskID string) *Task {
	var out *Task
	_ = b.mutate(func() error {
		t, ok := b.doc.Tasks[taskID]
		if !ok {
			return nil
		}
		t.Status = StatusCompleted
		now := time.Now().UTC()
		t.CompletedAt = &now
		out = t.clone()
		return nil
	})
	return out
}

// Fail forces status=failed and appends a `failed:<reason>` evolution flag
// (spec §4.2, "fail").
func (b *Board) Fail(taskID, reason string) error {
	return b.mutate(func() error {
		t, ok := b.doc.Tasks[taskID]
		if !ok {
			return nil
		}
		t.Status = StatusFailed
		now := time.Now().UTC()
		t.CompletedAt = &now
		t.EvolutionFlags = append(t.EvolutionFlags, fmt.Sprintf("failed:%s", reason))
		return nil
	})
}

// Flag appends a textual tag to evolution_flags (spec §4.2, "flag").
func (b *Board) Flag(taskID, tag string) error {
	return b.mutate(func() error {
		t, ok := b.doc.Tasks[taskID]
		if !ok {
			return nil
		}
		t.EvolutionFlags = append(t.EvolutionFlags, tag)
		return nil
	})
}

// UpdatePartial updates only the streaming preview field (spec §4.2,
// "update_partial").
func (b *Board) UpdatePartial(taskID, text string) error {
	return b.mutate(func() error {
		t, ok := b.doc.Tasks[taskID]
		if !ok {
			return nil
		}
		t.PartialResult = text
		return nil
	})
}

// SetCost adds deltaUSD to the task's cumulative cost (spec §4.2, "set_cost").
func (b *Board) SetCost(taskID string, deltaUSD float64) error {
	return b.mutate(func() error {
		t, ok := b.doc.Tasks[taskID]
		if !ok {
			return nil
		}
		t.CostUSD += deltaUSD
		return nil
	})
}

// Cancel moves a non-terminal task to cancelled (spec §4.2, "cancel").
func (b *Board) Cancel(taskID string) bool {
	var ok bool
	_ = b.mutate(func() error {
		t, found := b.doc.Tasks[taskID]
		if !found || t.Status.Terminal() {
			return nil
		}
		t.Status = StatusCancelled
		now := time.Now().UTC()
		t.CompletedAt = &now
		t.EvolutionFlags = append(t.EvolutionFlags, "user_cancelled")
		ok = true
		return nil
	})
	return ok
}

// Pause moves a pending/claimed task to paused (spec §4.2, "pause").
func (b *Board) Pause(taskID string) bool {
	var ok bool
	_ = b.mutate(func() error {
		t, found := b.doc.Tasks[taskID]
		if !found || (t.Status != StatusPending && t.Status != StatusClaimed) {
			return nil
		}
		t.Status = StatusPaused
		ok = true
		return nil
	})
	return ok
}

// Resume moves a paused task back to pending, clearing agent_id
// (spec §4.2, "resume").
func (b *Board) Resume(taskID string) bool {
	var ok bool
	_ = b.mutate(func() error {
		t, found := b.doc.Tasks[taskID]
		if !found || t.Status != StatusPaused {
			return nil
		}
		t.Status = StatusPending
		t.AgentID = ""
		ok = true
		return nil
	})
	return ok
}

// Retry resets a failed/cancelled task to pending, clearing agent_id,
// result, and timestamps, and incrementing retry_count (spec §4.2, "retry").
func (b *Board) Retry(taskID string) bool {
	var ok bool
	_ = b.mutate(func() error {
		t, found := b.doc.Tasks[taskID]
		if !found || (t.Status != StatusFailed && t.Status != StatusCancelled) {
			return nil
		}
		t.Status = StatusPending
		t.AgentID = ""
		t.Result = ""
		t.ClaimedAt = nil
		t.CompletedAt = nil
		t.RetryCount++
		ok = true
		return nil
	})
	return ok
}

// CancelAll cancels every non-terminal task and returns the count affected
// (spec §4.2, "cancel_all").
func (b *Board) CancelAll() int {
	n := 0
	_ = b.mutate(func() error {
		for _, t := range b.doc.Tasks {
			if !t.Status.Terminal() {
				t.Status = StatusCancelled
				now := time.Now().UTC()
				t.CompletedAt = &now
				t.EvolutionFlags = append(t.EvolutionFlags, "user_cancelled")
				n++
			}
		}
		return nil
	})
	return n
}

// Clear deletes all tasks. If force is false and any task is non-terminal,
// returns (-1, false) without modifying anything (spec §4.2, "clear").
func (b *Board) Clear(force bool) (int, bool) {
	n := -1
	ok := false
	_ = b.mutate(func() error {
		if !force {
			for _, t := range b.doc.Tasks {
				if !t.Status.Terminal() {
					return nil
				}
			}
		}
		n = len(b.doc.Tasks)
		b.doc.Tasks = map[string]*Task{}
		b.doc.Order = nil
		ok = true
		return nil
	})
	return n, ok
}

// sortedIDsByCreation returns task ids ordered oldest-first by CreatedAt, a
// deterministic ordering distinct from insertion order.
func sortedIDsByCreation(tasks map[string]*Task) []string {
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return tasks[ids[i]].CreatedAt.Before(tasks[ids[j]].CreatedAt)
	})
	return ids
}

var _ = errs.ErrNotFound // kept for parity with spec's idempotent-on-missing-id policy; Get returns nil for a missing id instead of this error
