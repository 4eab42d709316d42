package taskboard

import (
	"time"

	"github.com/cleoai/cleo/internal/protocol"
)

// Status is the Task state-machine tag (spec §3, §4.2.2).
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusReview    Status = "review"
	StatusCritique  Status = "critique"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusBlocked   Status = "blocked"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

// Terminal reports whether s is one of the final, non-resumable states.
// Paused and blocked are not terminal: both resume back into the live
// machine (spec §4.2.2).
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// liveStates is the set recover_stale_tasks / quiescence checks scan
// against the state machine diagram in spec §4.2.2.
var liveStates = map[Status]struct{}{
	StatusPending:  {},
	StatusClaimed:  {},
	StatusReview:   {},
	StatusCritique: {},
	StatusBlocked:  {},
	StatusPaused:   {},
}

// Live reports whether s still counts toward quiescence (spec §4.3.1).
func (s Status) Live() bool {
	_, ok := liveStates[s]
	return ok
}

// ReviewScore is the legacy simple-score append recorded by add_review
// (spec §4.2, "add_review").
type ReviewScore struct {
	ReviewerID string    `json:"reviewer_id"`
	Score      float64   `json:"score"`
	Comment    string    `json:"comment"`
	Timestamp  time.Time `json:"timestamp"`
}

// Task is the atomic unit of work on the board (spec §3, "Task").
type Task struct {
	ID string `json:"id"`

	Description    string   `json:"description"`
	RequiredRole   string   `json:"required_role,omitempty"`
	ParentID       string   `json:"parent_id,omitempty"`
	BlockedBy      []string `json:"blocked_by,omitempty"`
	MinReputation  float64  `json:"min_reputation,omitempty"`
	Complexity     protocol.Complexity `json:"complexity,omitempty"`
	ToolHint       []protocol.ToolCategory `json:"tool_hint,omitempty"`

	Status Status `json:"status"`

	AgentID          string     `json:"agent_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ClaimedAt        *time.Time `json:"claimed_at,omitempty"`
	ReviewSubmittedAt *time.Time `json:"review_submitted_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	RetryCount       int        `json:"retry_count"`
	CritiqueRound    int        `json:"critique_round"`

	Result        string  `json:"result,omitempty"`
	PartialResult string  `json:"partial_result,omitempty"`
	CostUSD       float64 `json:"cost_usd"`

	Critique       *protocol.CritiqueSpec `json:"critique,omitempty"`
	ReviewScores   []ReviewScore          `json:"review_scores,omitempty"`
	EvolutionFlags []string               `json:"evolution_flags,omitempty"`
}

// clone returns a deep-enough copy for safe return-by-value to callers:
// operations never hand back the board's own pointer, so a caller mutating
// the returned Task cannot corrupt board state out from under the lock.
func (t *Task) clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.BlockedBy = append([]string(nil), t.BlockedBy...)
	c.EvolutionFlags = append([]string(nil), t.EvolutionFlags...)
	c.ReviewScores = append([]ReviewScore(nil), t.ReviewScores...)
	c.ToolHint = append([]protocol.ToolCategory(nil), t.ToolHint...)
	if t.ClaimedAt != nil {
		v := *t.ClaimedAt
		c.ClaimedAt = &v
	}
	if t.ReviewSubmittedAt != nil {
		v := *t.ReviewSubmittedAt
		c.ReviewSubmittedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	if t.Critique != nil {
		v := *t.Critique
		c.Critique = &v
	}
	return &c
}

// AvgReviewScore averages the legacy ReviewScores list; used by the gateway's
// compact SSE snapshot field `rs` (spec §4.7).
func (t *Task) AvgReviewScore() float64 {
	if len(t.ReviewScores) == 0 {
		return 0
	}
	var sum float64
	for _, r := range t.ReviewScores {
		sum += r.Score
	}
	return sum / float64(len(t.ReviewScores))
}
