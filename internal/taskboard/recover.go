package taskboard

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RecoverStaleTasks sweeps every non-terminal task for the timeout rules in
// spec §4.2.3:
//   - claimed for longer than ClaimedTimeout: reset to pending (dropping
//     agent_id) and flagged, so a crashed worker doesn't strand its task.
//   - review for longer than ReviewTimeout: force-completed and flagged —
//     a reviewer that never shows up cannot block the pipeline forever.
//   - critique pending more than ClaimedTimeout since the critique was
//     recorded: force-completed and flagged, same rationale.
//
// Returns the ids touched. A task claimed at the instant the sweep runs
// (now - claimed_at == 0) is never recovered — only now - claimed_at >
// timeout qualifies, never >=.
func (b *Board) RecoverStaleTasks() []string {
	var touched []string
	_ = b.mutate(func() error {
		now := time.Now().UTC()
		for _, t := range b.doc.Tasks {
			switch t.Status {
			case StatusClaimed:
				if t.ClaimedAt != nil && now.Sub(*t.ClaimedAt) > b.ClaimedTimeout {
					t.Status = StatusPending
					t.AgentID = ""
					t.ClaimedAt = nil
					t.EvolutionFlags = append(t.EvolutionFlags, "recovered:claimed_timeout")
					touched = append(touched, t.ID)
				}
			case StatusReview:
				if t.ReviewSubmittedAt != nil && now.Sub(*t.ReviewSubmittedAt) > b.ReviewTimeout {
					t.Status = StatusCompleted
					completedAt := now
					t.CompletedAt = &completedAt
					t.EvolutionFlags = append(t.EvolutionFlags, "recovered:review_timeout")
					touched = append(touched, t.ID)
				}
			case StatusCritique:
				if t.Critique != nil && now.Sub(t.Critique.Timestamp) > b.ClaimedTimeout {
					t.Status = StatusCompleted
					completedAt := now
					t.CompletedAt = &completedAt
					t.EvolutionFlags = append(t.EvolutionFlags, "recovered:critique_timeout")
					touched = append(touched, t.ID)
				}
			}
		}
		return nil
	})
	sort.Strings(touched)
	return touched
}

// CollectResults assembles the result text of rootID's direct children,
// in creation order, joined by the separator in spec §4.2.4. Each
// non-planner chunk is prefixed with an HTML comment naming its source task
// so a human reading the final transcript can tell which subtask produced
// which section; the planner and root fallbacks are returned unprefixed.
func (b *Board) CollectResults(rootID string) string {
	chunks, _ := b.collect(rootID)
	return strings.Join(chunks, "\n\n---\n\n")
}

// CollectResultsWithCritiques is CollectResults plus, for every chunk whose
// task carries a critique, an appended "Reviewer notes:" block — used by the
// gateway's final-answer endpoint so the end user can see advisory feedback
// without digging through the raw board (spec §4.2.4).
func (b *Board) CollectResultsWithCritiques(rootID string) string {
	chunks, tasks := b.collect(rootID)
	for i, t := range tasks {
		if t.Critique == nil || len(t.Critique.Items) == 0 {
			continue
		}
		var notes strings.Builder
		notes.WriteString(chunks[i])
		notes.WriteString("\n\nReviewer notes:\n")
		for _, item := range t.Critique.Items {
			notes.WriteString("- ")
			if item.Dimension != "" {
				notes.WriteString("[" + item.Dimension + "] ")
			}
			notes.WriteString(item.Suggestion)
			notes.WriteString("\n")
		}
		chunks[i] = strings.TrimRight(notes.String(), "\n")
	}
	return strings.Join(chunks, "\n\n---\n\n")
}

// collect gathers the result text for rootID's direct children: every
// non-planner child with a non-empty result, in creation order. If none
// produced a result, it falls back to the first planner child's own result, and failing
// that to the root task's own result (spec §4.2.4's fallback chain).
func (b *Board) collect(rootID string) ([]string, []*Task) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var descendants []*Task
	for _, id := range b.doc.Order {
		t := b.doc.Tasks[id]
		if t != nil && t.ParentID == rootID {
			descendants = append(descendants, t)
		}
	}

	var chunks []string
	var used []*Task
	var plannerFallback *Task
	for _, t := range descendants {
		isPlanner := t.RequiredRole == "planner" || t.RequiredRole == "plan"
		if isPlanner {
			if plannerFallback == nil && t.Result != "" {
				plannerFallback = t
			}
			continue
		}
		if t.Result != "" {
			chunks = append(chunks, attributionHeader(t)+t.Result)
			used = append(used, t.clone())
		}
	}

	if len(chunks) > 0 {
		return chunks, used
	}
	if plannerFallback != nil {
		return []string{plannerFallback.Result}, []*Task{plannerFallback.clone()}
	}
	if root, ok := b.doc.Tasks[rootID]; ok && root.Result != "" {
		return []string{root.Result}, []*Task{root.clone()}
	}
	return nil, nil
}

// attributionHeader formats the per-chunk "<!-- agent:<id> task:<id-prefix>
// -->" comment spec §4.2.4 requires so a collected answer still shows which
// agent/task produced which section.
func attributionHeader(t *Task) string {
	prefix := t.ID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("<!-- agent:%s task:%s -->\n", t.AgentID, prefix)
}
