package taskboard

import (
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestBoard(t *testing.T) *Board {
	t.Helper()
	b, err := New(filepath.Join(t.TempDir(), "board.json"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestCreateAndGet(t *testing.T) {
	b := newTestBoard(t)
	task := b.Create("write a poem", WithRequiredRole("execute"))
	if task.Status != StatusPending {
		t.Fatalf("want pending, got %s", task.Status)
	}
	got := b.Get(task.ID)
	if got == nil || got.Description != "write a poem" {
		t.Fatalf("Get returned %+v", got)
	}
}

func TestGetReturnsCopyNotBoardInternals(t *testing.T) {
	b := newTestBoard(t)
	task := b.Create("do a thing")
	got := b.Get(task.ID)
	got.Description = "mutated by caller"
	fresh := b.Get(task.ID)
	if fresh.Description != "do a thing" {
		t.Fatalf("caller mutation leaked into board state: %q", fresh.Description)
	}
}

func TestClaimNextRoleMatching(t *testing.T) {
	b := newTestBoard(t)
	planTask := b.Create("draft the plan", WithRequiredRole("planner"))
	codeTask := b.Create("implement it", WithRequiredRole("execute"))

	if c := b.ClaimNext("jerry", 100); c == nil || c.ID != codeTask.ID {
		t.Fatalf("jerry should claim the execute task, got %+v", c)
	}
	if c := b.ClaimNext("jerry", 100); c != nil {
		t.Fatalf("jerry should not be able to claim the planner task, got %+v", c)
	}
	if c := b.ClaimNext("leo", 100); c == nil || c.ID != planTask.ID {
		t.Fatalf("leo should claim the planner task, got %+v", c)
	}
}

func TestClaimNextRespectsMinReputation(t *testing.T) {
	b := newTestBoard(t)
	task := b.Create("sensitive work", WithRequiredRole("execute"), WithMinReputation(50))

	if c := b.ClaimNext("jerry", 10); c != nil {
		t.Fatalf("agent below min_reputation should not claim, got %+v", c)
	}
	if c := b.ClaimNext("jerry", 50); c == nil || c.ID != task.ID {
		t.Fatalf("agent meeting min_reputation exactly should claim, got %+v", c)
	}
}

func TestClaimNextDirectIDMatch(t *testing.T) {
	b := newTestBoard(t)
	task := b.Create("only jerry handles this", WithRequiredRole("jerry"))

	if c := b.ClaimNext("someone-else", 100); c != nil {
		t.Fatalf("an unrelated agent should not match a task targeted directly at jerry's id, got %+v", c)
	}
	if c := b.ClaimNext("jerry", 100); c == nil || c.ID != task.ID {
		t.Fatalf("jerry should claim a task whose required_role is its own id, got %+v", c)
	}
}

func TestClaimNextMemoryRoleIsClaimable(t *testing.T) {
	b := newTestBoard(t)
	task := b.Create("recall prior context", WithRequiredRole("memory"))

	if c := b.ClaimNext("executor", 100); c == nil || c.ID != task.ID {
		t.Fatalf("an executor-type agent should be able to claim a memory-role task, got %+v", c)
	}
}

func TestClaimNextRestrictedReviewerCannotClaimImplementation(t *testing.T) {
	b := newTestBoard(t)
	b.Create("implement it", WithRequiredRole("execute"))
	if c := b.ClaimNext("auditor", 100); c != nil {
		t.Fatalf("auditor is restricted to review/critique, should not claim execute task: %+v", c)
	}
}

func TestClaimNextRespectsBlockedBy(t *testing.T) {
	b := newTestBoard(t)
	dep := b.Create("step one")
	blocked := b.Create("step two", WithBlockedBy([]string{dep.ID}))
	_ = blocked

	if c := b.ClaimNext("jerry", 100); c == nil || c.ID != dep.ID {
		t.Fatalf("should claim the unblocked dependency first, got %+v", c)
	}
	if c := b.ClaimNext("jerry", 100); c != nil {
		t.Fatalf("step two is still blocked, should not be claimable: %+v", c)
	}
	if err := b.SubmitForReview(dep.ID, "done"); err != nil {
		t.Fatalf("SubmitForReview: %v", err)
	}
	b.Complete(dep.ID)
	if c := b.ClaimNext("jerry", 100); c == nil {
		t.Fatalf("step two should now be claimable")
	}
}

func TestAddCritiqueLegacyPath(t *testing.T) {
	b := newTestBoard(t)
	task := b.Create("write code")
	b.ClaimNext("jerry", 100)
	if err := b.SubmitForReview(task.ID, "some result"); err != nil {
		t.Fatalf("SubmitForReview: %v", err)
	}

	if err := b.AddCritique(task.ID, "alic", false, []string{"fix the edge case"}, "needs work", 4); err != nil {
		t.Fatalf("AddCritique: %v", err)
	}
	got := b.Get(task.ID)
	if got.Status != StatusCritique || got.CritiqueRound != 1 {
		t.Fatalf("first failing critique should move to critique/round1, got status=%s round=%d", got.Status, got.CritiqueRound)
	}

	if err := b.AddCritique(task.ID, "alic", false, []string{"still broken"}, "nope", 3); err != nil {
		t.Fatalf("AddCritique: %v", err)
	}
	got = b.Get(task.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("second critique must force completion regardless of verdict, got %s", got.Status)
	}
}

func TestAddCritiquePassedGoesStraightToCompleted(t *testing.T) {
	b := newTestBoard(t)
	task := b.Create("write code")
	if err := b.AddCritique(task.ID, "alic", true, nil, "lgtm", 9); err != nil {
		t.Fatalf("AddCritique: %v", err)
	}
	if got := b.Get(task.ID); got.Status != StatusCompleted {
		t.Fatalf("passed critique should complete immediately, got %s", got.Status)
	}
}

func TestRecoverStaleTasksClaimedTimeout(t *testing.T) {
	b := newTestBoard(t)
	b.ClaimedTimeout = 0 // force the boundary check below to exercise the > comparison
	task := b.Create("slow task")
	b.ClaimNext("jerry", 100)

	// Back-date the claim so elapsed time is strictly positive.
	_ = b.mutate(func() error {
		past := time.Now().UTC().Add(-time.Millisecond)
		b.doc.Tasks[task.ID].ClaimedAt = &past
		return nil
	})

	touched := b.RecoverStaleTasks()
	if len(touched) != 1 || touched[0] != task.ID {
		t.Fatalf("expected %s to be recovered, got %v", task.ID, touched)
	}
	got := b.Get(task.ID)
	if got.Status != StatusPending || got.AgentID != "" {
		t.Fatalf("recovered task should be pending with no agent, got %+v", got)
	}
}

func TestRecoverStaleTasksDoesNotRecoverFreshClaim(t *testing.T) {
	b := newTestBoard(t)
	task := b.Create("fresh task")
	b.ClaimNext("jerry", 100)

	touched := b.RecoverStaleTasks()
	if len(touched) != 0 {
		t.Fatalf("a task claimed moments ago must not be recovered, got %v", touched)
	}
	if got := b.Get(task.ID); got.Status != StatusClaimed {
		t.Fatalf("want still claimed, got %s", got.Status)
	}
}

func TestCollectResultsFallbackChain(t *testing.T) {
	b := newTestBoard(t)
	root := b.Create("root task")
	// Close the root first: an empty-role task is claimable by any
	// unrestricted agent, so ClaimNext would otherwise pick it before plan.
	b.Complete(root.ID)
	plan := b.Create("plan it", WithRequiredRole("planner"), WithParentID(root.ID))
	b.ClaimNext("leo", 100)
	if err := b.SubmitForReview(plan.ID, "planner output"); err != nil {
		t.Fatalf("SubmitForReview: %v", err)
	}
	b.Complete(plan.ID)

	if got := b.CollectResults(root.ID); got != "planner output" {
		t.Fatalf("with no non-planner descendants, should fall back to planner result, got %q", got)
	}

	sub := b.Create("do the work", WithRequiredRole("execute"), WithParentID(root.ID))
	b.ClaimNext("jerry", 100)
	if err := b.SubmitForReview(sub.ID, "executor output"); err != nil {
		t.Fatalf("SubmitForReview: %v", err)
	}
	b.Complete(sub.ID)

	got := b.CollectResults(root.ID)
	if !strings.Contains(got, "executor output") {
		t.Fatalf("non-planner result should take priority over planner fallback, got %q", got)
	}
	if !strings.Contains(got, "<!-- agent:jerry task:") {
		t.Fatalf("expected a per-chunk attribution comment, got %q", got)
	}
}

func TestCollectResultsWithCritiquesAppendsReviewerNotes(t *testing.T) {
	b := newTestBoard(t)
	root := b.Create("root")
	// Close the root first so ClaimNext reaches sub rather than the
	// empty-role root.
	b.Complete(root.ID)
	sub := b.Create("do work", WithParentID(root.ID))
	b.ClaimNext("jerry", 100)
	if err := b.SubmitForReview(sub.ID, "the answer"); err != nil {
		t.Fatalf("SubmitForReview: %v", err)
	}
	if err := b.AddCritique(sub.ID, "alic", false, []string{"double check the math"}, "meh", 5); err != nil {
		t.Fatalf("AddCritique: %v", err)
	}

	got := b.CollectResultsWithCritiques(root.ID)
	if got == "the answer" {
		t.Fatalf("expected reviewer notes to be appended, got bare result")
	}
}

func TestClearRefusesWithoutForceWhileTasksAreLive(t *testing.T) {
	b := newTestBoard(t)
	b.Create("still running")
	if n, ok := b.Clear(false); ok || n != -1 {
		t.Fatalf("Clear(false) should refuse while a live task exists, got n=%d ok=%v", n, ok)
	}
	if n, ok := b.Clear(true); !ok || n != 1 {
		t.Fatalf("Clear(true) should force-clear, got n=%d ok=%v", n, ok)
	}
	if len(b.List()) != 0 {
		t.Fatalf("board should be empty after forced clear")
	}
}

func TestConcurrentClaimNextNeverDoubleClaims(t *testing.T) {
	b := newTestBoard(t)
	const numTasks = 40
	ids := make(map[string]struct{}, numTasks)
	for i := 0; i < numTasks; i++ {
		task := b.Create("concurrent task", WithRequiredRole("execute"))
		ids[task.ID] = struct{}{}
	}

	const numWorkers = 16
	var wg sync.WaitGroup
	claimedBy := make(chan string, numTasks*2)
	var totalClaims int32

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				t := b.ClaimNext("jerry", 100)
				if t == nil {
					return
				}
				atomic.AddInt32(&totalClaims, 1)
				claimedBy <- t.ID
			}
		}(w)
	}
	wg.Wait()
	close(claimedBy)

	if int(totalClaims) != numTasks {
		t.Fatalf("expected exactly %d claims across all workers, got %d", numTasks, totalClaims)
	}
	seen := make(map[string]struct{}, numTasks)
	for id := range claimedBy {
		if _, dup := seen[id]; dup {
			t.Fatalf("task %s was claimed more than once", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) != numTasks {
		t.Fatalf("expected %d distinct tasks claimed, got %d", numTasks, len(seen))
	}
}
