package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/cleoai/cleo/internal/contextbus"
	"github.com/cleoai/cleo/internal/llm"
	"github.com/cleoai/cleo/internal/protocol"
	"github.com/cleoai/cleo/internal/router"
	"github.com/cleoai/cleo/internal/taskboard"
	"github.com/cleoai/cleo/internal/usage"
)

func newTestOrchestrator(t *testing.T, agents []AgentConfig) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	board, err := taskboard.New(filepath.Join(dir, ".task_board.json"))
	if err != nil {
		t.Fatal(err)
	}
	bus := contextbus.New(filepath.Join(dir, ".context_bus.json"))
	tracker := usage.New(filepath.Join(dir, "memory"), usage.Budget{})
	o := New(board, bus, tracker, dir, agents)
	o.PollInterval = 10 * time.Millisecond
	o.MaxIdleCycles = 5
	return o
}

// fakeLLM returns a fixed scripted reply for each call, in order; the last
// reply repeats once exhausted.
type fakeLLM struct {
	replies []string
	calls   int
	err     error
}

func (f *fakeLLM) Chat(ctx context.Context, system, user string) (string, llm.Usage, error) {
	if f.err != nil {
		return "", llm.Usage{}, f.err
	}
	i := f.calls
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	f.calls++
	return f.replies[i], llm.Usage{PromptTokens: 10, CompletionTokens: 5}, nil
}

type fakeExecutor struct {
	catalog []router.ToolDescriptor
	calls   []string
}

func (f *fakeExecutor) Catalog() []router.ToolDescriptor { return f.catalog }

func (f *fakeExecutor) Execute(ctx context.Context, tool string, params map[string]any) (string, error) {
	f.calls = append(f.calls, tool)
	return fmt.Sprintf("ran %s", tool), nil
}

func TestSubmitCreatesRootPlannerTaskAndIntentAnchor(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	id, err := o.Submit("do the thing")
	if err != nil {
		t.Fatal(err)
	}
	task := o.Board.Get(id)
	if task == nil || task.RequiredRole != "planner" {
		t.Fatalf("expected a planner-required root task, got %+v", task)
	}
	var anchor protocol.IntentAnchor
	ok, err := o.Bus.Get("intent:"+id, &anchor)
	if err != nil || !ok {
		t.Fatalf("expected intent anchor written, ok=%v err=%v", ok, err)
	}
	if anchor.CoreGoal != "do the thing" {
		t.Fatalf("unexpected anchor: %+v", anchor)
	}
}

func TestQuiescentTrueOnEmptyBoard(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	if !o.quiescent() {
		t.Fatal("expected empty board to be quiescent")
	}
	o.Board.Create("x")
	if o.quiescent() {
		t.Fatal("expected a pending task to block quiescence")
	}
}

func TestMaybeCreateCloseoutFiresOnceAfterChildrenTerminal(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	root := o.Board.Create("root", taskboard.WithRequiredRole("planner"))
	child := o.Board.Create("child", taskboard.WithParentID(root.ID))

	o.maybeCreateCloseout(root.ID)
	if got := len(o.Board.Children(root.ID)); got != 1 {
		t.Fatalf("expected no closeout yet, got %d children", got)
	}

	_ = o.Board.Fail(child.ID, "test")

	o.maybeCreateCloseout(root.ID)
	children := o.Board.Children(root.ID)
	if len(children) != 2 {
		t.Fatalf("expected one closeout task created, got %d children", len(children))
	}

	o.maybeCreateCloseout(root.ID)
	if got := len(o.Board.Children(root.ID)); got != 2 {
		t.Fatalf("expected closeout to be created exactly once, got %d children", got)
	}
}

func TestRunWorkTaskSubmitsForReviewOnSuccess(t *testing.T) {
	agent := AgentConfig{ID: "executor", Role: "executor", LLM: &fakeLLM{replies: []string{"final answer"}}}
	o := newTestOrchestrator(t, []AgentConfig{agent})
	o.Board.Create("say hi", taskboard.WithRequiredRole("execute"))
	task := o.Board.ClaimNext(agent.ID, agent.EffectiveReputation())
	if task == nil {
		t.Fatal("expected to claim the task")
	}

	o.runWorkTask(context.Background(), agent, task)

	got := o.Board.Get(task.ID)
	if got.Status != taskboard.StatusReview {
		t.Fatalf("expected review status, got %s", got.Status)
	}
	if got.Result != "final answer" {
		t.Fatalf("unexpected result: %q", got.Result)
	}
}

func TestRunWorkTaskFailsOnLLMError(t *testing.T) {
	agent := AgentConfig{ID: "executor", Role: "executor", LLM: &fakeLLM{err: fmt.Errorf("budget exceeded: over limit")}}
	o := newTestOrchestrator(t, []AgentConfig{agent})
	o.Board.Create("say hi", taskboard.WithRequiredRole("execute"))
	task := o.Board.ClaimNext(agent.ID, agent.EffectiveReputation())
	if task == nil {
		t.Fatal("expected to claim the task")
	}

	o.runWorkTask(context.Background(), agent, task)

	got := o.Board.Get(task.ID)
	if got.Status != taskboard.StatusFailed {
		t.Fatalf("expected failed status, got %s", got.Status)
	}
}

func TestInvokeWithToolsRunsToolLoopThenReturnsFinalText(t *testing.T) {
	executor := &fakeExecutor{catalog: []router.ToolDescriptor{
		{Name: "fs_read", Category: protocol.ToolCategoryFS},
	}}
	agent := AgentConfig{
		ID: "exec-1", Role: "executor", ToolsProfile: router.ProfileMinimal,
		LLM: &fakeLLM{replies: []string{
			"```tool\n{\"tool\": \"fs_read\", \"params\": {\"path\": \"a.txt\"}}\n```",
			"done",
		}},
		Executor: executor,
	}
	o := newTestOrchestrator(t, []AgentConfig{agent})

	final, _, err := o.invokeWithTools(context.Background(), agent, "system", "user", "task-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if final != "done" {
		t.Fatalf("expected final text 'done', got %q", final)
	}
	if len(executor.calls) != 1 || executor.calls[0] != "fs_read" {
		t.Fatalf("expected fs_read to run once, got %v", executor.calls)
	}
}

func TestInvokeWithToolsRejectsOutOfScopeCall(t *testing.T) {
	executor := &fakeExecutor{catalog: []router.ToolDescriptor{
		{Name: "fs_read", Category: protocol.ToolCategoryFS},
		{Name: "web_fetch", Category: protocol.ToolCategoryWeb},
	}}
	agent := AgentConfig{
		ID: "exec-1", Role: "executor", ToolsProfile: router.ProfileMinimal, // minimal has no web category
		LLM: &fakeLLM{replies: []string{
			"```tool\n{\"tool\": \"web_fetch\", \"params\": {\"url\": \"http://example.com\"}}\n```",
			"done",
		}},
		Executor: executor,
	}
	o := newTestOrchestrator(t, []AgentConfig{agent})

	if _, _, err := o.invokeWithTools(context.Background(), agent, "system", "user", "task-1", nil); err != nil {
		t.Fatal(err)
	}
	if len(executor.calls) != 0 {
		t.Fatalf("expected web_fetch to be rejected before execution, got %v", executor.calls)
	}
}

func TestInvokeWithToolsNarrowsByHint(t *testing.T) {
	executor := &fakeExecutor{catalog: []router.ToolDescriptor{
		{Name: "fs_read", Category: protocol.ToolCategoryFS},
		{Name: "memory_recall", Category: protocol.ToolCategoryMemory},
	}}
	agent := AgentConfig{
		ID: "exec-1", Role: "executor", ToolsProfile: router.ProfileMinimal,
		LLM: &fakeLLM{replies: []string{
			"```tool\n{\"tool\": \"fs_read\", \"params\": {\"path\": \"a.txt\"}}\n```",
			"done",
		}},
		Executor: executor,
	}
	o := newTestOrchestrator(t, []AgentConfig{agent})

	hint := []protocol.ToolCategory{protocol.ToolCategoryMemory}
	if _, _, err := o.invokeWithTools(context.Background(), agent, "system", "user", "task-1", hint); err != nil {
		t.Fatal(err)
	}
	if len(executor.calls) != 0 {
		t.Fatalf("expected fs_read to be excluded by a memory-only hint, got %v", executor.calls)
	}
}

func TestInvokeWithToolsExceedsIterationCap(t *testing.T) {
	executor := &fakeExecutor{catalog: []router.ToolDescriptor{
		{Name: "fs_read", Category: protocol.ToolCategoryFS},
	}}
	reply := "```tool\n{\"tool\": \"fs_read\", \"params\": {\"path\": \"a.txt\"}}\n```"
	agent := AgentConfig{
		ID: "exec-1", Role: "executor", ToolsProfile: router.ProfileFull,
		LLM:      &fakeLLM{replies: []string{reply}},
		Executor: executor,
	}
	o := newTestOrchestrator(t, []AgentConfig{agent})

	_, _, err := o.invokeWithTools(context.Background(), agent, "system", "user", "task-1", nil)
	if err == nil {
		t.Fatal("expected iteration cap error")
	}
}

func TestRunReviewTaskFallsBackToLGTMOnReviewerError(t *testing.T) {
	agent := AgentConfig{ID: "rev-1", Role: "reviewer", Reviewer: true, LLM: &fakeLLM{err: fmt.Errorf("down")}}
	o := newTestOrchestrator(t, []AgentConfig{agent})
	task := o.Board.Create("work", taskboard.WithRequiredRole("executor"))
	task.Result = "some result"

	o.runReviewTask(context.Background(), agent, task)

	got := o.Board.Get(task.ID)
	if got.Status != taskboard.StatusCompleted {
		t.Fatalf("expected advisory completion despite reviewer error, got %s", got.Status)
	}
}

func TestBoardFingerprintChangesOnTaskTransition(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	task := o.Board.Create("work", taskboard.WithRequiredRole("execute"))

	before := o.boardFingerprint()
	o.Board.ClaimNext("executor", 100)
	after := o.boardFingerprint()
	if before == after {
		t.Fatal("expected fingerprint to change after a claim, a real task transition")
	}

	stillClaimed := o.boardFingerprint()
	if after != stillClaimed {
		t.Fatal("expected fingerprint to stay stable across ticks with no further transitions")
	}

	_ = o.Board.SubmitForReview(task.ID, "done")
	submitted := o.boardFingerprint()
	if submitted == after {
		t.Fatal("expected fingerprint to change again after submit_for_review")
	}
}

func TestWaitDoesNotForceCancelWhileTasksKeepTransitioning(t *testing.T) {
	agent := AgentConfig{ID: "executor", Role: "executor", LLM: &fakeLLM{replies: []string{"final"}}}
	o := newTestOrchestrator(t, []AgentConfig{agent})
	o.MaxIdleCycles = 2 // small bound: a fingerprint-blind implementation would trip this almost immediately

	// Seed more work than a single poll tick can drain so progress spans
	// several ticks, the scenario the stale-recovery-count bug mishandled.
	for i := 0; i < 5; i++ {
		o.Board.Create("do it", taskboard.WithRequiredRole("execute"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := o.LaunchAll(ctx)

	deadline := time.Now().Add(2 * time.Second)
	allDone := false
	for time.Now().Before(deadline) {
		tasks := o.Board.List()
		done := true
		for _, t := range tasks {
			if t.Status != taskboard.StatusReview {
				done = false
				break
			}
		}
		if done {
			allDone = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	wg.Wait()

	if !allDone {
		t.Fatal("expected every seeded task to reach review despite a small idle bound, since real transitions kept occurring")
	}
}

func TestLaunchAllAndWaitReachesQuiescence(t *testing.T) {
	agent := AgentConfig{ID: "executor", Role: "executor", LLM: &fakeLLM{replies: []string{"final"}}}
	o := newTestOrchestrator(t, []AgentConfig{agent})
	task := o.Board.Create("do it", taskboard.WithRequiredRole("execute"))

	ctx, cancel := context.WithCancel(context.Background())
	wg := o.LaunchAll(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.Board.Get(task.ID).Status == taskboard.StatusReview {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	wg.Wait()

	got := o.Board.Get(task.ID)
	if got.Status != taskboard.StatusReview {
		t.Fatalf("expected task to reach review before shutdown, got %s", got.Status)
	}
}
