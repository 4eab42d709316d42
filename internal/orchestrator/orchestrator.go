// Package orchestrator wires the TaskBoard, ContextBus, UsageTracker, and
// TaskRouter into the submit/launch/wait lifecycle and the per-agent worker
// loop from spec §4.3. Each configured agent runs as one goroutine
// communicating with the rest of the system only through the file-backed
// stores (spec §9's resolved Open Question — see SPEC_FULL.md §6.3):
// there is no shared in-memory state between workers.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cleoai/cleo/internal/contextbus"
	"github.com/cleoai/cleo/internal/llm"
	"github.com/cleoai/cleo/internal/protocol"
	"github.com/cleoai/cleo/internal/router"
	"github.com/cleoai/cleo/internal/taskboard"
	"github.com/cleoai/cleo/internal/usage"
)

// DefaultMaxIdleCycles and DefaultPollInterval implement spec §4.3.4's
// default quiescence bound: 30 ticks x 500ms = 15s.
const (
	DefaultMaxIdleCycles = 30
	DefaultPollInterval  = 500 * time.Millisecond
)

// LLMClient is the subset of llm.Client the worker loop depends on,
// narrowed to an interface so tests can supply a fake (spec §1: "the core
// does not itself invoke LLMs" — it only depends on this adapter shape).
type LLMClient interface {
	Chat(ctx context.Context, system, user string) (string, llm.Usage, error)
}

// ToolExecutor runs one parsed tool call and returns its JSON-able result
// text. Left nil in configurations with no local tool catalog. Catalog
// reports every tool it knows how to run, so the worker loop can resolve a
// per-agent scope without importing the concrete tool package (spec
// §4.4.3).
type ToolExecutor interface {
	Execute(ctx context.Context, tool string, params map[string]any) (string, error)
	Catalog() []router.ToolDescriptor
}

// AgentConfig describes one configured worker (spec §4.3.1's
// "configuration specifies id, role, model, skills, allowed tool profile,
// optional fallback models").
type AgentConfig struct {
	ID             string
	Role           string // "planner" | "executor" | "reviewer" | ...
	Model          string
	Skills         []string
	ToolsProfile   router.ToolProfile
	Allow          []string
	Deny           []string
	FallbackModels []string
	Reviewer       bool    // true for reviewer/auditor-type agents (spec §4.2.1)
	Reputation     float64 // gates claim_next against a task's min_reputation (spec §4.2); 0 means unset and resolves to the default via EffectiveReputation

	LLM      LLMClient
	Executor ToolExecutor
}

// defaultReputation is the trust level new agents start at absent explicit
// configuration (spec §4.2's claim_next reputation gate).
const defaultReputation = 100

// EffectiveReputation returns a.Reputation, or defaultReputation if it was
// left at its zero value.
func (a AgentConfig) EffectiveReputation() float64 {
	if a.Reputation > 0 {
		return a.Reputation
	}
	return defaultReputation
}

// IsPlanner reports whether this agent's required_role keys resolve to the
// planner role (spec §4.2.1's "planner"/"plan" role keys).
func (a AgentConfig) IsPlanner() bool {
	return a.Role == "planner" || a.Role == "plan"
}

// Orchestrator owns the submit/launch/wait lifecycle (spec §4.3.1).
type Orchestrator struct {
	Board   *taskboard.Board
	Bus     *contextbus.Bus
	Usage   *usage.Tracker
	Agents  []AgentConfig
	WorkDir string // root for .heartbeats, .mailboxes

	MaxIdleCycles int
	PollInterval  time.Duration

	plannedCloseout sync.Map // rootID -> struct{}, dedupes closeout task creation
}

// New returns an Orchestrator with spec §4.3.4's default quiescence bound.
func New(board *taskboard.Board, bus *contextbus.Bus, tracker *usage.Tracker, workDir string, agents []AgentConfig) *Orchestrator {
	return &Orchestrator{
		Board:         board,
		Bus:           bus,
		Usage:         tracker,
		Agents:        agents,
		WorkDir:       workDir,
		MaxIdleCycles: DefaultMaxIdleCycles,
		PollInterval:  DefaultPollInterval,
	}
}

// Submit writes an IntentAnchor to the ContextBus and creates the root
// planner task (spec §4.3.1, "submit").
func (o *Orchestrator) Submit(description string) (string, error) {
	task := o.Board.Create(description, taskboard.WithRequiredRole("planner"))

	anchor := protocol.IntentAnchor{
		TaskID:      task.ID,
		UserMessage: description,
		CoreGoal:    description,
	}
	if err := o.Bus.Set("intent:"+task.ID, anchor); err != nil {
		return "", fmt.Errorf("orchestrator: write intent anchor: %w", err)
	}
	return task.ID, nil
}

// LaunchAll spawns one goroutine per configured agent (spec §4.3.1,
// "launch_all" — "spawns ONE child process per configured agent"; see
// SPEC_FULL.md §6.3 for the goroutine-not-subprocess resolution).
func (o *Orchestrator) LaunchAll(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, agent := range o.Agents {
		wg.Add(1)
		go func(a AgentConfig) {
			defer wg.Done()
			o.runWorker(ctx, a)
		}(agent)
	}
	return &wg
}

// Wait polls the board at >= 0.5Hz; each tick it recovers stale tasks and
// checks global quiescence. After MaxIdleCycles consecutive ticks with no
// task transition anywhere on the board, or once the board is quiescent for
// one full poll, it cancels the workers (via ctx) and returns the root
// task's collected result (spec §4.3.1 "wait", §4.3.4's idle/quiescence
// bound: "terminates the run if no task transitions... prevents livelock if
// workers silently die"). The bound tracks actual board-state changes, not
// how many tasks RecoverStaleTasks happened to touch that tick — stale
// recovery almost never fires during a healthy run, so using its count
// alone would force-cancel any pipeline that simply takes longer than
// MaxIdleCycles*PollInterval to make progress.
func (o *Orchestrator) Wait(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup, rootID string) string {
	ticker := time.NewTicker(o.PollInterval)
	defer ticker.Stop()

	idle := 0
	lastState := o.boardFingerprint()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return o.Board.CollectResults(rootID)
		case <-ticker.C:
			o.Board.RecoverStaleTasks()
			o.maybeCreateCloseout(rootID)

			if o.quiescent() {
				cancel()
				wg.Wait()
				return o.Board.CollectResults(rootID)
			}

			state := o.boardFingerprint()
			if state == lastState {
				idle++
			} else {
				idle = 0
			}
			lastState = state
			if idle >= o.MaxIdleCycles {
				log.Printf("[ORCHESTRATOR] WARNING: idle bound (%d cycles) reached, terminating run", o.MaxIdleCycles)
				cancel()
				wg.Wait()
				return o.Board.CollectResults(rootID)
			}
		}
	}
}

// boardFingerprint summarizes every task's mutable fields so Wait can
// detect genuine progress (a claim, a submission, a completion, a retry)
// between ticks instead of relying on RecoverStaleTasks' near-always-empty
// return value.
func (o *Orchestrator) boardFingerprint() string {
	tasks := o.Board.List()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	var sb strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&sb, "%s:%s:%s:%d:%d:%d;",
			t.ID, t.Status, t.AgentID, t.RetryCount, t.CritiqueRound, len(t.EvolutionFlags))
	}
	return sb.String()
}

// quiescent reports whether no task on the board is in a live state (spec
// §4.3.1: "no task in {pending, claimed, review, critique, blocked,
// paused}").
func (o *Orchestrator) quiescent() bool {
	for _, t := range o.Board.List() {
		if t.Status.Live() {
			return false
		}
	}
	return true
}

// maybeCreateCloseout implements the resolved Open Question in
// SPEC_FULL.md §6.2: once every non-planner descendant of root has reached
// a terminal state, create exactly one synthetic planner-typed closeout
// task (spec §4.3.3).
func (o *Orchestrator) maybeCreateCloseout(rootID string) {
	if _, already := o.plannedCloseout.Load(rootID); already {
		return
	}
	children := o.Board.Children(rootID)
	var sawNonPlanner bool
	for _, c := range children {
		if c.RequiredRole == "planner" || c.RequiredRole == "plan" {
			continue
		}
		sawNonPlanner = true
		if !c.Status.Terminal() {
			return
		}
	}
	if !sawNonPlanner {
		return
	}
	o.plannedCloseout.Store(rootID, struct{}{})
	o.Board.Create("closeout", taskboard.WithRequiredRole("planner"), taskboard.WithParentID(rootID))
}

func heartbeatDir(workDir string) string { return filepath.Join(workDir, ".heartbeats") }

func mailboxDir(workDir string) string { return filepath.Join(workDir, ".mailboxes") }

func newID(prefix string) string {
	return prefix + "-" + uuid.New().String()[:12]
}
