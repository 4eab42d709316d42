package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/cleoai/cleo/internal/llm"
	"github.com/cleoai/cleo/internal/protocol"
	"github.com/cleoai/cleo/internal/router"
	"github.com/cleoai/cleo/internal/taskboard"
	"github.com/cleoai/cleo/internal/usage"
)

// backoffMin/backoffMax are the poll backoff bounds when claim_next finds
// nothing (spec §4.3.2 step 2).
const (
	backoffMin = 250 * time.Millisecond
	backoffMax = 2 * time.Second
	maxToolIterations = 6
)

// runWorker is the per-agent loop body (spec §4.3.2). It runs until ctx is
// canceled by Orchestrator.Wait.
func (o *Orchestrator) runWorker(ctx context.Context, agent AgentConfig) {
	backoff := backoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = writeHeartbeat(heartbeatDir(o.WorkDir), agent.ID, Heartbeat{Status: "polling"})

		if agent.Reviewer {
			if task := o.Board.ClaimCritique(agent.ID); task != nil {
				o.runReviewTask(ctx, agent, task)
				backoff = backoffMin
				continue
			}
		}

		task := o.Board.ClaimNext(agent.ID, agent.EffectiveReputation())
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < backoffMax {
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
			}
			continue
		}
		backoff = backoffMin

		if agent.Reviewer || task.RequiredRole == "review" || task.RequiredRole == "critique" {
			o.runReviewTask(ctx, agent, task)
			continue
		}
		o.runWorkTask(ctx, agent, task)
	}
}

// runWorkTask executes one claimed task end to end: assemble a prompt,
// invoke the LLM, run any tool calls, and either submit for review or
// (planner only) complete directly on a DIRECT_ANSWER route (spec §4.3.2
// steps 3-8).
func (o *Orchestrator) runWorkTask(ctx context.Context, agent AgentConfig, task *taskboard.Task) {
	_ = writeHeartbeat(heartbeatDir(o.WorkDir), agent.ID, Heartbeat{Status: "working", Progress: task.ID})

	system := o.assembleSystemPrompt(agent, task)
	userMsg := task.Description

	final, agg, err := o.invokeWithTools(ctx, agent, system, userMsg, task.ID, task.ToolHint)
	if err != nil {
		o.recordFailure(agent, task, err)
		return
	}
	if o.Usage != nil {
		cost := o.Usage.Cost(agent.Model, agg.PromptTokens, agg.CompletionTokens)
		if cost != 0 {
			_ = o.Board.SetCost(task.ID, cost)
		}
	}

	if agent.IsPlanner() {
		o.finishPlannerTask(task, final)
		return
	}

	_ = o.Board.SubmitForReview(task.ID, final)
}

// invokeWithTools runs the LLM-then-tool loop from spec §4.3.2 steps 4-5:
// each turn may emit fenced ```tool blocks; parsed calls are sanitized,
// executed, and fed back as the next turn's user content until no tool
// calls remain or the iteration cap is reached.
func (o *Orchestrator) invokeWithTools(ctx context.Context, agent AgentConfig, system, userMsg, taskID string, hint []protocol.ToolCategory) (string, usageTotals, error) {
	var agg usageTotals
	text := userMsg
	allowed := resolveAllowedTools(agent, hint)

	for i := 0; i < maxToolIterations; i++ {
		start := time.Now()
		raw, u, err := agent.LLM.Chat(ctx, system, text)
		latency := time.Since(start)
		agg.PromptTokens += u.PromptTokens
		agg.CompletionTokens += u.CompletionTokens

		if o.Usage != nil {
			_ = o.Usage.Record(usage.Record{
				AgentID:          agent.ID,
				Model:            agent.Model,
				PromptTokens:     u.PromptTokens,
				CompletionTokens: u.CompletionTokens,
				LatencyMS:        latency.Milliseconds(),
				Success:          err == nil,
			})
		}
		if err != nil {
			return "", agg, fmt.Errorf("orchestrator: llm call failed: %w", err)
		}

		visible := llm.StripToolCodeBlocks(llm.StripThinkBlocks(raw))
		_ = o.Board.UpdatePartial(taskID, visible)

		calls := parseToolCalls(raw)
		if len(calls) == 0 || agent.Executor == nil {
			return visible, agg, nil
		}

		var results []string
		for _, call := range calls {
			if allowed != nil && !allowed[call.Tool] {
				results = append(results, fmt.Sprintf(`{"error": %q}`, "tool "+call.Tool+" is out of scope for this agent/task"))
				continue
			}
			result, err := agent.Executor.Execute(ctx, call.Tool, call.Params)
			if err != nil {
				result = fmt.Sprintf(`{"error": %q}`, err.Error())
			}
			results = append(results, result)
		}
		text = strings.Join(results, "\n")
	}

	return "", agg, fmt.Errorf("orchestrator: tool-call loop exceeded %d iterations", maxToolIterations)
}

// resolveAllowedTools implements spec §4.4.3: profile base, minus deny,
// plus allow, then narrowed to the task's tool_hint categories if any.
// Returns nil (no restriction) when the agent has no executor to resolve a
// catalog from.
func resolveAllowedTools(agent AgentConfig, hint []protocol.ToolCategory) map[string]bool {
	if agent.Executor == nil {
		return nil
	}
	scope := router.ResolveScope(agent.ToolsProfile, agent.Executor.Catalog(), agent.Allow, agent.Deny)
	scope = router.NarrowByHint(scope, hint)
	allowed := make(map[string]bool, len(scope))
	for _, t := range scope {
		allowed[t.Name] = true
	}
	return allowed
}

// usageTotals aggregates token counts across one task's multi-turn
// tool-call loop; each turn is still recorded individually to the
// UsageTracker so the per-call log stays granular (spec §4.5).
type usageTotals struct {
	PromptTokens, CompletionTokens int
}

// ToolCall is one parsed ```tool fenced block (spec §4.3.2 step 5).
type ToolCall struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

var toolFence = regexp.MustCompile("(?s)```tool\\s*\\n(.*?)```")

func parseToolCalls(text string) []ToolCall {
	matches := toolFence.FindAllStringSubmatch(text, -1)
	var calls []ToolCall
	for _, m := range matches {
		var call ToolCall
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &call); err != nil {
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

// finishPlannerTask implements spec §4.3.2 step 6's planner branch: a
// ROUTE: DIRECT_ANSWER line completes the task immediately without
// decomposition; otherwise the output is decoded into subtasks.
func (o *Orchestrator) finishPlannerTask(task *taskboard.Task, output string) {
	if d, ok := router.ParsePlannerOverride(output); ok && d == protocol.DecisionDirectAnswer {
		answer := strings.TrimSpace(routeLinePattern.ReplaceAllString(output, ""))
		_ = o.Board.SubmitForReview(task.ID, answer)
		o.Board.Complete(task.ID)
		return
	}

	specs := parseSubTaskSpecs(output)
	for _, spec := range specs {
		role := inferRole(spec)
		o.Board.Create(spec.Objective,
			taskboard.WithRequiredRole(role),
			taskboard.WithParentID(task.ID),
			taskboard.WithComplexity(spec.Complexity),
			taskboard.WithToolHint(spec.ToolHint),
		)
	}
	_ = o.Board.SubmitForReview(task.ID, output)
	o.Board.Complete(task.ID)
}

var routeLinePattern = regexp.MustCompile(`(?i)^\s*ROUTE:\s*(DIRECT_ANSWER|MAS_PIPELINE)\s*\n?`)

// subTaskBlock matches a preferred "[SubTaskSpec] {json}" block (spec
// §4.3.2 step 6).
var subTaskBlock = regexp.MustCompile(`(?s)\[SubTaskSpec\]\s*(\{.*?\})`)

// legacyTaskLine matches the legacy "TASK: description" line form.
var legacyTaskLine = regexp.MustCompile(`(?m)^TASK:\s*(.+)$`)

func parseSubTaskSpecs(output string) []protocol.SubTaskSpec {
	var specs []protocol.SubTaskSpec
	for _, m := range subTaskBlock.FindAllStringSubmatch(output, -1) {
		var spec protocol.SubTaskSpec
		if err := json.Unmarshal([]byte(m[1]), &spec); err == nil {
			specs = append(specs, spec)
		}
	}
	if len(specs) > 0 {
		return specs
	}
	for _, m := range legacyTaskLine.FindAllStringSubmatch(output, -1) {
		specs = append(specs, protocol.SubTaskSpec{Objective: strings.TrimSpace(m[1])})
	}
	return specs
}

// inferRole derives a subtask's required_role (spec §4.3.2 step 6): a
// memory tool_hint yields "memory"; every other spec, whatever its
// complexity, yields "execute", the role executor agents claim.
func inferRole(spec protocol.SubTaskSpec) string {
	for _, hint := range spec.ToolHint {
		if hint == protocol.ToolCategoryMemory {
			return "memory"
		}
	}
	return "execute"
}

// runReviewTask produces a CritiqueSpec and calls AddCritique, which marks
// the task completed (advisory) except that a first failing critique moves
// it to critique, and appends to the critique log for TextGrad (spec §4.3.2
// step 7).
func (o *Orchestrator) runReviewTask(ctx context.Context, agent AgentConfig, task *taskboard.Task) {
	_ = writeHeartbeat(heartbeatDir(o.WorkDir), agent.ID, Heartbeat{Status: "reviewing", Progress: task.ID})

	system := o.assembleReviewPrompt(agent, task)
	raw, _, err := agent.LLM.Chat(ctx, system, task.Result)
	if err != nil {
		// A reviewer failure should not block completion; log and fall
		// back to an uncritical LGTM so the pipeline keeps moving.
		log.Printf("[ORCHESTRATOR] WARNING: reviewer %s failed on task %s: %v", agent.ID, task.ID, err)
		_ = o.Board.AddCritique(task.ID, agent.ID, true, nil, "reviewer unavailable", 7)
		return
	}

	critique := parseCritique(raw)
	if critique.SourceTrust != nil {
		critique.ApplyTrustPenalty(trustPenalties[critique.SourceTrust.TrustLevel])
	}
	passed := critique.Verdict == protocol.VerdictLGTM
	var suggestions []string
	for _, item := range critique.Items {
		suggestions = append(suggestions, item.Suggestion)
	}
	_ = o.Board.AddCritique(task.ID, agent.ID, passed, suggestions, critique.summary(), critique.Dimensions.CompositeScore())
}

func (o *Orchestrator) recordFailure(agent AgentConfig, task *taskboard.Task, err error) {
	reason := "llm_error"
	if strings.Contains(err.Error(), "budget") {
		reason = "budget_exceeded"
	}
	_ = o.Board.Fail(task.ID, reason)
	log.Printf("[ORCHESTRATOR] task %s failed (agent %s): %v", task.ID, agent.ID, err)
}

// reviewOutput is the structured shape reviewer LLM calls are instructed
// to emit, decoded into a protocol.CritiqueSpec.
type reviewOutput struct {
	Dimensions protocol.Dimensions `json:"dimensions"`
	Verdict    protocol.Verdict    `json:"verdict"`
	Items      []protocol.CritiqueItem `json:"items,omitempty"`
	Confidence float64             `json:"confidence"`
	Comment    string              `json:"comment,omitempty"`
}

func (r reviewOutput) summary() string { return r.Comment }

func parseCritique(raw string) protocol.CritiqueSpec {
	cleaned := llm.StripFences(raw)
	var out reviewOutput
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		// Unparseable reviewer output is treated as a pass — advisory
		// review should never block the pipeline (spec §4.3.2 step 7).
		return protocol.CritiqueSpec{Verdict: protocol.VerdictLGTM, Confidence: 0, Timestamp: time.Now().UTC()}
	}
	spec := protocol.CritiqueSpec{
		Dimensions: out.Dimensions,
		Verdict:    out.Verdict,
		Items:      out.Items,
		Confidence: out.Confidence,
		Timestamp:  time.Now().UTC(),
	}
	spec.Normalize()
	return spec
}

// trustPenalties mirrors the score_penalty column from spec §4.9.9's
// trust-tier table.
var trustPenalties = map[string]float64{
	"verified":  0,
	"community": 1,
	"untrusted": 2,
}
