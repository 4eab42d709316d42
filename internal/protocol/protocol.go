// Package protocol defines the structured inter-agent messages workers
// exchange through the TaskBoard and ContextBus: SubTaskSpec (planner to
// executor), CritiqueSpec (reviewer to board), IntentAnchor (stable user
// goal), GradientSignal (TextGrad feedback), and RoutingResult (spec §3).
//
// Each type round-trips through JSON byte-for-byte (modulo map iteration
// order) so TaskBoard.CollectResultsWithCritiques and the A2A bridge can pass
// them across the file boundary without information loss (spec §8).
package protocol

import "time"

// Complexity is the coarse task-sizing tag carried by Task and SubTaskSpec.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityNormal  Complexity = "normal"
	ComplexityComplex Complexity = "complex"
)

// ToolCategory tags a tool's scoping bucket (spec §4.4.3).
type ToolCategory string

const (
	ToolCategoryWeb        ToolCategory = "web"
	ToolCategoryFS         ToolCategory = "fs"
	ToolCategoryAutomation ToolCategory = "automation"
	ToolCategoryMedia      ToolCategory = "media"
	ToolCategoryBrowser    ToolCategory = "browser"
	ToolCategoryMemory     ToolCategory = "memory"
	ToolCategoryMessaging  ToolCategory = "messaging"
	ToolCategoryTask       ToolCategory = "task"
	ToolCategorySkill      ToolCategory = "skill"
	ToolCategoryA2ADelegate ToolCategory = "a2a_delegate"
)

// A2AHint narrows a SubTaskSpec toward a specific outbound delegate.
type A2AHint struct {
	PreferredAgent  string   `json:"preferred_agent,omitempty"`
	RequiredSkills  []string `json:"required_skills,omitempty"`
	Fallback        string   `json:"fallback,omitempty"`
}

// SubTaskSpec is the structured ticket the planner emits per subtask
// (spec §3, "SubTaskSpec").
type SubTaskSpec struct {
	Objective     string         `json:"objective"`
	Constraints   []string       `json:"constraints,omitempty"`
	Input         map[string]any `json:"input,omitempty"`
	OutputFormat  string         `json:"output_format,omitempty"`
	ToolHint      []ToolCategory `json:"tool_hint,omitempty"`
	Complexity    Complexity     `json:"complexity,omitempty"`
	ParentIntent  string         `json:"parent_intent,omitempty"`
	A2AHint       *A2AHint       `json:"a2a_hint,omitempty"`
}

// WantsA2ADelegation reports whether tool_hint names the a2a_delegate
// sentinel (spec §3, §4.9.10).
func (s SubTaskSpec) WantsA2ADelegation() bool {
	for _, t := range s.ToolHint {
		if t == ToolCategoryA2ADelegate {
			return true
		}
	}
	return false
}

// Verdict is the reviewer's overall call on a CritiqueSpec.
type Verdict string

const (
	VerdictLGTM       Verdict = "LGTM"
	VerdictNeedsWork  Verdict = "NEEDS_WORK"
)

// Dimensions holds the five advisory review scores, each in [1,10]
// (spec §3, "CritiqueSpec").
type Dimensions struct {
	Accuracy     float64 `json:"accuracy"`
	Completeness float64 `json:"completeness"`
	Technical    float64 `json:"technical"`
	Calibration  float64 `json:"calibration"`
	Efficiency   float64 `json:"efficiency"`
}

// dimensionWeights are the composite-score weights from spec §3: accuracy
// 0.30, completeness 0.20, technical 0.20, calibration 0.20, efficiency 0.10.
const (
	weightAccuracy     = 0.30
	weightCompleteness = 0.20
	weightTechnical    = 0.20
	weightCalibration  = 0.20
	weightEfficiency   = 0.10
)

// CritiqueItem is one specific issue raised against a dimension.
type CritiqueItem struct {
	Dimension  string `json:"dimension"`
	Issue      string `json:"issue"`
	Suggestion string `json:"suggestion"`
}

// SourceTrust records the A2A trust context for a subtask that was
// delegated out-of-process, so the reviewer can apply a score penalty
// (spec §4.9.10).
type SourceTrust struct {
	AgentURL       string `json:"agent_url"`
	TrustLevel     string `json:"trust_level"`
	DataFreshness  string `json:"data_freshness,omitempty"`
	CrossValidated bool   `json:"cross_validated"`
}

// CritiqueSpec is the reviewer's 5-dimension advisory review of a completed
// subtask (spec §3, "CritiqueSpec"). Reviewers are ADVISORY — a NEEDS_WORK
// verdict never blocks task completion on its own; see TaskBoard.AddCritique.
type CritiqueSpec struct {
	TaskID      string        `json:"task_id"`
	ReviewerID  string        `json:"reviewer_id"`
	Dimensions  Dimensions    `json:"dimensions"`
	Verdict     Verdict       `json:"verdict"`
	Items       []CritiqueItem `json:"items,omitempty"`
	Confidence  float64       `json:"confidence"`
	Timestamp   time.Time     `json:"timestamp"`
	SourceTrust *SourceTrust  `json:"source_trust,omitempty"`
}

// CompositeScore returns the weighted sum of the five dimensions (spec §3).
func (c Dimensions) CompositeScore() float64 {
	return c.Accuracy*weightAccuracy +
		c.Completeness*weightCompleteness +
		c.Technical*weightTechnical +
		c.Calibration*weightCalibration +
		c.Efficiency*weightEfficiency
}

// Normalize applies the auto-simplification rule from spec §3: when every
// dimension scores >= 8, the verdict is forced to LGTM and items are
// cleared, regardless of what the caller originally set.
func (c *CritiqueSpec) Normalize() {
	d := c.Dimensions
	if d.Accuracy >= 8 && d.Completeness >= 8 && d.Technical >= 8 &&
		d.Calibration >= 8 && d.Efficiency >= 8 {
		c.Verdict = VerdictLGTM
		c.Items = nil
	}
}

// ApplyTrustPenalty reduces every dimension by the trust tier's score
// penalty (spec §4.9.10), clamping at a floor of 1.
func (c *CritiqueSpec) ApplyTrustPenalty(penalty float64) {
	clamp := func(v float64) float64 {
		v -= penalty
		if v < 1 {
			return 1
		}
		return v
	}
	c.Dimensions.Accuracy = clamp(c.Dimensions.Accuracy)
	c.Dimensions.Completeness = clamp(c.Dimensions.Completeness)
	c.Dimensions.Technical = clamp(c.Dimensions.Technical)
	c.Dimensions.Calibration = clamp(c.Dimensions.Calibration)
	c.Dimensions.Efficiency = clamp(c.Dimensions.Efficiency)
}

// IntentAnchor is a stable record of the user's goal, written once at
// submission by Orchestrator.Submit and not rewritten afterwards (spec §3).
type IntentAnchor struct {
	TaskID          string   `json:"task_id"`
	UserMessage     string   `json:"user_message"`
	CoreGoal        string   `json:"core_goal"`
	SuccessCriteria []string `json:"success_criteria,omitempty"`
}

// RoutingDecision is the TaskRouter's binary classification (spec §3,
// "RoutingResult").
type RoutingDecision string

const (
	DecisionDirectAnswer RoutingDecision = "DIRECT_ANSWER"
	DecisionMASPipeline  RoutingDecision = "MAS_PIPELINE"
)

// RoutingResult carries the TaskRouter's decision plus whatever the
// decision produced (spec §3).
type RoutingResult struct {
	Decision     RoutingDecision `json:"decision"`
	Reason       string          `json:"reason"`
	DirectAnswer string          `json:"direct_answer,omitempty"`
	SubTaskSpecs []SubTaskSpec   `json:"subtask_specs,omitempty"`
}

// GradientSignal is the TextGrad pipeline's per-agent feedback artifact
// (spec §3, §4.6).
type GradientSignal struct {
	AgentID            string   `json:"agent_id"`
	RecurringIssues    []string `json:"recurring_issues"`
	ImprovementPatches []string `json:"improvement_patches"`
	SourceCritiqueIDs  []string `json:"source_critique_ids,omitempty"`
	GeneratedAt        time.Time `json:"generated_at"`
	DecayedIssues      []string `json:"decayed_issues,omitempty"`
}
