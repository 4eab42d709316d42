// Package router implements the TaskRouter: a cheap heuristic
// pre-classification of a user request (spec §4.4.1), overridable by the
// planner's own "ROUTE:" directive (spec §4.4.2), plus tool-scope
// resolution (spec §4.4.3) and parameter sanitization (spec §4.4.4).
package router

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cleoai/cleo/internal/protocol"
)

// multiStepLexemes signal a task has sequential structure and therefore
// cannot be a direct answer (spec §4.4.1).
var multiStepLexemes = []string{
	"first", "then", "step 1", "步骤", "首先", "接着", "分别",
}

// toolLexemes signal the task needs tool/file/execution work (spec §4.4.1).
var toolLexemes = []string{
	"write", "create", "generate", "build", "run", "execute", "search",
	"download", "analyze", "compute", "deploy", "install", "configure",
	"code", "file", "script",
	"写", "创建", "生成", "运行", "搜索", "代码", "文件",
}

// knowledgeLexemes signal a pure knowledge question (spec §4.4.1).
var knowledgeLexemes = []string{
	"what is", "explain", "define", "describe", "什么是", "解释", "定义",
}

// ClassifyTask implements spec §4.4.1's classify_task: DIRECT_ANSWER iff no
// multi-step or tool lexeme is present AND (a knowledge lexeme is present,
// or the message is short and question-shaped, or the message is very
// short). Otherwise the conservative default, MAS_PIPELINE.
func ClassifyTask(description string) protocol.RoutingDecision {
	lower := strings.ToLower(description)

	if containsAny(lower, multiStepLexemes) {
		return protocol.DecisionMASPipeline
	}
	if containsAny(lower, toolLexemes) {
		return protocol.DecisionMASPipeline
	}

	if containsAny(lower, knowledgeLexemes) {
		return protocol.DecisionDirectAnswer
	}

	trimmed := strings.TrimSpace(description)
	runeLen := utf8.RuneCountInString(trimmed)
	if runeLen <= 50 && (strings.HasSuffix(trimmed, "?") || strings.HasSuffix(trimmed, "？")) {
		return protocol.DecisionDirectAnswer
	}
	if runeLen < 5 {
		return protocol.DecisionDirectAnswer
	}

	return protocol.DecisionMASPipeline
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// routeDirective matches a case-insensitive "ROUTE: DIRECT_ANSWER|MAS_PIPELINE"
// line, anchored to the start of the planner's output (spec §4.4.2).
var routeDirective = regexp.MustCompile(`(?i)^\s*ROUTE:\s*(DIRECT_ANSWER|MAS_PIPELINE)`)

// ParsePlannerOverride extracts the planner's ROUTE: directive from its raw
// output, if present. Supersedes ClassifyTask's heuristic when ok is true
// (spec §4.4.2).
func ParsePlannerOverride(plannerOutput string) (decision protocol.RoutingDecision, ok bool) {
	m := routeDirective.FindStringSubmatch(plannerOutput)
	if m == nil {
		return "", false
	}
	switch strings.ToUpper(m[1]) {
	case string(protocol.DecisionDirectAnswer):
		return protocol.DecisionDirectAnswer, true
	case string(protocol.DecisionMASPipeline):
		return protocol.DecisionMASPipeline, true
	default:
		return "", false
	}
}

// Route combines the heuristic classifier and an optional planner override
// into the final decision used by the orchestrator.
func Route(description string, plannerOutput string) protocol.RoutingDecision {
	if d, ok := ParsePlannerOverride(plannerOutput); ok {
		return d
	}
	return ClassifyTask(description)
}
