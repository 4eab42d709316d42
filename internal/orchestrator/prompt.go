package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cleoai/cleo/internal/protocol"
	"github.com/cleoai/cleo/internal/taskboard"
)

// assembleSystemPrompt builds the worker's system prompt from agent role,
// hot-loaded TextGrad patches, and the parent IntentAnchor (spec §4.3.2
// step 3). Team/agent skill files and the TextGrad patch are read directly
// from disk here rather than cached, so a TextGrad rewrite is picked up on the
// very next task.
func (o *Orchestrator) assembleSystemPrompt(agent AgentConfig, task *taskboard.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are agent %q, role %q.\n", agent.ID, agent.Role)
	if len(agent.Skills) > 0 {
		fmt.Fprintf(&b, "Skills: %s\n", strings.Join(agent.Skills, ", "))
	}

	if teamSkills := readSkillFile(filepath.Join(o.WorkDir, "skills", "team.md")); teamSkills != "" {
		b.WriteString("\n## Team skills\n")
		b.WriteString(teamSkills)
		b.WriteString("\n")
	}
	if private := readSkillFile(filepath.Join(o.WorkDir, "skills", "agents", agent.ID+".md")); private != "" {
		b.WriteString("\n## Private skills\n")
		b.WriteString(private)
		b.WriteString("\n")
	}
	if patch := readSkillFile(filepath.Join(o.WorkDir, "skills", "agent_overrides", agent.ID+"_textgrad.md")); patch != "" {
		b.WriteString("\n## Recent feedback (TextGrad)\n")
		b.WriteString(patch)
		b.WriteString("\n")
	}

	if task.ParentID != "" {
		var anchor protocol.IntentAnchor
		root := task.ParentID
		if ok, _ := o.Bus.Get("intent:"+root, &anchor); ok {
			fmt.Fprintf(&b, "\n## Parent intent\n%s\n", anchor.CoreGoal)
		}
	} else {
		var anchor protocol.IntentAnchor
		if ok, _ := o.Bus.Get("intent:"+task.ID, &anchor); ok {
			fmt.Fprintf(&b, "\n## Intent\n%s\n", anchor.CoreGoal)
		}
	}

	if agent.IsPlanner() {
		b.WriteString("\nRespond with a 'ROUTE: DIRECT_ANSWER' or 'ROUTE: MAS_PIPELINE' line, " +
			"followed by either the direct answer or one or more [SubTaskSpec] {...} blocks.\n")
	}

	if allowed := resolveAllowedTools(agent, task.ToolHint); allowed != nil {
		names := make([]string, 0, len(allowed))
		for name := range allowed {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "\nAvailable tools: %s. Call one with a fenced tool block: "+
			"a line of three backticks followed by 'tool', then {\"tool\": \"...\", \"params\": {...}}, "+
			"then a closing three backticks.\n", strings.Join(names, ", "))
	}

	return b.String()
}

// assembleReviewPrompt builds the reviewer's system prompt, instructing it
// to emit the structured JSON reviewOutput shape (spec §4.3.2 step 7,
// §3's CritiqueSpec dimensions).
func (o *Orchestrator) assembleReviewPrompt(agent AgentConfig, task *taskboard.Task) string {
	return fmt.Sprintf(
		"You are reviewer %q. Grade the submitted result for task %q on five "+
			"dimensions (accuracy, completeness, technical, calibration, "+
			"efficiency), each 1-10. Respond with JSON: "+
			`{"dimensions": {...}, "verdict": "LGTM"|"NEEDS_WORK", "items": [...], `+
			`"confidence": 0-1, "comment": "..."}`+"\n",
		agent.ID, task.ID)
}

func readSkillFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
