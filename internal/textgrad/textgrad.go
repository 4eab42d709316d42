// Package textgrad implements the four-step feedback pipeline from
// spec §4.6: accumulated reviewer critiques are aggregated into recurring
// issues, injected as per-agent skill-override markdown, and decayed once
// an agent stops repeating them. Grounded on
// original_source/reputation/textgrad.py's exact thresholds.
package textgrad

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cleoai/cleo/internal/protocol"
)

// Thresholds mirrored from original_source/reputation/textgrad.py.
const (
	AggregateThreshold = 20 // run() is a no-op below this many log entries
	RecurrenceMin      = 3  // an issue key needs >= this many occurrences to patch
	DecayWindow        = 40 // decay looks only at the most recent N entries
	DecayThreshold     = 2  // below this recent count, an active issue decays
	issueKeyLen        = 60 // issue dedup key: first 60 lowercased chars
)

// CritiqueLogEntry is one line of memory/critique_log.jsonl, written by
// TaskBoard.AddCritique (spec §4.6 step 1, "done in-band by workers").
type CritiqueLogEntry struct {
	TaskID  string                  `json:"task_id"`
	AgentID string                  `json:"agent_id"`
	Items   []protocol.CritiqueItem `json:"items,omitempty"`
}

// Stats summarizes one Pipeline.Run invocation, mirroring the Python
// source's return dict.
type Stats struct {
	EntriesProcessed int
	AgentsPatched    int
	IssuesFound      int
	Decayed          int
}

// Pipeline runs the accumulate/aggregate/inject/decay cycle against a
// critique log and an overrides directory. It holds no lock of its own:
// the critique log is append-only and the overrides directory is owned
// exclusively by this pipeline, so plain file I/O is sufficient.
type Pipeline struct {
	critiqueLogPath string
	overridesDir    string
	memoryDir       string

	lastLineCount int
	lastRun       time.Time
}

// New returns a Pipeline rooted at the given memory and skills directories
// (typically "memory" and "skills/agent_overrides").
func New(memoryDir, overridesDir string) *Pipeline {
	return &Pipeline{
		critiqueLogPath: filepath.Join(memoryDir, "critique_log.jsonl"),
		overridesDir:    overridesDir,
		memoryDir:       memoryDir,
	}
}

// AppendCritique appends one log line; called by TaskBoard.AddCritique so
// the pipeline always has a durable, append-only source of truth (spec
// §4.6 step 1).
func AppendCritique(memoryDir string, entry CritiqueLogEntry) error {
	path := filepath.Join(memoryDir, "critique_log.jsonl")
	if err := os.MkdirAll(memoryDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(entry)
}

// ShouldRun reports whether enough time has passed and enough new entries
// have accumulated since the last run (spec §4.6: "every >= 60s once >= 20
// new critique entries have accumulated").
func (p *Pipeline) ShouldRun(interval time.Duration) bool {
	if time.Since(p.lastRun) < interval {
		return false
	}
	count, err := countLines(p.critiqueLogPath)
	if err != nil {
		return false
	}
	return count >= p.lastLineCount+AggregateThreshold
}

// Run executes the full pipeline once. Errors reading the critique log are
// logged and treated as a no-op run, matching the source's "never let a
// background job crash the process" posture.
func (p *Pipeline) Run() Stats {
	p.lastRun = time.Now()
	var stats Stats

	entries, err := loadCritiqueLog(p.critiqueLogPath)
	if err != nil {
		log.Printf("[TEXTGRAD] WARNING: could not read critique log: %v", err)
		return stats
	}
	stats.EntriesProcessed = len(entries)
	p.lastLineCount = len(entries)

	if len(entries) < AggregateThreshold {
		return stats
	}

	byAgent := map[string][]CritiqueLogEntry{}
	for _, e := range entries {
		if e.AgentID == "" {
			continue
		}
		byAgent[e.AgentID] = append(byAgent[e.AgentID], e)
	}

	for agentID, agentEntries := range byAgent {
		patched, issues, decayed := p.processAgent(agentID, agentEntries)
		if patched {
			stats.AgentsPatched++
		}
		stats.IssuesFound += issues
		stats.Decayed += decayed
	}
	return stats
}

// processAgent runs aggregate/decay/inject for one agent's entries (spec
// §4.6 steps 2-4).
func (p *Pipeline) processAgent(agentID string, entries []CritiqueLogEntry) (patched bool, issues, decayed int) {
	counts := countIssues(entries)
	recurring := map[string]int{}
	for issue, count := range counts {
		if count >= RecurrenceMin {
			recurring[issue] = count
		}
	}
	issues = len(recurring)
	if len(recurring) == 0 {
		return false, issues, 0
	}

	recent := entries
	if len(entries) > DecayWindow {
		recent = entries[len(entries)-DecayWindow:]
	}
	recentCounts := countIssues(recent)

	active := map[string]int{}
	var decayedIssues []string
	for issue, total := range recurring {
		if recentCounts[issue] >= DecayThreshold {
			active[issue] = total
		} else {
			decayedIssues = append(decayedIssues, issue)
			decayed++
		}
	}

	if len(active) > 0 {
		if err := p.writePatch(agentID, active); err != nil {
			log.Printf("[TEXTGRAD] WARNING: failed to write patch for %s: %v", agentID, err)
			return false, issues, decayed
		}
		p.writeGradientSignal(agentID, active, decayedIssues, entries)
		return true, issues, decayed
	}

	p.removePatch(agentID)
	return false, issues, decayed
}

func countIssues(entries []CritiqueLogEntry) map[string]int {
	counts := map[string]int{}
	for _, e := range entries {
		for _, item := range e.Items {
			issue := strings.TrimSpace(item.Issue)
			if issue == "" {
				continue
			}
			counts[issueKey(issue)]++
		}
	}
	return counts
}

func issueKey(issue string) string {
	if len(issue) > issueKeyLen {
		issue = issue[:issueKeyLen]
	}
	return strings.ToLower(issue)
}

// writePatch rewrites skills/agent_overrides/<agentID>_textgrad.md (spec
// §4.6 step 3).
func (p *Pipeline) writePatch(agentID string, active map[string]int) error {
	if err := os.MkdirAll(p.overridesDir, 0o755); err != nil {
		return err
	}
	ordered := orderByCountDesc(active)

	var b strings.Builder
	b.WriteString("# TextGrad Auto-Improvements\n\n")
	total := 0
	for _, e := range ordered {
		total += e.count
	}
	fmt.Fprintf(&b, "_Auto-generated from %d critique observations. Updated: %s_\n\n",
		total, time.Now().UTC().Format("2006-01-02 15:04"))
	b.WriteString("## Known Issues to Avoid\n\n")
	for _, e := range ordered {
		fmt.Fprintf(&b, "- **[%dx]** %s\n", e.count, e.issue)
	}
	b.WriteString("\n## Improvement Guidelines\n\n")
	b.WriteString("Based on recurring feedback, pay special attention to:\n")
	for i, e := range ordered {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "%d. Address: %s\n", i+1, e.issue)
	}

	path := filepath.Join(p.overridesDir, agentID+"_textgrad.md")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	log.Printf("[TEXTGRAD] wrote patch for %s: %d active issues", agentID, len(active))
	return nil
}

type issueCount struct {
	issue string
	count int
}

func orderByCountDesc(active map[string]int) []issueCount {
	out := make([]issueCount, 0, len(active))
	for issue, count := range active {
		out = append(out, issueCount{issue, count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].issue < out[j].issue
	})
	return out
}

// removePatch deletes the override file once every issue has decayed
// (spec §4.6 step 4).
func (p *Pipeline) removePatch(agentID string) {
	path := filepath.Join(p.overridesDir, agentID+"_textgrad.md")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("[TEXTGRAD] WARNING: failed to remove decayed patch for %s: %v", agentID, err)
		return
	}
	log.Printf("[TEXTGRAD] removed decayed patch for %s", agentID)
}

// writeGradientSignal persists a protocol.GradientSignal for observability
// (spec §4.6, "persisted per agent... for observability").
func (p *Pipeline) writeGradientSignal(agentID string, active map[string]int, decayedIssues []string, entries []CritiqueLogEntry) {
	ordered := orderByCountDesc(active)
	issues := make([]string, 0, len(ordered))
	patches := make([]string, 0, len(ordered))
	for _, e := range ordered {
		issues = append(issues, e.issue)
		patches = append(patches, "Avoid: "+e.issue)
	}

	tail := entries
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}
	ids := make([]string, 0, len(tail))
	for _, e := range tail {
		ids = append(ids, e.TaskID)
	}

	signal := protocol.GradientSignal{
		AgentID:            agentID,
		RecurringIssues:    issues,
		ImprovementPatches: patches,
		SourceCritiqueIDs:  ids,
		GeneratedAt:        time.Now().UTC(),
		DecayedIssues:      decayedIssues,
	}

	data, err := json.MarshalIndent(signal, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(p.memoryDir, "gradient_signal_"+agentID+".json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("[TEXTGRAD] WARNING: gradient signal write failed for %s: %v", agentID, err)
	}
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

func loadCritiqueLog(path string) ([]CritiqueLogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []CritiqueLogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e CritiqueLogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
