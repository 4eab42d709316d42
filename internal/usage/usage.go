// Package usage implements the UsageTracker and budget enforcement in
// spec §4.5: every LLM call is recorded under a file lock, cost is derived
// from a static per-model price table, and a hard budget limit is checked
// inside the same critical section as the record append so concurrent
// overspend is structurally impossible.
package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cleoai/cleo/internal/errs"
	"github.com/cleoai/cleo/internal/filelock"
)

// Record is one LLM call entry (spec §4.5).
type Record struct {
	AgentID         string    `json:"agent_id"`
	Model           string    `json:"model"`
	PromptTokens    int       `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	LatencyMS       int64     `json:"latency_ms"`
	Success         bool      `json:"success"`
	Retries         int       `json:"retries"`
	Failover        bool      `json:"failover"`
	CostUSD         float64   `json:"cost_usd"`
	TS              time.Time `json:"ts"`
}

// Aggregate is the incrementally-recomputed running total (spec §4.5).
type Aggregate struct {
	TotalCalls            int     `json:"total_calls"`
	TotalPromptTokens     int     `json:"total_prompt_tokens"`
	TotalCompletionTokens int     `json:"total_completion_tokens"`
	TotalCostUSD          float64 `json:"total_cost_usd"`
	TotalRetries          int     `json:"total_retries"`
	Failovers             int     `json:"failovers"`
}

type document struct {
	Aggregate Aggregate `json:"aggregate"`
	Records   []Record  `json:"records"`
}

// Price is a per-million-token rate pair for one model.
type Price struct {
	PromptPerMillion     float64
	CompletionPerMillion float64
}

// defaultPrice is used for any model absent from the price table (spec
// §4.5: "a static per-million-token price table keyed by model (with a
// default fallback)").
var defaultPrice = Price{PromptPerMillion: 3, CompletionPerMillion: 15}

// priceTable mirrors the source's per-model rates; operators extend it via
// Tracker.SetPrice for models not listed here.
var priceTable = map[string]Price{
	"claude-opus-4":    {PromptPerMillion: 15, CompletionPerMillion: 75},
	"claude-sonnet-4":  {PromptPerMillion: 3, CompletionPerMillion: 15},
	"claude-haiku-4":   {PromptPerMillion: 0.8, CompletionPerMillion: 4},
	"gpt-4o":           {PromptPerMillion: 2.5, CompletionPerMillion: 10},
	"gpt-4o-mini":      {PromptPerMillion: 0.15, CompletionPerMillion: 0.6},
}

// Budget is the optional enforcement policy loaded from config/budget.json
// (spec §4.5).
type Budget struct {
	Enabled       bool    `json:"enabled"`
	MaxCostUSD    float64 `json:"max_cost_usd"`
	MaxTokens     int     `json:"max_tokens"`
	WarnAtPercent float64 `json:"warn_at_percent"`
}

// Alert is one line appended to memory/alerts.jsonl (spec §4.5, §8 scenario
// 4: the field is serialized as "type", not "kind").
type Alert struct {
	Type    string    `json:"type"` // "budget_warning" | "budget_exceeded"
	Message string    `json:"message"`
	TS      time.Time `json:"ts"`
}

// Tracker owns memory/usage_stats.json and memory/alerts.jsonl.
type Tracker struct {
	statsPath  string
	alertsPath string
	lock       *filelock.Lock

	prices map[string]Price
	budget Budget

	warnedThisBudget bool
}

// New opens (or creates) the Tracker rooted at dir (typically "memory/").
func New(dir string, budget Budget) *Tracker {
	return &Tracker{
		statsPath:  filepath.Join(dir, "usage_stats.json"),
		alertsPath: filepath.Join(dir, "alerts.jsonl"),
		lock:       filelock.New(filepath.Join(dir, "usage_stats.json.lock")),
		prices:     map[string]Price{},
		budget:     budget,
	}
}

// SetPrice overrides or adds a model's price entry.
func (t *Tracker) SetPrice(model string, p Price) {
	t.prices[model] = p
}

func (t *Tracker) priceFor(model string) Price {
	if p, ok := t.prices[model]; ok {
		return p
	}
	if p, ok := priceTable[model]; ok {
		return p
	}
	return defaultPrice
}

// Cost computes the USD cost for a call using the price table, falling
// back to defaultPrice for unknown models.
func (t *Tracker) Cost(model string, promptTokens, completionTokens int) float64 {
	p := t.priceFor(model)
	return float64(promptTokens)/1_000_000*p.PromptPerMillion +
		float64(completionTokens)/1_000_000*p.CompletionPerMillion
}

// Record appends rec (computing CostUSD if not already set) and, inside the
// same lock, checks the budget. On a hard-limit breach it still appends the
// record and the budget_exceeded alert, then returns an
// *errs.BudgetExceeded the caller must propagate as a failed task (spec
// §4.5: "the worker catches this, marks the task failed").
func (t *Tracker) Record(rec Record) error {
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}
	if rec.CostUSD == 0 && rec.Success {
		rec.CostUSD = t.Cost(rec.Model, rec.PromptTokens, rec.CompletionTokens)
	}

	var budgetErr error
	err := t.lock.With(context.Background(), func() error {
		doc, err := t.load()
		if err != nil {
			return err
		}
		doc.Records = append(doc.Records, rec)
		doc.Aggregate.TotalCalls++
		doc.Aggregate.TotalPromptTokens += rec.PromptTokens
		doc.Aggregate.TotalCompletionTokens += rec.CompletionTokens
		doc.Aggregate.TotalCostUSD += rec.CostUSD
		doc.Aggregate.TotalRetries += rec.Retries
		if rec.Failover {
			doc.Aggregate.Failovers++
		}

		if err := t.save(doc); err != nil {
			return err
		}

		budgetErr = t.checkBudget(doc.Aggregate)
		return nil
	})
	if err != nil {
		return err
	}
	return budgetErr
}

// checkBudget compares agg against the configured limits and appends
// alerts as needed. Must be called from inside the same lock region as the
// record append that produced agg (spec §4.5: "inside the same critical
// section").
func (t *Tracker) checkBudget(agg Aggregate) error {
	if !t.budget.Enabled {
		return nil
	}

	costRatio := ratio(agg.TotalCostUSD, t.budget.MaxCostUSD)
	tokenRatio := ratio(float64(agg.TotalPromptTokens+agg.TotalCompletionTokens), float64(t.budget.MaxTokens))
	worst := costRatio
	kind := "cost"
	if tokenRatio > worst {
		worst = tokenRatio
		kind = "tokens"
	}

	if worst >= 1 {
		_ = t.appendAlert(Alert{
			Type:    "budget_exceeded",
			Message: "budget exceeded (" + kind + ")",
			TS:      time.Now().UTC(),
		})
		return &errs.BudgetExceeded{Kind: kind, Limit: limitFor(kind, t.budget), Current: currentFor(kind, agg)}
	}

	if worst*100 >= t.budget.WarnAtPercent && t.budget.WarnAtPercent > 0 {
		_ = t.appendAlert(Alert{
			Type:    "budget_warning",
			Message: "budget warning (" + kind + ")",
			TS:      time.Now().UTC(),
		})
	}
	return nil
}

func ratio(current, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return current / max
}

func limitFor(kind string, b Budget) float64 {
	if kind == "tokens" {
		return float64(b.MaxTokens)
	}
	return b.MaxCostUSD
}

func currentFor(kind string, agg Aggregate) float64 {
	if kind == "tokens" {
		return float64(agg.TotalPromptTokens + agg.TotalCompletionTokens)
	}
	return agg.TotalCostUSD
}

// Aggregate returns a read-only snapshot of the running totals, taken
// without the lock per the gateway's "read-only snapshots accept
// inconsistent intermediate states" policy (spec §5).
func (t *Tracker) Aggregate() Aggregate {
	doc, err := t.load()
	if err != nil {
		return Aggregate{}
	}
	return doc.Aggregate
}

// Recent returns the last n records (fewer if the log is shorter).
func (t *Tracker) Recent(n int) []Record {
	doc, err := t.load()
	if err != nil || n <= 0 {
		return nil
	}
	if n > len(doc.Records) {
		n = len(doc.Records)
	}
	return append([]Record(nil), doc.Records[len(doc.Records)-n:]...)
}

func (t *Tracker) load() (document, error) {
	data, err := os.ReadFile(t.statsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return document{}, nil
		}
		return document{}, err
	}
	if len(data) == 0 {
		return document{}, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, nil
	}
	return doc, nil
}

func (t *Tracker) save(doc document) error {
	if err := os.MkdirAll(filepath.Dir(t.statsPath), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := t.statsPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, t.statsPath)
}

func (t *Tracker) appendAlert(a Alert) error {
	if err := os.MkdirAll(filepath.Dir(t.alertsPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(t.alertsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	return enc.Encode(a)
}

// Alerts returns the last n lines of memory/alerts.jsonl, newest last
// (fewer if the log is shorter or absent).
func (t *Tracker) Alerts(n int) []Alert {
	if n <= 0 {
		return nil
	}
	data, err := os.ReadFile(t.alertsPath)
	if err != nil {
		return nil
	}
	var all []Alert
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var a Alert
		if err := dec.Decode(&a); err != nil {
			break
		}
		all = append(all, a)
	}
	if n > len(all) {
		n = len(all)
	}
	return all[len(all)-n:]
}

// Budget returns the currently configured budget policy.
func (t *Tracker) Budget() Budget {
	return t.budget
}

// SetBudget replaces the enforced budget policy (spec §4.7's POST
// /v1/budget endpoint).
func (t *Tracker) SetBudget(b Budget) {
	t.budget = b
	t.warnedThisBudget = false
}
