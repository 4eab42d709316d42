package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/cleoai/cleo/internal/orchestrator"
)

const eventsPollInterval = 1500 * time.Millisecond

type compactTask struct {
	S  string  `json:"s"`
	A  string  `json:"a,omitempty"`
	D  string  `json:"d"`
	CA *string `json:"ca,omitempty"`
	CO *string `json:"co,omitempty"`
	RC int     `json:"rc"`
	RS float64 `json:"rs,omitempty"`
}

type compactSnapshot struct {
	Tasks     map[string]compactTask `json:"tasks"`
	Agents    map[string]bool        `json:"agents"`
	Budget    any                    `json:"budget"`
}

// handleEvents implements GET /v1/events: a compact hash-deduped state
// snapshot, pushed at most once every 1.5s, keepalive comments otherwise
// (spec §4.7).
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(eventsPollInterval)
	defer ticker.Stop()

	var lastHash string
	for {
		snap := g.buildSnapshot()
		raw, _ := json.Marshal(snap)
		sum := sha256.Sum256(raw)
		hash := hex.EncodeToString(sum[:])

		if hash != lastHash {
			lastHash = hash
			fmt.Fprintf(w, "event: state\ndata: %s\n\n", raw)
		} else {
			fmt.Fprint(w, ": keepalive\n\n")
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (g *Gateway) buildSnapshot() compactSnapshot {
	tasks := map[string]compactTask{}
	for _, t := range g.Board.List() {
		desc := t.Description
		if len(desc) > 60 {
			desc = desc[:60]
		}
		ct := compactTask{S: string(t.Status), A: t.AgentID, D: desc, RC: t.RetryCount, RS: t.AvgReviewScore()}
		if t.ClaimedAt != nil {
			s := t.ClaimedAt.Format(time.RFC3339)
			ct.CA = &s
		}
		if t.CompletedAt != nil {
			s := t.CompletedAt.Format(time.RFC3339)
			ct.CO = &s
		}
		tasks[t.ID] = ct
	}

	agents := map[string]bool{}
	dir := filepath.Join(g.WorkDir, ".heartbeats")
	for _, a := range g.Orch.Agents {
		agents[a.ID] = orchestrator.AgentOnline(dir, a.ID)
	}

	return compactSnapshot{Tasks: tasks, Agents: agents, Budget: g.Usage.Aggregate()}
}
