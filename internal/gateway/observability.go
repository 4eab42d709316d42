package gateway

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cleoai/cleo/internal/config"
	"github.com/cleoai/cleo/internal/doctor"
	"github.com/cleoai/cleo/internal/orchestrator"
)

type agentScore struct {
	AgentID string  `json:"agent_id"`
	Avg     float64 `json:"avg_score"`
	Count   int     `json:"count"`
}

// handleScores implements GET /v1/scores: the legacy per-reviewer average
// score rollup (spec's review_scores list is "legacy simple scores;
// advisory" — this is the one place that advisory data surfaces).
func (g *Gateway) handleScores(w http.ResponseWriter, r *http.Request) {
	totals := map[string]float64{}
	counts := map[string]int{}
	for _, t := range g.Board.List() {
		for _, rs := range t.ReviewScores {
			totals[rs.ReviewerID] += rs.Score
			counts[rs.ReviewerID]++
		}
	}
	scores := make([]agentScore, 0, len(counts))
	for id, n := range counts {
		scores = append(scores, agentScore{AgentID: id, Avg: totals[id] / float64(n), Count: n})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].AgentID < scores[j].AgentID })
	writeJSON(w, http.StatusOK, scores)
}

type agentStatus struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Model    string `json:"model"`
	Online   bool   `json:"online"`
	Progress string `json:"progress,omitempty"`
}

// handleAgents implements GET /v1/agents: the configured roster joined
// with live heartbeat status.
func (g *Gateway) handleAgents(w http.ResponseWriter, r *http.Request) {
	dir := filepath.Join(g.WorkDir, ".heartbeats")
	out := make([]agentStatus, 0, len(g.Orch.Agents))
	for _, a := range g.Orch.Agents {
		st := agentStatus{ID: a.ID, Role: a.Role, Model: a.Model, Online: orchestrator.AgentOnline(dir, a.ID)}
		if data, err := os.ReadFile(filepath.Join(dir, a.ID+".json")); err == nil {
			var hb orchestrator.Heartbeat
			if json.Unmarshal(data, &hb) == nil {
				st.Progress = hb.Progress
			}
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleUpdateAgent implements PUT /v1/agents/:id: rewrites the
// allow-listed runtime-tunable fields into .env (spec §4.7's "agent
// updates with allow-listed fields auto-writing .env"). Roster shape
// (role, skills, tool scoping) is config/agents.yaml's concern and is not
// mutated here.
func (g *Gateway) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	var found bool
	for _, a := range g.Orch.Agents {
		if a.ID == id {
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}
	if err := writeEnvUpdates(g.WorkDir, id, req, allowedAgentEnvFields); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (g *Gateway) handleUsage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.Usage.Aggregate())
}

func (g *Gateway) handleUsageRecent(w http.ResponseWriter, r *http.Request) {
	n := 50
	if q := r.URL.Query().Get("n"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 {
			n = v
		}
	}
	writeJSON(w, http.StatusOK, g.Usage.Recent(n))
}

func (g *Gateway) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, config.SanitizeForDisplay(g.Config))
}

func (g *Gateway) handleDoctor(w http.ResponseWriter, r *http.Request) {
	ids := make([]string, 0, len(g.Orch.Agents))
	for _, a := range g.Orch.Agents {
		ids = append(ids, a.ID)
	}
	deep := r.URL.Query().Get("deep") == "true"
	writeJSON(w, http.StatusOK, doctor.Run(doctor.Options{WorkDir: g.WorkDir, AgentIDs: ids, Deep: deep}))
}

func (g *Gateway) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	dir := filepath.Join(g.WorkDir, ".heartbeats")
	out := map[string]bool{}
	for _, a := range g.Orch.Agents {
		out[a.ID] = orchestrator.AgentOnline(dir, a.ID)
	}
	writeJSON(w, http.StatusOK, out)
}
