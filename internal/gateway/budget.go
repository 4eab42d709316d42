package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cleoai/cleo/internal/usage"
)

func (g *Gateway) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.Usage.Budget())
}

// handleSetBudget implements POST /v1/budget: replaces the enforced
// policy in memory. Operators wanting it to survive a restart also write
// config/budget.json themselves; the gateway does not persist this for
// them (spec leaves budget.json as the source of truth, this endpoint is
// the live-tuning knob).
func (g *Gateway) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	var b usage.Budget
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid budget body")
		return
	}
	g.Usage.SetBudget(b)
	writeJSON(w, http.StatusOK, b)
}

func (g *Gateway) handleAlerts(w http.ResponseWriter, r *http.Request) {
	n := 100
	if q := r.URL.Query().Get("n"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 {
			n = v
		}
	}
	writeJSON(w, http.StatusOK, g.Usage.Alerts(n))
}
