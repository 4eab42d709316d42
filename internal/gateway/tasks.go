package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type submitTaskRequest struct {
	Description string `json:"description"`
}

type submitTaskResponse struct {
	TaskID string `json:"task_id"`
}

// handleSubmitTask implements POST /v1/task: writes the IntentAnchor and
// creates the root planner task, returning its id immediately (the caller
// polls GET /v1/task/:id or listens on /v1/events for completion).
func (g *Gateway) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}
	id, err := g.Orch.Submit(req.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, submitTaskResponse{TaskID: id})
}

func (g *Gateway) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task := g.Board.Get(id)
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleStatus implements GET /v1/status: the full board snapshot plus a
// quiescence rollup, for clients that want everything in one call.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	tasks := g.Board.List()
	live := 0
	for _, t := range tasks {
		if t.Status.Live() {
			live++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":      tasks,
		"live_count": live,
		"quiescent":  live == 0,
	})
}

func (g *Gateway) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !g.Board.Cancel(id) {
		writeError(w, http.StatusConflict, "task not cancellable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (g *Gateway) handleTaskPause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !g.Board.Pause(id) {
		writeError(w, http.StatusConflict, "task not pausable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (g *Gateway) handleTaskResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !g.Board.Resume(id) {
		writeError(w, http.StatusConflict, "task not resumable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}

func (g *Gateway) handleTaskRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !g.Board.Retry(id) {
		writeError(w, http.StatusConflict, "task not retryable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}

func (g *Gateway) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	n := g.Board.CancelAll()
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}
