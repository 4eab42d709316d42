// Package gateway implements the single-port HTTP control surface (spec
// §4.7): task submission/control, observability, budget/alerts, skills
// CRUD, and agent config updates. Where the source kept this state in
// module-level globals (_token, _start_time, _config), Gateway holds it
// as an explicit struct so multiple instances never alias each other's
// auth token or start time (spec §9's resolved Open Question).
package gateway

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cleoai/cleo/internal/a2a"
	"github.com/cleoai/cleo/internal/config"
	"github.com/cleoai/cleo/internal/contextbus"
	"github.com/cleoai/cleo/internal/orchestrator"
	"github.com/cleoai/cleo/internal/taskboard"
	"github.com/cleoai/cleo/internal/usage"
)

// maxBodyBytes caps every request body (spec §5's resource caps).
const maxBodyBytes = 10 << 20

// Gateway owns every piece of state the HTTP surface reads or mutates.
type Gateway struct {
	Board   *taskboard.Board
	Bus     *contextbus.Bus
	Usage   *usage.Tracker
	Orch    *orchestrator.Orchestrator
	Config  *config.Config
	WorkDir string
	Token   string // empty disables bearer auth (local/dev mode)

	A2A *a2a.Server // nil disables the A2A endpoints (a2a.server.enabled == false)

	startedAt time.Time
}

// New wires a Gateway over an already-constructed Orchestrator and its
// collaborators.
func New(orch *orchestrator.Orchestrator, cfg *config.Config, workDir, token string) *Gateway {
	return &Gateway{
		Board:     orch.Board,
		Bus:       orch.Bus,
		Usage:     orch.Usage,
		Orch:      orch,
		Config:    cfg,
		WorkDir:   workDir,
		Token:     token,
		startedAt: time.Now().UTC(),
	}
}

// Router builds the full chi mux: public root/health, bearer-guarded
// everything else, permissive CORS (spec §4.7).
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	r.Use(bodyCapMiddleware)

	r.Get("/", g.handleRoot)
	r.Get("/health", g.handleHealth)

	// A2A's own JSON-RPC surface carries its own trust-tier security model
	// (spec §4.9), so it sits outside the bearer-token group; only the
	// Agent Card at /.well-known/agent.json is spec-mandated public, but
	// the RPC endpoint itself is meant for other agents, not gateway
	// operators, so it is never bearer-gated either.
	if g.A2A != nil {
		g.A2A.Routes(r)
	}

	r.Group(func(r chi.Router) {
		r.Use(g.authMiddleware)

		r.Post("/v1/task", g.handleSubmitTask)
		r.Get("/v1/task/{id}", g.handleGetTask)
		r.Get("/v1/status", g.handleStatus)
		r.Post("/v1/task/{id}/cancel", g.handleTaskCancel)
		r.Post("/v1/task/{id}/pause", g.handleTaskPause)
		r.Post("/v1/task/{id}/resume", g.handleTaskResume)
		r.Post("/v1/task/{id}/retry", g.handleTaskRetry)
		r.Post("/v1/tasks/cancel_all", g.handleCancelAll)

		r.Get("/v1/scores", g.handleScores)
		r.Get("/v1/agents", g.handleAgents)
		r.Put("/v1/agents/{id}", g.handleUpdateAgent)
		r.Get("/v1/usage", g.handleUsage)
		r.Get("/v1/usage/recent", g.handleUsageRecent)
		r.Get("/v1/config", g.handleConfig)
		r.Get("/v1/doctor", g.handleDoctor)
		r.Get("/v1/heartbeat", g.handleHeartbeat)
		r.Get("/v1/events", g.handleEvents)

		r.Get("/v1/budget", g.handleGetBudget)
		r.Post("/v1/budget", g.handleSetBudget)
		r.Get("/v1/alerts", g.handleAlerts)

		r.Get("/v1/skills", g.handleListSkills)
		r.Get("/v1/skills/{name}", g.handleGetSkill)
		r.Put("/v1/skills/{name}", g.handlePutSkill)
		r.Delete("/v1/skills/{name}", g.handleDeleteSkill)
	})

	return r
}

func (g *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"service": "cleo", "status": "ok"})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime_seconds": time.Since(g.startedAt).Seconds(),
	})
}

func bodyCapMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[gateway] %s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
