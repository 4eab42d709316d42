package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/cleoai/cleo/internal/config"
	"github.com/cleoai/cleo/internal/contextbus"
	"github.com/cleoai/cleo/internal/orchestrator"
	"github.com/cleoai/cleo/internal/taskboard"
	"github.com/cleoai/cleo/internal/usage"
)

func newTestGateway(t *testing.T, token string) (*Gateway, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	board, err := taskboard.New(filepath.Join(dir, ".task_board.json"))
	if err != nil {
		t.Fatal(err)
	}
	bus := contextbus.New(filepath.Join(dir, ".context_bus.json"))
	tracker := usage.New(filepath.Join(dir, "memory"), usage.Budget{})
	orch := orchestrator.New(board, bus, tracker, dir, []orchestrator.AgentConfig{{ID: "leo", Role: "planner"}})
	cfg := &config.Config{}

	gw := New(orch, cfg, dir, token)
	return gw, httptest.NewServer(gw.Router())
}

func TestHealthIsPublicWithoutToken(t *testing.T) {
	_, ts := newTestGateway(t, "secret")
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	_, ts := newTestGateway(t, "secret")
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSubmitTaskAndGetTaskRoundTrip(t *testing.T) {
	_, ts := newTestGateway(t, "")
	defer ts.Close()

	body, _ := json.Marshal(submitTaskRequest{Description: "summarize the changelog"})
	resp, err := http.Post(ts.URL+"/v1/task", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	var submitted submitTaskResponse
	json.NewDecoder(resp.Body).Decode(&submitted)
	if submitted.TaskID == "" {
		t.Fatal("expected a task id")
	}

	getResp, err := http.Get(ts.URL + "/v1/task/" + submitted.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}
}

func TestCancelAllReturnsCount(t *testing.T) {
	gw, ts := newTestGateway(t, "")
	defer ts.Close()
	gw.Board.Create("task one")
	gw.Board.Create("task two")

	resp, err := http.Post(ts.URL+"/v1/tasks/cancel_all", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]int
	json.NewDecoder(resp.Body).Decode(&out)
	if out["cancelled"] != 2 {
		t.Fatalf("expected 2 cancelled, got %+v", out)
	}
}

func TestConfigEndpointMasksAPIKey(t *testing.T) {
	_, ts := newTestGateway(t, "")
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/v1/config")
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	llm, ok := out["llm"].(map[string]any)
	if !ok {
		t.Fatalf("expected llm section, got %+v", out)
	}
	if _, has := llm["api_key"]; has {
		t.Fatal("expected raw api_key to never appear in sanitized config")
	}
}
