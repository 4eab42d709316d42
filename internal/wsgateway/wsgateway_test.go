package wsgateway

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

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
	orch := orchestrator.New(board, bus, tracker, dir, nil)
	gw := New(orch, dir, token)
	return gw, httptest.NewServer(http.HandlerFunc(gw.ServeHTTP))
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func TestConnectWithoutTokenRejected(t *testing.T) {
	_, ts := newTestGateway(t, "secret")
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestInitialSnapshotSentOnConnect(t *testing.T) {
	_, ts := newTestGateway(t, "")
	defer ts.Close()
	conn := dial(t, ts, "")
	defer conn.Close()

	var out map[string]any
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatal(err)
	}
	if out["type"] != "snapshot" {
		t.Fatalf("expected snapshot, got %+v", out)
	}
}

func TestPingCommandReturnsPong(t *testing.T) {
	_, ts := newTestGateway(t, "")
	defer ts.Close()
	conn := dial(t, ts, "")
	defer conn.Close()

	var snap map[string]any
	conn.ReadJSON(&snap)

	if err := conn.WriteJSON(clientCommand{Command: "ping"}); err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatal(err)
	}
	if out["type"] != "pong" {
		t.Fatalf("expected pong, got %+v", out)
	}
}

func TestSubmitTaskCommandCreatesTask(t *testing.T) {
	gw, ts := newTestGateway(t, "")
	defer ts.Close()
	conn := dial(t, ts, "")
	defer conn.Close()

	var snap map[string]any
	conn.ReadJSON(&snap)

	if err := conn.WriteJSON(clientCommand{Command: "submit_task", Description: "do the thing"}); err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatal(err)
	}
	if out["type"] != "submitted" {
		t.Fatalf("expected submitted, got %+v", out)
	}
	if len(gw.Board.List()) != 1 {
		t.Fatalf("expected one task on the board, got %d", len(gw.Board.List()))
	}
}
