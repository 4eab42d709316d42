package a2a

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/cleoai/cleo/internal/taskboard"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	board, err := taskboard.New(filepath.Join(t.TempDir(), ".task_board.json"))
	if err != nil {
		t.Fatal(err)
	}
	bridge := NewBridge(board, t.TempDir())
	srv := NewServer(bridge, AgentCard{Name: "cleo-test"})

	r := chi.NewRouter()
	srv.Routes(r)
	return srv, httptest.NewServer(r)
}

func rpcCall(t *testing.T, base, method string, params any) rpcResponse {
	t.Helper()
	paramsRaw, _ := json.Marshal(params)
	body, _ := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: paramsRaw, ID: json.RawMessage(`"1"`)})
	resp, err := http.Post(base+"/a2a", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestAgentCardServedPublicly(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/.well-known/agent.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var card AgentCard
	if json.NewDecoder(resp.Body).Decode(&card) != nil || card.Name != "cleo-test" {
		t.Fatalf("expected agent card for cleo-test, got %+v", card)
	}
}

func TestMessageSendAsyncReturnsSubmittedTask(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()

	out := rpcCall(t, ts.URL, "message/send", map[string]any{
		"message": Message{Parts: []Part{{Kind: PartKindText, Text: "What is 2+2?"}}},
	})
	if out.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", out.Error)
	}
	raw, _ := json.Marshal(out.Result)
	var task Task
	json.Unmarshal(raw, &task)
	if !strings.HasPrefix(task.ID, "a2a-") || task.Status.State != StateSubmitted {
		t.Fatalf("expected submitted a2a- task, got %+v", task)
	}
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()
	out := rpcCall(t, ts.URL, "bogus/method", map[string]any{})
	if out.Error == nil || out.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", out.Error)
	}
}

func TestTasksGetUnknownIDReturnsServerError(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()
	out := rpcCall(t, ts.URL, "tasks/get", map[string]any{"id": "a2a-missing"})
	if out.Error == nil || out.Error.Code != codeServerError {
		t.Fatalf("expected server error, got %+v", out.Error)
	}
}
