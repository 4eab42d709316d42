package a2a

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// JSON-RPC 2.0 error codes (spec §4.9.6).
const (
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Server is the A2A JSON-RPC 2.0 dispatcher (spec §4.9.6).
type Server struct {
	Bridge      *Bridge
	Card        AgentCard
	PollInterval time.Duration
}

// NewServer returns a Server wired to bridge, advertising card.
func NewServer(bridge *Bridge, card AgentCard) *Server {
	return &Server{Bridge: bridge, Card: card, PollInterval: 500 * time.Millisecond}
}

// Routes mounts the Agent Card (public) and the JSON-RPC + SSE endpoints.
func (s *Server) Routes(r chi.Router) {
	r.Get("/.well-known/agent.json", s.handleAgentCard)
	r.Post("/a2a", s.handleRPC)
	r.Get("/a2a/tasks/{id}/events", s.handleTaskEvents)
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Card)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20)).Decode(&req); err != nil {
		writeRPCError(w, nil, codeInvalidRequest, "malformed JSON-RPC envelope")
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPCError(w, req.ID, codeInvalidRequest, "jsonrpc must be \"2.0\" and method must be set")
		return
	}

	switch req.Method {
	case "message/send":
		s.handleMessageSend(w, req)
	case "tasks/get":
		s.handleTasksGet(w, req)
	case "tasks/cancel":
		s.handleTasksCancel(w, req)
	default:
		writeRPCError(w, req.ID, codeMethodNotFound, "unknown method "+req.Method)
	}
}

type messageSendParams struct {
	Message   Message `json:"message"`
	ContextID string  `json:"contextId"`
	Sync      bool    `json:"sync"`
	TimeoutMS int     `json:"timeout_ms"`
}

// handleMessageSend implements spec §4.9.6's async-default / sync-variant
// message/send dispatch.
func (s *Server) handleMessageSend(w http.ResponseWriter, req rpcRequest) {
	var params messageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, codeInvalidParams, "invalid message/send params")
		return
	}

	task, err := s.Bridge.HandleInbound(params.Message, params.ContextID)
	if err != nil {
		writeRPCError(w, req.ID, codeServerError, err.Error())
		return
	}

	if !params.Sync || params.TimeoutMS <= 0 {
		writeRPCResult(w, req.ID, task)
		return
	}

	deadline := time.Now().Add(time.Duration(params.TimeoutMS) * time.Millisecond)
	for time.Now().Before(deadline) {
		current, err := s.Bridge.GetTaskStatus(task.ID)
		if err == nil && Terminal(current.Status.State) {
			writeRPCResult(w, req.ID, current)
			return
		}
		time.Sleep(s.PollInterval)
	}
	final, _ := s.Bridge.GetTaskStatus(task.ID)
	writeRPCResult(w, req.ID, final)
}

type idParams struct {
	ID string `json:"id"`
}

func (s *Server) handleTasksGet(w http.ResponseWriter, req rpcRequest) {
	var params idParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		writeRPCError(w, req.ID, codeInvalidParams, "tasks/get requires an id")
		return
	}
	task, err := s.Bridge.GetTaskStatus(params.ID)
	if err != nil {
		writeRPCError(w, req.ID, codeServerError, err.Error())
		return
	}
	writeRPCResult(w, req.ID, task)
}

func (s *Server) handleTasksCancel(w http.ResponseWriter, req rpcRequest) {
	var params idParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		writeRPCError(w, req.ID, codeInvalidParams, "tasks/cancel requires an id")
		return
	}
	task, err := s.Bridge.CancelTask(params.ID)
	if err != nil {
		writeRPCError(w, req.ID, codeServerError, err.Error())
		return
	}
	writeRPCResult(w, req.ID, task)
}

// handleTaskEvents streams status/artifact/done/error SSE frames for one
// task (spec §4.9.6's dedicated SSE endpoint).
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var lastState string
	deadline := time.Now().Add(10 * time.Minute)
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		task, err := s.Bridge.GetTaskStatus(id)
		if err != nil {
			writeSSE(w, "error", map[string]string{"error": err.Error()})
			flusher.Flush()
			return
		}
		if task.Status.State != lastState {
			writeSSE(w, "status", task.Status)
			flusher.Flush()
			lastState = task.Status.State
			if task.Status.State == StateCompleted {
				for _, a := range task.Artifacts {
					writeSSE(w, "artifact", a)
				}
				flusher.Flush()
			}
		}
		if Terminal(task.Status.State) {
			writeSSE(w, "done", map[string]string{"state": task.Status.State})
			flusher.Flush()
			return
		}
		if time.Now().After(deadline) {
			writeSSE(w, "error", map[string]string{"error": "timeout"})
			flusher.Flush()
			return
		}
		time.Sleep(s.PollInterval)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

func writeSSE(w http.ResponseWriter, event string, data any) {
	body, _ := json.Marshal(data)
	_, _ = w.Write([]byte("event: " + event + "\ndata: " + string(body) + "\n\n"))
}
