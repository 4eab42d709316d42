// Package wsgateway implements the optional WebSocket push channel on
// HTTP_PORT+1 (spec §4.8): a full snapshot on connect, then a full snapshot
// broadcast at most once per second (no diffs are sent), plus a small client
// command set (ping, subscribe, submit_task).
package wsgateway

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cleoai/cleo/internal/contextbus"
	"github.com/cleoai/cleo/internal/orchestrator"
	"github.com/cleoai/cleo/internal/taskboard"
)

// PushInterval bounds broadcast frequency to spec §4.8's "at most 1Hz".
const PushInterval = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes; gorilla conns are not write-safe for concurrent use
}

func (c *client) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Gateway owns the set of connected clients and the board/bus it streams
// from (spec §9's explicit-struct-over-globals resolution, mirrored from
// gateway.Gateway).
type Gateway struct {
	Board   *taskboard.Board
	Bus     *contextbus.Bus
	Orch    *orchestrator.Orchestrator
	WorkDir string
	Token   string // empty disables ?token= auth

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New returns a Gateway ready to accept connections and push snapshots.
func New(orch *orchestrator.Orchestrator, workDir, token string) *Gateway {
	return &Gateway{
		Board:   orch.Board,
		Bus:     orch.Bus,
		Orch:    orch,
		WorkDir: workDir,
		Token:   token,
		clients: map[*client]struct{}{},
	}
}

// ServeHTTP upgrades the connection, authenticates via ?token=, sends the
// initial full snapshot, then reads client commands until the socket
// closes (spec §4.8).
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.Token != "" && r.URL.Query().Get("token") != g.Token {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[wsgateway] upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn}

	g.mu.Lock()
	g.clients[c] = struct{}{}
	g.mu.Unlock()
	defer g.removeClient(c)

	if err := c.send(snapshotEvent(g.buildSnapshot())); err != nil {
		return
	}

	for {
		var msg clientCommand
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		g.handleCommand(c, msg)
	}
}

func (g *Gateway) removeClient(c *client) {
	g.mu.Lock()
	delete(g.clients, c)
	g.mu.Unlock()
	_ = c.conn.Close()
}

// Run pushes a fresh snapshot to every connected client at most once per
// PushInterval until stop is closed. Dead connections are pruned on their
// first failed write (spec §4.8: "broadcast to all clients, dead-connection
// pruning on first send failure").
func (g *Gateway) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.broadcast(snapshotEvent(g.buildSnapshot()))
		}
	}
}

func (g *Gateway) broadcast(v any) {
	g.mu.Lock()
	targets := make([]*client, 0, len(g.clients))
	for c := range g.clients {
		targets = append(targets, c)
	}
	g.mu.Unlock()

	for _, c := range targets {
		if err := c.send(v); err != nil {
			g.removeClient(c)
		}
	}
}

func snapshotEvent(snap map[string]any) map[string]any {
	return map[string]any{"type": "snapshot", "data": snap}
}

func (g *Gateway) buildSnapshot() map[string]any {
	tasks := g.Board.List()
	dir := g.WorkDir + "/.heartbeats"
	agents := map[string]bool{}
	for _, a := range g.Orch.Agents {
		agents[a.ID] = orchestrator.AgentOnline(dir, a.ID)
	}
	return map[string]any{"tasks": tasks, "agents": agents}
}

// clientCommand is the envelope for every inbound message (spec §4.8's
// "ping, subscribe, submit_task").
type clientCommand struct {
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
}

func (g *Gateway) handleCommand(c *client, msg clientCommand) {
	switch msg.Command {
	case "ping":
		_ = c.send(map[string]string{"type": "pong"})
	case "subscribe":
		_ = c.send(snapshotEvent(g.buildSnapshot()))
	case "submit_task":
		if msg.Description == "" {
			_ = c.send(map[string]string{"type": "error", "message": "description is required"})
			return
		}
		id, err := g.Orch.Submit(msg.Description)
		if err != nil {
			_ = c.send(map[string]string{"type": "error", "message": err.Error()})
			return
		}
		_ = c.send(map[string]any{"type": "submitted", "task_id": id})
	default:
		_ = c.send(map[string]string{"type": "error", "message": "unknown command"})
	}
}
