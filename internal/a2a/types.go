// Package a2a implements Google's A2A 0.3 JSON-RPC wire protocol: inbound
// bridging of external A2A calls into TaskBoard tasks, outbound delegation
// from executor workers to external A2A agents, a capability-matching
// registry, and a 3-tier trust/security filter (spec §4.9).
package a2a

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Part is one piece of an A2A Message (spec §4.9.1). Exact field names are
// preserved for wire compatibility.
type Part struct {
	Kind     string `json:"kind"`
	Text     string `json:"text,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
	URI      string `json:"uri,omitempty"`
}

const (
	PartKindText = "text"
	PartKindFile = "file"
	PartKindData = "data"
)

// Message is one turn of an A2A conversation.
type Message struct {
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
	MessageID string `json:"messageId"`
}

// NewMessageID generates a msg-<12-hex> id (spec §4.9.1).
func NewMessageID() string { return "msg-" + randomHex(12) }

// TaskStatus is the status envelope embedded in a Task.
type TaskStatus struct {
	State     string     `json:"state"`
	Message   *Message   `json:"message,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// A2A wire task states (spec §4.9.3).
const (
	StateSubmitted     = "submitted"
	StateWorking       = "working"
	StateCompleted     = "completed"
	StateFailed        = "failed"
	StateCanceled      = "canceled"
	StateInputRequired = "input-required"
)

// Artifact is one completed-task output (spec §4.9.1).
type Artifact struct {
	ArtifactID  string         `json:"artifactId"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Task is the A2A wire representation of one delegated task.
type Task struct {
	ID        string         `json:"id"`
	ContextID string         `json:"contextId"`
	Status    TaskStatus     `json:"status"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	History   []Message      `json:"history,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Kind      string         `json:"kind"`
}

// AgentSkill is one capability an AgentCard advertises.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// Capabilities is the AgentCard's feature-support block.
type Capabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

// Authentication names the schemes a server accepts.
type Authentication struct {
	Schemes []string `json:"schemes"`
}

// AgentCard is served at /.well-known/agent.json (spec §4.9.2).
type AgentCard struct {
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	URL               string         `json:"url"`
	Version           string         `json:"version"`
	Protocol          string         `json:"protocol"`
	Capabilities      Capabilities   `json:"capabilities"`
	Skills            []AgentSkill   `json:"skills"`
	Authentication    Authentication `json:"authentication"`
	DefaultInputModes []string       `json:"defaultInputModes"`
	DefaultOutputModes []string      `json:"defaultOutputModes"`
}

func randomHex(n int) string {
	buf := make([]byte, n/2+1)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)[:n]
}
