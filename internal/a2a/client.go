package a2a

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxInlineFileBytes is the per-file inline base64 attachment cap (spec
// §4.9.7, §5's resource caps).
const maxInlineFileBytes = 10 << 20

// DelegationInput is what an executor worker supplies when tool_hint
// contains a2a_delegate (spec §4.9.7).
type DelegationInput struct {
	AgentURL       string // or "auto"
	RequiredSkills []string
	Message        string
	Files          []string // local paths to attach
	Timeout        time.Duration
	Context        string
}

// DelegationResult is the outbound client's return record (spec §4.9.7
// step 9).
type DelegationResult struct {
	Status     string
	Text       string
	Files      []string
	Rounds     int
	AgentURL   string
	AgentName  string
	TrustLevel string
	Duration   time.Duration
	Error      string
	Warnings   []string
}

// Client is the outbound A2A delegation client (spec §4.9.7).
type Client struct {
	Registry *Registry
	Filter   *SecurityFilter
	WorkDir  string
	http     *http.Client
}

// NewClient returns a Client backed by registry, using filter for
// outbound/inbound sanitization.
func NewClient(registry *Registry, filter *SecurityFilter, workDir string) *Client {
	return &Client{Registry: registry, Filter: filter, WorkDir: workDir, http: &http.Client{}}
}

// Delegate implements spec §4.9.7's full outbound flow: resolve, sanitize,
// submit, adaptively poll, extract, and validate.
func (c *Client) Delegate(ctx context.Context, in DelegationInput) DelegationResult {
	start := time.Now()

	agent, err := c.Registry.Resolve(in.AgentURL, in.RequiredSkills)
	if err != nil {
		return DelegationResult{Status: "failed", Error: err.Error(), Duration: time.Since(start)}
	}
	trust := agent.TrustLevel
	if trust == "" {
		trust = ResolveTrust(agent.URL, nil, c.Registry.RegistryHosts())
	}

	text := c.Filter.SanitizeOutbound(in.Message, trust)

	parts := []Part{{Kind: PartKindText, Text: text}}
	if PolicyFor(trust).AllowFileSend {
		for _, path := range in.Files {
			part, err := attachFile(path)
			if err == nil {
				parts = append(parts, part)
			}
		}
	}

	submitTimeout := in.Timeout
	if submitTimeout <= 0 || submitTimeout > 30*time.Second {
		submitTimeout = 30 * time.Second
	}
	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	msg := Message{Role: "user", Parts: parts, MessageID: NewMessageID()}
	task, err := c.send(submitCtx, agent.URL, "message/send", map[string]any{"message": msg, "contextId": in.Context})
	if err != nil {
		c.Registry.RecordFailure(agent.URL)
		return DelegationResult{Status: "failed", AgentURL: agent.URL, AgentName: agent.Name, TrustLevel: trust, Error: err.Error(), Duration: time.Since(start)}
	}
	c.Registry.RecordSuccess(agent.URL)

	rounds := 0
	maxRounds := PolicyFor(trust).MaxRounds
	backoff := 2 * time.Second
	const maxBackoff = 10 * time.Second
	deadline := time.Now().Add(overallTimeout(in.Timeout))

	for !Terminal(task.Status.State) {
		if task.Status.State == StateInputRequired {
			rounds++
			if rounds > maxRounds {
				return DelegationResult{Status: "failed", AgentURL: agent.URL, AgentName: agent.Name, TrustLevel: trust, Rounds: rounds, Error: "exceeded max input-required rounds", Duration: time.Since(start)}
			}
		}
		if time.Now().After(deadline) {
			return DelegationResult{Status: "failed", AgentURL: agent.URL, AgentName: agent.Name, TrustLevel: trust, Rounds: rounds, Error: "delegation timed out", Duration: time.Since(start)}
		}

		select {
		case <-ctx.Done():
			return DelegationResult{Status: "failed", AgentURL: agent.URL, AgentName: agent.Name, TrustLevel: trust, Error: ctx.Err().Error(), Duration: time.Since(start)}
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * 1.2)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}

		next, err := c.send(ctx, agent.URL, "tasks/get", map[string]any{"id": task.ID})
		if err != nil {
			continue
		}
		task = next
	}

	var texts []string
	var files []string
	for _, a := range task.Artifacts {
		for _, p := range a.Parts {
			switch p.Kind {
			case PartKindText:
				texts = append(texts, p.Text)
			case PartKindFile:
				if PolicyFor(trust).AllowFileReceive {
					if saved, err := receiveFile(c.WorkDir, p); err == nil {
						files = append(files, saved)
					}
				}
			}
		}
	}
	joined := strings.Join(texts, "\n")

	validation := c.Filter.ValidateInbound(joined, trust)
	if validation.Blocked {
		return DelegationResult{
			Status: "blocked", AgentURL: agent.URL, AgentName: agent.Name, TrustLevel: trust,
			Rounds: rounds, Warnings: validation.Warnings, Duration: time.Since(start),
		}
	}

	status := "completed"
	if task.Status.State == StateFailed {
		status = "failed"
	}
	return DelegationResult{
		Status: status, Text: validation.Text, Files: files, Rounds: rounds,
		AgentURL: agent.URL, AgentName: agent.Name, TrustLevel: trust,
		Duration: time.Since(start), Warnings: validation.Warnings,
	}
}

func overallTimeout(requested time.Duration) time.Duration {
	const maxTimeout = 600 * time.Second
	if requested <= 0 || requested > maxTimeout {
		return maxTimeout
	}
	return requested
}

func (c *Client) send(ctx context.Context, agentURL, method string, params any) (Task, error) {
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return Task{}, err
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: paramsRaw, ID: json.RawMessage(`"1"`)})
	if err != nil {
		return Task{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agentURL, bytes.NewReader(body))
	if err != nil {
		return Task{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Task{}, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return Task{}, fmt.Errorf("a2a client: malformed response: %w", err)
	}
	if rpcResp.Error != nil {
		return Task{}, fmt.Errorf("a2a client: %s (code %d)", rpcResp.Error.Message, rpcResp.Error.Code)
	}
	resultRaw, err := json.Marshal(rpcResp.Result)
	if err != nil {
		return Task{}, err
	}
	var task Task
	if err := json.Unmarshal(resultRaw, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

func attachFile(path string) (Part, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Part{}, err
	}
	if info.Size() > maxInlineFileBytes {
		return Part{}, fmt.Errorf("a2a: %s exceeds inline attachment limit", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Part{}, err
	}
	return Part{Kind: PartKindFile, Name: filepath.Base(path), Data: base64.StdEncoding.EncodeToString(data)}, nil
}

func receiveFile(workDir string, p Part) (string, error) {
	if p.Data == "" {
		return "", fmt.Errorf("a2a: no inline data to receive")
	}
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return "", err
	}
	name := sanitizeFilename(p.Name)
	dest := filepath.Join(workDir, "a2a", "received", name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(dest, raw, 0o644); err != nil {
		return "", err
	}
	return dest, nil
}
