// Package tools provides the local tool catalog and the orchestrator.ToolExecutor
// implementation that dispatches by name, including the a2a_delegate
// sentinel that routes through an A2A outbound client instead of a local
// tool (spec §4.4.3, §4.9.10).
package tools

import (
	"context"
	"fmt"
	"os"

	"github.com/cleoai/cleo/internal/a2a"
	"github.com/cleoai/cleo/internal/contextbus"
	"github.com/cleoai/cleo/internal/protocol"
	"github.com/cleoai/cleo/internal/router"
)

// Catalog is the full set of tools the resolver narrows per agent/task
// (spec §4.4.3).
var Catalog = []router.ToolDescriptor{
	{Name: "fs_read", Category: protocol.ToolCategoryFS},
	{Name: "fs_write", Category: protocol.ToolCategoryFS},
	{Name: "web_fetch", Category: protocol.ToolCategoryWeb},
	{Name: "memory_recall", Category: protocol.ToolCategoryMemory},
	{Name: "memory_store", Category: protocol.ToolCategoryMemory},
	{Name: "a2a_delegate", Category: protocol.ToolCategoryA2ADelegate},
}

// Executor dispatches a parsed tool call by name. It is the concrete
// orchestrator.ToolExecutor supplied at wiring time (spec §9: the
// a2a_delegate special-case lives here, not in internal/orchestrator, to
// avoid a circular import between orchestrator and a2a).
type Executor struct {
	WorkDir    string
	Bus        *contextbus.Bus
	A2AClient  *a2a.Client // nil disables a2a_delegate
	HTTPFetch  func(ctx context.Context, url string) (string, error)
}

// Catalog implements orchestrator.ToolExecutor.
func (e *Executor) Catalog() []router.ToolDescriptor { return Catalog }

// Execute implements orchestrator.ToolExecutor.
func (e *Executor) Execute(ctx context.Context, tool string, params map[string]any) (string, error) {
	switch tool {
	case "fs_read":
		return e.fsRead(params)
	case "fs_write":
		return e.fsWrite(params)
	case "memory_recall":
		return e.memoryRecall(params)
	case "memory_store":
		return e.memoryStore(params)
	case "web_fetch":
		return e.webFetch(ctx, params)
	case "a2a_delegate":
		return e.a2aDelegate(ctx, params)
	default:
		return "", fmt.Errorf("tools: unknown tool %q", tool)
	}
}

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func (e *Executor) fsRead(params map[string]any) (string, error) {
	path, err := router.SanitizeFilePath(stringParam(params, "path"), false)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (e *Executor) fsWrite(params map[string]any) (string, error) {
	path, err := router.SanitizeFilePath(stringParam(params, "path"), true)
	if err != nil {
		return "", err
	}
	content := stringParam(params, "content")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return "wrote " + path, nil
}

func (e *Executor) memoryRecall(params map[string]any) (string, error) {
	key := stringParam(params, "key")
	var out any
	ok, err := e.Bus.Get("memory:"+key, &out)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return fmt.Sprintf("%v", out), nil
}

func (e *Executor) memoryStore(params map[string]any) (string, error) {
	key := stringParam(params, "key")
	value := stringParam(params, "value")
	if err := e.Bus.Set("memory:"+key, value); err != nil {
		return "", err
	}
	return "stored", nil
}

func (e *Executor) webFetch(ctx context.Context, params map[string]any) (string, error) {
	if e.HTTPFetch == nil {
		return "", fmt.Errorf("tools: web_fetch not configured")
	}
	raw, err := router.SanitizeURL(stringParam(params, "url"))
	if err != nil {
		return "", err
	}
	return e.HTTPFetch(ctx, raw)
}

// a2aDelegate implements spec §4.9.10: a SubTaskSpec carrying a2a_hint
// routes to the outbound A2A client instead of a local tool.
func (e *Executor) a2aDelegate(ctx context.Context, params map[string]any) (string, error) {
	if e.A2AClient == nil {
		return "", fmt.Errorf("tools: a2a client not configured")
	}
	target := stringParam(params, "agent_url")
	if target == "" {
		target = "auto"
	}
	var skills []string
	if raw, ok := params["required_skills"].([]any); ok {
		for _, s := range raw {
			if str, ok := s.(string); ok {
				skills = append(skills, str)
			}
		}
	}
	result := e.A2AClient.Delegate(ctx, a2a.DelegationInput{
		AgentURL:       target,
		RequiredSkills: skills,
		Message:        stringParam(params, "message"),
		Context:        stringParam(params, "context"),
	})
	if result.Status == "failed" || result.Status == "blocked" {
		return "", fmt.Errorf("tools: a2a delegation %s: %s", result.Status, result.Error)
	}
	return result.Text, nil
}
