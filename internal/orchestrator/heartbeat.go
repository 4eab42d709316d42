package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// heartbeatFreshness is how recent a heartbeat file's mtime must be for an
// agent to count as online (spec §4.3.2 step 9).
const heartbeatFreshness = 30 * time.Second

// Heartbeat is the liveness record one worker writes every loop iteration
// (spec §6.1, ".heartbeats/<agent_id>.json").
type Heartbeat struct {
	Status   string    `json:"status"`
	Progress string    `json:"progress,omitempty"`
	TS       time.Time `json:"ts"`
}

func writeHeartbeat(dir, agentID string, hb Heartbeat) error {
	if hb.TS.IsZero() {
		hb.TS = time.Now().UTC()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, agentID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// AgentOnline reports whether agentID's heartbeat file was written within
// heartbeatFreshness of now (spec §4.3.2 step 9: "Online iff file mtime is
// within the last 30s").
func AgentOnline(dir, agentID string) bool {
	info, err := os.Stat(filepath.Join(dir, agentID+".json"))
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) <= heartbeatFreshness
}
