package gateway

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// allowedAgentEnvFields is the allow-list PUT /v1/agents/:id may write into
// .env (spec §4.7: "agent updates with allow-listed fields auto-writing
// .env"). Roster identity (role, skills, tool scoping) lives in
// config/agents.yaml and is never touched here.
var allowedAgentEnvFields = map[string]bool{
	"api_key":       true,
	"base_url":      true,
	"model_override": true,
}

// writeEnvUpdates rewrites KEY=VALUE lines for agentID's allow-listed
// fields into workDir/.env. Every other KEY=VALUE line is kept as written;
// comment lines and lines without '=' are dropped, and the file is written
// back sorted by key.
func writeEnvUpdates(workDir, agentID string, updates map[string]string, allowed map[string]bool) error {
	path := workDir + "/.env"
	existing := map[string]string{}
	var order []string

	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			key, _, ok := strings.Cut(line, "=")
			if !ok || strings.HasPrefix(strings.TrimSpace(line), "#") {
				continue
			}
			key = strings.TrimSpace(key)
			existing[key] = line
			order = append(order, key)
		}
		f.Close()
	}

	prefix := strings.ToUpper(agentID) + "_"
	for field, val := range updates {
		if !allowed[field] {
			continue
		}
		key := prefix + strings.ToUpper(field)
		if _, seen := existing[key]; !seen {
			order = append(order, key)
		}
		existing[key] = fmt.Sprintf("%s=%s", key, val)
	}

	sort.Strings(order)
	seen := map[string]bool{}
	var lines []string
	for _, k := range order {
		if seen[k] {
			continue
		}
		seen[k] = true
		lines = append(lines, existing[k])
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
