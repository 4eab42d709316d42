package gateway

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cleoai/cleo/internal/config"
)

func (g *Gateway) skillsDir() string {
	return filepath.Join(g.WorkDir, "skills")
}

// handleListSkills lists team.md plus every skills/agents/*.md file by
// its bare name (no directory, no extension).
func (g *Gateway) handleListSkills(w http.ResponseWriter, r *http.Request) {
	var names []string
	if _, err := os.Stat(filepath.Join(g.skillsDir(), "team.md")); err == nil {
		names = append(names, "team")
	}
	entries, _ := os.ReadDir(filepath.Join(g.skillsDir(), "agents"))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, strings.TrimSuffix(e.Name(), ".md"))
		}
	}
	writeJSON(w, http.StatusOK, names)
}

func (g *Gateway) skillPath(name string) (string, bool) {
	if !config.ValidName(name) {
		return "", false
	}
	if name == "team" {
		return filepath.Join(g.skillsDir(), "team.md"), true
	}
	return filepath.Join(g.skillsDir(), "agents", name+".md"), true
}

func (g *Gateway) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	path, ok := g.skillPath(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid skill name")
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "skill not found")
		return
	}
	w.Header().Set("Content-Type", "text/markdown")
	_, _ = w.Write(data)
}

func (g *Gateway) handlePutSkill(w http.ResponseWriter, r *http.Request) {
	path, ok := g.skillPath(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid skill name")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (g *Gateway) handleDeleteSkill(w http.ResponseWriter, r *http.Request) {
	path, ok := g.skillPath(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid skill name")
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
