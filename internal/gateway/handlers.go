package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

// handleHealth is the unauthenticated liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"agent":          s.opts.Settings.Get().AgentName,
		"uptime_seconds": time.Since(s.started).Seconds(),
		"protocol":       protocol.ProtocolVersion,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statusPayload())
}

func (s *Server) statusPayload() protocol.StatusPayload {
	st := s.opts.Settings.Get()
	var skillCount, memCount int
	if s.opts.Skills != nil {
		if list, err := s.opts.Skills.List(); err == nil {
			skillCount = len(list)
		}
	}
	if s.opts.Memory != nil {
		memCount = s.opts.Memory.Count()
	}
	return protocol.StatusPayload{
		Agent:         st.AgentName,
		Provider:      s.opts.Provider,
		Model:         s.opts.Model,
		UptimeSeconds: time.Since(s.started).Seconds(),
		Skills:        skillCount,
		MemoryEntries: memCount,
	}
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	type skillInfo struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	out := []skillInfo{}
	if s.opts.Skills != nil {
		list, err := s.opts.Skills.List()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		for _, sk := range list {
			out = append(out, skillInfo{Name: sk.Name, Description: sk.Description})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": out})
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	type memoryEntry struct {
		ID        string    `json:"id"`
		Tags      []string  `json:"tags,omitempty"`
		CreatedAt time.Time `json:"created_at"`
		Content   string    `json:"content"`
	}
	out := []memoryEntry{}
	if s.opts.Memory != nil {
		entries, err := s.opts.Memory.Recall(r.URL.Query().Get("q"), intQuery(r, "limit", 100))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		for _, e := range entries {
			out = append(out, memoryEntry{ID: e.ID, Tags: e.Tags, CreatedAt: e.CreatedAt, Content: e.Content})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out, "count": len(out)})
}

func intQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
