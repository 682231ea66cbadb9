package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (srv *Server) sessionFor(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	s, err := srv.manager.Get(r.URL.Query().Get("session"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownSession) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return nil, false
	}
	return s, true
}

// HandleSessions lists the sessions.
// GET /sessions
func (srv *Server) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, srv.manager.List())
}

// HandleMetrics reports one session's counters.
// GET /metrics?session=main
func (srv *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	s, ok := srv.sessionFor(w, r)
	if !ok {
		return
	}
	payload := map[string]any{
		"session": s.ID,
		"info":    s.Info(),
		"metrics": s.Metrics().Snapshot(),
	}
	if srv.journal != nil {
		payload["journal"] = srv.journal.Stats()
	}
	if srv.index != nil {
		payload["index_dropped"] = srv.index.Dropped()
	}
	writeJSON(w, http.StatusOK, payload)
}

// HandleAdminConfig reads or patches a session's rules.
// GET  /admin/config?session=main  returns the current rules
// POST /admin/config?session=main  applies a JSON ConfigPatch
func (srv *Server) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	s, ok := srv.sessionFor(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Config())
	case http.MethodPost:
		var patch ConfigPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		cfg, err := s.UpdateConfig(patch)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleConnections lists recent connections from the sqlite index.
// GET /admin/connections?session=main&limit=50
func (srv *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if srv.index == nil {
		http.Error(w, "connection index disabled", http.StatusNotFound)
		return
	}
	session := r.URL.Query().Get("session")
	if session == "" {
		session = srv.manager.cfg.DefaultSession
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := srv.index.Connections(r.Context(), session, limit)
	if err != nil {
		srv.log.Warnw("query connections", "session", session, "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []ConnectionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}
