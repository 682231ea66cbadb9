package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server exposes the sessions over HTTP: the Play stream plus the admin and
// monitoring endpoints.
type Server struct {
	manager  *SessionManager
	index    *ConnIndex // optional
	journal  *Journal   // optional
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader
}

// NewServer builds the HTTP front of a manager. index and journal may be nil.
func NewServer(m *SessionManager, index *ConnIndex, journal *Journal, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		manager: m,
		index:   index,
		journal: journal,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// no browser front-end is served from here; allow any origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes returns the mux with every endpoint registered.
func (srv *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/play", srv.HandlePlay)
	mux.HandleFunc("/sessions", srv.HandleSessions)
	mux.HandleFunc("/metrics", srv.HandleMetrics)
	mux.HandleFunc("/admin/config", srv.HandleAdminConfig)
	mux.HandleFunc("/admin/connections", srv.HandleConnections)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
