// Package web provides an HTTP status server for the line-oee daemon.
//
// Routes:
//
//	GET /, /index.html     HTML overview of every machine
//	GET /index.json        full status envelope
//	GET /machines/{code}   one machine as JSON
//	GET /healthz           200 while the broker connection is up, 503 otherwise
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sweeney/line-oee/internal/status"
)

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	log        zerolog.Logger
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker, log zerolog.Logger) *Server {
	s := &Server{tracker: tracker, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /index.json", s.handleJSON)
	mux.HandleFunc("GET /machines/{code}", s.handleMachine)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, s.tracker.Snapshot()); err != nil {
		s.log.Error().Err(err).Msg("Failed to render status page")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, _ *http.Request) {
	s.write(w, http.StatusOK, status.FormatJSON(s.tracker.Snapshot()))
}

func (s *Server) handleMachine(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.PathValue("code"))
	m, ok := findMachine(s.tracker.Snapshot(), code)
	if !ok {
		http.Error(w, "unknown machine "+code, http.StatusNotFound)
		return
	}
	data, err := json.MarshalIndent(status.BuildMachine(m), "", "  ")
	if err != nil {
		s.log.Error().Err(err).Str("machine", code).Msg("Failed to encode machine")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.write(w, http.StatusOK, data)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.tracker.Snapshot()
	code := http.StatusOK
	if !snap.MQTTConnected {
		code = http.StatusServiceUnavailable
	}
	body, _ := json.Marshal(struct {
		MQTT          bool  `json:"mqtt"`
		UptimeSeconds int64 `json:"uptime_seconds"`
	}{snap.MQTTConnected, int64(snap.Uptime().Seconds())})
	s.write(w, code, body)
}

func (s *Server) write(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		s.log.Debug().Err(err).Msg("Failed to write response")
	}
}

// findMachine looks a machine up by exact code, then case-insensitively.
func findMachine(snap status.Snapshot, code string) (status.MachineState, bool) {
	if m, ok := snap.Machines[code]; ok {
		return m, true
	}
	for k, m := range snap.Machines {
		if strings.EqualFold(k, code) {
			return m, true
		}
	}
	return status.MachineState{}, false
}
