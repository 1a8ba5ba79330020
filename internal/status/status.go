// Package status serves the current detection and recording state over
// HTTP for front-ends and scrapers.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/petems/focusnote/internal/audio"
	"github.com/petems/focusnote/internal/metrics"
	"github.com/petems/focusnote/internal/monitor"
	"github.com/rs/zerolog"
)

// Snapshot is everything a front-end polls for.
type Snapshot struct {
	Monitor         monitor.Status     `json:"monitor"`
	Engine          string             `json:"engine"`
	Session         *audio.SessionInfo `json:"session,omitempty"`
	StreamConnected bool               `json:"stream_connected"`
	LastTranscript  string             `json:"last_transcript,omitempty"`
	Version         string             `json:"version"`
}

// Provider returns the current snapshot. It must be safe to call from any
// goroutine.
type Provider func() Snapshot

type Server struct {
	addr     string
	provider Provider
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func New(addr string, provider Provider, m *metrics.Metrics, log zerolog.Logger) *Server {
	return &Server{
		addr:     addr,
		provider: provider,
		metrics:  m,
		log:      log.With().Str("component", "status").Logger(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.provider()); err != nil {
		s.log.Warn().Err(err).Msg("Failed to encode status")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok\n"))
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	hs := http.Server{
		Addr:              s.addr,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Str("addr", s.addr).Msg("Status endpoint listening")

	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hs.Shutdown(ctx)
	}()

	if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
