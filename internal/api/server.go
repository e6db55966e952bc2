// Package api exposes a mining session over HTTP: health, stats, start and
// stop, plus a websocket that pushes stats once a second.
package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bardlex/gominer/internal/database/influx"
	"github.com/bardlex/gominer/internal/database/postgres"
	"github.com/bardlex/gominer/internal/miner"
	"github.com/bardlex/gominer/internal/report"
	"github.com/bardlex/gominer/internal/session"
	"github.com/bardlex/gominer/pkg/log"
)

const (
	defaultPushInterval = time.Second
	wsWriteWait         = 5 * time.Second
	maxBodyBytes        = 64 * 1024
	defaultShareLimit   = 50
	maxShareLimit       = 1000
)

// Controller is the session surface the API drives.
type Controller interface {
	Start(ctx context.Context, cfg session.Config) session.Result
	Stop()
	Stats() miner.Stats
	Running() bool
}

// History serves stored data. It is optional.
type History interface {
	HashrateHistory(ctx context.Context, window time.Duration) ([]influx.HashratePoint, error)
	RecentShares(ctx context.Context, limit int) ([]*postgres.Share, error)
}

// StartRequest is the body of POST /api/start. Zero fields fall back to
// the server defaults.
type StartRequest struct {
	PoolURL       string  `json:"poolUrl"`
	WalletAddress string  `json:"walletAddress"`
	NumThreads    int     `json:"numThreads"`
	Intensity     float64 `json:"intensity"`
}

// Server routes API requests to a Controller.
type Server struct {
	ctrl         Controller
	history      History
	defaults     session.Config
	logger       *log.Logger
	router       *mux.Router
	upgrader     websocket.Upgrader
	pushInterval time.Duration
	now          func() time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithHistory enables the history endpoints.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithPushInterval overrides the websocket push interval.
func WithPushInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pushInterval = d
		}
	}
}

// NewServer builds the router. defaults fill fields a start request omits.
func NewServer(ctrl Controller, defaults session.Config, logger *log.Logger, opts ...Option) *Server {
	s := &Server{
		ctrl:         ctrl,
		defaults:     defaults,
		logger:       logger.WithComponent("api"),
		pushInterval: defaultPushInterval,
		now:          time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/ws", s.handleStatsWS).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/shares", s.handleShares).Methods(http.MethodGet)
	r.HandleFunc("/api/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/api/stop", s.handleStop).Methods(http.MethodPost)
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": s.ctrl.Running(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report.NewSnapshot(s.ctrl.Stats(), s.now()))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	cfg := s.defaults
	if req.PoolURL != "" {
		cfg.PoolURL = req.PoolURL
	}
	if req.WalletAddress != "" {
		cfg.WalletAddress = req.WalletAddress
	}
	if req.NumThreads != 0 {
		cfg.NumThreads = req.NumThreads
	}
	if req.Intensity != 0 {
		cfg.Intensity = req.Intensity
	}

	res := s.ctrl.Start(r.Context(), cfg)
	if !res.Success {
		s.logger.Warn("start request failed", "error", res.Error)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Stop()
	writeJSON(w, http.StatusOK, session.Result{Success: true})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "history is not configured"})
		return
	}
	window := time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid window"})
			return
		}
		window = d
	}
	points, err := s.history.HashrateHistory(r.Context(), window)
	if err != nil {
		s.logger.WithError(err).Warn("hashrate history query failed")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		return
	}
	if points == nil {
		points = []influx.HashratePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleShares(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "history is not configured"})
		return
	}
	limit := defaultShareLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid limit"})
			return
		}
		limit = min(n, maxShareLimit)
	}
	shares, err := s.history.RecentShares(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Warn("share query failed")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		return
	}
	if shares == nil {
		shares = []*postgres.Share{}
	}
	writeJSON(w, http.StatusOK, shares)
}

// handleStatsWS pushes a snapshot immediately and then every push
// interval until the client goes away.
func (s *Server) handleStatsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reads are only used to notice the peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	for {
		data, err := json.Marshal(report.NewSnapshot(s.ctrl.Stats(), s.now()))
		if err != nil {
			s.logger.WithError(err).Error("failed to encode stats")
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}
