// Package api serves the HTTP control surface: the static control page, the
// ambient color endpoint, firmware updates, health checks, metrics and the
// telemetry history.
package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/creativeprojects/go-selfupdate/update"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/ambientd/internal/color"
	"github.com/dokzlo13/ambientd/internal/eventbus"
	"github.com/dokzlo13/ambientd/internal/ledger"
	"github.com/dokzlo13/ambientd/internal/metrics"
)

//go:embed static/index.html
var indexHTML []byte

const (
	maxColorBody       = 1 << 10
	defaultHistorySize = 50
	maxHistorySize     = 500
)

// ColorStore is the shared ambient color.
type ColorStore interface {
	Read() color.Color
	Write(color.Color)
}

// History is the read side of the telemetry ledger.
type History interface {
	Recent(limit int) ([]*ledger.Entry, error)
	GetByType(eventType ledger.EventType, limit int) ([]*ledger.Entry, error)
	GetByCorrelation(correlationID string) ([]*ledger.Entry, error)
	GetByTimeRange(start, end time.Time, limit int) ([]*ledger.Entry, error)
}

// OTAOptions configures firmware uploads. A nil Restart disables the restart
// after a successful update.
type OTAOptions struct {
	Enabled      bool
	TargetPath   string
	MaxBytes     int64
	RestartDelay time.Duration
	Restart      func()
}

// Options configures the server. Zero values disable the optional endpoints.
type Options struct {
	Addr           string
	RateLimitRPS   float64
	RateLimitBurst int
	ReadTimeout    time.Duration

	Bus     *eventbus.Bus
	History History
	OTA     OTAOptions
	Metrics bool
	Ready   func() bool
}

// Server is the HTTP control API.
type Server struct {
	opts       Options
	colors     ColorStore
	limiter    *rate.Limiter
	httpServer *http.Server
}

// NewServer creates a server writing color updates to colors.
func NewServer(colors ColorStore, opts Options) *Server {
	limit := rate.Inf
	if opts.RateLimitRPS > 0 {
		limit = rate.Limit(opts.RateLimitRPS)
	}
	burst := opts.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	return &Server{
		opts:    opts,
		colors:  colors,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api", s.handleGetColor)
	mux.HandleFunc("POST /api", s.handleSetColor)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	if s.opts.OTA.Enabled {
		mux.HandleFunc("POST /ota", s.handleOTA)
	}
	if s.opts.History != nil {
		mux.HandleFunc("GET /api/history", s.handleHistory)
	}
	if s.opts.Metrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	return mux
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:        s.opts.Addr,
		Handler:     s.Handler(),
		ReadTimeout: s.opts.ReadTimeout,
	}

	log.Info().Str("addr", s.opts.Addr).Msg("Starting HTTP API server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleGetColor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.colors.Read())
}

// colorRequest uses pointers so missing fields can be told apart from zero.
type colorRequest struct {
	Red   *int `json:"red"`
	Green *int `json:"green"`
	Blue  *int `json:"blue"`
}

func (s *Server) handleSetColor(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req colorRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxColorBody))
	if err := dec.Decode(&req); err != nil {
		log.Debug().Err(err).Msg("Invalid color request body")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	c, msg := req.color()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	prev := s.colors.Read()
	s.colors.Write(c)
	metrics.AmbientColor(c)

	log.Info().Str("color", c.Hex()).Str("previous", prev.Hex()).Msg("Ambient color updated")

	if s.opts.Bus != nil {
		s.opts.Bus.Publish(eventbus.Event{
			Type: eventbus.EventTypeColorChanged,
			Data: map[string]any{
				"color":    c.Hex(),
				"previous": prev.Hex(),
				"remote":   r.RemoteAddr,
			},
		})
	}

	writeJSON(w, http.StatusOK, c)
}

func (req colorRequest) color() (color.Color, string) {
	fields := []struct {
		name string
		v    *int
	}{
		{"red", req.Red},
		{"green", req.Green},
		{"blue", req.Blue},
	}

	var out [3]uint8
	for i, f := range fields {
		if f.v == nil {
			return color.Color{}, "missing field " + f.name
		}
		if *f.v < 0 || *f.v > 255 {
			return color.Color{}, f.name + " must be between 0 and 255"
		}
		out[i] = uint8(*f.v)
	}
	return color.RGB(out[0], out[1], out[2]), ""
}

func (s *Server) handleOTA(w http.ResponseWriter, r *http.Request) {
	body := r.Body
	if s.opts.OTA.MaxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.opts.OTA.MaxBytes)
	}

	log.Info().Int64("content_length", r.ContentLength).Msg("Receiving firmware update")

	err := update.Apply(body, update.Options{TargetPath: s.opts.OTA.TargetPath})
	if err != nil {
		metrics.FirmwareUpdate(false)
		if rerr := update.RollbackError(err); rerr != nil {
			log.Error().Err(rerr).Msg("Failed to roll back firmware update")
		}
		log.Error().Err(err).Msg("Firmware update failed")

		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "firmware image too large")
			return
		}
		writeError(w, http.StatusInternalServerError, "firmware update failed")
		return
	}

	metrics.FirmwareUpdate(true)
	log.Info().Msg("Firmware update applied")

	if s.opts.Bus != nil {
		s.opts.Bus.Publish(eventbus.Event{
			Type: eventbus.EventTypeFirmwareUpdated,
			Data: map[string]any{"remote": r.RemoteAddr},
		})
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})

	if restart := s.opts.OTA.Restart; restart != nil {
		go func() {
			time.Sleep(s.opts.OTA.RestartDelay)
			log.Info().Msg("Restarting after firmware update")
			restart()
		}()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil && !s.opts.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleHistory serves ledger entries. Filters: correlation_id (one command
// and its chain, oldest first), since/until (RFC 3339) or type. They cannot be
// combined.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultHistorySize
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistorySize)
	}

	corr, typ := q.Get("correlation_id"), q.Get("type")
	ranged := q.Has("since") || q.Has("until")

	filters := 0
	for _, set := range []bool{corr != "", typ != "", ranged} {
		if set {
			filters++
		}
	}
	if filters > 1 {
		writeError(w, http.StatusBadRequest, "correlation_id, type and since/until cannot be combined")
		return
	}

	var entries []*ledger.Entry
	var err error
	switch {
	case corr != "":
		entries, err = s.opts.History.GetByCorrelation(corr)
	case ranged:
		start, end, msg := parseRange(q.Get("since"), q.Get("until"))
		if msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		entries, err = s.opts.History.GetByTimeRange(start, end, limit)
	case typ != "":
		entries, err = s.opts.History.GetByType(ledger.EventType(typ), limit)
	default:
		entries, err = s.opts.History.Recent(limit)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to query history")
		writeError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// parseRange parses optional RFC 3339 bounds. A missing since is the epoch, a
// missing until is now.
func parseRange(since, until string) (time.Time, time.Time, string) {
	start, end := time.Unix(0, 0), time.Now()

	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return start, end, "since must be an RFC 3339 timestamp"
		}
		start = t
	}
	if until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return start, end, "until must be an RFC 3339 timestamp"
		}
		end = t
	}
	if end.Before(start) {
		return start, end, "until must not be before since"
	}
	return start, end, ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
