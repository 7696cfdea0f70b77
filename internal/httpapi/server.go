// Package httpapi exposes the device's upload, time sync and light state
// endpoints over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/lightpd/internal/channel"
	"github.com/dokzlo13/lightpd/internal/intake"
	"github.com/dokzlo13/lightpd/internal/ledger"
	"github.com/dokzlo13/lightpd/internal/scheduler"
)

// MaxBodySize bounds request bodies.
const MaxBodySize = 64 << 10

// Intake accepts uploads and time syncs.
type Intake interface {
	Submit(raw []byte) (intake.Result, error)
	Confirmation() []byte
	SyncTime(raw []byte) (time.Time, error)
}

// Light is the channel output.
type Light interface {
	Get() channel.Level
	Set(ctx context.Context, l channel.Level) (bool, error)
}

// Pending lists stored programs.
type Pending interface {
	Pending() []scheduler.PendingEntry
	FormatPending() string
}

// History reads the audit ledger.
type History interface {
	GetByType(eventType ledger.EventType, limit int) ([]*ledger.Entry, error)
	GetByProgram(programID string) ([]*ledger.Entry, error)
	GetByTimeRange(start, end time.Time, limit int) ([]*ledger.Entry, error)
}

// DefaultHistoryLimit caps ledger listings without an explicit limit.
const DefaultHistoryLimit = 100

// Options configures upload throttling and the audit endpoints. Zero upload
// values disable the limit; a nil History disables /ledger and
// /programs/{id}/history.
type Options struct {
	UploadRPS   float64
	UploadBurst int
	History     History
}

// Server is the device's HTTP transport.
type Server struct {
	addr       string
	intake     Intake
	light      Light
	pending    Pending
	history    History
	limiter    *rate.Limiter
	router     *mux.Router
	httpServer *http.Server
}

// NewServer creates a server listening on addr.
func NewServer(addr string, in Intake, light Light, pending Pending, opts Options) *Server {
	limit := rate.Inf
	if opts.UploadRPS > 0 {
		limit = rate.Limit(opts.UploadRPS)
	}
	burst := opts.UploadBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Server{
		addr:    addr,
		intake:  in,
		light:   light,
		pending: pending,
		history: opts.History,
		limiter: rate.NewLimiter(limit, burst),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/programs", s.handleUpload).Methods("POST")
	r.HandleFunc("/programs", s.handleConfirmation).Methods("GET")
	r.HandleFunc("/programs/pending", s.handlePending).Methods("GET")
	r.HandleFunc("/programs/{id}/history", s.handleProgramHistory).Methods("GET")
	r.HandleFunc("/ledger", s.handleLedger).Methods("GET")
	r.HandleFunc("/time", s.handleTime).Methods("PUT")
	r.HandleFunc("/light", s.handleGetLight).Methods("GET")
	r.HandleFunc("/light", s.handleSetLight).Methods("PUT")

	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting HTTP server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

type uploadResponse struct {
	ID       string `json:"id"`
	Inserted bool   `json:"inserted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "upload rate exceeded"})
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	res, err := s.intake.Submit(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	status := http.StatusOK
	if res.Inserted {
		status = http.StatusCreated
	}
	writeJSON(w, status, uploadResponse{ID: res.ID, Inserted: res.Inserted})
}

func (s *Server) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	raw := s.intake.Confirmation()
	if raw == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeBytes(w, raw)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, s.pending.FormatPending())
		return
	}
	writeJSON(w, http.StatusOK, s.pending.Pending())
}

func (s *Server) handleProgramHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "ledger disabled"})
		return
	}
	entries, err := s.history.GetByProgram(mux.Vars(r)["id"])
	if err != nil {
		log.Error().Err(err).Msg("Failed to read program history")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read ledger"})
		return
	}
	if len(entries) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown program"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleLedger lists audit entries, either by ?type= or by ?since=&until=
// (RFC3339, defaulting to all time up to now). ?limit= caps the result.
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "ledger disabled"})
		return
	}

	q := r.URL.Query()
	limit := DefaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	eventType := q.Get("type")
	since, until := q.Get("since"), q.Get("until")
	if eventType != "" && (since != "" || until != "") {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "type cannot be combined with since/until"})
		return
	}

	var (
		entries []*ledger.Entry
		err     error
	)
	if eventType != "" {
		entries, err = s.history.GetByType(ledger.EventType(eventType), limit)
	} else {
		start, end := time.Unix(0, 0), time.Now()
		if start, err = parseQueryTime(since, start); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "since: " + err.Error()})
			return
		}
		if end, err = parseQueryTime(until, end); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "until: " + err.Error()})
			return
		}
		entries, err = s.history.GetByTimeRange(start, end, limit)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to read ledger")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read ledger"})
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseQueryTime(v string, def time.Time) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, v)
}

func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if _, err := s.intake.SyncTime(body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetLight(w http.ResponseWriter, r *http.Request) {
	writeBytes(w, s.light.Get().Bytes())
}

func (s *Server) handleSetLight(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	level, err := channel.LevelFromBytes(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if _, err := s.light.Set(r.Context(), level); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, channel.ErrChannelUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	log.Info().Str("level", level.String()).Msg("Light state written by client")
	w.WriteHeader(http.StatusNoContent)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return nil, false
		}
		log.Error().Err(err).Msg("Failed to read request body")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return nil, false
	}
	return body, true
}

func writeBytes(w http.ResponseWriter, b []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}
