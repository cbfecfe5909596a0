package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	goahttp "goa.design/goa/v3/http"

	"pirwatch/internal/energy"
	"pirwatch/internal/middleware"
	"pirwatch/internal/profiling"
	"pirwatch/internal/services"
)

// FrameSource returns the latest rendered JPEG.
type FrameSource interface {
	LatestFrame() ([]byte, bool)
}

// EnergySource reports energy statistics.
type EnergySource interface {
	Stats() energy.Stats
}

// apiServer maps HTTP requests onto the services. Optional collaborators
// are nil when the feature is disabled.
type apiServer struct {
	health        *services.HealthImplementation
	authSvc       *services.AuthImplementation
	system        *services.SystemImplementation
	history       *services.HistoryImplementation
	notifications *services.ConfigImplementation
	frames        FrameSource
	energy        EnergySource
	profiler      *profiling.Logger
	mediaDir      string
	live          http.Handler // websocket endpoint
	stream        http.Handler // MJPEG endpoint
	stopTimeout   time.Duration
	logger        *log.Logger
}

// publicPaths skip authentication.
var publicPaths = []string{"/health", "/healthz", "/readyz", "/api/v1/auth/login", "/api/v1/auth/status"}

type errorBody struct {
	Name    string `json:"name"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// Mount registers every endpoint on mux.
func (s *apiServer) Mount(mux goahttp.Muxer) {
	mux.Handle("GET", "/health", s.handleHealth)
	mux.Handle("GET", "/healthz", s.handleHealth)
	mux.Handle("GET", "/readyz", s.handleReady)

	mux.Handle("POST", "/api/v1/auth/login", s.handleLogin)
	mux.Handle("GET", "/api/v1/auth/status", s.handleAuthStatus)

	mux.Handle("GET", "/api/v1/status", s.handleStatus)
	mux.Handle("POST", "/api/v1/system/start", s.handleStart)
	mux.Handle("POST", "/api/v1/system/stop", s.handleStop)

	mux.Handle("GET", "/api/v1/history", s.handleHistory)
	mux.Handle("GET", "/api/v1/history/archive", s.handleArchive)
	mux.Handle("GET", "/api/v1/media/{name}", s.handleMedia(mux))
	mux.Handle("GET", "/api/v1/frame", s.handleFrame)

	mux.Handle("GET", "/api/v1/config/telegram", s.handleGetTelegram)
	mux.Handle("PUT", "/api/v1/config/telegram", s.handleUpdateTelegram)
	mux.Handle("POST", "/api/v1/config/telegram/test", s.handleTestTelegram)

	mux.Handle("GET", "/api/v1/energy", s.handleEnergy)
	mux.Handle("GET", "/api/v1/profiling", s.handleProfiling)
	mux.Handle("GET", "/api/v1/profiling/chart", s.handleProfilingChart)

	if s.live != nil {
		mux.Handle("GET", "/ws", s.live.ServeHTTP)
	}
	if s.stream != nil {
		mux.Handle("GET", "/stream.mjpeg", s.stream.ServeHTTP)
	}
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.health.Healthz(r.Context())
	s.encode(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Readyz(r.Context()); err != nil {
		s.encode(r.Context(), w, http.StatusServiceUnavailable, errorBody{Name: "not_ready", Message: err.Error()})
		return
	}
	s.encode(r.Context(), w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *apiServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload services.LoginPayload
	if err := goahttp.RequestDecoder(r).Decode(&payload); err != nil {
		s.fail(w, r, &services.BadRequestError{Message: "invalid login payload: " + err.Error()})
		return
	}
	res, err := s.authSvc.Login(r.Context(), &payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *apiServer) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	res, _ := s.authSvc.Status(r.Context())
	s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.system.SystemStatus(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *apiServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.system.StartDetection(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *apiServer) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.stopTimeout)
	defer cancel()
	if err := s.system.StopDetection(ctx); err != nil {
		s.fail(w, r, &services.InternalError{Message: err.Error()})
		return
	}
	s.handleStatus(w, r)
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	res, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *apiServer) handleArchive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	var since *time.Time
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.fail(w, r, &services.BadRequestError{Message: "since must be an RFC 3339 timestamp"})
			return
		}
		since = &t
	}

	res, err := s.history.Archived(r.Context(), since, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, res)
}

// handleMedia serves an exported still or animation by file name.
func (s *apiServer) handleMedia(mux goahttp.Muxer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(mux.Vars(r)["name"])
		if name == "." || name == string(filepath.Separator) || s.mediaDir == "" {
			s.fail(w, r, &services.NotFoundError{Message: "media not found"})
			return
		}
		path := filepath.Join(s.mediaDir, name)
		if _, err := os.Stat(path); err != nil {
			s.fail(w, r, &services.NotFoundError{Message: "media not found: " + name})
			return
		}
		http.ServeFile(w, r, path)
	}
}

func (s *apiServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	frame, ok := s.frames.LatestFrame()
	if !ok {
		s.fail(w, r, &services.NotFoundError{Message: "no frame captured yet"})
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(frame)
}

func (s *apiServer) handleGetTelegram(w http.ResponseWriter, r *http.Request) {
	res, err := s.notifications.Get(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *apiServer) handleUpdateTelegram(w http.ResponseWriter, r *http.Request) {
	var payload services.UpdateTelegramPayload
	if err := goahttp.RequestDecoder(r).Decode(&payload); err != nil {
		s.fail(w, r, &services.BadRequestError{Message: "invalid telegram config: " + err.Error()})
		return
	}
	res, err := s.notifications.Update(r.Context(), &payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *apiServer) handleTestTelegram(w http.ResponseWriter, r *http.Request) {
	res, err := s.notifications.TestNotification(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *apiServer) handleEnergy(w http.ResponseWriter, r *http.Request) {
	if s.energy == nil {
		s.fail(w, r, &services.NotFoundError{Message: "energy monitoring is disabled"})
		return
	}
	s.encode(r.Context(), w, http.StatusOK, s.energy.Stats())
}

func (s *apiServer) handleProfiling(w http.ResponseWriter, r *http.Request) {
	if s.profiler == nil {
		s.fail(w, r, &services.NotFoundError{Message: "profiling is disabled"})
		return
	}
	s.encode(r.Context(), w, http.StatusOK, s.profiler.Summary())
}

func (s *apiServer) handleProfilingChart(w http.ResponseWriter, r *http.Request) {
	if s.profiler == nil {
		s.fail(w, r, &services.NotFoundError{Message: "profiling is disabled"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := s.profiler.WriteChart(w); err != nil {
		w.Header().Del("Content-Type")
		s.fail(w, r, &services.NotFoundError{Message: err.Error()})
	}
}

func (s *apiServer) encode(ctx context.Context, w http.ResponseWriter, status int, v any) {
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(status)
	if err := enc.Encode(v); err != nil {
		s.logger.Printf("[HTTP] encoding: %v", err)
	}
}

// fail maps service errors to HTTP status codes.
func (s *apiServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		bad          *services.BadRequestError
		unauthorized *services.UnauthorizedError
		notFound     *services.NotFoundError
	)
	status, name := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.As(err, &bad):
		status, name = http.StatusBadRequest, "bad_request"
	case errors.As(err, &unauthorized):
		status, name = http.StatusUnauthorized, "unauthorized"
	case errors.As(err, &notFound):
		status, name = http.StatusNotFound, "not_found"
	}

	id := w.Header().Get(middleware.RequestIDHeader)
	if status == http.StatusInternalServerError {
		s.logger.Printf("[HTTP] [%s] ERROR: %s", id, err.Error())
	}
	s.encode(r.Context(), w, status, errorBody{Name: name, ID: id, Message: err.Error()})
}
