package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/turntabl-delinuxist/Virtual-Machine/internal/build"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/machine"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/requestengine"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/storage"
)

const maxBodyBytes = 1 << 20

// Engine is the request engine surface the handler needs.
type Engine interface {
	CreateNewRequest(ctx context.Context, m machine.Machine) error
	Snapshot() requestengine.Report
}

// Builds looks up and controls provisioned builds.
type Builds interface {
	GetBuild(ctx context.Context, id string) (*machine.Build, error)
	ListBuilds(ctx context.Context, requestor string) ([]*machine.Build, error)
	Start(ctx context.Context, id string) (string, error)
	Stop(ctx context.Context, id string) (string, error)
}

type Handler struct {
	engine  Engine
	builds  Builds
	limiter *Limiter
	logger  *zap.Logger
}

// Option configures the handler.
type Option func(*Handler)

// WithLimiter rate limits POST /requests per requestor.
func WithLimiter(l *Limiter) Option {
	return func(h *Handler) { h.limiter = l }
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHTTPHandler returns the REST surface of vmorgd.
func NewHTTPHandler(engine Engine, builds Builds, opts ...Option) http.Handler {
	h := &Handler{
		engine: engine,
		builds: builds,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", h.handlePing)
	mux.HandleFunc("POST /requests", h.handleCreate)
	mux.HandleFunc("GET /stats/today", h.handleStats)
	mux.HandleFunc("GET /builds", h.handleGet)
	mux.HandleFunc("POST /builds/start", h.handleAction(builds.Start))
	mux.HandleFunc("POST /builds/stop", h.handleAction(builds.Stop))
	return mux
}

func (h *Handler) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"msg": "pong from vmorgd"})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	m, err := machine.Decode(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.limiter != nil && !h.limiter.Allow(m.RequestorName()) {
		h.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	err = h.engine.CreateNewRequest(r.Context(), m)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]string{
			"status":    "created",
			"requestor": m.RequestorName(),
			"machine":   m.Key(),
		})
	case errors.Is(err, requestengine.ErrUserNotEntitled):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, requestengine.ErrMachineNotCreated):
		h.writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("create request", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to create machine")
	}
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if requestor := q.Get("requestor"); requestor != "" {
		list, err := h.builds.ListBuilds(r.Context(), requestor)
		if err != nil {
			h.logger.Error("list builds", zap.String("requestor", requestor), zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "failed to list builds")
			return
		}
		if list == nil {
			list = []*machine.Build{}
		}
		writeJSON(w, http.StatusOK, list)
		return
	}

	id := q.Get("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "id or requestor required")
		return
	}

	b, err := h.builds.GetBuild(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "build not found")
		return
	}
	if err != nil {
		h.logger.Error("get build", zap.String("id", id), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load build")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) handleAction(action func(context.Context, string) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ID string `json:"id"`
		}
		// An empty body falls through to the id check.
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}

		res, err := action(r.Context(), body.ID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{"id": body.ID, "result": res})
		case errors.Is(err, build.ErrIDRequired):
			h.writeError(w, http.StatusBadRequest, "id required")
		case errors.Is(err, storage.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "build not found")
		default:
			h.logger.Error("build action", zap.String("id", body.ID), zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "action failed")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
	h.logger.Debug("http error", zap.Int("status", status), zap.String("msg", msg))
}
