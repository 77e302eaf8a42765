package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/example/tripquery/internal/trip/domain"
)

// HTTP exposes the trip query endpoints over any TripSource.
type HTTP struct {
	source  domain.TripSource
	logger  *zap.Logger
	limiter func(http.Handler) http.Handler
}

// Option customises the HTTP handler.
type Option func(*HTTP)

// WithRateLimit guards /trips with the given middleware.
func WithRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *HTTP) { h.limiter = mw }
}

// NewHTTP constructs a handler.
func NewHTTP(source domain.TripSource, logger *zap.Logger, opts ...Option) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HTTP{source: source, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Get("/health", h.health)
	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter)
		}
		r.Get("/trips", h.listTrips)
	})
	return r
}

type tripsResponse struct {
	Trips []domain.Trip `json:"trips"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *HTTP) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *HTTP) listTrips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fromMS, err := intParam(q.Get("from_ms"), "from_ms")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := intParam(q.Get("n_results"), "n_results")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trips, err := h.source.QueryTrips(r.Context(), fromMS, n)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrValidation) {
			status = http.StatusBadRequest
		}
		h.logger.Error("query trips",
			zap.Int64("from_ms", fromMS),
			zap.Int64("n_results", n),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, status, domain.PublicMessage(err))
		return
	}
	if trips == nil {
		trips = []domain.Trip{}
	}
	writeJSON(w, http.StatusOK, tripsResponse{Trips: trips})
}

func intParam(raw, name string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("missing %s", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return v, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
