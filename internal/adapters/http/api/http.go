// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	service "github.com/okian/mfvi/internal/app"
	"github.com/okian/mfvi/internal/domain/inference"
	"github.com/okian/mfvi/internal/domain/model"
	"github.com/okian/mfvi/internal/domain/types"
)

const maxBodyBytes = 4 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	FitDependencies
	LeaderboardDependencies
	StatsProvider
	HealthProvider
}

// FitDependencies covers fit submission and reads.
type FitDependencies interface {
	Submit(ctx context.Context, req model.FitRequest) (model.Fit, bool, error)
	Get(ctx context.Context, id string) (model.Fit, error)
	Predict(ctx context.Context, id string, xs []float64) ([]inference.Prediction, error)
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Stats mirrors the service statistics payload.
type Stats = service.Stats

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	fitsHandler        *FitsHandler
	leaderboardHandler *LeaderboardHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, maxListLimit int) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(deps),
		statsHandler:       NewStatsHandler(deps),
		fitsHandler:        NewFitsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, maxListLimit),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", MetricsMiddleware(s.healthHandler.HandleMetrics, "metrics"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /fits", MetricsMiddleware(s.fitsHandler.HandlePostFit, "fits"))
	mux.HandleFunc("GET /fits/{id}", MetricsMiddleware(s.fitsHandler.HandleGetFit, "fit"))
	mux.HandleFunc("POST /fits/{id}/predict", MetricsMiddleware(s.fitsHandler.HandlePredict, "predict"))
	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// decodeJSON reads a single JSON object, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
