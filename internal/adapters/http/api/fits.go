package api

import (
	"errors"
	"net/http"

	"github.com/okian/mfvi/internal/domain/inference"
	"github.com/okian/mfvi/internal/domain/model"
)

// FitsHandler handles fit submission, reads and predictions.
type FitsHandler struct {
	deps FitDependencies
}

// NewFitsHandler creates a new fits handler.
func NewFitsHandler(deps FitDependencies) *FitsHandler {
	return &FitsHandler{deps: deps}
}

type submitResponse struct {
	ID        string          `json:"id"`
	Status    model.FitStatus `json:"status"`
	Duplicate bool            `json:"duplicate"`
}

type predictRequest struct {
	X []float64 `json:"x"`
}

type predictResponse struct {
	FitID       string                 `json:"fit_id"`
	Predictions []inference.Prediction `json:"predictions"`
}

// HandlePostFit handles POST /fits.
func (h *FitsHandler) HandlePostFit(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_fit"
	var req model.FitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	fit, dup, err := h.deps.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	status := http.StatusAccepted
	if dup {
		status = http.StatusOK
	}
	writeJSON(w, status, submitResponse{ID: fit.ID, Status: fit.Status, Duplicate: dup})
}

// HandleGetFit handles GET /fits/{id}.
func (h *FitsHandler) HandleGetFit(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_fit"
	fit, err := h.deps.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, fit)
}

// HandlePredict handles POST /fits/{id}/predict.
func (h *FitsHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	const op = "api.predict"
	var req predictRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(req.X) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing x")))
		return
	}

	id := r.PathValue("id")
	preds, err := h.deps.Predict(r.Context(), id, req.X)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, predictResponse{FitID: id, Predictions: preds})
}
