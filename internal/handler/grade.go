package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pavelanni/cogbattery/internal/grading"
	"github.com/pavelanni/cogbattery/internal/llm"
	"github.com/pavelanni/cogbattery/internal/model"
)

// handleGrade serves the grading gateway contract: a GradingRequest in, the
// rubric outcome out, or {"error": message}.
func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	if h.grader == nil {
		writeError(w, http.StatusServiceUnavailable, "Grading is not configured")
		return
	}

	var req model.GradingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	out, err := h.grader.Grade(r.Context(), req)
	switch {
	case errors.Is(err, llm.ErrEmptyText):
		writeError(w, http.StatusBadRequest, llm.ErrEmptyText.Error())
		return
	case errors.Is(err, grading.ErrUnknownTask):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("grading error", "type", req.Type, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	slog.Info("graded writing", "type", req.Type, "total", out.Total())
	writeJSON(w, http.StatusOK, out)
}
