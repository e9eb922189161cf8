package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/cogbattery/internal/battery"
	appI18n "github.com/pavelanni/cogbattery/internal/i18n"
	"github.com/pavelanni/cogbattery/internal/model"
	"github.com/pavelanni/cogbattery/internal/report"
)

// ReportArchive is the read side of the finished-report store.
type ReportArchive interface {
	ListReports() ([]model.ArchivedReport, error)
	GetReport(sessionID string) (*model.Report, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	runner  *battery.Runner
	grader  battery.Grader
	archive ReportArchive
	config  model.ServerConfig
}

// New creates a new Handler. grader backs the /api/grade endpoint and
// archive the /api/archive routes; either may be nil.
func New(runner *battery.Runner, grader battery.Grader, archive ReportArchive, cfg model.ServerConfig) (*Handler, error) {
	if runner == nil {
		return nil, errors.New("handler: runner is required")
	}
	return &Handler{runner: runner, grader: grader, archive: archive, config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", h.handleSession)
		r.Post("/begin", h.handleBegin)
		r.Post("/digits", h.handleDigits)
		r.Post("/judgment", h.handleJudgment)
		r.Post("/letters", h.handleLetters)
		r.Post("/recall", h.handleRecall)
		r.Post("/writing", h.handleWriting)
		r.Post("/draft", h.handleDraft)
		r.Post("/retake", h.handleRetake)
		r.Get("/report", h.handleReport)
		r.Get("/report.xlsx", h.handleReportXLSX)
	})
	r.Post("/api/grade", h.handleGrade)
	r.Get("/api/archive", h.handleArchiveList)
	r.Get("/api/archive/{sessionID}", h.handleArchiveReport)
	r.Get("/api/archive/{sessionID}/report.xlsx", h.handleArchiveXLSX)
}

// BasePathMiddleware stores the configured base path in the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type digitsRequest struct {
	Input string `json:"input"`
}

type judgmentRequest struct {
	Answer *bool `json:"answer"`
}

type lettersRequest struct {
	Letters []string `json:"letters"`
}

type textRequest struct {
	Text string `json:"text"`
}

type draftRequest struct {
	Text    string   `json:"text"`
	Letters []string `json:"letters"`
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, localizeView(r.Context(), h.runner.Snapshot()))
}

func (h *Handler) handleBegin(w http.ResponseWriter, r *http.Request) {
	var d model.Demographics
	if !decode(w, r, &d) {
		return
	}
	h.dispatch(w, r, battery.Begin{Demographics: d})
}

func (h *Handler) handleDigits(w http.ResponseWriter, r *http.Request) {
	var req digitsRequest
	if !decode(w, r, &req) {
		return
	}
	h.dispatch(w, r, battery.SubmitDigits{Input: req.Input})
}

func (h *Handler) handleJudgment(w http.ResponseWriter, r *http.Request) {
	var req judgmentRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Answer == nil {
		writeError(w, http.StatusBadRequest, "answer is required")
		return
	}
	h.dispatch(w, r, battery.SubmitJudgment{Answer: *req.Answer})
}

func (h *Handler) handleLetters(w http.ResponseWriter, r *http.Request) {
	var req lettersRequest
	if !decode(w, r, &req) {
		return
	}
	h.dispatch(w, r, battery.SubmitLetters{Letters: req.Letters})
}

func (h *Handler) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	h.dispatch(w, r, battery.SubmitRecall{Text: req.Text})
}

func (h *Handler) handleWriting(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	h.dispatch(w, r, battery.SubmitWriting{Text: req.Text})
}

func (h *Handler) handleDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if !decode(w, r, &req) {
		return
	}
	h.dispatch(w, r, battery.SaveDraft{Text: req.Text, Letters: req.Letters})
}

func (h *Handler) handleRetake(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, localizeView(r.Context(), h.runner.Retake()))
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, ev battery.Event) {
	v, err := h.runner.Dispatch(ev)
	if err != nil {
		var ve battery.ValidationErrors
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Fields: ve})
			return
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, localizeView(r.Context(), v))
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, phase := h.runner.Report()
	if phase != model.PhaseResults {
		writeError(w, http.StatusNotFound, "report is available once the battery is finished")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) handleReportXLSX(w http.ResponseWriter, r *http.Request) {
	rep, phase := h.runner.Report()
	if phase != model.PhaseResults {
		writeError(w, http.StatusNotFound, "report is available once the battery is finished")
		return
	}
	writeXLSX(w, rep)
}

func (h *Handler) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "archive disabled")
		return
	}
	list, err := h.archive.ListReports()
	if err != nil {
		slog.Error("list archived reports", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []model.ArchivedReport{}
	}
	writeJSON(w, http.StatusOK, archiveListResponse{
		Summary: appI18n.Tp(r.Context(), "ReportsArchived", len(list)),
		Reports: list,
	})
}

func (h *Handler) archivedReport(w http.ResponseWriter, r *http.Request) (*model.Report, bool) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "archive disabled")
		return nil, false
	}
	id := chi.URLParam(r, "sessionID")
	rep, err := h.archive.GetReport(id)
	if err != nil {
		slog.Error("get archived report", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if rep == nil {
		writeError(w, http.StatusNotFound, "report not found")
		return nil, false
	}
	return rep, true
}

func (h *Handler) handleArchiveReport(w http.ResponseWriter, r *http.Request) {
	if rep, ok := h.archivedReport(w, r); ok {
		writeJSON(w, http.StatusOK, rep)
	}
}

func (h *Handler) handleArchiveXLSX(w http.ResponseWriter, r *http.Request) {
	if rep, ok := h.archivedReport(w, r); ok {
		writeXLSX(w, *rep)
	}
}

type archiveListResponse struct {
	Summary string                 `json:"summary"`
	Reports []model.ArchivedReport `json:"reports"`
}

type errorResponse struct {
	Error  string                   `json:"error"`
	Fields battery.ValidationErrors `json:"fields,omitempty"`
}

// statusFor maps sequencer errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, battery.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, battery.ErrWrongPhase),
		errors.Is(err, battery.ErrAlreadyAdvanced),
		errors.Is(err, battery.ErrStaleTimer):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeXLSX(w http.ResponseWriter, rep model.Report) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report-%s.xlsx"`, rep.SessionID))
	if err := report.WriteXLSX(w, rep); err != nil {
		slog.Error("write xlsx report", "session", rep.SessionID, "error", err)
	}
}
