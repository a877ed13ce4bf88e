package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/sgx_downloader/internal/logctx"
	"github.com/italolelis/sgx_downloader/internal/pipeline"
	"github.com/italolelis/sgx_downloader/internal/storage"
	"github.com/italolelis/sgx_downloader/internal/transfer"
)

// ReportSource exposes the most recent pipeline report.
type ReportSource interface {
	Last() *pipeline.Report
}

type SessionResponse struct {
	Date  string `json:"date"`
	Index int    `json:"index"`
}

type ExclusionResponse struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

type TaskResponse struct {
	Index    int    `json:"index"`
	File     string `json:"file"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

type StatusResponse struct {
	RunID      string              `json:"run_id"`
	Mode       string              `json:"mode"`
	Today      string              `json:"today"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Sessions   []SessionResponse   `json:"sessions"`
	Excluded   []ExclusionResponse `json:"excluded"`
	Downloaded int                 `json:"downloaded"`
	Skipped    int                 `json:"skipped"`
	Recovered  []TaskResponse      `json:"recovered"`
	Exhausted  []TaskResponse      `json:"exhausted"`
}

type AttemptResponse struct {
	RunID      string    `json:"run_id"`
	File       string    `json:"file"`
	Attempt    int       `json:"attempt"`
	Outcome    string    `json:"outcome"`
	StatusCode int       `json:"status_code,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Bytes      int64     `json:"bytes"`
	AttemptAt  time.Time `json:"attempt_at"`
}

// OpsHandler serves health, last run status and the attempt ledger.
type OpsHandler struct {
	reports  ReportSource
	attempts storage.AttemptRepository
}

func NewOpsHandler(reports ReportSource, attempts storage.AttemptRepository) *OpsHandler {
	return &OpsHandler{reports: reports, attempts: attempts}
}

func (h *OpsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.HandleHealth)
	r.Get("/status", h.HandleStatus)
	r.Get("/sessions/{index}/attempts", h.HandleAttempts)

	return r
}

func (h *OpsHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus returns the report of the last pipeline run, or 204 before the first one.
func (h *OpsHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	report := h.reports.Last()
	if report == nil {
		w.WriteHeader(http.StatusNoContent)

		return
	}

	resp := StatusResponse{
		RunID:      report.RunID,
		Mode:       report.Mode,
		Today:      report.Today.String(),
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Sessions:   make([]SessionResponse, 0, len(report.Sessions)),
		Excluded:   make([]ExclusionResponse, 0, len(report.Excluded)),
		Downloaded: report.Downloaded,
		Skipped:    report.Skipped,
		Recovered:  toTaskResponses(report.Recovered),
		Exhausted:  toTaskResponses(report.Exhausted),
	}

	for _, s := range report.Sessions {
		resp.Sessions = append(resp.Sessions, SessionResponse{Date: s.Date.String(), Index: s.Index})
	}

	for _, ex := range report.Excluded {
		resp.Excluded = append(resp.Excluded, ExclusionResponse{Date: ex.Date.String(), Reason: string(ex.Reason)})
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func (h *OpsHandler) HandleAttempts(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		http.Error(w, "invalid session index", http.StatusBadRequest)

		return
	}

	records, err := h.attempts.ListAttempts(r.Context(), index)
	if err != nil {
		logger.Error("failed to list attempts", "index", index, "err", err)
		http.Error(w, "failed to list attempts", http.StatusInternalServerError)

		return
	}

	resp := make([]AttemptResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, AttemptResponse{
			RunID:      rec.RunID,
			File:       rec.File,
			Attempt:    rec.Attempt,
			Outcome:    rec.Outcome,
			StatusCode: rec.StatusCode,
			Reason:     rec.Reason,
			Bytes:      rec.Bytes,
			AttemptAt:  rec.AttemptAt,
		})
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func toTaskResponses(tasks []*transfer.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))

	for _, t := range tasks {
		tr := TaskResponse{Index: t.Index, File: t.File, Attempts: t.Attempts}
		if t.LastErr != nil {
			tr.Error = t.LastErr.Error()
		}

		out = append(out, tr)
	}

	return out
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
