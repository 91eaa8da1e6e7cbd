package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/plip-api/internal/api/shared"
	"github.com/phrazzld/plip-api/internal/service"
)

// ResultPackager defines the interface for bundling a task's results
type ResultPackager interface {
	Package(ctx context.Context, taskID string) (*service.Archive, error)
}

// TaskHandler handles analysis task HTTP requests
type TaskHandler struct {
	analysis service.AnalysisService
	packager ResultPackager
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(analysis service.AnalysisService, packager ResultPackager) *TaskHandler {
	return &TaskHandler{
		analysis: analysis,
		packager: packager,
	}
}

// Routes registers the task endpoints on r.
func (h *TaskHandler) Routes(r chi.Router) {
	r.Post("/inference", h.Inference)
	r.Get("/task_status/{task_id}", h.TaskStatus)
	r.Get("/tasks", h.ListTasks)
	r.Get("/download/{task_id}", h.Download)
	r.Get("/ping", Ping)
}

// Inference handles POST /inference requests
func (h *TaskHandler) Inference(w http.ResponseWriter, r *http.Request) {
	var req InferenceRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	// A missing input decides the outcome before any option is checked
	if err := req.input().Validate(); err != nil {
		HandleAPIError(w, r, err, "Invalid request")
		return
	}

	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	taskID, err := h.analysis.Submit(r.Context(), req.toSubmitRequest())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit analysis")
		return
	}

	// 202 Accepted since the analysis runs in the background
	shared.RespondWithJSON(w, r, http.StatusAccepted, InferenceResponse{TaskID: taskID})
}

// TaskStatus handles GET /task_status/{task_id} requests
func (h *TaskHandler) TaskStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := h.analysis.Status(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task status")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(rec))
}

// ListTasks handles GET /tasks requests
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ids, err := h.analysis.List(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ids)
}

// Download handles GET /download/{task_id} requests by streaming the zipped
// output directory of a completed task.
func (h *TaskHandler) Download(w http.ResponseWriter, r *http.Request) {
	archive, err := h.packager.Package(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to package results")
		return
	}
	defer func() {
		if err := archive.Close(); err != nil {
			requestLogger(r).Warn("failed to remove temporary archive", "error", err)
		}
	}()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archive.Name))
	http.ServeContent(w, r, archive.Name, time.Time{}, archive)
}

// Ping handles GET /ping liveness probes
func Ping(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, PingResponse{Message: "pong"})
}
