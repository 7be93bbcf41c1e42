package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type TaskHandler struct {
	svc *service.FactService
}

func NewTaskHandler(svc *service.FactService) *TaskHandler {
	return &TaskHandler{svc: svc}
}

type listTasksResponse struct {
	Tasks []domain.SyncTask `json:"tasks"`
	Count int               `json:"count"`
}

// List exposes queue state for operational tooling, filtered by status.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	statusParam := r.URL.Query().Get("status")
	if statusParam == "" {
		statusParam = string(domain.SyncPending)
	}
	if !domain.ValidSyncStatus(statusParam) {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	tasks, err := h.svc.ListTasks(r.Context(), domain.SyncStatus(statusParam), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sync tasks")
		return
	}

	writeJSON(w, http.StatusOK, listTasksResponse{Tasks: tasks, Count: len(tasks)})
}

// Retry re-arms a failed task as pending for replay.
func (h *TaskHandler) Retry(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	task, err := h.svc.RetryTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "failed task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to retry sync task")
		return
	}

	writeJSON(w, http.StatusOK, task)
}
