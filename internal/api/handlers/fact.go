package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/credence-ai/credence/internal/api/middleware"
	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/service"
	"github.com/credence-ai/credence/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type FactHandler struct {
	svc *service.FactService
}

func NewFactHandler(svc *service.FactService) *FactHandler {
	return &FactHandler{svc: svc}
}

type storeFactRequest struct {
	MemorySpaceID string         `json:"memory_space_id,omitempty"`
	Subject       string         `json:"subject"`
	Predicate     string         `json:"predicate"`
	Value         string         `json:"value"`
	Content       string         `json:"content,omitempty"`
	Type          string         `json:"type,omitempty"`
	Confidence    int            `json:"confidence"`
	SourceRefs    []string       `json:"source_refs,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Store ingests one candidate fact through belief revision. The response
// reports which action the revision took and the resulting active version.
func (h *FactHandler) Store(w http.ResponseWriter, r *http.Request) {
	var req storeFactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	memorySpaceID := req.MemorySpaceID
	if memorySpaceID == "" {
		memorySpaceID = middleware.MemorySpaceFromContext(r.Context())
	}

	candidate := &domain.CandidateFact{
		MemorySpaceID: memorySpaceID,
		Subject:       req.Subject,
		Predicate:     req.Predicate,
		Value:         req.Value,
		Content:       req.Content,
		Type:          domain.FactType(req.Type),
		Confidence:    req.Confidence,
		SourceRefs:    req.SourceRefs,
		Metadata:      req.Metadata,
	}

	result, err := h.svc.Store(r.Context(), candidate)
	if err != nil {
		switch {
		case domain.IsValidationError(err):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrVersionConflict):
			writeError(w, http.StatusConflict, "slot is changing too quickly, retry")
		default:
			writeError(w, http.StatusInternalServerError, "failed to store fact")
		}
		return
	}

	status := http.StatusCreated
	if result.Action == domain.ActionNone {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

type historyResponse struct {
	FactID   uuid.UUID     `json:"fact_id"`
	Versions []domain.Fact `json:"versions"`
	Count    int           `json:"count"`
}

// GetHistory returns the retained version chain of a lineage, oldest first.
func (h *FactHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	factID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fact id")
		return
	}

	versions, err := h.svc.GetHistory(r.Context(), factID)
	if err != nil {
		if errors.Is(err, service.ErrFactNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get history")
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		FactID:   factID,
		Versions: versions,
		Count:    len(versions),
	})
}

// DeleteEntity removes every fact referencing the entity and queues the graph
// cleanup. The memory space comes from the query or the X-Memory-Space header.
func (h *FactHandler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "id")
	if entityID == "" {
		writeError(w, http.StatusBadRequest, "entity id is required")
		return
	}

	memorySpaceID := r.URL.Query().Get("memory_space_id")
	if memorySpaceID == "" {
		memorySpaceID = middleware.MemorySpaceFromContext(r.Context())
	}
	if memorySpaceID == "" {
		writeError(w, http.StatusBadRequest, "memory_space_id is required")
		return
	}

	result, err := h.svc.DeleteForEntity(r.Context(), memorySpaceID, entityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete entity facts")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
