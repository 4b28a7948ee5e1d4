package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"appmarket/internal/service"
)

// AdminHandler - команды модерации; доступ ограничен ролью admin в роутере
type AdminHandler struct {
	publication *service.PublicationService
	reconciler  *service.ReconcileService
}

func NewAdminHandler(publication *service.PublicationService, reconciler *service.ReconcileService) *AdminHandler {
	return &AdminHandler{
		publication: publication,
		reconciler:  reconciler,
	}
}

func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.versionCommand(w, r, h.publication.Approve)
}

func (h *AdminHandler) Unpublish(w http.ResponseWriter, r *http.Request) {
	h.versionCommand(w, r, h.publication.Unpublish)
}

// Reconcile запускает сверку вне расписания
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Run(r.Context())
	if err != nil {
		respondError(w, r, err, report)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *AdminHandler) versionCommand(w http.ResponseWriter, r *http.Request,
	run func(ctx context.Context, appID, versionID uuid.UUID) (*service.PublicationResult, error)) {
	appID, err := uuidParam(r, "appId")
	if err != nil {
		respondError(w, r, err, nil)
		return
	}
	versionID, err := uuidParam(r, "versionId")
	if err != nil {
		respondError(w, r, err, nil)
		return
	}

	result, err := run(r.Context(), appID, versionID)
	if err != nil {
		// ErrInconsistency приходит вместе с результатом: одобрение зафиксировано
		if result != nil {
			respondError(w, r, err, result)
			return
		}
		respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
