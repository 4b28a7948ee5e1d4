package handler

import (
	"net/http"

	"github.com/google/uuid"

	"appmarket/internal/auth"
	"appmarket/internal/service"
)

type AppHandler struct {
	catalog *service.CatalogService
}

func NewAppHandler(catalog *service.CatalogService) *AppHandler {
	return &AppHandler{catalog: catalog}
}

type priceRequest struct {
	Price *float64 `json:"price"`
}

func (h *AppHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	appID, err := uuidParam(r, "appId")
	if err != nil {
		respondError(w, r, err, nil)
		return
	}

	// администратор видит версии любого приложения
	id, _ := auth.FromContext(r.Context())
	developerID := id.UserID
	if id.IsAdmin() {
		developerID = uuid.Nil
	}

	versions, err := h.catalog.ListVersions(r.Context(), developerID, appID)
	if err != nil {
		respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, versions)
}

func (h *AppHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	appID, err := uuidParam(r, "appId")
	if err != nil {
		respondError(w, r, err, nil)
		return
	}

	var req priceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, nil)
		return
	}
	if req.Price == nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "price is required"})
		return
	}

	id, _ := auth.FromContext(r.Context())
	app, err := h.catalog.UpdatePrice(r.Context(), id.UserID, appID, *req.Price)
	if err != nil {
		respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, app)
}
