package handler

import (
	"net/http"

	"appmarket/internal/auth"
	"appmarket/internal/service"
)

type SubmissionHandler struct {
	submissions *service.SubmissionService
}

func NewSubmissionHandler(submissions *service.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissions: submissions}
}

// Finalize фиксирует отправку после загрузки объектов в карантин.
// 201 для новой отправки, 200 для повтора с тем же submissionId.
func (h *SubmissionHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req service.SubmissionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, nil)
		return
	}
	req.DeveloperID = id.UserID

	result, err := h.submissions.Finalize(r.Context(), req)
	if err != nil {
		if result != nil {
			respondError(w, r, err, result)
			return
		}
		respondError(w, r, err, nil)
		return
	}

	status := http.StatusCreated
	if result.Resubmitted {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}
