package handler

import (
	"errors"
	"net/http"

	"github.com/casfos/registry/internal/audit"
	"github.com/casfos/registry/internal/directory/middleware"
	"github.com/casfos/registry/internal/record"
	"github.com/casfos/registry/internal/review"
)

func actor(r *http.Request) review.Actor {
	return review.ActorOf(middleware.GetKeyInfo(r.Context()))
}

// Verify marks a faculty profile verified.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	ev, err := h.reviews.Verify(r.Context(), actor(r), review.FacultyRequest{ID: r.PathValue("id")})
	h.actionResult(w, r, ev, err)
}

// Reject rejects a profile's verification; the body is {rejectionRemarks}.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var req review.RejectRequest
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	req.ID = r.PathValue("id")
	ev, err := h.reviews.Reject(r.Context(), actor(r), req)
	h.actionResult(w, r, ev, err)
}

// Notify sends remarks about a profile to data entry; the body is
// {notifyremarks}.
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	var req review.NotifyRequest
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	req.ID = r.PathValue("id")
	ev, err := h.reviews.Notify(r.Context(), actor(r), req)
	h.actionResult(w, r, ev, err)
}

// Delete removes a faculty profile.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ev, err := h.reviews.Delete(r.Context(), actor(r), review.FacultyRequest{ID: r.PathValue("id")})
	h.actionResult(w, r, ev, err)
}

// UpdateCondition records the condition of a returned asset; the body is
// {condition, assetType}.
func (h *Handler) UpdateCondition(w http.ResponseWriter, r *http.Request) {
	var req review.ConditionRequest
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	req.ID = r.PathValue("id")
	ev, err := h.reviews.UpdateCondition(r.Context(), actor(r), req)
	h.actionResult(w, r, ev, err)
}

// assetTypes maps the {type} path segment to the backend's asset type.
var assetTypes = map[string]string{
	"permanent":  record.AssetPermanent,
	"consumable": record.AssetConsumable,
}

// UpdateAsset edits a purchase entry; the body is the object of fields to
// replace.
func (h *Handler) UpdateAsset(w http.ResponseWriter, r *http.Request) {
	req := review.AssetUpdateRequest{ID: r.PathValue("id"), AssetType: assetTypes[r.PathValue("type")]}
	if err := decode(r, &req.Fields); err != nil {
		h.writeErr(w, r, err)
		return
	}
	ev, err := h.reviews.UpdateAsset(r.Context(), actor(r), req)
	h.actionResult(w, r, ev, err)
}

func (h *Handler) actionResult(w http.ResponseWriter, r *http.Request, ev audit.ReviewEvent, err error) {
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"action":    ev.Action,
		"record_id": ev.RecordID,
		"event_id":  ev.ID,
	})
}

// Upload stores a multipart "file" with the backend and returns its URL.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "a multipart field named file is required")
		return
	}
	defer file.Close()

	url, err := h.backend.UploadFile(r.Context(), header.Filename, file)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"fileUrl": url})
}
