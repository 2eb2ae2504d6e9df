package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/xtrntr/powermarket/internal/apperr"
	"github.com/xtrntr/powermarket/internal/events"
	"github.com/xtrntr/powermarket/internal/models"
)

type windowRequest struct {
	OpenTime  *time.Time `json:"open_time"`
	CloseTime *time.Time `json:"close_time"`
}

var windowEventID = strconv.Itoa(models.SubmissionWindowID)

// SetWindow creates or replaces the submission window
func (h *Handler) SetWindow(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.OpenTime == nil || req.CloseTime == nil {
		h.writeError(w, r, apperr.Validation("open_time and close_time are required"))
		return
	}

	window, err := h.Windows.Set(r.Context(), *req.OpenTime, *req.CloseTime)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Logger.Infow("submission window set", "open_time", window.OpenTime, "close_time", window.CloseTime)
	h.publish(r.Context(), events.New(events.WindowUpdated, windowEventID, "", window))
	h.notify("Submission window updated")

	writeJSON(w, http.StatusOK, window)
}

// ListWindows returns zero or one window records
func (h *Handler) ListWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := h.Windows.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, windows)
}

// ResetWindow collapses the window to the current instant
func (h *Handler) ResetWindow(w http.ResponseWriter, r *http.Request) {
	window, err := h.Windows.Reset(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if window == nil {
		h.writeError(w, r, apperr.NotFound("submission window not configured"))
		return
	}
	h.Logger.Infow("submission window reset", "at", window.CloseTime)
	h.publish(r.Context(), events.New(events.WindowUpdated, windowEventID, "", window))
	h.notify("Submission window reset")

	writeJSON(w, http.StatusOK, window)
}

// DeleteWindow removes the window. Deleting an absent window succeeds.
func (h *Handler) DeleteWindow(w http.ResponseWriter, r *http.Request) {
	if err := h.Windows.Delete(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Logger.Infow("submission window deleted")
	h.publish(r.Context(), events.New(events.WindowUpdated, windowEventID, "", nil))
	h.notify("Submission window deleted")

	writeJSON(w, http.StatusOK, map[string]string{"message": "Submission window deleted"})
}
