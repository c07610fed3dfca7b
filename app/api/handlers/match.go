package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kratos2377/rally-matchmaker/domain/confirmation"
	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/kratos2377/rally-matchmaker/domain/searches"
	"github.com/kratos2377/rally-matchmaker/domain/store"
)

type handler struct {
	searches SearchesAPIUseCases
	confirm  ConfirmationAPIUseCases
	logger   *slog.Logger
}

type errorBody struct {
	Error string `json:"error"`
}

type startSearchBody struct {
	Location    string    `json:"location"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	PlayerCount int       `json:"playerCount"`
}

type matchRequestBody struct {
	MatchRequestID string `json:"matchRequestId"`
}

func (h *handler) startSearch(w http.ResponseWriter, r *http.Request) {
	var body startSearchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if body.Location == "" || body.StartTime.IsZero() || body.EndTime.IsZero() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Missing fields"})
		return
	}

	out, err := h.searches.StartSearch(r.Context(), searches.StartSearchInput{
		UserID:    userFrom(r),
		Venue:     body.Location,
		StartTime: body.StartTime,
		EndTime:   body.EndTime,
		PartySize: body.PlayerCount,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) cancelSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := matchRequestID(w, r)
	if !ok {
		return
	}
	out, err := h.searches.CancelSearch(r.Context(), searches.CancelSearchInput{MatchRequestID: id, UserID: userFrom(r)})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	id, ok := matchRequestID(w, r)
	if !ok {
		return
	}
	out, err := h.searches.Heartbeat(r.Context(), searches.HeartbeatInput{MatchRequestID: id, UserID: userFrom(r)})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) acceptMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := matchRequestID(w, r)
	if !ok {
		return
	}
	out, err := h.confirm.AcceptMatch(r.Context(), confirmation.AcceptMatchInput{MatchRequestID: id, UserID: userFrom(r)})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Ok bool `json:"ok"`
		confirmation.FinalizeOutcome
	}{true, out})
}

func (h *handler) declineMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := matchRequestID(w, r)
	if !ok {
		return
	}
	out, err := h.confirm.DeclineMatch(r.Context(), confirmation.DeclineMatchInput{MatchRequestID: id, UserID: userFrom(r)})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) listWaitlist(w http.ResponseWriter, r *http.Request) {
	list, err := h.searches.ListWaitlist(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []entities.SearchRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) markWaitlisted(w http.ResponseWriter, r *http.Request) {
	err := h.searches.MarkWaitlisted(r.Context(), searches.MarkWaitlistedInput{
		MatchRequestID: chi.URLParam(r, "id"),
		UserID:         userFrom(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *handler) getSearch(w http.ResponseWriter, r *http.Request) {
	req, err := h.searches.GetSearch(r.Context(), searches.GetSearchInput{
		MatchRequestID: chi.URLParam(r, "id"),
		UserID:         userFrom(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func matchRequestID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body matchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.MatchRequestID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "matchRequestId is required"})
		return "", false
	}
	return body.MatchRequestID, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entities.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, entities.ErrInvalidState), errors.Is(err, entities.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
