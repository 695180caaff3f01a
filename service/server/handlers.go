package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/memoboard/service/db"
	"github.com/brojonat/memoboard/service/memo"
)

const (
	maxRequestBodySize = 64 << 10
	defaultPageSize    = 100
	maxPageSize        = 1000
)

// handleGetView returns the controller's current view.
// GET /api/v1/view
func handleGetView(ctrl Controller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ctrl.CurrentView(), http.StatusOK)
	})
}

// handleUpdateForm sets form fields. Fields absent from the body are left alone.
// PUT /api/v1/form
func handleUpdateForm(ctrl Controller, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Limit request body size to prevent memory exhaustion
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var u memo.FormUpdate
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			logger.Debug("invalid form body", "error", err)
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		// No length or content checks here. An empty field only keeps the
		// form from being submittable; anything else is the ledger's call.
		ctrl.UpdateForm(u)
		writeJSON(w, ctrl.CurrentView(), http.StatusOK)
	})
}

// submitResponse is the body of a successful submit.
type submitResponse struct {
	Handle memo.Handle `json:"handle"`
	View   memo.View   `json:"view"`
}

// handleSubmit starts a write from the current form. 409 means the form is
// incomplete or a write is already in flight; the view says which.
// POST /api/v1/submit
func handleSubmit(ctrl Controller, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := ctrl.Submit()
		if !ok {
			// Tell the caller which gate closed
			view := ctrl.CurrentView()
			reason := "form is incomplete"
			if !view.Lifecycle.State.Terminal() && view.Lifecycle.State != memo.Idle {
				reason = "a write is already in flight"
			}
			logger.Debug("submit rejected", "reason", reason)
			writeJSON(w, map[string]any{"error": reason, "view": view}, http.StatusConflict)
			return
		}

		logger.Info("submit accepted", "handle", h)
		writeJSON(w, submitResponse{Handle: h, View: ctrl.CurrentView()}, http.StatusAccepted)
	})
}

// handleRefresh re-reads the feed.
// POST /api/v1/refresh
func handleRefresh(ctrl Controller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctrl.Refresh()
		w.WriteHeader(http.StatusAccepted)
	})
}

// handleListMemos lists indexed memos, most recent first.
// GET /api/v1/memos?backend=evm&limit=N&offset=N
func handleListMemos(store Store, defaultBackend string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Parse pagination parameters
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Default to the backend this server writes to
		backend := r.URL.Query().Get("backend")
		if backend == "" {
			backend = defaultBackend
		}

		memos, err := store.ListMemos(r.Context(), db.ListMemosParams{
			Backend: backend,
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			logger.Error("failed to list memos", "backend", backend, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		// Get total count for pagination
		total, err := store.CountMemos(r.Context(), backend)
		if err != nil {
			logger.Error("failed to count memos", "backend", backend, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		// Convert to response format
		resp := make([]memoResponse, len(memos))
		for i := range memos {
			resp[i] = memoToResponse(memos[i])
		}

		writeJSON(w, map[string]any{
			"memos":  resp,
			"count":  len(resp),
			"total":  total,
			"limit":  limit,
			"offset": offset,
		}, http.StatusOK)
	})
}

// handleListSubmissions lists audited submissions, optionally filtered by state.
// GET /api/v1/submissions?state=failed&limit=N&offset=N
func handleListSubmissions(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Validate state filter
		state := r.URL.Query().Get("state")
		if err := validateState(state); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		subs, err := store.ListSubmissions(r.Context(), db.ListSubmissionsParams{
			State:  state,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			logger.Error("failed to list submissions", "state", state, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		// Convert to response format
		resp := make([]submissionResponse, len(subs))
		for i := range subs {
			resp[i] = submissionToResponse(subs[i])
		}

		writeJSON(w, map[string]any{
			"submissions": resp,
			"count":       len(resp),
			"limit":       limit,
			"offset":      offset,
		}, http.StatusOK)
	})
}

// handleGetSubmission returns one audited submission.
// GET /api/v1/submissions/{handle}
func handleGetSubmission(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Validate handle format
		handle := r.PathValue("handle")
		if err := validateHandle(handle); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		sub, err := store.GetSubmission(r.Context(), handle)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "submission not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get submission", "handle", handle, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, submissionToResponse(sub), http.StatusOK)
	})
}

// memoResponse is the JSON response format for an indexed memo.
type memoResponse struct {
	Backend     string    `json:"backend"`
	Position    int64     `json:"position"`
	Sender      string    `json:"sender"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
	TxRef       *string   `json:"tx_ref,omitempty"`
	IndexedAt   time.Time `json:"indexed_at"`
}

func memoToResponse(m *db.Memo) memoResponse {
	return memoResponse{
		Backend:     m.Backend,
		Position:    m.Position,
		Sender:      m.Sender,
		DisplayName: m.DisplayName,
		Text:        m.Text,
		SubmittedAt: m.SubmittedAt,
		TxRef:       m.TxRef,
		IndexedAt:   m.IndexedAt,
	}
}

// submissionResponse is the JSON response format for a submission.
type submissionResponse struct {
	Handle      string    `json:"handle"`
	Backend     string    `json:"backend"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
	Value       string    `json:"value"`
	State       string    `json:"state"`
	Reason      *string   `json:"reason,omitempty"`
	Message     *string   `json:"message,omitempty"`
	TxRef       *string   `json:"tx_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func submissionToResponse(s *db.Submission) submissionResponse {
	value := ""
	if s.Value != nil {
		value = s.Value.String()
	}
	return submissionResponse{
		Handle:      s.Handle,
		Backend:     s.Backend,
		DisplayName: s.DisplayName,
		Text:        s.Text,
		Value:       value,
		State:       s.State,
		Reason:      s.Reason,
		Message:     s.Message,
		TxRef:       s.TxRef,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// parsePagination reads limit (default 100, max 1000) and offset (default 0).
func parsePagination(r *http.Request) (limit, offset int32, err error) {
	query := r.URL.Query()

	limit = defaultPageSize
	if limitStr := query.Get("limit"); limitStr != "" {
		var parsed int
		if _, err := fmt.Sscanf(limitStr, "%d", &parsed); err != nil {
			return 0, 0, errorf("invalid limit parameter: must be an integer")
		}
		if parsed < 1 {
			return 0, 0, errorf("limit must be at least 1")
		}
		if parsed > maxPageSize {
			return 0, 0, errorf("limit cannot exceed %d", maxPageSize)
		}
		limit = int32(parsed)
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		var parsed int
		if _, err := fmt.Sscanf(offsetStr, "%d", &parsed); err != nil {
			return 0, 0, errorf("invalid offset parameter: must be an integer")
		}
		if parsed < 0 {
			return 0, 0, errorf("offset cannot be negative")
		}
		offset = int32(parsed)
	}

	return limit, offset, nil
}

func validateState(state string) error {
	switch state {
	case "":
		return nil
	case memo.AwaitingApproval.String(), memo.Broadcast.String(), memo.Confirmed.String(), memo.Failed.String():
		return nil
	}
	return errorf("invalid state: %q", state)
}

func validateHandle(handle string) error {
	if handle == "" {
		return errorf("handle is required")
	}
	if len(handle) > 64 {
		return errorf("handle too long")
	}
	for _, r := range handle {
		if !(r == '-' || unicode.IsDigit(r) || ('a' <= r && r <= 'f') || ('A' <= r && r <= 'F')) {
			return errorf("invalid handle format")
		}
	}
	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
