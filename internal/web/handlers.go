package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mkarlsen/gamelog/internal/importer"
	"github.com/mkarlsen/gamelog/internal/logging"
)

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStart ingests an uploaded export file and starts a session.
// Multipart form: "file" is the export, "user_id" identifies the owner.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.Upload.MaxFileSize); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}

	userID := r.FormValue("user_id")
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if header.Size > s.cfg.Upload.MaxFileSize {
		writeError(w, r, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.Upload.MaxFileSize+1))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "could not read file")
		return
	}
	if int64(len(data)) > s.cfg.Upload.MaxFileSize {
		writeError(w, r, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	sess, err := s.service.Start(r.Context(), userID, header.Filename, data)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("import started",
		"import_id", sess.ID,
		"user_id", userID,
		"total", sess.TotalCount,
	)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"import_id": sess.ID,
		"total":     sess.TotalCount,
		"status":    sess.Status,
	})
}

// handleStatus reports per-status counts for the user's live session.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}

	report, err := s.service.Status(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// userRequest is the body shared by the plain session commands.
type userRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.sessionCommand(w, r, s.service.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.sessionCommand(w, r, s.service.Resume)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.sessionCommand(w, r, s.service.Cancel)
}

// sessionCommand decodes the shared body and runs one session command.
func (s *Server) sessionCommand(w http.ResponseWriter, r *http.Request, cmd func(ctx context.Context, userID string) error) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := cmd(r.Context(), req.UserID); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePrompt returns the outstanding prompt for the user, if any, so a
// reconnecting client can re-render the candidate list.
func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}

	prompt, err := s.service.Prompt(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if prompt == nil {
		writeError(w, r, http.StatusNotFound, "no prompt awaiting a response")
		return
	}
	writeJSON(w, http.StatusOK, prompt)
}

// selectRequest answers a selection prompt.
type selectRequest struct {
	UserID   string `json:"user_id"`
	PromptID string `json:"prompt_id"`
	Choice   int    `json:"choice"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.PromptID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id and prompt_id are required")
		return
	}

	if err := s.service.Select(r.Context(), req.UserID, req.PromptID, req.Choice); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// confirmRequest answers a confirmation prompt; the detail fields are
// optional overrides of the values prefilled from the export row.
type confirmRequest struct {
	UserID         string   `json:"user_id"`
	PromptID       string   `json:"prompt_id"`
	CompletionType *string  `json:"completion_type,omitempty"`
	CompletedAt    *string  `json:"completed_at,omitempty"` // YYYY-MM-DD
	PlaytimeHours  *float64 `json:"playtime_hours,omitempty"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.PromptID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id and prompt_id are required")
		return
	}

	details, err := s.confirmDetails(r.Context(), req)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.service.Confirm(r.Context(), req.UserID, req.PromptID, details); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// confirmDetails merges the request's overrides onto the prompt's prefilled
// details, or returns nil when the client accepts the prefill unchanged.
func (s *Server) confirmDetails(ctx context.Context, req confirmRequest) (*importer.ConfirmDetails, error) {
	if req.CompletionType == nil && req.CompletedAt == nil && req.PlaytimeHours == nil {
		return nil, nil
	}

	details := importer.ConfirmDetails{}
	if prompt, err := s.service.Prompt(ctx, req.UserID); err == nil && prompt != nil {
		details = prompt.Details
	}

	if req.CompletionType != nil {
		details.CompletionType = *req.CompletionType
	}
	if req.CompletedAt != nil {
		t, err := time.Parse("2006-01-02", *req.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("completed_at must be YYYY-MM-DD")
		}
		details.CompletedAt = &t
	}
	if req.PlaytimeHours != nil {
		details.PlaytimeHours = req.PlaytimeHours
	}
	return &details, nil
}

// skipRequest skips the row behind the outstanding prompt.
type skipRequest struct {
	UserID   string `json:"user_id"`
	PromptID string `json:"prompt_id"`
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	var req skipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.PromptID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id and prompt_id are required")
		return
	}

	if err := s.service.Skip(r.Context(), req.UserID, req.PromptID); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
