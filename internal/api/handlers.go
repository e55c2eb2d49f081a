package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/GoalBot/internal/flow"
	"github.com/BTreeMap/GoalBot/internal/models"
	"github.com/BTreeMap/GoalBot/internal/store"
)

// verifyHandler links the chat account holding the submitted code to the
// authenticated user and notifies the chat.
func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Authentication required"))
		return
	}

	var req models.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.verifyHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx := r.Context()
	acc, err := s.store.GetLinkedAccountByCode(ctx, req.VerificationCode)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("Server.verifyHandler: unknown verification code", "userID", user.ID)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Verification code not found"))
		return
	}
	if err != nil {
		slog.Error("Server.verifyHandler: account lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to verify account"))
		return
	}

	if err := s.store.LinkAccount(ctx, acc.ParticipantID, user.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Verification code not found"))
			return
		}
		slog.Error("Server.verifyHandler: link failed", "error", err, "participantID", acc.ParticipantID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to verify account"))
		return
	}
	slog.Info("Server.verifyHandler: account linked", "participantID", acc.ParticipantID, "userID", user.ID)

	if err := s.msgService.SendMessage(ctx, acc.ChatID, flow.ReplyVerified, models.FormatPlain); err != nil {
		slog.Warn("Server.verifyHandler: failed to notify chat", "error", err, "chatID", acc.ChatID)
	}

	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Account verified", models.VerifyResult{
		ParticipantID: acc.ParticipantID,
		Handle:        acc.Handle,
		UserID:        user.ID,
	}))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}
