// Package flow implements the bot conversation: per-participant state,
// account linking and the state machine that dispatches each message.
package flow

import (
	"context"

	"github.com/BTreeMap/GoalBot/internal/models"
)

// StateManager holds the conversation state and in-flight goal draft of each
// chat participant.
type StateManager interface {
	// GetState returns the stored state, or models.DefaultConversationState if none is stored.
	GetState(ctx context.Context, participantID int64) (models.ConversationState, error)
	// SetState stores the participant's state.
	SetState(ctx context.Context, participantID int64, state models.ConversationState) error
	// GetDraft returns the participant's draft, or nil if none exists.
	GetDraft(ctx context.Context, participantID int64) (*models.GoalDraft, error)
	// SetDraft replaces the participant's draft.
	SetDraft(ctx context.Context, participantID int64, draft models.GoalDraft) error
	// ClearDraft discards the participant's draft.
	ClearDraft(ctx context.Context, participantID int64) error
}
