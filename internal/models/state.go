// Package models defines conversation state structures for the bot flow.
package models

// ConversationState is the current step of a participant's conversation with the bot.
type ConversationState string

const (
	// StateStart is derived for a participant whose account was just created.
	StateStart ConversationState = "start"
	// StateVerification is derived for a participant whose account is not linked yet.
	StateVerification ConversationState = "verification"
	// StateIdle waits for a command.
	StateIdle ConversationState = "idle"
	// StateChoosingCategory waits for a category title.
	StateChoosingCategory ConversationState = "choosing_category"
	// StateEnteringTitle waits for a goal title.
	StateEnteringTitle ConversationState = "entering_title"
)

// DefaultConversationState is reported for participants without a stored state.
const DefaultConversationState = StateIdle

// IsValid reports whether s is a known conversation state.
func (s ConversationState) IsValid() bool {
	switch s {
	case StateStart, StateVerification, StateIdle, StateChoosingCategory, StateEnteringTitle:
		return true
	}
	return false
}

// IsTransient reports whether s is only ever entered by account resolution,
// never by user input.
func (s ConversationState) IsTransient() bool {
	return s == StateStart || s == StateVerification
}

// InCreationFlow reports whether s belongs to the multi-step goal creation flow.
func (s ConversationState) InCreationFlow() bool {
	return s == StateChoosingCategory || s == StateEnteringTitle
}

// GoalDraft holds data collected while a participant walks through goal creation.
type GoalDraft struct {
	CategoryID    int64  `json:"category_id"`
	CategoryTitle string `json:"category_title"`
	BoardID       int64  `json:"board_id"`
	OwnerID       int64  `json:"owner_id"` // category author, becomes the goal owner
}

// HasCategory reports whether a category has been chosen.
func (d *GoalDraft) HasCategory() bool {
	return d != nil && d.CategoryID != 0
}
