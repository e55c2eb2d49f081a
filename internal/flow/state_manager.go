package flow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/GoalBot/internal/models"
)

// InMemoryStateManager keeps states and drafts in two process-local maps.
// Entries live for the lifetime of the process.
type InMemoryStateManager struct {
	mu     sync.RWMutex
	states map[int64]models.ConversationState
	drafts map[int64]models.GoalDraft
}

var _ StateManager = (*InMemoryStateManager)(nil)

// NewInMemoryStateManager creates an empty state manager.
func NewInMemoryStateManager() *InMemoryStateManager {
	slog.Debug("Creating InMemoryStateManager")
	return &InMemoryStateManager{
		states: make(map[int64]models.ConversationState),
		drafts: make(map[int64]models.GoalDraft),
	}
}

func (sm *InMemoryStateManager) GetState(ctx context.Context, participantID int64) (models.ConversationState, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	state, ok := sm.states[participantID]
	if !ok {
		return models.DefaultConversationState, nil
	}
	return state, nil
}

func (sm *InMemoryStateManager) SetState(ctx context.Context, participantID int64, state models.ConversationState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.states[participantID] = state
	slog.Debug("StateManager SetState", "participantID", participantID, "state", state)
	return nil
}

func (sm *InMemoryStateManager) GetDraft(ctx context.Context, participantID int64) (*models.GoalDraft, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	draft, ok := sm.drafts[participantID]
	if !ok {
		return nil, nil
	}
	return &draft, nil
}

func (sm *InMemoryStateManager) SetDraft(ctx context.Context, participantID int64, draft models.GoalDraft) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.drafts[participantID] = draft
	return nil
}

func (sm *InMemoryStateManager) ClearDraft(ctx context.Context, participantID int64) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.drafts, participantID)
	return nil
}
