package telegram

import (
	"context"
	"sync"

	"github.com/BTreeMap/GoalBot/internal/messaging"
	"github.com/BTreeMap/GoalBot/internal/models"
)

// SentMessage is an outbound message recorded by MockClient.
type SentMessage struct {
	ChatID int64
	Text   string
	Format models.TextFormat
}

// MockClient is an in-process messaging.Service for tests. Updates pushed with
// PushUpdate are served with Telegram offset semantics: fetching with offset N
// confirms and drops every update with id < N.
type MockClient struct {
	mu        sync.Mutex
	pending   []models.Update
	sent      []SentMessage
	offsets   []int
	fetchErrs []error
	sendErr   error
	stopped   bool
	signal    chan struct{}
}

var _ messaging.Service = (*MockClient)(nil)

// NewMockClient creates an empty mock transport.
func NewMockClient() *MockClient {
	return &MockClient{signal: make(chan struct{}, 1)}
}

// PushUpdate queues inbound updates and wakes a blocked FetchUpdates.
func (m *MockClient) PushUpdate(updates ...models.Update) {
	m.mu.Lock()
	m.pending = append(m.pending, updates...)
	m.mu.Unlock()
	m.wake()
}

// PushText queues a text message update from sender in a chat with the same id.
func (m *MockClient) PushText(updateID int, senderID int64, text string) {
	m.PushUpdate(models.Update{ID: updateID, Message: &models.Message{SenderID: senderID, ChatID: senderID, Text: text}})
}

// FailNextFetch makes the next FetchUpdates calls return errs in order.
func (m *MockClient) FailNextFetch(errs ...error) {
	m.mu.Lock()
	m.fetchErrs = append(m.fetchErrs, errs...)
	m.mu.Unlock()
	m.wake()
}

// SetSendError makes every SendMessage fail with err until reset with nil.
func (m *MockClient) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func (m *MockClient) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// FetchUpdates returns pending updates with id >= offset, blocking until one
// is available or ctx is done.
func (m *MockClient) FetchUpdates(ctx context.Context, offset int) ([]models.Update, error) {
	m.mu.Lock()
	m.offsets = append(m.offsets, offset)
	m.mu.Unlock()
	for {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return nil, messaging.ErrServiceStopped
		}
		if len(m.fetchErrs) > 0 {
			err := m.fetchErrs[0]
			m.fetchErrs = m.fetchErrs[1:]
			m.mu.Unlock()
			return nil, err
		}
		kept := m.pending[:0]
		for _, u := range m.pending {
			if u.ID >= offset {
				kept = append(kept, u)
			}
		}
		m.pending = kept
		if len(kept) > 0 {
			out := make([]models.Update, len(kept))
			copy(out, kept)
			m.mu.Unlock()
			return out, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.signal:
		}
	}
}

// SendMessage records the message.
func (m *MockClient) SendMessage(ctx context.Context, chatID int64, text string, format models.TextFormat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return messaging.ErrServiceStopped
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, SentMessage{ChatID: chatID, Text: text, Format: format})
	return nil
}

// Stop marks the mock as stopped.
func (m *MockClient) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

// Sent returns a copy of all recorded outbound messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns the texts sent to chatID in order.
func (m *MockClient) SentTo(chatID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.ChatID == chatID {
			out = append(out, s.Text)
		}
	}
	return out
}

// ResetSent forgets recorded outbound messages.
func (m *MockClient) ResetSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// Offsets returns the offsets FetchUpdates was called with.
func (m *MockClient) Offsets() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.offsets))
	copy(out, m.offsets)
	return out
}
