package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/GoalBot/internal/flow"
	"github.com/BTreeMap/GoalBot/internal/messaging"
	"github.com/BTreeMap/GoalBot/internal/models"
	"github.com/BTreeMap/GoalBot/internal/store"
	"github.com/BTreeMap/GoalBot/internal/telegram"
)

// recordingHandler records handled texts and fails or panics on request.
type recordingHandler struct {
	mu      sync.Mutex
	texts   []string
	failOn  string
	panicOn string
}

func (h *recordingHandler) Handle(ctx context.Context, msg *models.Message) error {
	h.mu.Lock()
	h.texts = append(h.texts, msg.Text)
	h.mu.Unlock()
	if msg.Text == h.panicOn {
		panic("boom")
	}
	if msg.Text == h.failOn {
		return errors.New("store unavailable")
	}
	return nil
}

func (h *recordingHandler) handled() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.texts))
	copy(out, h.texts)
	return out
}

var fastBackoff = BackoffConfig{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

// runBot starts b in the background and returns a stop function that cancels
// it and waits for Run to return.
func runBot(t *testing.T, b *Bot) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	var once sync.Once
	var result error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case result = <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("bot did not stop")
			}
		})
		return result
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func TestBotProcessesUpdatesInOrder(t *testing.T) {
	mock := telegram.NewMockClient()
	h := &recordingHandler{failOn: "bad"}
	b := New(mock, h, WithBackoff(fastBackoff))

	mock.PushText(1, 5, "one")
	mock.PushUpdate(models.Update{ID: 2})
	mock.PushText(3, 5, "bad")
	mock.PushText(4, 6, "four")
	stop := runBot(t, b)

	require.Eventually(t, func() bool { return len(h.handled()) == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		offs := mock.Offsets()
		return len(offs) > 0 && offs[len(offs)-1] == 5
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, []string{"one", "bad", "four"}, h.handled())
	assert.Equal(t, 5, b.Offset(), "failed and empty updates are still consumed")
}

func TestBotPersistsAndResumesOffset(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	require.NoError(t, st.SaveBotOffset(ctx, "test", 3))

	mock := telegram.NewMockClient()
	h := &recordingHandler{}
	b := New(mock, h, WithOffsetStore(st), WithBotName("test"), WithBackoff(fastBackoff))

	mock.PushText(1, 5, "old")
	mock.PushText(2, 5, "old")
	mock.PushText(3, 5, "new")
	mock.PushText(4, 5, "newer")
	stop := runBot(t, b)

	require.Eventually(t, func() bool { return len(h.handled()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		off, err := st.GetBotOffset(ctx, "test")
		return err == nil && off == 5
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, []string{"new", "newer"}, h.handled())
	assert.Equal(t, 3, mock.Offsets()[0])
}

func TestBotBacksOffOnFetchErrors(t *testing.T) {
	mock := telegram.NewMockClient()
	h := &recordingHandler{}
	b := New(mock, h, WithBackoff(fastBackoff))

	mock.FailNextFetch(errors.New("timeout"), errors.New("connection reset"), errors.New("timeout"))
	mock.PushText(1, 5, "after outage")
	stop := runBot(t, b)

	require.Eventually(t, func() bool { return len(h.handled()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, stop())
	assert.GreaterOrEqual(t, len(mock.Offsets()), 4)
}

func TestBotStopsWhenTransportStops(t *testing.T) {
	mock := telegram.NewMockClient()
	require.NoError(t, mock.Stop())
	b := New(mock, &recordingHandler{}, WithBackoff(fastBackoff))

	err := b.Run(context.Background())
	assert.ErrorIs(t, err, messaging.ErrServiceStopped)
}

func TestBotRecoversFromHandlerPanic(t *testing.T) {
	mock := telegram.NewMockClient()
	h := &recordingHandler{panicOn: "explode"}
	b := New(mock, h, WithBackoff(fastBackoff))

	mock.PushText(1, 5, "explode")
	mock.PushText(2, 5, "fine")
	stop := runBot(t, b)

	require.Eventually(t, func() bool { return len(h.handled()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, stop())
}

// failingOffsets fails to load offsets.
type failingOffsets struct{}

func (failingOffsets) GetBotOffset(ctx context.Context, botName string) (int, error) {
	return 0, errors.New("no such table")
}

func (failingOffsets) SaveBotOffset(ctx context.Context, botName string, offset int) error {
	return nil
}

func TestBotFailsWhenOffsetCannotBeLoaded(t *testing.T) {
	b := New(telegram.NewMockClient(), &recordingHandler{}, WithOffsetStore(failingOffsets{}))
	assert.Error(t, b.Run(context.Background()))
}

func TestBotReturnsNilOnCancel(t *testing.T) {
	b := New(telegram.NewMockClient(), &recordingHandler{})
	stop := runBot(t, b)
	time.Sleep(10 * time.Millisecond)
	assert.NoError(t, stop())
}

func TestBackoffDelay(t *testing.T) {
	cfg := BackoffConfig{BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for attempt, w := range want {
		assert.Equal(t, w*time.Second, cfg.Delay(attempt), "attempt %d", attempt)
	}

	jittered := DefaultBackoffConfig()
	for i := 0; i < 100; i++ {
		d := jittered.Delay(3)
		assert.InDelta(t, float64(8*time.Second), float64(d), float64(800*time.Millisecond))
	}
}

func TestBotDrivesConversation(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	mock := telegram.NewMockClient()

	u, err := st.CreateUser(ctx, "alice")
	require.NoError(t, err)
	board, err := st.CreateBoard(ctx, "Personal")
	require.NoError(t, err)
	require.NoError(t, st.AddBoardParticipant(ctx, board.ID, u.ID, models.RoleOwner))
	for _, title := range []string{"Work", "Home"} {
		require.NoError(t, st.CreateCategory(ctx, &models.GoalCategory{BoardID: board.ID, UserID: u.ID, Title: title}))
	}
	require.NoError(t, st.CreateLinkedAccount(ctx, &models.LinkedAccount{ParticipantID: 5, ChatID: 5}))
	require.NoError(t, st.LinkAccount(ctx, 5, u.ID))

	machine := flow.NewMachine(st, mock, flow.NewInMemoryStateManager(), nil)
	b := New(mock, machine, WithOffsetStore(st), WithBackoff(fastBackoff))

	mock.PushText(10, 5, "/create")
	mock.PushText(11, 5, "Home")
	mock.PushText(12, 5, "Buy milk")
	mock.PushText(13, 5, "/goals")
	stop := runBot(t, b)

	require.Eventually(t, func() bool { return len(mock.SentTo(5)) == 4 }, time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	goals, err := st.ListActiveGoals(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, "Buy milk", goals[0].Title)

	sent := mock.SentTo(5)
	assert.Equal(t, flow.ReplyEnterTitle, sent[1])
	assert.Contains(t, sent[2], flow.GoalLink(flow.DefaultSiteURL, board.ID, goals[0].ID))
	assert.Contains(t, sent[3], "Buy milk")
	assert.Equal(t, 14, b.Offset())
}
