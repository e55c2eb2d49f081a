package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/GoalBot/internal/models"
	"github.com/BTreeMap/GoalBot/internal/store"
	"github.com/BTreeMap/GoalBot/internal/telegram"
)

// faultyStore injects failures into selected store calls.
type faultyStore struct {
	*store.InMemoryStore
	listGoalsErr  error
	listCatsErr   error
	createGoalErr error
	getAccountErr error
}

func (f *faultyStore) ListActiveGoals(ctx context.Context, userID int64) ([]models.Goal, error) {
	if f.listGoalsErr != nil {
		return nil, f.listGoalsErr
	}
	return f.InMemoryStore.ListActiveGoals(ctx, userID)
}

func (f *faultyStore) ListVisibleCategories(ctx context.Context, userID int64) ([]models.GoalCategory, error) {
	if f.listCatsErr != nil {
		return nil, f.listCatsErr
	}
	return f.InMemoryStore.ListVisibleCategories(ctx, userID)
}

func (f *faultyStore) CreateGoal(ctx context.Context, goal *models.Goal) error {
	if f.createGoalErr != nil {
		return f.createGoalErr
	}
	return f.InMemoryStore.CreateGoal(ctx, goal)
}

func (f *faultyStore) GetLinkedAccount(ctx context.Context, participantID int64) (*models.LinkedAccount, error) {
	if f.getAccountErr != nil {
		return nil, f.getAccountErr
	}
	return f.InMemoryStore.GetLinkedAccount(ctx, participantID)
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	store   *faultyStore
	mock    *telegram.MockClient
	states  *InMemoryStateManager
	machine *Machine
	codes   int

	user       *models.User
	board      *models.Board
	work, home *models.GoalCategory
}

const siteURL = "https://goals.example.com"

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		store:  &faultyStore{InMemoryStore: store.NewInMemoryStore()},
		mock:   telegram.NewMockClient(),
		states: NewInMemoryStateManager(),
	}
	linker := NewAccountLinker(h.store, h.mock, WithCodeGenerator(func() string {
		h.codes++
		return fmt.Sprintf("CODE%012d", h.codes)
	}))
	h.machine = NewMachine(h.store, h.mock, h.states, linker, WithSiteURL(siteURL))

	var err error
	h.user, err = h.store.CreateUser(h.ctx, "alice")
	require.NoError(t, err)
	h.board, err = h.store.CreateBoard(h.ctx, "Personal")
	require.NoError(t, err)
	require.NoError(t, h.store.AddBoardParticipant(h.ctx, h.board.ID, h.user.ID, models.RoleOwner))
	return h
}

func (h *harness) seedCategories() {
	h.t.Helper()
	h.work = &models.GoalCategory{BoardID: h.board.ID, UserID: h.user.ID, Title: "Work"}
	require.NoError(h.t, h.store.CreateCategory(h.ctx, h.work))
	h.home = &models.GoalCategory{BoardID: h.board.ID, UserID: h.user.ID, Title: "Home"}
	require.NoError(h.t, h.store.CreateCategory(h.ctx, h.home))
}

func chatOf(pid int64) int64 { return pid * 10 }

func (h *harness) send(pid int64, text string) error {
	return h.machine.Handle(h.ctx, &models.Message{SenderID: pid, SenderHandle: "neo", ChatID: chatOf(pid), Text: text})
}

// say sends text, requires success and returns the replies it produced.
func (h *harness) say(pid int64, text string) []string {
	h.t.Helper()
	h.mock.ResetSent()
	require.NoError(h.t, h.send(pid, text))
	return h.mock.SentTo(chatOf(pid))
}

func (h *harness) state(pid int64) models.ConversationState {
	h.t.Helper()
	s, err := h.states.GetState(h.ctx, pid)
	require.NoError(h.t, err)
	return s
}

func (h *harness) draft(pid int64) *models.GoalDraft {
	h.t.Helper()
	d, err := h.states.GetDraft(h.ctx, pid)
	require.NoError(h.t, err)
	return d
}

// linked creates the participant's account and links it to the harness user.
func (h *harness) linked(pid int64) {
	h.t.Helper()
	h.say(pid, "hi")
	require.NoError(h.t, h.store.LinkAccount(h.ctx, pid, h.user.ID))
	h.say(pid, "/cancel")
	require.Equal(h.t, models.StateIdle, h.state(pid))
}

func (h *harness) account(pid int64) *models.LinkedAccount {
	h.t.Helper()
	acc, err := h.store.GetLinkedAccount(h.ctx, pid)
	require.NoError(h.t, err)
	return acc
}

func TestFirstContactSendsGreetingWithCode(t *testing.T) {
	h := newHarness(t)

	replies := h.say(1, "/goals")
	acc := h.account(1)
	require.Len(t, replies, 2)
	assert.Equal(t, welcomeText(acc.VerificationCode), replies[0])
	assert.Contains(t, replies[0], acc.VerificationCode)
	assert.Equal(t, ReplyGreeting, replies[1])

	assert.False(t, acc.IsLinked())
	assert.Equal(t, int64(10), acc.ChatID)
	assert.Equal(t, "neo", acc.Handle)
	assert.Equal(t, models.StateStart, h.state(1))

	withCode := 0
	for _, r := range replies {
		if strings.Contains(r, acc.VerificationCode) {
			withCode++
		}
	}
	assert.Equal(t, 1, withCode, "exactly one reply carries the code")
}

func TestUnlinkedParticipantIsAlwaysPromptedForCode(t *testing.T) {
	h := newHarness(t)
	h.seedCategories()
	h.say(1, "hello")
	code := h.account(1).VerificationCode

	for _, text := range []string{"/goals", "/create", "/cancel", "Home", "anything"} {
		replies := h.say(1, text)
		assert.Equal(t, []string{verificationCodeText(code)}, replies, "input %q", text)
		assert.Equal(t, models.StateVerification, h.state(1))
		assert.Nil(t, h.draft(1))
	}
	assert.Equal(t, code, h.account(1).VerificationCode, "re-prompt must not invalidate the code")
	assert.Equal(t, 1, h.codes)
}

func TestUnlinkedGoalsCommandIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.seedCategories()
	g := &models.Goal{UserID: h.user.ID, CategoryID: h.home.ID, Title: "Secret"}
	require.NoError(t, h.store.CreateGoal(h.ctx, g))

	h.say(7, "hi")
	replies := h.say(7, "/goals")
	require.Len(t, replies, 1)
	assert.Equal(t, verificationCodeText(h.account(7).VerificationCode), replies[0])
	assert.NotContains(t, replies[0], "Secret")
}

func TestLinkingMovesNextMessageToIdle(t *testing.T) {
	for _, prior := range []string{"start", "verification"} {
		t.Run(prior, func(t *testing.T) {
			h := newHarness(t)
			h.say(1, "hi")
			if prior == "verification" {
				h.say(1, "again")
				require.Equal(t, models.StateVerification, h.state(1))
			} else {
				require.Equal(t, models.StateStart, h.state(1))
			}

			require.NoError(t, h.store.LinkAccount(h.ctx, 1, h.user.ID))
			replies := h.say(1, "/goals")
			assert.Equal(t, []string{ReplyNoGoals}, replies)
			assert.Equal(t, models.StateIdle, h.state(1))
		})
	}
}

func TestLinkedParticipantWithoutStoredStateIsIdle(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.CreateLinkedAccount(h.ctx, &models.LinkedAccount{ParticipantID: 3, ChatID: 30}))
	require.NoError(t, h.store.LinkAccount(h.ctx, 3, h.user.ID))

	assert.Equal(t, []string{ReplyUnknownCommand}, h.say(3, "hello"))
	assert.Equal(t, models.StateIdle, h.state(3))
}

func TestIdleCommands(t *testing.T) {
	h := newHarness(t)
	h.linked(1)

	assert.Equal(t, []string{ReplyNoGoals}, h.say(1, "/goals"))
	assert.Equal(t, []string{ReplyUnknownCommand}, h.say(1, "make me a goal"))
	assert.Equal(t, []string{ReplyUnknownCommand}, h.say(1, "/cancel"))
	assert.Equal(t, []string{ReplyNoCategories}, h.say(1, "/create"), "no categories keeps idle")
	assert.Equal(t, models.StateIdle, h.state(1))
}

func TestCreateGoalScenario(t *testing.T) {
	h := newHarness(t)
	h.seedCategories()
	h.linked(1)

	replies := h.say(1, "/create")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], fmt.Sprintf("#%d `Work`", h.work.ID))
	assert.Contains(t, replies[0], fmt.Sprintf("#%d `Home`", h.home.ID))
	assert.Equal(t, models.FormatMarkdown, h.mock.Sent()[0].Format)
	assert.Equal(t, models.StateChoosingCategory, h.state(1))

	assert.Equal(t, []string{ReplyEnterTitle}, h.say(1, "Home"))
	assert.Equal(t, models.StateEnteringTitle, h.state(1))
	require.NotNil(t, h.draft(1))
	assert.Equal(t, h.home.ID, h.draft(1).CategoryID)

	replies = h.say(1, "Buy milk")
	goals, err := h.store.ListActiveGoals(h.ctx, h.user.ID)
	require.NoError(t, err)
	require.Len(t, goals, 1)
	g := goals[0]
	assert.Equal(t, "Buy milk", g.Title)
	assert.Equal(t, h.home.ID, g.CategoryID)
	assert.Equal(t, h.user.ID, g.UserID)
	assert.Equal(t, GoalDescription, g.Description)
	assert.Nil(t, g.DueDate)

	link := fmt.Sprintf("%s/boards/%d/goals?goal=%d", siteURL, h.board.ID, g.ID)
	assert.Equal(t, []string{goalCreatedText(link)}, replies)
	assert.Equal(t, models.StateIdle, h.state(1))
	assert.Nil(t, h.draft(1))

	assert.Equal(t, []string{fmt.Sprintf("#%d Buy milk", g.ID)}, h.say(1, "/goals"))
}

func TestGoalOwnedByCategoryAuthor(t *testing.T) {
	h := newHarness(t)
	author, err := h.store.CreateUser(h.ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, h.store.AddBoardParticipant(h.ctx, h.board.ID, author.ID, models.RoleWriter))
	shared := &models.GoalCategory{BoardID: h.board.ID, UserID: author.ID, Title: "Shared"}
	require.NoError(t, h.store.CreateCategory(h.ctx, shared))
	h.linked(1)

	h.say(1, "/create")
	h.say(1, "Shared")
	h.say(1, "Plan trip")

	goals, err := h.store.ListActiveGoals(h.ctx, author.ID)
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, "Plan trip", goals[0].Title)
}

func TestChoosingCategoryRejectsUnknownTitle(t *testing.T) {
	h := newHarness(t)
	h.seedCategories()
	h.linked(1)
	h.say(1, "/create")

	for _, text := range []string{"home", "Hom", "Home ", "/goals", "Office"} {
		assert.Equal(t, []string{ReplyNoSuchCategory}, h.say(1, text), "input %q", text)
		assert.Equal(t, models.StateChoosingCategory, h.state(1))
		assert.Nil(t, h.draft(1))
	}
}

func TestChoosingCategoryIgnoresInvisibleCategories(t *testing.T) {
	h := newHarness(t)
	h.seedCategories()
	other, err := h.store.CreateBoard(h.ctx, "Other")
	require.NoError(t, err)
	hidden := &models.GoalCategory{BoardID: other.ID, UserID: h.user.ID, Title: "Hidden"}
	require.NoError(t, h.store.CreateCategory(h.ctx, hidden))
	h.linked(1)

	replies := h.say(1, "/create")
	assert.NotContains(t, replies[0], "Hidden")
	assert.Equal(t, []string{ReplyNoSuchCategory}, h.say(1, "Hidden"))
}

func TestCancelDiscardsDraft(t *testing.T) {
	h := newHarness(t)
	h.seedCategories()
	h.linked(1)

	h.say(1, "/create")
	assert.Equal(t, []string{ReplyCancelled}, h.say(1, "/cancel"))
	assert.Equal(t, models.StateIdle, h.state(1))

	h.say(1, "/create")
	h.say(1, "Work")
	require.NotNil(t, h.draft(1))
	assert.Equal(t, []string{ReplyCancelled}, h.say(1, "/cancel"))
	assert.Equal(t, models.StateIdle, h.state(1))
	assert.Nil(t, h.draft(1))

	h.say(1, "/create")
	assert.Equal(t, models.StateChoosingCategory, h.state(1))
	assert.Nil(t, h.draft(1), "a new flow starts without leftovers")

	goals, err := h.store.ListActiveGoals(h.ctx, h.user.ID)
	require.NoError(t, err)
	assert.Empty(t, goals)
}

func TestCommandsInCreationFlowAreData(t *testing.T) {
	h := newHarness(t)
	h.seedCategories()
	h.linked(1)
	h.say(1, "/create")
	h.say(1, "Work")

	h.say(1, "/goals")
	goals, err := h.store.ListActiveGoals(h.ctx, h.user.ID)
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, "/goals", goals[0].Title)
}

func TestGoalCreateFailureKeepsDraft(t *testing.T) {
	h := newHarness(t)
	h.seedCategories()
	h.linked(1)
	h.say(1, "/create")
	h.say(1, "Home")

	h.store.createGoalErr = errors.New("database is locked")
	h.mock.ResetSent()
	err := h.send(1, "Buy milk")
	require.Error(t, err)
	assert.Equal(t, []string{ReplyGoalCreateRetry}, h.mock.SentTo(chatOf(1)))
	assert.Equal(t, models.StateEnteringTitle, h.state(1))
	require.NotNil(t, h.draft(1))
	assert.Equal(t, h.home.ID, h.draft(1).CategoryID)

	h.store.createGoalErr = nil
	replies := h.say(1, "Buy milk")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Your goal has been created")
	assert.Equal(t, models.StateIdle, h.state(1))
}

func TestBlankTitleIsRejected(t *testing.T) {
	h := newHarness(t)
	h.seedCategories()
	h.linked(1)
	h.say(1, "/create")
	h.say(1, "Home")

	assert.Equal(t, []string{ReplyGoalCreateRetry}, h.say(1, "   "))
	assert.Equal(t, models.StateEnteringTitle, h.state(1))
}

func TestEnteringTitleWithoutDraftResets(t *testing.T) {
	h := newHarness(t)
	h.linked(1)
	require.NoError(t, h.states.SetState(h.ctx, 1, models.StateEnteringTitle))

	assert.Equal(t, []string{ReplyApology}, h.say(1, "Buy milk"))
	assert.Equal(t, models.StateIdle, h.state(1))
}

func TestPersistenceFailureApologizesAndKeepsState(t *testing.T) {
	h := newHarness(t)
	h.seedCategories()
	h.linked(1)

	h.store.listGoalsErr = errors.New("connection refused")
	h.mock.ResetSent()
	require.Error(t, h.send(1, "/goals"))
	assert.Equal(t, []string{ReplyApology}, h.mock.SentTo(chatOf(1)))
	assert.Equal(t, models.StateIdle, h.state(1))

	h.store.listCatsErr = errors.New("connection refused")
	h.mock.ResetSent()
	require.Error(t, h.send(1, "/create"))
	assert.Equal(t, []string{ReplyApology}, h.mock.SentTo(chatOf(1)))
	assert.Equal(t, models.StateIdle, h.state(1))

	h.store.getAccountErr = errors.New("connection refused")
	h.mock.ResetSent()
	require.Error(t, h.send(1, "/goals"))
	assert.Equal(t, []string{ReplyApology}, h.mock.SentTo(chatOf(1)))
	for _, s := range h.mock.Sent() {
		assert.NotContains(t, s.Text, "connection refused")
	}
}

func TestSendFailureIsReturned(t *testing.T) {
	h := newHarness(t)
	h.linked(1)
	h.mock.SetSendError(errors.New("telegram down"))
	assert.Error(t, h.send(1, "/goals"))
}

func TestParticipantsAreIndependent(t *testing.T) {
	h := newHarness(t)
	h.seedCategories()
	h.linked(1)
	h.linked(2)

	h.say(1, "/create")
	h.say(2, "/create")
	h.say(1, "Home")
	assert.Equal(t, models.StateEnteringTitle, h.state(1))
	assert.Equal(t, models.StateChoosingCategory, h.state(2))
	assert.Nil(t, h.draft(2))
}

func TestNilMessageIsIgnored(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.machine.Handle(h.ctx, nil))
	assert.Empty(t, h.mock.Sent())
}

func TestClassify(t *testing.T) {
	cases := map[string]inputClass{
		"/goals":          inputGoals,
		" /goals ":        inputGoals,
		"/goals@goal_bot": inputGoals,
		"/create":         inputCreate,
		"/cancel":         inputCancel,
		"/goals now":      inputText,
		"goals":           inputText,
		"/start":          inputText,
		"":                inputText,
	}
	for text, want := range cases {
		assert.Equal(t, want, classify(text), "classify(%q)", text)
	}
}

func TestDeriveState(t *testing.T) {
	uid := int64(1)
	unlinked := &models.LinkedAccount{ParticipantID: 1}
	linked := &models.LinkedAccount{ParticipantID: 1, UserID: &uid}

	tests := []struct {
		name    string
		outcome LinkOutcome
		acc     *models.LinkedAccount
		stored  models.ConversationState
		want    models.ConversationState
	}{
		{"created", LinkCreated, unlinked, models.StateIdle, models.StateStart},
		{"unlinked", LinkExisting, unlinked, models.StateStart, models.StateVerification},
		{"unlinked reissued", LinkReissued, unlinked, models.StateIdle, models.StateVerification},
		{"unlinked ignores creation flow", LinkExisting, unlinked, models.StateEnteringTitle, models.StateVerification},
		{"just verified", LinkExisting, linked, models.StateVerification, models.StateIdle},
		{"linked after start", LinkExisting, linked, models.StateStart, models.StateIdle},
		{"stored flow", LinkExisting, linked, models.StateChoosingCategory, models.StateChoosingCategory},
		{"garbage state", LinkExisting, linked, models.ConversationState("bogus"), models.StateIdle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveState(tt.outcome, tt.acc, tt.stored))
		})
	}
}

func TestTransitionTableCoversEveryState(t *testing.T) {
	for _, s := range []models.ConversationState{
		models.StateStart, models.StateVerification, models.StateIdle,
		models.StateChoosingCategory, models.StateEnteringTitle,
	} {
		_, ok := fallbacks[s]
		assert.True(t, ok, "state %s has no fallback", s)
	}
}

func TestGoalLink(t *testing.T) {
	assert.Equal(t, "http://x/boards/2/goals?goal=9", GoalLink("http://x/", 2, 9))
	assert.Equal(t, "http://x/boards/2/goals?goal=9", GoalLink("http://x", 2, 9))
}

func TestCategoriesTextEscapesBackticks(t *testing.T) {
	text := categoriesText([]models.GoalCategory{{ID: 4, Title: "a`b"}})
	assert.Equal(t, "Choose a category (enter its title)\n#4 `a'b`", text)
}
