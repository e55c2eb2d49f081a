package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/GoalBot/internal/messaging"
	"github.com/BTreeMap/GoalBot/internal/models"
	"github.com/BTreeMap/GoalBot/internal/store"
)

// DefaultSiteURL is the web front-end base used for goal links.
const DefaultSiteURL = "http://localhost"

// inputClass is what the machine sees of a message: one of the recognized
// commands or free text.
type inputClass int

const (
	inputText inputClass = iota
	inputGoals
	inputCreate
	inputCancel
)

func (c inputClass) String() string {
	switch c {
	case inputGoals:
		return "/goals"
	case inputCreate:
		return "/create"
	case inputCancel:
		return "/cancel"
	default:
		return "text"
	}
}

// classify maps message text to an input class. Commands may carry the
// "@botname" suffix clients append in group chats.
func classify(text string) inputClass {
	cmd := strings.TrimSpace(text)
	if !strings.HasPrefix(cmd, "/") || strings.ContainsAny(cmd, " \n\t") {
		return inputText
	}
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	switch cmd {
	case "/goals":
		return inputGoals
	case "/create":
		return inputCreate
	case "/cancel":
		return inputCancel
	}
	return inputText
}

// turn is the context of handling one message.
type turn struct {
	msg     *models.Message
	account *models.LinkedAccount
	outcome LinkOutcome
	state   models.ConversationState
}

func (t *turn) participantID() int64 { return t.msg.SenderID }

func (t *turn) userID() int64 {
	if t.account == nil || t.account.UserID == nil {
		return 0
	}
	return *t.account.UserID
}

type action func(m *Machine, ctx context.Context, t *turn) error

type transitionKey struct {
	state models.ConversationState
	input inputClass
}

// transitions lists the command-specific transitions. Inputs without an entry
// fall through to the state's fallback.
var transitions = map[transitionKey]action{
	{models.StateIdle, inputGoals}:              (*Machine).listGoals,
	{models.StateIdle, inputCreate}:             (*Machine).startCreation,
	{models.StateChoosingCategory, inputCancel}: (*Machine).cancel,
	{models.StateEnteringTitle, inputCancel}:    (*Machine).cancel,
}

var fallbacks = map[models.ConversationState]action{
	models.StateStart:            (*Machine).greet,
	models.StateVerification:     (*Machine).promptVerification,
	models.StateIdle:             (*Machine).unknownCommand,
	models.StateChoosingCategory: (*Machine).chooseCategory,
	models.StateEnteringTitle:    (*Machine).createGoal,
}

// Machine is the conversation state machine. It handles one message at a time.
type Machine struct {
	store   store.Store
	msg     messaging.Service
	states  StateManager
	linker  *AccountLinker
	siteURL string
}

// Option configures a Machine.
type Option func(*Machine)

// WithSiteURL sets the base URL used in goal links.
func WithSiteURL(url string) Option {
	return func(m *Machine) {
		if url != "" {
			m.siteURL = url
		}
	}
}

// NewMachine creates a state machine. A nil linker is built from st and msg.
func NewMachine(st store.Store, msg messaging.Service, states StateManager, linker *AccountLinker, opts ...Option) *Machine {
	if linker == nil {
		linker = NewAccountLinker(st, msg)
	}
	m := &Machine{store: st, msg: msg, states: states, linker: linker, siteURL: DefaultSiteURL}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle resolves the sender's account, derives the effective state and runs
// the matching transition. User-input problems are answered in the chat and
// never returned; persistence and transport failures are returned after the
// user has been sent an apology where possible.
func (m *Machine) Handle(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return nil
	}
	pid := msg.SenderID

	acc, outcome, err := m.linker.Resolve(ctx, msg)
	if err != nil {
		if acc == nil {
			return m.apologize(ctx, msg.ChatID, fmt.Errorf("resolve account: %w", err))
		}
		return fmt.Errorf("resolve account: %w", err)
	}

	stored, err := m.states.GetState(ctx, pid)
	if err != nil {
		return m.apologize(ctx, msg.ChatID, fmt.Errorf("get state: %w", err))
	}
	state := deriveState(outcome, acc, stored)
	if state != stored {
		if err := m.states.SetState(ctx, pid, state); err != nil {
			return m.apologize(ctx, msg.ChatID, fmt.Errorf("set state: %w", err))
		}
		if stored.InCreationFlow() {
			if err := m.states.ClearDraft(ctx, pid); err != nil {
				return fmt.Errorf("clear draft: %w", err)
			}
		}
		slog.Debug("Machine derived state", "participantID", pid, "stored", stored, "state", state, "outcome", outcome)
	}

	t := &turn{msg: msg, account: acc, outcome: outcome, state: state}
	input := classify(msg.Text)
	act, ok := transitions[transitionKey{state, input}]
	if !ok {
		act, ok = fallbacks[state]
	}
	if !ok {
		slog.Warn("Machine unknown state, resetting to idle", "participantID", pid, "state", state)
		t.state = models.StateIdle
		if err := m.states.SetState(ctx, pid, models.StateIdle); err != nil {
			return fmt.Errorf("set state: %w", err)
		}
		act = fallbacks[models.StateIdle]
	}

	slog.Debug("Machine dispatch", "participantID", pid, "state", t.state, "input", input)
	return act(m, ctx, t)
}

// deriveState picks the state a message is handled in before the stored state
// is consulted. A linked participant never stays in a transient state.
func deriveState(outcome LinkOutcome, acc *models.LinkedAccount, stored models.ConversationState) models.ConversationState {
	switch {
	case outcome == LinkCreated:
		return models.StateStart
	case !acc.IsLinked():
		return models.StateVerification
	case stored.IsTransient():
		return models.StateIdle
	case !stored.IsValid():
		return models.DefaultConversationState
	default:
		return stored
	}
}

func (m *Machine) reply(ctx context.Context, t *turn, text string, format models.TextFormat) error {
	if err := m.msg.SendMessage(ctx, t.msg.ChatID, text, format); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// apologize tells the user the turn failed and returns cause.
func (m *Machine) apologize(ctx context.Context, chatID int64, cause error) error {
	if errors.Is(cause, messaging.ErrServiceStopped) {
		return cause
	}
	if err := m.msg.SendMessage(ctx, chatID, ReplyApology, models.FormatPlain); err != nil {
		slog.Warn("Machine failed to send apology", "chatID", chatID, "error", err)
	}
	return cause
}

func (m *Machine) transition(ctx context.Context, t *turn, to models.ConversationState) error {
	if err := m.states.SetState(ctx, t.participantID(), to); err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	if t.state != to {
		slog.Info("Machine transition", "participantID", t.participantID(), "from", t.state, "to", to)
	}
	t.state = to
	return nil
}

func (m *Machine) greet(ctx context.Context, t *turn) error {
	return m.reply(ctx, t, ReplyGreeting, models.FormatPlain)
}

// promptVerification re-sends the current code without issuing a new one, so
// a code the user is about to submit stays valid.
func (m *Machine) promptVerification(ctx context.Context, t *turn) error {
	if t.outcome == LinkReissued {
		return nil
	}
	return m.reply(ctx, t, verificationCodeText(t.account.VerificationCode), models.FormatPlain)
}

func (m *Machine) unknownCommand(ctx context.Context, t *turn) error {
	return m.reply(ctx, t, ReplyUnknownCommand, models.FormatPlain)
}

func (m *Machine) listGoals(ctx context.Context, t *turn) error {
	goals, err := m.store.ListActiveGoals(ctx, t.userID())
	if err != nil {
		return m.apologize(ctx, t.msg.ChatID, fmt.Errorf("list goals: %w", err))
	}
	if len(goals) == 0 {
		return m.reply(ctx, t, ReplyNoGoals, models.FormatPlain)
	}
	return m.reply(ctx, t, goalsText(goals), models.FormatPlain)
}

func (m *Machine) startCreation(ctx context.Context, t *turn) error {
	cats, err := m.store.ListVisibleCategories(ctx, t.userID())
	if err != nil {
		return m.apologize(ctx, t.msg.ChatID, fmt.Errorf("list categories: %w", err))
	}
	if len(cats) == 0 {
		return m.reply(ctx, t, ReplyNoCategories, models.FormatPlain)
	}
	if err := m.states.ClearDraft(ctx, t.participantID()); err != nil {
		return m.apologize(ctx, t.msg.ChatID, fmt.Errorf("clear draft: %w", err))
	}
	if err := m.transition(ctx, t, models.StateChoosingCategory); err != nil {
		return m.apologize(ctx, t.msg.ChatID, err)
	}
	return m.reply(ctx, t, categoriesText(cats), models.FormatMarkdown)
}

func (m *Machine) cancel(ctx context.Context, t *turn) error {
	if err := m.states.ClearDraft(ctx, t.participantID()); err != nil {
		return m.apologize(ctx, t.msg.ChatID, fmt.Errorf("clear draft: %w", err))
	}
	if err := m.transition(ctx, t, models.StateIdle); err != nil {
		return m.apologize(ctx, t.msg.ChatID, err)
	}
	return m.reply(ctx, t, ReplyCancelled, models.FormatPlain)
}

func (m *Machine) chooseCategory(ctx context.Context, t *turn) error {
	cat, err := m.store.FindVisibleCategoryByTitle(ctx, t.userID(), t.msg.Text)
	if errors.Is(err, store.ErrNotFound) {
		return m.reply(ctx, t, ReplyNoSuchCategory, models.FormatPlain)
	}
	if err != nil {
		return m.apologize(ctx, t.msg.ChatID, fmt.Errorf("find category: %w", err))
	}

	draft := models.GoalDraft{CategoryID: cat.ID, CategoryTitle: cat.Title, BoardID: cat.BoardID, OwnerID: cat.UserID}
	if err := m.states.SetDraft(ctx, t.participantID(), draft); err != nil {
		return m.apologize(ctx, t.msg.ChatID, fmt.Errorf("set draft: %w", err))
	}
	if err := m.transition(ctx, t, models.StateEnteringTitle); err != nil {
		return m.apologize(ctx, t.msg.ChatID, err)
	}
	return m.reply(ctx, t, ReplyEnterTitle, models.FormatPlain)
}

// createGoal treats the text as the goal title. On a store failure the
// participant stays in entering_title with the draft intact so the title can
// be sent again.
func (m *Machine) createGoal(ctx context.Context, t *turn) error {
	pid := t.participantID()
	draft, err := m.states.GetDraft(ctx, pid)
	if err != nil {
		return m.apologize(ctx, t.msg.ChatID, fmt.Errorf("get draft: %w", err))
	}
	if !draft.HasCategory() {
		slog.Warn("Machine entering_title without a chosen category, resetting", "participantID", pid)
		if err := m.transition(ctx, t, models.StateIdle); err != nil {
			return m.apologize(ctx, t.msg.ChatID, err)
		}
		return m.reply(ctx, t, ReplyApology, models.FormatPlain)
	}

	goal := &models.Goal{
		UserID:      draft.OwnerID,
		CategoryID:  draft.CategoryID,
		Title:       t.msg.Text,
		Description: GoalDescription,
	}
	goal.ApplyDefaults()
	if err := goal.Validate(); err != nil {
		slog.Warn("Machine rejected goal title", "participantID", pid, "error", err)
		return m.reply(ctx, t, ReplyGoalCreateRetry, models.FormatPlain)
	}
	if err := m.store.CreateGoal(ctx, goal); err != nil {
		slog.Error("Machine CreateGoal failed", "participantID", pid, "categoryID", draft.CategoryID, "error", err)
		if sendErr := m.reply(ctx, t, ReplyGoalCreateRetry, models.FormatPlain); sendErr != nil {
			slog.Warn("Machine failed to send retry prompt", "participantID", pid, "error", sendErr)
		}
		return fmt.Errorf("create goal: %w", err)
	}

	if err := m.states.ClearDraft(ctx, pid); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	if err := m.transition(ctx, t, models.StateIdle); err != nil {
		return err
	}
	slog.Info("Machine created goal", "participantID", pid, "goalID", goal.ID, "categoryID", goal.CategoryID)
	return m.reply(ctx, t, goalCreatedText(GoalLink(m.siteURL, draft.BoardID, goal.ID)), models.FormatPlain)
}
