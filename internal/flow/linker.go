package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/GoalBot/internal/messaging"
	"github.com/BTreeMap/GoalBot/internal/models"
	"github.com/BTreeMap/GoalBot/internal/store"
	"github.com/BTreeMap/GoalBot/internal/util"
)

// maxCodeAttempts bounds retries when a generated code collides with an existing one.
const maxCodeAttempts = 5

// LinkOutcome describes what Resolve did with the sender's account.
type LinkOutcome int

const (
	// LinkExisting means the account already existed and was left as is.
	LinkExisting LinkOutcome = iota
	// LinkCreated means the account was created and the welcome code was sent.
	LinkCreated
	// LinkReissued means an unlinked account had no code and a new one was sent.
	LinkReissued
)

func (o LinkOutcome) String() string {
	switch o {
	case LinkCreated:
		return "created"
	case LinkReissued:
		return "reissued"
	default:
		return "existing"
	}
}

// AccountLinker maps message senders to linked accounts.
type AccountLinker struct {
	store   store.Store
	msg     messaging.Service
	newCode func() string
}

// LinkerOption configures an AccountLinker.
type LinkerOption func(*AccountLinker)

// WithCodeGenerator replaces the verification code generator.
func WithCodeGenerator(gen func() string) LinkerOption {
	return func(l *AccountLinker) {
		l.newCode = gen
	}
}

// NewAccountLinker creates a linker over the given store and transport.
func NewAccountLinker(st store.Store, msg messaging.Service, opts ...LinkerOption) *AccountLinker {
	l := &AccountLinker{store: st, msg: msg, newCode: util.GenerateVerificationCode}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Resolve returns the account of the message sender, creating it on first
// contact. The account is always read from the store, never cached, because
// the verification endpoint links accounts concurrently.
func (l *AccountLinker) Resolve(ctx context.Context, m *models.Message) (*models.LinkedAccount, LinkOutcome, error) {
	p := m.Participant()

	acc, err := l.store.GetLinkedAccount(ctx, p.ID)
	if errors.Is(err, store.ErrNotFound) {
		acc, err = l.create(ctx, p)
		if err == nil {
			slog.Info("AccountLinker created account", "participantID", p.ID)
			if err := l.msg.SendMessage(ctx, p.ChatID, welcomeText(acc.VerificationCode), models.FormatPlain); err != nil {
				return acc, LinkCreated, fmt.Errorf("send welcome code: %w", err)
			}
			return acc, LinkCreated, nil
		}
		if !errors.Is(err, errAccountRace) {
			return nil, LinkExisting, err
		}
		// Another writer created the account between our read and insert.
		acc, err = l.store.GetLinkedAccount(ctx, p.ID)
	}
	if err != nil {
		return nil, LinkExisting, fmt.Errorf("get linked account: %w", err)
	}

	if acc.IsLinked() || acc.VerificationCode != "" {
		return acc, LinkExisting, nil
	}

	code, err := l.reissue(ctx, p.ID)
	if err != nil {
		return nil, LinkExisting, err
	}
	acc.VerificationCode = code
	slog.Info("AccountLinker reissued verification code", "participantID", p.ID)
	if err := l.msg.SendMessage(ctx, p.ChatID, verificationCodeText(code), models.FormatPlain); err != nil {
		return acc, LinkReissued, fmt.Errorf("send verification code: %w", err)
	}
	return acc, LinkReissued, nil
}

var errAccountRace = errors.New("account created concurrently")

func (l *AccountLinker) create(ctx context.Context, p models.ChatParticipant) (*models.LinkedAccount, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		acc := &models.LinkedAccount{
			ParticipantID:    p.ID,
			ChatID:           p.ChatID,
			Handle:           p.Handle,
			VerificationCode: l.newCode(),
		}
		err := l.store.CreateLinkedAccount(ctx, acc)
		if err == nil {
			return acc, nil
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("create linked account: %w", err)
		}
		if _, getErr := l.store.GetLinkedAccount(ctx, p.ID); getErr == nil {
			return nil, errAccountRace
		}
		slog.Warn("AccountLinker verification code collision, retrying", "participantID", p.ID, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("create linked account: no unique verification code after %d attempts", maxCodeAttempts)
}

func (l *AccountLinker) reissue(ctx context.Context, participantID int64) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := l.newCode()
		err := l.store.UpdateVerificationCode(ctx, participantID, code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return "", fmt.Errorf("update verification code: %w", err)
		}
	}
	return "", fmt.Errorf("update verification code: no unique code after %d attempts", maxCodeAttempts)
}
