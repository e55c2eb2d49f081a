// Package store provides storage backends for GoalBot.
//
// It persists linked chat accounts and the goal-tracking records (users,
// boards, categories, goals) the bot reads and writes, plus the bot's update
// offset checkpoint. Backends: in-memory, SQLite and PostgreSQL.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/BTreeMap/GoalBot/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when a unique key is already taken.
	ErrAlreadyExists = errors.New("record already exists")
)

// Store is the persistence capability used by the bot and the API.
type Store interface {
	// GetLinkedAccount returns the account for a chat participant, or ErrNotFound.
	GetLinkedAccount(ctx context.Context, participantID int64) (*models.LinkedAccount, error)
	// CreateLinkedAccount inserts a new account. Returns ErrAlreadyExists if the participant already has one.
	CreateLinkedAccount(ctx context.Context, acc *models.LinkedAccount) error
	// UpdateVerificationCode replaces the verification code of an account.
	UpdateVerificationCode(ctx context.Context, participantID int64, code string) error
	// GetLinkedAccountByCode finds the unlinked account holding the given code, or ErrNotFound.
	GetLinkedAccountByCode(ctx context.Context, code string) (*models.LinkedAccount, error)
	// LinkAccount attaches an application user to an unlinked account and clears its code.
	// Returns ErrNotFound if there is no unlinked account for the participant.
	LinkAccount(ctx context.Context, participantID, userID int64) error

	CreateUser(ctx context.Context, username string) (*models.User, error)
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	CreateBoard(ctx context.Context, title string) (*models.Board, error)
	AddBoardParticipant(ctx context.Context, boardID, userID int64, role models.BoardRole) error
	CreateCategory(ctx context.Context, cat *models.GoalCategory) error

	// ListVisibleCategories returns non-deleted categories on non-deleted boards
	// the user participates in, ordered by title then id.
	ListVisibleCategories(ctx context.Context, userID int64) ([]models.GoalCategory, error)
	// FindVisibleCategoryByTitle returns the visible category whose title equals title exactly.
	// When several match, the one with the lowest id wins. Returns ErrNotFound if none match.
	FindVisibleCategoryByTitle(ctx context.Context, userID int64, title string) (*models.GoalCategory, error)
	// ListActiveGoals returns the user's goals that are not archived and whose category is not deleted.
	ListActiveGoals(ctx context.Context, userID int64) ([]models.Goal, error)
	// CreateGoal inserts a goal and fills in its id and timestamps.
	CreateGoal(ctx context.Context, goal *models.Goal) error

	// GetBotOffset returns the saved update offset for a bot, or 0 if none was saved.
	GetBotOffset(ctx context.Context, botName string) (int, error)
	// SaveBotOffset records the next update offset for a bot.
	SaveBotOffset(ctx context.Context, botName string, offset int) error

	Close() error
}

// Opts holds configuration for SQL-backed stores.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the backend selected by the DSN type. An empty DSN yields an in-memory store.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}
