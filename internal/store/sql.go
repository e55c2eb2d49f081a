package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/GoalBot/internal/models"
)

// sqlStore holds the query logic shared by the SQLite and PostgreSQL backends.
// Queries are written with '?' placeholders and rebound per dialect.
type sqlStore struct {
	db       *sql.DB
	name     string
	numbered bool // use $1, $2, ... placeholders
	classify func(error) error
}

func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	return res, s.classify(err)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

const linkedAccountColumns = `tg_user_id, tg_chat_id, tg_username, user_id, verification_code, created_at, updated_at`

func (s *sqlStore) GetLinkedAccount(ctx context.Context, participantID int64) (*models.LinkedAccount, error) {
	row := s.queryRow(ctx, `SELECT `+linkedAccountColumns+` FROM tg_users WHERE tg_user_id = ?`, participantID)
	acc, err := scanLinkedAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error(s.name+" GetLinkedAccount failed", "error", err, "participantID", participantID)
		return nil, fmt.Errorf("failed to get linked account %d: %w", participantID, err)
	}
	slog.Debug(s.name+" GetLinkedAccount found", "participantID", participantID, "linked", acc.IsLinked())
	return acc, nil
}

func (s *sqlStore) CreateLinkedAccount(ctx context.Context, acc *models.LinkedAccount) error {
	now := time.Now()
	_, err := s.exec(ctx,
		`INSERT INTO tg_users (tg_user_id, tg_chat_id, tg_username, user_id, verification_code, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		acc.ParticipantID, acc.ChatID, nilIfEmpty(acc.Handle), nullInt64(acc.UserID), nilIfEmpty(acc.VerificationCode), now, now)
	if errors.Is(err, ErrAlreadyExists) {
		slog.Debug(s.name+" CreateLinkedAccount duplicate", "participantID", acc.ParticipantID)
		return err
	}
	if err != nil {
		slog.Error(s.name+" CreateLinkedAccount failed", "error", err, "participantID", acc.ParticipantID)
		return fmt.Errorf("failed to insert linked account %d: %w", acc.ParticipantID, err)
	}
	acc.CreatedAt, acc.UpdatedAt = now, now
	slog.Debug(s.name+" CreateLinkedAccount succeeded", "participantID", acc.ParticipantID)
	return nil
}

func (s *sqlStore) UpdateVerificationCode(ctx context.Context, participantID int64, code string) error {
	res, err := s.exec(ctx, `UPDATE tg_users SET verification_code = ?, updated_at = ? WHERE tg_user_id = ?`,
		nilIfEmpty(code), time.Now(), participantID)
	if errors.Is(err, ErrAlreadyExists) {
		return err
	}
	if err != nil {
		slog.Error(s.name+" UpdateVerificationCode failed", "error", err, "participantID", participantID)
		return fmt.Errorf("failed to update verification code for %d: %w", participantID, err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	slog.Debug(s.name+" UpdateVerificationCode succeeded", "participantID", participantID)
	return nil
}

func (s *sqlStore) GetLinkedAccountByCode(ctx context.Context, code string) (*models.LinkedAccount, error) {
	if code == "" {
		return nil, ErrNotFound
	}
	row := s.queryRow(ctx, `SELECT `+linkedAccountColumns+` FROM tg_users WHERE verification_code = ? AND user_id IS NULL`, code)
	acc, err := scanLinkedAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error(s.name+" GetLinkedAccountByCode failed", "error", err)
		return nil, fmt.Errorf("failed to get linked account by code: %w", err)
	}
	return acc, nil
}

func (s *sqlStore) LinkAccount(ctx context.Context, participantID, userID int64) error {
	res, err := s.exec(ctx,
		`UPDATE tg_users SET user_id = ?, verification_code = NULL, updated_at = ? WHERE tg_user_id = ? AND user_id IS NULL`,
		userID, time.Now(), participantID)
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		slog.Error(s.name+" LinkAccount failed", "error", err, "participantID", participantID, "userID", userID)
		return fmt.Errorf("failed to link account %d: %w", participantID, err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	slog.Info(s.name+" LinkAccount succeeded", "participantID", participantID, "userID", userID)
	return nil
}

func (s *sqlStore) CreateUser(ctx context.Context, username string) (*models.User, error) {
	u := &models.User{Username: username, CreatedAt: time.Now()}
	err := s.queryRow(ctx, `INSERT INTO users (username, created_at) VALUES (?, ?) RETURNING id`,
		u.Username, u.CreatedAt).Scan(&u.ID)
	if err = s.classify(err); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, err
		}
		slog.Error(s.name+" CreateUser failed", "error", err, "username", username)
		return nil, fmt.Errorf("failed to insert user %s: %w", username, err)
	}
	return u, nil
}

func (s *sqlStore) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var u models.User
	err := s.queryRow(ctx, `SELECT id, username, created_at FROM users WHERE id = ?`, userID).
		Scan(&u.ID, &u.Username, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error(s.name+" GetUser failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	return &u, nil
}

func (s *sqlStore) CreateBoard(ctx context.Context, title string) (*models.Board, error) {
	now := time.Now()
	b := &models.Board{Title: title, CreatedAt: now, UpdatedAt: now}
	err := s.queryRow(ctx, `INSERT INTO boards (title, is_deleted, created_at, updated_at) VALUES (?, ?, ?, ?) RETURNING id`,
		b.Title, false, now, now).Scan(&b.ID)
	if err != nil {
		slog.Error(s.name+" CreateBoard failed", "error", err)
		return nil, fmt.Errorf("failed to insert board: %w", s.classify(err))
	}
	return b, nil
}

func (s *sqlStore) AddBoardParticipant(ctx context.Context, boardID, userID int64, role models.BoardRole) error {
	_, err := s.exec(ctx, `INSERT INTO board_participants (board_id, user_id, role, created_at) VALUES (?, ?, ?, ?)`,
		boardID, userID, int(role), time.Now())
	if errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		slog.Error(s.name+" AddBoardParticipant failed", "error", err, "boardID", boardID, "userID", userID)
		return fmt.Errorf("failed to add participant %d to board %d: %w", userID, boardID, err)
	}
	return nil
}

func (s *sqlStore) CreateCategory(ctx context.Context, cat *models.GoalCategory) error {
	now := time.Now()
	err := s.queryRow(ctx,
		`INSERT INTO goal_categories (board_id, user_id, title, is_deleted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		cat.BoardID, cat.UserID, cat.Title, cat.IsDeleted, now, now).Scan(&cat.ID)
	if err = s.classify(err); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		slog.Error(s.name+" CreateCategory failed", "error", err, "boardID", cat.BoardID)
		return fmt.Errorf("failed to insert category: %w", err)
	}
	cat.CreatedAt, cat.UpdatedAt = now, now
	return nil
}

const visibleCategoriesQuery = `
	SELECT c.id, c.board_id, c.user_id, c.title, c.is_deleted, c.created_at, c.updated_at
	FROM goal_categories c
	JOIN boards b ON b.id = c.board_id
	JOIN board_participants p ON p.board_id = c.board_id
	WHERE p.user_id = ? AND c.is_deleted = FALSE AND b.is_deleted = FALSE`

func (s *sqlStore) ListVisibleCategories(ctx context.Context, userID int64) ([]models.GoalCategory, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(visibleCategoriesQuery+` ORDER BY c.title, c.id`), userID)
	if err != nil {
		slog.Error(s.name+" ListVisibleCategories query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var cats []models.GoalCategory
	for rows.Next() {
		var c models.GoalCategory
		if err := rows.Scan(&c.ID, &c.BoardID, &c.UserID, &c.Title, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt); err != nil {
			slog.Error(s.name+" ListVisibleCategories scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate category rows: %w", err)
	}
	slog.Debug(s.name+" ListVisibleCategories succeeded", "userID", userID, "count", len(cats))
	return cats, nil
}

func (s *sqlStore) FindVisibleCategoryByTitle(ctx context.Context, userID int64, title string) (*models.GoalCategory, error) {
	var c models.GoalCategory
	err := s.queryRow(ctx, visibleCategoriesQuery+` AND c.title = ? ORDER BY c.id LIMIT 1`, userID, title).
		Scan(&c.ID, &c.BoardID, &c.UserID, &c.Title, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error(s.name+" FindVisibleCategoryByTitle failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to find category: %w", err)
	}
	return &c, nil
}

func (s *sqlStore) ListActiveGoals(ctx context.Context, userID int64) ([]models.Goal, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT g.id, g.user_id, g.category_id, g.title, g.description, g.status, g.priority, g.due_date, g.created_at, g.updated_at
		FROM goals g
		JOIN goal_categories c ON c.id = g.category_id
		WHERE g.user_id = ? AND g.status <> ? AND c.is_deleted = FALSE
		ORDER BY g.id`), userID, int(models.GoalStatusArchived))
	if err != nil {
		slog.Error(s.name+" ListActiveGoals query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}
	defer rows.Close()

	var goals []models.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			slog.Error(s.name+" ListActiveGoals scan failed", "error", err)
			return nil, err
		}
		goals = append(goals, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate goal rows: %w", err)
	}
	slog.Debug(s.name+" ListActiveGoals succeeded", "userID", userID, "count", len(goals))
	return goals, nil
}

func (s *sqlStore) CreateGoal(ctx context.Context, goal *models.Goal) error {
	goal.ApplyDefaults()
	if err := goal.Validate(); err != nil {
		return err
	}
	now := time.Now()
	err := s.queryRow(ctx,
		`INSERT INTO goals (user_id, category_id, title, description, status, priority, due_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		goal.UserID, goal.CategoryID, goal.Title, nilIfEmpty(goal.Description), int(goal.Status), int(goal.Priority),
		nullTime(goal.DueDate), now, now).Scan(&goal.ID)
	if err = s.classify(err); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		slog.Error(s.name+" CreateGoal failed", "error", err, "categoryID", goal.CategoryID)
		return fmt.Errorf("failed to insert goal: %w", err)
	}
	goal.CreatedAt, goal.UpdatedAt = now, now
	slog.Debug(s.name+" CreateGoal succeeded", "goalID", goal.ID, "categoryID", goal.CategoryID)
	return nil
}

func (s *sqlStore) GetBotOffset(ctx context.Context, botName string) (int, error) {
	var offset int
	err := s.queryRow(ctx, `SELECT next_offset FROM bot_offsets WHERE bot_name = ?`, botName).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		slog.Error(s.name+" GetBotOffset failed", "error", err, "bot", botName)
		return 0, fmt.Errorf("failed to get offset for %s: %w", botName, err)
	}
	return offset, nil
}

func (s *sqlStore) SaveBotOffset(ctx context.Context, botName string, offset int) error {
	_, err := s.exec(ctx,
		`INSERT INTO bot_offsets (bot_name, next_offset, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (bot_name) DO UPDATE SET next_offset = excluded.next_offset, updated_at = excluded.updated_at`,
		botName, offset, time.Now())
	if err != nil {
		slog.Error(s.name+" SaveBotOffset failed", "error", err, "bot", botName, "offset", offset)
		return fmt.Errorf("failed to save offset for %s: %w", botName, err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	slog.Debug("Closing " + s.name + " database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close "+s.name+" database", "error", err)
	}
	return err
}
