package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/BTreeMap/GoalBot/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// requireAffected turns an update that touched no rows into ErrNotFound.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanLinkedAccount scans a LinkedAccount from a single sql.Row.
func scanLinkedAccount(row *sql.Row) (*models.LinkedAccount, error) {
	var acc models.LinkedAccount
	var handle, code sql.NullString
	var userID sql.NullInt64
	err := row.Scan(&acc.ParticipantID, &acc.ChatID, &handle, &userID, &code, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	acc.Handle = handle.String
	acc.VerificationCode = code.String
	if userID.Valid {
		uid := userID.Int64
		acc.UserID = &uid
	}
	return &acc, nil
}

// scanGoal scans a Goal from sql.Rows.
func scanGoal(rows *sql.Rows) (models.Goal, error) {
	var g models.Goal
	var description sql.NullString
	var dueDate sql.NullTime
	var status, priority int
	err := rows.Scan(&g.ID, &g.UserID, &g.CategoryID, &g.Title, &description, &status, &priority,
		&dueDate, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return g, fmt.Errorf("scan goal failed: %w", err)
	}
	g.Description = description.String
	g.Status = models.GoalStatus(status)
	g.Priority = models.GoalPriority(priority)
	if dueDate.Valid {
		d := dueDate.Time
		g.DueDate = &d
	}
	return g, nil
}
