// Package models defines the core data structures shared by GoalBot components.
//
// It covers the goal-tracking records owned by the data store (users, boards,
// categories, goals), the linked-account record correlating a chat participant
// with an application user, and the transport-level message types.
package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// User is an application user of the goal tracker.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// BoardRole is the role of a participant on a board.
type BoardRole int

const (
	// RoleOwner can manage the board and its participants.
	RoleOwner BoardRole = 1
	// RoleWriter can create and edit categories and goals.
	RoleWriter BoardRole = 2
	// RoleReader has read-only access.
	RoleReader BoardRole = 3
)

// IsValid reports whether r is one of the known board roles.
func (r BoardRole) IsValid() bool {
	return r >= RoleOwner && r <= RoleReader
}

func (r BoardRole) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleWriter:
		return "writer"
	case RoleReader:
		return "reader"
	default:
		return fmt.Sprintf("BoardRole(%d)", int(r))
	}
}

// Board groups categories and is shared between participants.
type Board struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	IsDeleted bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created"`
	UpdatedAt time.Time `json:"updated"`
}

// BoardParticipant grants a user access to a board.
type BoardParticipant struct {
	BoardID   int64     `json:"board"`
	UserID    int64     `json:"user"`
	Role      BoardRole `json:"role"`
	CreatedAt time.Time `json:"created"`
}

// GoalCategory is a named bucket of goals on a board.
type GoalCategory struct {
	ID        int64     `json:"id"`
	BoardID   int64     `json:"board"`
	UserID    int64     `json:"user"` // author
	Title     string    `json:"title"`
	IsDeleted bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created"`
	UpdatedAt time.Time `json:"updated"`
}

// GoalStatus is the lifecycle status of a goal.
type GoalStatus int

const (
	GoalStatusToDo       GoalStatus = 1
	GoalStatusInProgress GoalStatus = 2
	GoalStatusDone       GoalStatus = 3
	GoalStatusArchived   GoalStatus = 4
)

// GoalPriority is the priority of a goal.
type GoalPriority int

const (
	GoalPriorityLow      GoalPriority = 1
	GoalPriorityMedium   GoalPriority = 2
	GoalPriorityHigh     GoalPriority = 3
	GoalPriorityCritical GoalPriority = 4
)

// Goal is a single tracked goal inside a category.
type Goal struct {
	ID          int64        `json:"id"`
	UserID      int64        `json:"user"`
	CategoryID  int64        `json:"category"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      GoalStatus   `json:"status"`
	Priority    GoalPriority `json:"priority"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	CreatedAt   time.Time    `json:"created"`
	UpdatedAt   time.Time    `json:"updated"`
}

// ApplyDefaults fills in zero-valued status and priority.
func (g *Goal) ApplyDefaults() {
	if g.Status == 0 {
		g.Status = GoalStatusToDo
	}
	if g.Priority == 0 {
		g.Priority = GoalPriorityMedium
	}
}

// Validate checks that the goal can be persisted.
func (g *Goal) Validate() error {
	if strings.TrimSpace(g.Title) == "" {
		return fmt.Errorf("goal title is required")
	}
	if utf8.RuneCountInString(g.Title) > MaxTitleLength {
		return fmt.Errorf("goal title exceeds %d characters", MaxTitleLength)
	}
	if g.CategoryID == 0 {
		return fmt.Errorf("goal category is required")
	}
	if g.UserID == 0 {
		return fmt.Errorf("goal owner is required")
	}
	if g.Status < GoalStatusToDo || g.Status > GoalStatusArchived {
		return fmt.Errorf("invalid goal status: %d", g.Status)
	}
	if g.Priority < GoalPriorityLow || g.Priority > GoalPriorityCritical {
		return fmt.Errorf("invalid goal priority: %d", g.Priority)
	}
	return nil
}

// MaxTitleLength bounds board, category and goal titles.
const MaxTitleLength = 255

// LinkedAccount correlates a chat participant with an application user.
// UserID stays nil until the participant completes verification.
type LinkedAccount struct {
	ParticipantID    int64     `json:"tg_id"`
	ChatID           int64     `json:"tg_chat_id"`
	Handle           string    `json:"username,omitempty"`
	UserID           *int64    `json:"user_id,omitempty"`
	VerificationCode string    `json:"verification_code,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsLinked reports whether the account has been attached to an application user.
func (a *LinkedAccount) IsLinked() bool {
	return a != nil && a.UserID != nil
}
