package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/GoalBot/internal/models"
)

// InMemoryStore keeps all records in process memory. It is used by tests and
// when no database DSN is configured.
type InMemoryStore struct {
	mu           sync.RWMutex
	accounts     map[int64]*models.LinkedAccount
	users        map[int64]*models.User
	boards       map[int64]*models.Board
	participants map[int64]map[int64]models.BoardRole // board -> user -> role
	categories   map[int64]*models.GoalCategory
	goals        map[int64]*models.Goal
	offsets      map[string]int
	nextID       int64
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		accounts:     make(map[int64]*models.LinkedAccount),
		users:        make(map[int64]*models.User),
		boards:       make(map[int64]*models.Board),
		participants: make(map[int64]map[int64]models.BoardRole),
		categories:   make(map[int64]*models.GoalCategory),
		goals:        make(map[int64]*models.Goal),
		offsets:      make(map[string]int),
	}
}

func (s *InMemoryStore) newID() int64 {
	s.nextID++
	return s.nextID
}

func copyAccount(a *models.LinkedAccount) *models.LinkedAccount {
	c := *a
	if a.UserID != nil {
		uid := *a.UserID
		c.UserID = &uid
	}
	return &c
}

func (s *InMemoryStore) GetLinkedAccount(ctx context.Context, participantID int64) (*models.LinkedAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[participantID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAccount(acc), nil
}

func (s *InMemoryStore) CreateLinkedAccount(ctx context.Context, acc *models.LinkedAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acc.ParticipantID]; ok {
		return ErrAlreadyExists
	}
	if acc.VerificationCode != "" && s.codeTaken(acc.VerificationCode) {
		return ErrAlreadyExists
	}
	now := time.Now()
	acc.CreatedAt, acc.UpdatedAt = now, now
	s.accounts[acc.ParticipantID] = copyAccount(acc)
	slog.Debug("InMemoryStore CreateLinkedAccount succeeded", "participantID", acc.ParticipantID)
	return nil
}

func (s *InMemoryStore) codeTaken(code string) bool {
	for _, a := range s.accounts {
		if a.VerificationCode == code {
			return true
		}
	}
	return false
}

func (s *InMemoryStore) UpdateVerificationCode(ctx context.Context, participantID int64, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[participantID]
	if !ok {
		return ErrNotFound
	}
	if code != "" && acc.VerificationCode != code && s.codeTaken(code) {
		return ErrAlreadyExists
	}
	acc.VerificationCode = code
	acc.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) GetLinkedAccountByCode(ctx context.Context, code string) (*models.LinkedAccount, error) {
	if code == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.VerificationCode == code && a.UserID == nil {
			return copyAccount(a), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) LinkAccount(ctx context.Context, participantID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[participantID]
	if !ok || acc.UserID != nil {
		return ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	uid := userID
	acc.UserID = &uid
	acc.VerificationCode = ""
	acc.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) CreateUser(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return nil, ErrAlreadyExists
		}
	}
	u := &models.User{ID: s.newID(), Username: username, CreatedAt: time.Now()}
	s.users[u.ID] = u
	c := *u
	return &c, nil
}

func (s *InMemoryStore) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func (s *InMemoryStore) CreateBoard(ctx context.Context, title string) (*models.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	b := &models.Board{ID: s.newID(), Title: title, CreatedAt: now, UpdatedAt: now}
	s.boards[b.ID] = b
	c := *b
	return &c, nil
}

// DeleteBoard marks a board as deleted.
func (s *InMemoryStore) DeleteBoard(boardID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.boards[boardID]; ok {
		b.IsDeleted = true
	}
}

func (s *InMemoryStore) AddBoardParticipant(ctx context.Context, boardID, userID int64, role models.BoardRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boards[boardID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	members, ok := s.participants[boardID]
	if !ok {
		members = make(map[int64]models.BoardRole)
		s.participants[boardID] = members
	}
	if _, exists := members[userID]; exists {
		return ErrAlreadyExists
	}
	members[userID] = role
	return nil
}

func (s *InMemoryStore) CreateCategory(ctx context.Context, cat *models.GoalCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boards[cat.BoardID]; !ok {
		return ErrNotFound
	}
	now := time.Now()
	cat.ID = s.newID()
	cat.CreatedAt, cat.UpdatedAt = now, now
	c := *cat
	s.categories[cat.ID] = &c
	return nil
}

// DeleteCategory marks a category as deleted and archives its goals.
func (s *InMemoryStore) DeleteCategory(categoryID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cat, ok := s.categories[categoryID]
	if !ok {
		return
	}
	cat.IsDeleted = true
	for _, g := range s.goals {
		if g.CategoryID == categoryID {
			g.Status = models.GoalStatusArchived
		}
	}
}

// SetGoalStatus changes the status of a stored goal.
func (s *InMemoryStore) SetGoalStatus(goalID int64, status models.GoalStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.goals[goalID]; ok {
		g.Status = status
	}
}

func (s *InMemoryStore) visible(userID int64, cat *models.GoalCategory) bool {
	if cat.IsDeleted {
		return false
	}
	b, ok := s.boards[cat.BoardID]
	if !ok || b.IsDeleted {
		return false
	}
	_, member := s.participants[cat.BoardID][userID]
	return member
}

func (s *InMemoryStore) ListVisibleCategories(ctx context.Context, userID int64) ([]models.GoalCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.GoalCategory
	for _, c := range s.categories {
		if s.visible(userID, c) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) FindVisibleCategoryByTitle(ctx context.Context, userID int64, title string) (*models.GoalCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.GoalCategory
	for _, c := range s.categories {
		if c.Title != title || !s.visible(userID, c) {
			continue
		}
		if found == nil || c.ID < found.ID {
			found = c
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	c := *found
	return &c, nil
}

func (s *InMemoryStore) ListActiveGoals(ctx context.Context, userID int64) ([]models.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Goal
	for _, g := range s.goals {
		if g.UserID != userID || g.Status == models.GoalStatusArchived {
			continue
		}
		if cat, ok := s.categories[g.CategoryID]; !ok || cat.IsDeleted {
			continue
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) CreateGoal(ctx context.Context, goal *models.Goal) error {
	goal.ApplyDefaults()
	if err := goal.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[goal.CategoryID]; !ok {
		return ErrNotFound
	}
	now := time.Now()
	goal.ID = s.newID()
	goal.CreatedAt, goal.UpdatedAt = now, now
	c := *goal
	s.goals[goal.ID] = &c
	slog.Debug("InMemoryStore CreateGoal succeeded", "goalID", goal.ID, "categoryID", goal.CategoryID)
	return nil
}

func (s *InMemoryStore) GetBotOffset(ctx context.Context, botName string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offsets[botName], nil
}

func (s *InMemoryStore) SaveBotOffset(ctx context.Context, botName string, offset int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[botName] = offset
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
