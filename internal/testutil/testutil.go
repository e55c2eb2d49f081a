// Package testutil provides shared helpers for GoalBot tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/GoalBot/internal/models"
	"github.com/BTreeMap/GoalBot/internal/store"
)

// GoalBoard is a seeded board with two categories owned by one user.
type GoalBoard struct {
	Owner *models.User
	Board *models.Board
	Work  *models.GoalCategory
	Home  *models.GoalCategory
}

// SeedGoalBoard creates a user who owns a board with the categories "Work"
// and "Home".
func SeedGoalBoard(t *testing.T, st store.Store, username string) GoalBoard {
	t.Helper()
	ctx := context.Background()

	owner, err := st.CreateUser(ctx, username)
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	board, err := st.CreateBoard(ctx, username+"'s board")
	if err != nil {
		t.Fatalf("failed to create board: %v", err)
	}
	if err := st.AddBoardParticipant(ctx, board.ID, owner.ID, models.RoleOwner); err != nil {
		t.Fatalf("failed to add board owner: %v", err)
	}

	seed := GoalBoard{Owner: owner, Board: board}
	for _, c := range []**models.GoalCategory{&seed.Work, &seed.Home} {
		title := "Work"
		if c == &seed.Home {
			title = "Home"
		}
		cat := &models.GoalCategory{BoardID: board.ID, UserID: owner.ID, Title: title}
		if err := st.CreateCategory(ctx, cat); err != nil {
			t.Fatalf("failed to create category %q: %v", title, err)
		}
		*c = cat
	}
	return seed
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes an APIResponse envelope and validates its status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) models.APIResponse {
	t.Helper()
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}
	var response models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if response.Status != string(expectedStatus) {
		t.Errorf("expected status '%s', got '%s' (message %q)", expectedStatus, response.Status, response.Message)
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with an optional JSON body and bearer token.
func CreateHTTPRequest(t *testing.T, method, url string, body any, bearer string) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
