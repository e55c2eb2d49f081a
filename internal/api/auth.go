package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/BTreeMap/GoalBot/internal/models"
	"github.com/BTreeMap/GoalBot/internal/store"
)

type contextKey string

const userContextKey contextKey = "user"

// IssueToken signs an HS256 token whose subject is the application user id.
func IssueToken(secret string, userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// parseToken validates tokenString and returns the user id in its subject.
func parseToken(secret []byte, tokenString string) (int64, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return 0, err
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("invalid token subject %q", claims.Subject)
	}
	return userID, nil
}

// authenticate resolves the bearer token to an application user and stores
// it in the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Authorization bearer token is required"))
			return
		}

		userID, err := parseToken(s.jwtSecret, tokenString)
		if err != nil {
			slog.Warn("Server.authenticate: invalid token", "error", err)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid token"))
			return
		}

		user, err := s.store.GetUser(r.Context(), userID)
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("Server.authenticate: unknown user", "userID", userID)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("User not found"))
			return
		}
		if err != nil {
			slog.Error("Server.authenticate: user lookup failed", "error", err, "userID", userID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process user identity"))
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey).(*models.User)
	return user, ok && user != nil
}
