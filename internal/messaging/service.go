// Package messaging defines the transport capability the bot consumes.
package messaging

import (
	"context"
	"errors"

	"github.com/BTreeMap/GoalBot/internal/models"
)

// ErrServiceStopped is returned by a Service after Stop has been called.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable chat transport.
type Service interface {
	// FetchUpdates long-polls for updates with id >= offset. Updates are returned
	// in ascending id order; an empty batch means the poll timed out.
	FetchUpdates(ctx context.Context, offset int) ([]models.Update, error)

	// SendMessage sends text to a chat. A nil error acknowledges delivery to the transport.
	SendMessage(ctx context.Context, chatID int64, text string, format models.TextFormat) error

	// Stop releases transport resources. Later calls fail with ErrServiceStopped.
	Stop() error
}
