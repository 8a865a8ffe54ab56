package user

import (
	"strings"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/openlot/live-auction-backend/internal/domain/errors"
)

// User is the minimal identity the auction core needs: something for bids
// and auctions to reference, and a display name to show in bid feeds.
// Registration, profiles and credentials live outside this service.
type User struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// New builds a user record. An empty display name falls back to the
// username.
func New(id uuid.UUID, username, displayName string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, appErrors.NewValidationError("INVALID_INPUT", "username is required")
	}
	if len(username) > 64 {
		return nil, appErrors.NewValidationError("INVALID_INPUT", "username must be at most 64 characters")
	}
	if id == uuid.Nil {
		id = uuid.New()
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = username
	}

	return &User{
		ID:          id,
		Username:    username,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
