package fixtures

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/live-auction-backend/internal/domain/user"
)

// UserBuilder builds test users with unique usernames.
type UserBuilder struct {
	id          uuid.UUID
	username    string
	displayName string
}

func NewUserBuilder(t *testing.T) *UserBuilder {
	t.Helper()
	id := uuid.New()
	return &UserBuilder{
		id:          id,
		username:    fmt.Sprintf("user_%d_%s", time.Now().UnixNano(), id.String()[:8]),
		displayName: "Test Bidder",
	}
}

func (b *UserBuilder) WithID(id uuid.UUID) *UserBuilder {
	b.id = id
	return b
}

func (b *UserBuilder) WithUsername(username string) *UserBuilder {
	b.username = username
	return b
}

func (b *UserBuilder) WithDisplayName(name string) *UserBuilder {
	b.displayName = name
	return b
}

func (b *UserBuilder) Build() *user.User {
	return &user.User{
		ID:          b.id,
		Username:    b.username,
		DisplayName: b.displayName,
		CreatedAt:   time.Now().UTC(),
	}
}
