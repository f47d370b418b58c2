package storage

import (
	"context"

	"github.com/tinymud/tinymud/internal/model"
)

// Store defines the interface for durable entity persistence.
//
// Create operations fail with the entity's Conflict error when the
// natural key (username, address) is taken. Get/Update/Delete fail
// with the entity's NotFound error when the key is absent. A place is
// stored together with its passages; updates replace the passage set
// atomically.
type Store interface {
	// User operations
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id model.UserID) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	UpdateUser(ctx context.Context, user *model.User) error
	CountUsers(ctx context.Context) (int, error)

	// Character operations
	CreateCharacter(ctx context.Context, c *model.Character) error
	GetCharacter(ctx context.Context, id model.CharacterID) (*model.Character, error)
	UpdateCharacter(ctx context.Context, c *model.Character) error
	ListCharacters(ctx context.Context, filter Filter) ([]*model.Character, error)

	// Place operations (passages included)
	CreatePlace(ctx context.Context, p *model.Place) error
	GetPlace(ctx context.Context, addr model.Address) (*model.Place, error)
	UpdatePlace(ctx context.Context, p *model.Place) error
	DeletePlace(ctx context.Context, addr model.Address) error
	ListPlaces(ctx context.Context, filter Filter) ([]*model.Place, error)

	Close() error
}
