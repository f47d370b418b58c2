// Package world implements entity-specific validation and behavior on
// top of the raw entity cache operations.
package world

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tinymud/tinymud/internal/cache"
	"github.com/tinymud/tinymud/internal/model"
	"github.com/tinymud/tinymud/internal/storage"
)

// DefaultStartAddress is where new characters wake up. The place is
// created at boot when the database is empty.
const DefaultStartAddress model.Address = "tutorial.awake"

// Config holds world service settings
type Config struct {
	// StartAddress is the place new characters are created in
	StartAddress model.Address
}

// Service provides domain operations over the entity cache
type Service struct {
	cache  *cache.Cache
	logger *slog.Logger
	start  model.Address
}

// New creates a world service
func New(c *cache.Cache, cfg Config, logger *slog.Logger) *Service {
	start := cfg.StartAddress
	if start == "" {
		start = DefaultStartAddress
	}
	return &Service{
		cache:  c,
		logger: logger.With(slog.String("component", "world")),
		start:  start,
	}
}

// StartAddress returns the configured starting place address
func (s *Service) StartAddress() model.Address {
	return s.start
}

// EnsureStartPlace creates the starting place if it does not exist yet.
// Called once at boot so an empty database is still playable.
func (s *Service) EnsureStartPlace(ctx context.Context) error {
	_, err := s.cache.GetPlace(ctx, s.start)
	if err == nil {
		return nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	s.logger.Info("creating start place (empty database?)", slog.String("address", string(s.start)))
	_, err = s.cache.CreatePlace(ctx, &model.Place{
		Address: s.start,
		Title:   "Awake",
		Header:  "You wake up. Nothing to see here, yet.",
	})
	if errors.Is(err, model.ErrConflict) {
		return nil
	}
	return err
}

// User operations

// CreateUser registers a user. The first user ever registered receives
// every role; everyone after that starts as a plain player.
func (s *Service) CreateUser(ctx context.Context, username, passwordHash string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, model.ErrEmptyName
	}

	_, err := s.cache.GetUserByUsername(ctx, username)
	if err == nil {
		return nil, model.ErrUsernameTaken
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	count, err := s.cache.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	roles := model.RolePlayer
	if count == 0 {
		roles = model.RolesAll
	}

	return s.cache.CreateUser(ctx, &model.User{
		ID:           model.UserID(uuid.NewString()),
		Username:     username,
		PasswordHash: passwordHash,
		Roles:        roles,
	})
}

// GetUser returns a user by id
func (s *Service) GetUser(ctx context.Context, id model.UserID) (*model.User, error) {
	return s.cache.GetUser(ctx, id)
}

// Character operations

// Templates returns the character creation options
func (s *Service) Templates() []model.CharacterTemplate {
	return model.DefaultTemplates()
}

// CharacterForUser returns the user's character, or the character
// NotFound error when they have none yet
func (s *Service) CharacterForUser(ctx context.Context, userID model.UserID) (*model.Character, error) {
	chars, err := s.cache.QueryCharacters(ctx, storage.Filter{storage.Eq(storage.FieldUserID, userID)})
	if err != nil {
		return nil, err
	}
	if len(chars) == 0 {
		return nil, model.ErrCharacterNotFound
	}
	return chars[0], nil
}

// CreateCharacter creates a character for the user at the start place
func (s *Service) CreateCharacter(ctx context.Context, userID model.UserID, name string) (*model.Character, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.ErrEmptyName
	}
	return s.cache.CreateCharacter(ctx, &model.Character{
		ID:           model.CharacterID(uuid.NewString()),
		UserID:       userID,
		Name:         name,
		PlaceAddress: s.start,
	})
}

// GetCharacter returns a character by id
func (s *Service) GetCharacter(ctx context.Context, id model.CharacterID) (*model.Character, error) {
	return s.cache.GetCharacter(ctx, id)
}

// CharactersAt returns all characters currently at the place
func (s *Service) CharactersAt(ctx context.Context, addr model.Address) ([]*model.Character, error) {
	return s.cache.QueryCharacters(ctx, storage.Filter{storage.Eq(storage.FieldPlaceAddress, addr)})
}

// UsePassage moves a character through a passage of its current place.
// The passage must exist (hidden passages stay traversable by address)
// and the target place must exist; otherwise NotFound.
func (s *Service) UsePassage(ctx context.Context, id model.CharacterID, target model.Address) (*model.Character, model.Address, error) {
	char, err := s.cache.GetCharacter(ctx, id)
	if err != nil {
		return nil, "", err
	}
	from := char.PlaceAddress

	place, err := s.cache.GetPlace(ctx, from)
	if err != nil {
		return nil, "", err
	}
	if place.Passage(target) == nil {
		return nil, "", model.ErrPassageNotFound
	}
	if _, err := s.cache.GetPlace(ctx, target); err != nil {
		return nil, "", err
	}

	moved, err := s.moveCharacter(ctx, id, target)
	if err != nil {
		return nil, "", err
	}
	return moved, from, nil
}

// Teleport moves a character to any syntactically valid address. The
// target place does not have to exist; editors may teleport into
// places they have not created yet.
func (s *Service) Teleport(ctx context.Context, id model.CharacterID, target model.Address) (*model.Character, model.Address, error) {
	if err := model.ValidateAddress(target); err != nil {
		return nil, "", err
	}
	char, err := s.cache.GetCharacter(ctx, id)
	if err != nil {
		return nil, "", err
	}
	from := char.PlaceAddress

	moved, err := s.moveCharacter(ctx, id, target)
	if err != nil {
		return nil, "", err
	}
	return moved, from, nil
}

func (s *Service) moveCharacter(ctx context.Context, id model.CharacterID, target model.Address) (*model.Character, error) {
	return s.cache.MutateCharacter(ctx, id, func(c model.Character) (model.Character, error) {
		c.PlaceAddress = target
		return c, nil
	})
}

// Place operations

// CreatePlace creates an empty place at the address; the editor fills
// in content afterwards
func (s *Service) CreatePlace(ctx context.Context, addr model.Address) (*model.Place, error) {
	if err := model.ValidateAddress(addr); err != nil {
		return nil, err
	}
	return s.cache.CreatePlace(ctx, &model.Place{Address: addr})
}

// GetPlace returns a place by address
func (s *Service) GetPlace(ctx context.Context, addr model.Address) (*model.Place, error) {
	return s.cache.GetPlace(ctx, addr)
}

// EditPlace replaces a place's title, header and whole passage set.
// Passage targets only need valid syntax; dangling targets are legal
// so editors can link places before creating them.
func (s *Service) EditPlace(ctx context.Context, addr model.Address, title, header string, passages []model.Passage) (*model.Place, error) {
	for _, pass := range passages {
		if err := model.ValidateAddress(pass.TargetAddress); err != nil {
			return nil, err
		}
	}
	return s.cache.MutatePlace(ctx, addr, func(p model.Place) (model.Place, error) {
		p.Title = title
		p.Header = header
		p.Passages = passages
		return p, nil
	})
}

// DestroyPlace deletes a place. Characters standing in it keep their
// now-dangling address; that is the same state as a teleport into an
// uncreated place.
func (s *Service) DestroyPlace(ctx context.Context, addr model.Address) error {
	return s.cache.DeletePlace(ctx, addr)
}
