package memory

import (
	"context"
	"sync"

	"github.com/tinymud/tinymud/internal/model"
	"github.com/tinymud/tinymud/internal/storage"
)

// Storage is an in-memory implementation of the storage interface.
// Used in tests and as a zero-dependency development backend; nothing
// survives a restart.
type Storage struct {
	mu sync.RWMutex

	users         map[model.UserID]*model.User
	usernameIndex map[string]model.UserID
	characters    map[model.CharacterID]*model.Character
	places        map[model.Address]*model.Place
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		users:         make(map[model.UserID]*model.User),
		usernameIndex: make(map[string]model.UserID),
		characters:    make(map[model.CharacterID]*model.Character),
		places:        make(map[model.Address]*model.Place),
	}
}

// Ensure Storage implements the interface
var _ storage.Store = (*Storage)(nil)

// Close is a no-op for the memory backend
func (s *Storage) Close() error {
	return nil
}

// User operations

func (s *Storage) CreateUser(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.usernameIndex[user.Username]; taken {
		return model.ErrUsernameTaken
	}
	u := *user
	s.users[u.ID] = &u
	s.usernameIndex[u.Username] = u.ID
	return nil
}

func (s *Storage) GetUser(ctx context.Context, id model.UserID) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	u := *user
	return &u, nil
}

func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernameIndex[username]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	u := *s.users[id]
	return &u, nil
}

func (s *Storage) UpdateUser(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return model.ErrUserNotFound
	}
	u := *user
	s.users[u.ID] = &u
	return nil
}

func (s *Storage) CountUsers(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// Character operations

func (s *Storage) CreateCharacter(ctx context.Context, c *model.Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc := cloneCharacter(c)
	s.characters[cc.ID] = cc
	return nil
}

func (s *Storage) GetCharacter(ctx context.Context, id model.CharacterID) (*model.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.characters[id]
	if !ok {
		return nil, model.ErrCharacterNotFound
	}
	return cloneCharacter(c), nil
}

func (s *Storage) UpdateCharacter(ctx context.Context, c *model.Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.characters[c.ID]; !ok {
		return model.ErrCharacterNotFound
	}
	s.characters[c.ID] = cloneCharacter(c)
	return nil
}

func (s *Storage) ListCharacters(ctx context.Context, filter storage.Filter) ([]*model.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.Character
	for _, c := range s.characters {
		match, err := matchCharacter(c, filter)
		if err != nil {
			return nil, err
		}
		if match {
			result = append(result, cloneCharacter(c))
		}
	}
	return result, nil
}

// Place operations

func (s *Storage) CreatePlace(ctx context.Context, p *model.Place) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.places[p.Address]; taken {
		return model.ErrPlaceExists
	}
	s.places[p.Address] = clonePlace(p)
	return nil
}

func (s *Storage) GetPlace(ctx context.Context, addr model.Address) (*model.Place, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.places[addr]
	if !ok {
		return nil, model.ErrPlaceNotFound
	}
	return clonePlace(p), nil
}

func (s *Storage) UpdatePlace(ctx context.Context, p *model.Place) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.places[p.Address]; !ok {
		return model.ErrPlaceNotFound
	}
	s.places[p.Address] = clonePlace(p)
	return nil
}

func (s *Storage) DeletePlace(ctx context.Context, addr model.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.places[addr]; !ok {
		return model.ErrPlaceNotFound
	}
	delete(s.places, addr)
	return nil
}

func (s *Storage) ListPlaces(ctx context.Context, filter storage.Filter) ([]*model.Place, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.Place
	for _, p := range s.places {
		match, err := matchPlace(p, filter)
		if err != nil {
			return nil, err
		}
		if match {
			result = append(result, clonePlace(p))
		}
	}
	return result, nil
}

// Filter matching

func matchCharacter(c *model.Character, filter storage.Filter) (bool, error) {
	for _, cond := range filter {
		var field string
		switch cond.Field {
		case storage.FieldUserID:
			field = string(c.UserID)
		case storage.FieldPlaceAddress:
			field = string(c.PlaceAddress)
		default:
			return false, storage.ErrBadFilter{Field: cond.Field, Op: cond.Op}
		}
		match, err := matchCond(field, cond)
		if err != nil || !match {
			return false, err
		}
	}
	return true, nil
}

func matchPlace(p *model.Place, filter storage.Filter) (bool, error) {
	for _, cond := range filter {
		if cond.Field != storage.FieldPlaceAddress {
			return false, storage.ErrBadFilter{Field: cond.Field, Op: cond.Op}
		}
		match, err := matchCond(string(p.Address), cond)
		if err != nil || !match {
			return false, err
		}
	}
	return true, nil
}

func matchCond(field string, cond storage.Cond) (bool, error) {
	switch cond.Op {
	case storage.OpEq:
		return field == asString(cond.Value), nil
	case storage.OpIn:
		for _, v := range cond.Values {
			if field == asString(v) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, storage.ErrBadFilter{Field: cond.Field, Op: cond.Op}
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case model.UserID:
		return string(s)
	case model.CharacterID:
		return string(s)
	case model.Address:
		return string(s)
	default:
		return ""
	}
}

// Copy helpers keep callers from mutating stored state in place

func cloneCharacter(c *model.Character) *model.Character {
	cc := *c
	if c.Inventory != nil {
		cc.Inventory = make([]model.ItemRef, len(c.Inventory))
		copy(cc.Inventory, c.Inventory)
	}
	return &cc
}

func clonePlace(p *model.Place) *model.Place {
	pp := *p
	if p.Passages != nil {
		pp.Passages = make([]model.Passage, len(p.Passages))
		copy(pp.Passages, p.Passages)
	}
	return &pp
}
