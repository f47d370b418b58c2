// Package redis provides a Redis-backed implementation of the storage
// interface. Entities are stored as JSON values under prefixed keys with
// secondary index sets for the filterable fields. The server remains the
// sole writer, so no cross-process coordination is attempted.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinymud/tinymud/internal/model"
	"github.com/tinymud/tinymud/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Storage{client: client, cfg: cfg}, nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{client: client, cfg: cfg}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Store = (*Storage)(nil)

// User operations

func (s *Storage) CreateUser(ctx context.Context, user *model.User) error {
	// Claim the username first; SETNX makes the natural key atomic
	claimed, err := s.client.SetNX(ctx, usernameIndexKey(user.Username), string(user.ID), 0).Result()
	if err != nil {
		return err
	}
	if !claimed {
		return model.ErrUsernameTaken
	}

	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, userKey(user.ID), data, 0)
	pipe.SAdd(ctx, usersIndexKey(), string(user.ID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetUser(ctx context.Context, id model.UserID) (*model.User, error) {
	data, err := s.client.Get(ctx, userKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrUserNotFound
		}
		return nil, err
	}

	var user model.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	id, err := s.client.Get(ctx, usernameIndexKey(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrUserNotFound
		}
		return nil, err
	}
	return s.GetUser(ctx, model.UserID(id))
}

func (s *Storage) UpdateUser(ctx context.Context, user *model.User) error {
	exists, err := s.client.Exists(ctx, userKey(user.ID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return model.ErrUserNotFound
	}
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, userKey(user.ID), data, 0).Err()
}

func (s *Storage) CountUsers(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, usersIndexKey()).Result()
	return int(n), err
}

// Character operations

func (s *Storage) CreateCharacter(ctx context.Context, c *model.Character) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, characterKey(c.ID), data, 0)
	pipe.SAdd(ctx, charactersByUserKey(c.UserID), string(c.ID))
	pipe.SAdd(ctx, charactersByPlaceKey(c.PlaceAddress), string(c.ID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetCharacter(ctx context.Context, id model.CharacterID) (*model.Character, error) {
	data, err := s.client.Get(ctx, characterKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrCharacterNotFound
		}
		return nil, err
	}

	var c model.Character
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Storage) UpdateCharacter(ctx context.Context, c *model.Character) error {
	prev, err := s.GetCharacter(ctx, c.ID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	// Keep the place index in step when the character moved
	pipe := s.client.Pipeline()
	pipe.Set(ctx, characterKey(c.ID), data, 0)
	if prev.PlaceAddress != c.PlaceAddress {
		pipe.SRem(ctx, charactersByPlaceKey(prev.PlaceAddress), string(c.ID))
		pipe.SAdd(ctx, charactersByPlaceKey(c.PlaceAddress), string(c.ID))
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) ListCharacters(ctx context.Context, filter storage.Filter) ([]*model.Character, error) {
	ids, err := s.characterIDsFor(ctx, filter)
	if err != nil {
		return nil, err
	}

	var result []*model.Character
	for _, id := range ids {
		c, err := s.GetCharacter(ctx, model.CharacterID(id))
		if errors.Is(err, model.ErrCharacterNotFound) {
			continue // stale index entry
		}
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}

// characterIDsFor resolves a filter to candidate ids via index sets.
// Multiple conditions intersect.
func (s *Storage) characterIDsFor(ctx context.Context, filter storage.Filter) ([]string, error) {
	var indexKeys []string
	for _, cond := range filter {
		var keyFor func(v any) (string, error)
		switch cond.Field {
		case storage.FieldUserID:
			keyFor = func(v any) (string, error) {
				return charactersByUserKey(model.UserID(asString(v))), nil
			}
		case storage.FieldPlaceAddress:
			keyFor = func(v any) (string, error) {
				return charactersByPlaceKey(model.Address(asString(v))), nil
			}
		default:
			return nil, storage.ErrBadFilter{Field: cond.Field, Op: cond.Op}
		}

		switch cond.Op {
		case storage.OpEq:
			key, _ := keyFor(cond.Value)
			indexKeys = append(indexKeys, key)
		case storage.OpIn:
			// Union of the per-value sets, then intersect with the rest
			var members []string
			for _, v := range cond.Values {
				key, _ := keyFor(v)
				ids, err := s.client.SMembers(ctx, key).Result()
				if err != nil {
					return nil, err
				}
				members = append(members, ids...)
			}
			return intersect(members, indexKeys, s, ctx)
		default:
			return nil, storage.ErrBadFilter{Field: cond.Field, Op: cond.Op}
		}
	}

	if len(indexKeys) == 0 {
		return nil, storage.ErrBadFilter{Field: "", Op: ""}
	}
	if len(indexKeys) == 1 {
		return s.client.SMembers(ctx, indexKeys[0]).Result()
	}
	return s.client.SInter(ctx, indexKeys...).Result()
}

func intersect(members []string, indexKeys []string, s *Storage, ctx context.Context) ([]string, error) {
	if len(indexKeys) == 0 {
		return members, nil
	}
	rest, err := s.client.SInter(ctx, indexKeys...).Result()
	if err != nil {
		return nil, err
	}
	inRest := make(map[string]bool, len(rest))
	for _, id := range rest {
		inRest[id] = true
	}
	var result []string
	for _, id := range members {
		if inRest[id] {
			result = append(result, id)
		}
	}
	return result, nil
}

// Place operations

func (s *Storage) CreatePlace(ctx context.Context, p *model.Place) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	// SETNX enforces address uniqueness
	created, err := s.client.SetNX(ctx, placeKey(p.Address), data, 0).Result()
	if err != nil {
		return err
	}
	if !created {
		return model.ErrPlaceExists
	}
	return s.client.SAdd(ctx, placesIndexKey(), string(p.Address)).Err()
}

func (s *Storage) GetPlace(ctx context.Context, addr model.Address) (*model.Place, error) {
	data, err := s.client.Get(ctx, placeKey(addr)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlaceNotFound
		}
		return nil, err
	}

	var p model.Place
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Storage) UpdatePlace(ctx context.Context, p *model.Place) error {
	exists, err := s.client.Exists(ctx, placeKey(p.Address)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return model.ErrPlaceNotFound
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, placeKey(p.Address), data, 0).Err()
}

func (s *Storage) DeletePlace(ctx context.Context, addr model.Address) error {
	n, err := s.client.Del(ctx, placeKey(addr)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrPlaceNotFound
	}
	return s.client.SRem(ctx, placesIndexKey(), string(addr)).Err()
}

func (s *Storage) ListPlaces(ctx context.Context, filter storage.Filter) ([]*model.Place, error) {
	addrs, err := s.placeAddrsFor(ctx, filter)
	if err != nil {
		return nil, err
	}

	var result []*model.Place
	for _, addr := range addrs {
		p, err := s.GetPlace(ctx, model.Address(addr))
		if errors.Is(err, model.ErrPlaceNotFound) {
			continue // stale index entry
		}
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

func (s *Storage) placeAddrsFor(ctx context.Context, filter storage.Filter) ([]string, error) {
	if len(filter) == 0 {
		return s.client.SMembers(ctx, placesIndexKey()).Result()
	}
	var addrs []string
	for _, cond := range filter {
		if cond.Field != storage.FieldPlaceAddress {
			return nil, storage.ErrBadFilter{Field: cond.Field, Op: cond.Op}
		}
		switch cond.Op {
		case storage.OpEq:
			addrs = append(addrs, asString(cond.Value))
		case storage.OpIn:
			for _, v := range cond.Values {
				addrs = append(addrs, asString(v))
			}
		default:
			return nil, storage.ErrBadFilter{Field: cond.Field, Op: cond.Op}
		}
	}
	return addrs, nil
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
