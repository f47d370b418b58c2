// Package cache implements the in-process entity cache layered over
// durable storage.
//
// The cache is always write-through: Create, Mutate and Delete await
// the store before the in-memory entry changes, so a reader can never
// observe a cache entry staler than the last completed persist.
// Mutations to the same entity key are serialized by per-key locks;
// mutations to different keys proceed in parallel.
package cache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tinymud/tinymud/internal/model"
	"github.com/tinymud/tinymud/internal/storage"
)

// Cache is the single in-process authority for entity reads and writes.
// Construct one per process and inject it; all shared mutable world
// state lives here and nowhere else.
type Cache struct {
	store  storage.Store
	logger *slog.Logger
	locks  *keyLocks

	mu         sync.RWMutex
	users      map[model.UserID]*model.User
	characters map[model.CharacterID]*model.Character
	places     map[model.Address]*model.Place
}

// New creates an empty cache over the given store
func New(store storage.Store, logger *slog.Logger) *Cache {
	return &Cache{
		store:      store,
		logger:     logger.With(slog.String("component", "cache")),
		locks:      newKeyLocks(),
		users:      make(map[model.UserID]*model.User),
		characters: make(map[model.CharacterID]*model.Character),
		places:     make(map[model.Address]*model.Place),
	}
}

// Lock key namespaces. Keys from different kinds never collide.
func userLockKey(id model.UserID) string           { return "user/" + string(id) }
func characterLockKey(id model.CharacterID) string { return "char/" + string(id) }
func placeLockKey(addr model.Address) string       { return "place/" + string(addr) }

// Place operations

// GetPlace returns the cached place, loading and populating on a miss
func (c *Cache) GetPlace(ctx context.Context, addr model.Address) (*model.Place, error) {
	c.mu.RLock()
	p, ok := c.places[addr]
	c.mu.RUnlock()
	if ok {
		return clonePlace(p), nil
	}

	// Serialize the load with mutations on the same key so a stale read
	// can never overwrite a newer cache entry
	c.locks.acquire(placeLockKey(addr))
	defer c.locks.release(placeLockKey(addr))

	c.mu.RLock()
	p, ok = c.places[addr]
	c.mu.RUnlock()
	if ok {
		return clonePlace(p), nil
	}

	p, err := c.store.GetPlace(ctx, addr)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.places[addr] = p
	c.mu.Unlock()
	return clonePlace(p), nil
}

// CreatePlace persists a new place, then caches it.
// Fails with the place Conflict error if the address is taken.
func (c *Cache) CreatePlace(ctx context.Context, p *model.Place) (*model.Place, error) {
	c.locks.acquire(placeLockKey(p.Address))
	defer c.locks.release(placeLockKey(p.Address))

	stored := clonePlace(p)
	if err := c.store.CreatePlace(ctx, stored); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.places[p.Address] = stored
	c.mu.Unlock()
	return clonePlace(stored), nil
}

// MutatePlace applies patch to the current place value under the key
// lock, persists the result, then updates the cache entry. patch must
// be a pure function of its argument.
func (c *Cache) MutatePlace(ctx context.Context, addr model.Address, patch func(model.Place) (model.Place, error)) (*model.Place, error) {
	c.locks.acquire(placeLockKey(addr))
	defer c.locks.release(placeLockKey(addr))

	current, err := c.loadPlaceLocked(ctx, addr)
	if err != nil {
		return nil, err
	}
	next, err := patch(*clonePlace(current))
	if err != nil {
		return nil, err
	}
	next.Address = addr // identity is immutable
	if err := c.store.UpdatePlace(ctx, &next); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.places[addr] = clonePlace(&next)
	c.mu.Unlock()
	return clonePlace(&next), nil
}

// DeletePlace removes the place from the store, then the cache
func (c *Cache) DeletePlace(ctx context.Context, addr model.Address) error {
	c.locks.acquire(placeLockKey(addr))
	defer c.locks.release(placeLockKey(addr))

	if err := c.store.DeletePlace(ctx, addr); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.places, addr)
	c.mu.Unlock()
	return nil
}

// QueryPlaces loads places matching the filter from the store and
// refreshes the cache entries for the result set
func (c *Cache) QueryPlaces(ctx context.Context, filter storage.Filter) ([]*model.Place, error) {
	places, err := c.store.ListPlaces(ctx, filter)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	for _, p := range places {
		c.places[p.Address] = clonePlace(p)
	}
	c.mu.Unlock()
	return places, nil
}

func (c *Cache) loadPlaceLocked(ctx context.Context, addr model.Address) (*model.Place, error) {
	c.mu.RLock()
	p, ok := c.places[addr]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}
	return c.store.GetPlace(ctx, addr)
}

// Character operations

// GetCharacter returns the cached character, loading on a miss
func (c *Cache) GetCharacter(ctx context.Context, id model.CharacterID) (*model.Character, error) {
	c.mu.RLock()
	char, ok := c.characters[id]
	c.mu.RUnlock()
	if ok {
		return cloneCharacter(char), nil
	}

	c.locks.acquire(characterLockKey(id))
	defer c.locks.release(characterLockKey(id))

	c.mu.RLock()
	char, ok = c.characters[id]
	c.mu.RUnlock()
	if ok {
		return cloneCharacter(char), nil
	}

	char, err := c.store.GetCharacter(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.characters[id] = char
	c.mu.Unlock()
	return cloneCharacter(char), nil
}

// CreateCharacter persists a new character, then caches it
func (c *Cache) CreateCharacter(ctx context.Context, char *model.Character) (*model.Character, error) {
	c.locks.acquire(characterLockKey(char.ID))
	defer c.locks.release(characterLockKey(char.ID))

	stored := cloneCharacter(char)
	if err := c.store.CreateCharacter(ctx, stored); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.characters[char.ID] = stored
	c.mu.Unlock()
	return cloneCharacter(stored), nil
}

// MutateCharacter applies patch under the key lock, persists, then
// updates the cache entry
func (c *Cache) MutateCharacter(ctx context.Context, id model.CharacterID, patch func(model.Character) (model.Character, error)) (*model.Character, error) {
	c.locks.acquire(characterLockKey(id))
	defer c.locks.release(characterLockKey(id))

	current, err := c.loadCharacterLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := patch(*cloneCharacter(current))
	if err != nil {
		return nil, err
	}
	next.ID = id
	next.UserID = current.UserID // ownership is immutable
	if err := c.store.UpdateCharacter(ctx, &next); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.characters[id] = cloneCharacter(&next)
	c.mu.Unlock()
	return cloneCharacter(&next), nil
}

// QueryCharacters loads characters matching the filter from the store
// and refreshes the cache entries for the result set
func (c *Cache) QueryCharacters(ctx context.Context, filter storage.Filter) ([]*model.Character, error) {
	chars, err := c.store.ListCharacters(ctx, filter)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	for _, char := range chars {
		c.characters[char.ID] = cloneCharacter(char)
	}
	c.mu.Unlock()
	return chars, nil
}

func (c *Cache) loadCharacterLocked(ctx context.Context, id model.CharacterID) (*model.Character, error) {
	c.mu.RLock()
	char, ok := c.characters[id]
	c.mu.RUnlock()
	if ok {
		return char, nil
	}
	return c.store.GetCharacter(ctx, id)
}

// User operations

// GetUser returns the cached user, loading on a miss
func (c *Cache) GetUser(ctx context.Context, id model.UserID) (*model.User, error) {
	c.mu.RLock()
	u, ok := c.users[id]
	c.mu.RUnlock()
	if ok {
		v := *u
		return &v, nil
	}

	c.locks.acquire(userLockKey(id))
	defer c.locks.release(userLockKey(id))

	c.mu.RLock()
	u, ok = c.users[id]
	c.mu.RUnlock()
	if ok {
		v := *u
		return &v, nil
	}

	u, err := c.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.users[id] = u
	c.mu.Unlock()
	v := *u
	return &v, nil
}

// GetUserByUsername resolves the natural key through the store and
// refreshes the cache entry
func (c *Cache) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := c.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	cached := *u
	c.users[u.ID] = &cached
	c.mu.Unlock()
	return u, nil
}

// CreateUser persists a new user, then caches it.
// Fails with the username Conflict error if the username is taken.
func (c *Cache) CreateUser(ctx context.Context, u *model.User) (*model.User, error) {
	c.locks.acquire(userLockKey(u.ID))
	defer c.locks.release(userLockKey(u.ID))

	stored := *u
	if err := c.store.CreateUser(ctx, &stored); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.users[u.ID] = &stored
	c.mu.Unlock()
	v := stored
	return &v, nil
}

// MutateUser applies patch under the key lock, persists, then updates
// the cache entry
func (c *Cache) MutateUser(ctx context.Context, id model.UserID, patch func(model.User) (model.User, error)) (*model.User, error) {
	c.locks.acquire(userLockKey(id))
	defer c.locks.release(userLockKey(id))

	current, err := c.loadUserLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := patch(*current)
	if err != nil {
		return nil, err
	}
	next.ID = id
	next.Username = current.Username // immutable once assigned
	if err := c.store.UpdateUser(ctx, &next); err != nil {
		return nil, err
	}
	c.mu.Lock()
	cached := next
	c.users[id] = &cached
	c.mu.Unlock()
	v := next
	return &v, nil
}

// CountUsers delegates to the store
func (c *Cache) CountUsers(ctx context.Context) (int, error) {
	return c.store.CountUsers(ctx)
}

func (c *Cache) loadUserLocked(ctx context.Context, id model.UserID) (*model.User, error) {
	c.mu.RLock()
	u, ok := c.users[id]
	c.mu.RUnlock()
	if ok {
		return u, nil
	}
	return c.store.GetUser(ctx, id)
}

// Copy helpers keep cached state private to the cache

func clonePlace(p *model.Place) *model.Place {
	pp := *p
	if p.Passages != nil {
		pp.Passages = make([]model.Passage, len(p.Passages))
		copy(pp.Passages, p.Passages)
	}
	return &pp
}

func cloneCharacter(c *model.Character) *model.Character {
	cc := *c
	if c.Inventory != nil {
		cc.Inventory = make([]model.ItemRef, len(c.Inventory))
		copy(cc.Inventory, c.Inventory)
	}
	return &cc
}
