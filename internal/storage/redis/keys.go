package redis

import (
	"fmt"

	"github.com/tinymud/tinymud/internal/model"
)

// Key prefix for all world data
const keyPrefix = "tinymud"

// userKey returns the Redis key for a User
func userKey(id model.UserID) string {
	return fmt.Sprintf("%s:user:%s", keyPrefix, id)
}

// usernameIndexKey returns the Redis key for the username -> user_id index
func usernameIndexKey(username string) string {
	return fmt.Sprintf("%s:idx:username:%s", keyPrefix, username)
}

// usersIndexKey returns the Redis key for the SET of all user ids
func usersIndexKey() string {
	return fmt.Sprintf("%s:idx:users", keyPrefix)
}

// characterKey returns the Redis key for a Character
func characterKey(id model.CharacterID) string {
	return fmt.Sprintf("%s:character:%s", keyPrefix, id)
}

// charactersByUserKey returns the Redis key for the SET of a user's characters
func charactersByUserKey(userID model.UserID) string {
	return fmt.Sprintf("%s:idx:chars_by_user:%s", keyPrefix, userID)
}

// charactersByPlaceKey returns the Redis key for the SET of characters at a place
func charactersByPlaceKey(addr model.Address) string {
	return fmt.Sprintf("%s:idx:chars_by_place:%s", keyPrefix, addr)
}

// placeKey returns the Redis key for a Place
func placeKey(addr model.Address) string {
	return fmt.Sprintf("%s:place:%s", keyPrefix, addr)
}

// placesIndexKey returns the Redis key for the SET of all place addresses
func placesIndexKey() string {
	return fmt.Sprintf("%s:idx:places", keyPrefix)
}
