package model

// CharacterID uniquely identifies a character
type CharacterID string

// ItemRef is a lightweight reference to an inventory item
type ItemRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Character is a player's in-world avatar. It is owned by exactly one
// user and located at exactly one place address at a time. The place
// address is a foreign key by value: it may point at a place that does
// not exist yet (editor teleports).
type Character struct {
	ID           CharacterID
	UserID       UserID
	Name         string
	PlaceAddress Address
	Inventory    []ItemRef
}

// CharacterTemplate is one of the options offered during character creation
type CharacterTemplate struct {
	Name        string
	Description string
}

// DefaultTemplates returns the character templates offered to new players
func DefaultTemplates() []CharacterTemplate {
	return []CharacterTemplate{
		{Name: "wanderer", Description: "A traveler from beyond the known places."},
		{Name: "scholar", Description: "A keeper of half-remembered lore."},
	}
}
