package ws

import (
	"encoding/json"

	"github.com/tinymud/tinymud/internal/model"
)

// Message type discriminators. Every frame after the auth handshake is
// a JSON object carrying one of these in its "type" field.
const (
	// Server → client
	TypeClientConfig    = "ClientConfig"
	TypeCreateCharacter = "CreateCharacter"
	TypeUpdatePlace     = "UpdatePlace"
	TypeUpdateCharacter = "UpdateCharacter"
	TypeDisplayAlert    = "DisplayAlert"

	// Client → server
	TypePickCharacterTemplate = "PickCharacterTemplate"
	TypeUsePassage            = "UsePassage"
	TypeEditorTeleport        = "EditorTeleport"
	TypeEditorPlaceEdit       = "EditorPlaceEdit"
	TypeEditorPlaceCreate     = "EditorPlaceCreate"
	TypeEditorPlaceDestroy    = "EditorPlaceDestroy"
)

// envelope is the minimal decode of any inbound frame
type envelope struct {
	Type string `json:"type"`
}

// VisibleObj is the public information about an entity sent to clients
type VisibleObj struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Server → client messages. Constructors set the discriminator so a
// message can never go out without one.

// ClientConfig tells the client its role bitset so it knows which
// features to render. The server still checks every message.
type ClientConfig struct {
	MsgType string      `json:"type"`
	Roles   model.Roles `json:"roles"`
}

// NewClientConfig creates a ClientConfig message
func NewClientConfig(roles model.Roles) *ClientConfig {
	return &ClientConfig{MsgType: TypeClientConfig, Roles: roles}
}

// TemplateOption is one choice in the character creation offer
type TemplateOption struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateCharacter asks the client to create a character
type CreateCharacter struct {
	MsgType string           `json:"type"`
	Options []TemplateOption `json:"options"`
}

// NewCreateCharacter creates a CreateCharacter offer
func NewCreateCharacter(templates []model.CharacterTemplate) *CreateCharacter {
	options := make([]TemplateOption, len(templates))
	for i, t := range templates {
		options[i] = TemplateOption{Name: t.Name, Description: t.Description}
	}
	return &CreateCharacter{MsgType: TypeCreateCharacter, Options: options}
}

// UpdatePlace pushes place state to a subscribed client. Nil fields
// mean "unchanged"; the header is raw markdown-like source and must
// round-trip losslessly.
type UpdatePlace struct {
	MsgType    string          `json:"type"`
	Address    model.Address   `json:"address"`
	Title      *string         `json:"title,omitempty"`
	Header     *string         `json:"header,omitempty"`
	Passages   []model.Passage `json:"passages,omitempty"`
	Characters []VisibleObj    `json:"characters,omitempty"`
	Items      []VisibleObj    `json:"items,omitempty"`
}

// NewUpdatePlace creates a full place snapshot message
func NewUpdatePlace(place *model.Place, characters []*model.Character) *UpdatePlace {
	visible := make([]VisibleObj, 0, len(characters))
	for _, c := range characters {
		visible = append(visible, VisibleObj{ID: string(c.ID), Name: c.Name})
	}
	title := place.Title
	header := place.Header
	return &UpdatePlace{
		MsgType:    TypeUpdatePlace,
		Address:    place.Address,
		Title:      &title,
		Header:     &header,
		Passages:   place.Passages,
		Characters: visible,
	}
}

// NewUpdatePlaceMissing creates the minimal snapshot for an address
// without a place behind it (teleport target not created yet,
// or a place just destroyed)
func NewUpdatePlaceMissing(addr model.Address) *UpdatePlace {
	return &UpdatePlace{MsgType: TypeUpdatePlace, Address: addr}
}

// UpdateCharacter pushes the played character's state to its client
type UpdateCharacter struct {
	MsgType   string       `json:"type"`
	Character VisibleObj   `json:"character"`
	Inventory []VisibleObj `json:"inventory,omitempty"`
}

// NewUpdateCharacter creates an UpdateCharacter message
func NewUpdateCharacter(c *model.Character) *UpdateCharacter {
	var inventory []VisibleObj
	for _, item := range c.Inventory {
		inventory = append(inventory, VisibleObj{ID: item.ID, Name: item.Name})
	}
	return &UpdateCharacter{
		MsgType:   TypeUpdateCharacter,
		Character: VisibleObj{ID: string(c.ID), Name: c.Name},
		Inventory: inventory,
	}
}

// DisplayAlert tells one client to show a message. Used for rejected
// or failed operations; the connection stays open.
type DisplayAlert struct {
	MsgType string `json:"type"`
	Alert   string `json:"alert"`
}

// NewDisplayAlert creates a DisplayAlert message
func NewDisplayAlert(alert string) *DisplayAlert {
	return &DisplayAlert{MsgType: TypeDisplayAlert, Alert: alert}
}

// Client → server messages

// PickCharacterTemplate answers the character creation offer
type PickCharacterTemplate struct {
	Name     string `json:"name"`
	Selected int    `json:"selected"`
}

// UsePassage moves the played character through a passage of its
// current place
type UsePassage struct {
	Address model.Address `json:"address"`
}

// EditorTeleport moves any character to any address
type EditorTeleport struct {
	Character model.CharacterID `json:"character"`
	Address   model.Address     `json:"address"`
}

// EditorPlaceEdit replaces a place's title, header and passage set
type EditorPlaceEdit struct {
	Address  model.Address   `json:"address"`
	Title    string          `json:"title"`
	Header   string          `json:"header"`
	Passages []model.Passage `json:"passages"`
}

// EditorPlaceCreate creates an empty place
type EditorPlaceCreate struct {
	Address model.Address `json:"address"`
}

// EditorPlaceDestroy deletes a place
type EditorPlaceDestroy struct {
	Address model.Address `json:"address"`
}

// encodeMessage marshals an outbound message
func encodeMessage(msg any) ([]byte, error) {
	return json.Marshal(msg)
}
