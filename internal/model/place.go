package model

import "regexp"

// Address is the globally unique dotted identifier of a place,
// e.g. "tutorial.awake". Addresses are public knowledge; players are
// usually shown titles instead.
type Address string

var addressPattern = regexp.MustCompile(`^[a-z0-9_-]+(\.[a-z0-9_-]+)*$`)

// ValidateAddress checks place address syntax.
// Addresses are dotted lowercase segments; existence is not checked.
func ValidateAddress(addr Address) error {
	if addr == "" || !addressPattern.MatchString(string(addr)) {
		return ErrInvalidAddress
	}
	return nil
}

// Place is a location node in the world graph.
//
// Header text is markdown-like source rendered by the client; it must
// round-trip losslessly so editors can keep working on it. A place with
// no inbound or outbound passages is valid (under construction).
type Place struct {
	Address  Address
	Title    string
	Header   string
	Passages []Passage
}

// Passage returns the outgoing passage targeting addr, or nil.
// Hidden passages are found too; they stay traversable by address.
func (p *Place) Passage(addr Address) *Passage {
	for i := range p.Passages {
		if p.Passages[i].TargetAddress == addr {
			return &p.Passages[i]
		}
	}
	return nil
}

// Passage is a directed link from its owning place to a target address.
// The target may not exist yet: editors can write a passage before
// creating the place it leads to.
type Passage struct {
	TargetAddress Address `json:"address"`
	Name          string  `json:"name,omitempty"`
	Hidden        bool    `json:"hidden"`
}
