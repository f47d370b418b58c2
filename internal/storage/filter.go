package storage

import "fmt"

// Op is a filter comparison operator
type Op string

const (
	// OpEq matches entities whose field equals the value
	OpEq Op = "eq"
	// OpIn matches entities whose field equals any of the values
	OpIn Op = "in"
)

// Field names accepted in filters. Backends reject anything else, so
// field names never reach a query as raw user input.
const (
	FieldUserID       = "user_id"
	FieldUsername     = "username"
	FieldPlaceAddress = "place_address"
)

// Cond is a single filter condition on a named field
type Cond struct {
	Field string
	Op    Op
	Value any
	// Values is used with OpIn
	Values []any
}

// Filter is a conjunction of conditions. An empty filter matches everything.
type Filter []Cond

// Eq returns a filter condition matching field == value
func Eq(field string, value any) Cond {
	return Cond{Field: field, Op: OpEq, Value: value}
}

// In returns a filter condition matching field against any of values
func In(field string, values ...any) Cond {
	return Cond{Field: field, Op: OpIn, Values: values}
}

// ErrBadFilter is returned by backends for unknown fields or operators
type ErrBadFilter struct {
	Field string
	Op    Op
}

func (e ErrBadFilter) Error() string {
	return fmt.Sprintf("unsupported filter: field %q op %q", e.Field, e.Op)
}
