package entcache

import (
	"errors"
	"fmt"
)

var (
	ErrClosed       = errors.New("entcache: store closed")
	ErrEmptyID      = errors.New("entcache: empty id")
	ErrEmptyEntity  = errors.New("entcache: entity name is required")
	ErrTypeMismatch = errors.New("entcache: entity already open with a different value type")
)

// OpError annotates a storage, codec or clock failure with where it
// happened. Op is one of "open", "hydrate", "decode", "encode", "check",
// "persist", "clock".
type OpError struct {
	Op     string
	Entity string
	ID     string
	Err    error
}

func (e *OpError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("entcache: %s %s: %v", e.Op, e.Entity, e.Err)
	}
	return fmt.Sprintf("entcache: %s %s/%s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
