// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition indicates a lifecycle command that is not legal
// from the entity's current state (e.g. retrying a ready cell).
var ErrInvalidTransition = errors.New("invalid state transition")
