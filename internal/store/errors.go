package store

import "errors"

// ErrNotFound is returned when a graph or run does not exist.
var ErrNotFound = errors.New("store: not found")
