package storage

import "errors"

// ErrNotFound is returned when a rule does not exist.
var ErrNotFound = errors.New("rule not found")

// ErrDuplicate is returned when a rule for the same (endpoint, tier) pair already exists.
var ErrDuplicate = errors.New("rule already exists for endpoint and tier")
