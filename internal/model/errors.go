package model

import "errors"

// ErrNotFound is returned by every store implementation when a record does
// not exist, so callers can tell absence apart from infrastructure failure.
var ErrNotFound = errors.New("not found")
