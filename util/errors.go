package util

import "errors"

// ErrDuplicateKey is returned by an index insert that targets an
// already-present key.
var ErrDuplicateKey = errors.New("index: duplicate key")
