package model

import "errors"

// ErrInvariant signals a violated range or dimension. It is a bug signal,
// not a recoverable condition.
var ErrInvariant = errors.New("invariant violation")
