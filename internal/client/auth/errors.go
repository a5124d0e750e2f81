package auth

import "errors"

// ErrNoSession indicates that the user has not signed in
var ErrNoSession = errors.New("no active session")
