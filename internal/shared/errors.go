package shared

import "errors"

// ErrActorRequired indicates a mutating call arrived without an actor id.
var ErrActorRequired = errors.New("actor id required")
