package domain

import "errors"

var (
	ErrLockHeld         = errors.New("lock already held")
	ErrUnknownChain     = errors.New("chain not in roster")
	ErrStoreUnavailable = errors.New("arm store unavailable")
)
