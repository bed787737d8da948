package economy

import "errors"

// Structural misuse. Scarcity is never reported through these.
var (
	ErrInvalidArgument = errors.New("economy: invalid argument")
	ErrNegativeAmount  = errors.New("economy: negative amount")
	ErrUnknownGood     = errors.New("economy: unknown good")
	ErrDuplicateGood   = errors.New("economy: duplicate good")
	ErrNotAWant        = errors.New("economy: good is not a want")
	ErrMarketFrozen    = errors.New("economy: market registry is frozen")
)
