package domain

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrKeyGeneration aborts actor creation; no actor exists without a key pair.
	ErrKeyGeneration = errors.New("key pair generation failed")

	ErrDuplicateHandle   = errors.New("handle already taken")
	ErrDuplicateFollow   = errors.New("follow already exists")
	ErrDuplicateActivity = errors.New("activity already recorded")
)
