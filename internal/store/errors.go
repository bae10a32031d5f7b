package store

import "errors"

var (
	ErrNotFound         = errors.New("record not found")
	ErrAlreadyCompleted = errors.New("habit already completed for that day")
	ErrNotInError       = errors.New("record is not in sync error state")
	ErrEmptyPatch       = errors.New("patch contains no changes")
)
