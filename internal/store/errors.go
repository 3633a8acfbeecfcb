package store

import "errors"

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicateOrder  = errors.New("checklist instance already exists for order")
	ErrMissingLocalKey = errors.New("instance has no local key")
)
