package store

import "errors"

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrEmptyKey       = errors.New("record key cannot be empty")
)
