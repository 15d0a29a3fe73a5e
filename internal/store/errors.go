package store

import "errors"

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("blob version conflict")
	ErrCorruptBlob     = errors.New("blob payload is not valid JSON")
)
