package store

import "errors"

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("duplicate")
	// ErrConflict is returned when a concurrent transaction prevented the write.
	ErrConflict = errors.New("conflicting concurrent write")
	// ErrDanglingReference is returned when a referenced row does not exist or
	// a field does not belong to the referenced permission.
	ErrDanglingReference = errors.New("dangling reference")
	// ErrSuperuserExists is returned when a second superuser role would be created.
	ErrSuperuserExists = errors.New("a superuser role already exists")
	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
	// ErrMarkDirty is returned when a mutation was applied but the cache could
	// not be marked dirty.
	ErrMarkDirty = errors.New("mutation applied but cache not marked dirty")
)
