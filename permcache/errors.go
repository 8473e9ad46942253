package permcache

import "errors"

var (
	// ErrBuildFailed wraps load, resolve and panic failures of a refresh build.
	ErrBuildFailed = errors.New("permission cache build failed")
	// ErrTrackerUnavailable wraps dirty tracker backend failures.
	ErrTrackerUnavailable = errors.New("dirty tracker unavailable")
	// ErrDuplicateEntry is returned when a build yields two entries for one (user, permission key).
	ErrDuplicateEntry = errors.New("duplicate effective permission")
)
