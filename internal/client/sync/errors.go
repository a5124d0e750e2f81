package sync

import "errors"

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicate      = errors.New("record already exists")
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrClosed         = errors.New("engine closed")
)
