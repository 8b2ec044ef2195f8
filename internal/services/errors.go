package services

import (
	"errors"

	"github.com/alphagov/notifications-api-sub002/internal/repositories"
)

// Client-input errors. Never retried.
var (
	ErrIllegalTransition     = errors.New("illegal broadcast status transition")
	ErrSelfApprovalForbidden = errors.New("cannot approve your own broadcast")
	ErrNoAreasSelected       = errors.New("broadcast has no selected areas and so cannot be broadcast")
	ErrInvalidBroadcast      = errors.New("invalid broadcast")
	ErrForbidden             = errors.New("not allowed to act on this service")
	ErrNotFound              = repositories.ErrNotFound
)

// Post-commit errors. The status change has already been written when these
// occur; they are logged and counted, not returned to the caller.
var (
	ErrEventRecordingFailed   = errors.New("broadcast event recording failed")
	ErrDispatchFailed         = errors.New("broadcast transmission dispatch failed")
	ErrOperationalAlertFailed = errors.New("operational alert failed")
)

// IsClientError reports whether err was caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrSelfApprovalForbidden) ||
		errors.Is(err, ErrNoAreasSelected) ||
		errors.Is(err, ErrInvalidBroadcast)
}
