package service

import (
	"errors"

	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/repository"
)

// Failure classes of a reconciliation. Every one of them is reported to the
// ingress the same way; the class only shows up in logs and metrics.
var (
	ErrValidationFailed  = errors.New("validation failed")
	ErrOwnerNotFound     = errors.New("owner not found")
	ErrNoMatchingSession = errors.New("no matching session")
	ErrStoreFailure      = errors.New("store failure")
)

// Classify returns a stable label for err.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, ErrOwnerNotFound), errors.Is(err, repository.ErrOwnerNotFound):
		return "owner_not_found"
	case errors.Is(err, ErrNoMatchingSession):
		return "no_matching_session"
	case errors.Is(err, ErrStoreFailure):
		return "store_failure"
	default:
		return "unknown"
	}
}
