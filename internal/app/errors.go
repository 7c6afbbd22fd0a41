package app

import (
	"errors"
	"fmt"
	"net/http"

	"quarters/api/internal/auth"
	"quarters/api/internal/ballot"
	"quarters/api/internal/export"
	"quarters/api/internal/lists"
	"quarters/api/internal/split"
	"quarters/api/internal/window"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errInvalidIdentity() *DomainError {
	return domainError(http.StatusUnprocessableEntity, "INVALID_IDENTITY", "Enter your name first", nil)
}

func errRestricted(message string) *DomainError {
	return domainError(http.StatusForbidden, "RESTRICTED", message, nil)
}

func errVotingClosed(w *window.Window) *DomainError {
	return domainError(http.StatusConflict, "VOTING_CLOSED", window.ClosedMessage, map[string]any{
		"redirect": w.Redirect(),
		"deadline": w.Deadline(),
	})
}

func errBallotLocked() *DomainError {
	return domainError(http.StatusConflict, "BALLOT_LOCKED", "Your vote is locked", nil)
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

// storeError wraps a realtime store failure. The original error stays in the
// chain for logging.
func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w", op, &storeFailure{err: err})
}

type storeFailure struct{ err error }

func (f *storeFailure) Error() string { return f.err.Error() }
func (f *storeFailure) Unwrap() error { return f.err }

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var failure *storeFailure
	switch {
	case errors.As(err, &failure):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "The vote store is unavailable, try again", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, auth.ErrGateRejected):
		return http.StatusForbidden, "RESTRICTED", "Incorrect password.", nil
	case errors.Is(err, ballot.ErrLimitReached):
		return http.StatusConflict, "LIMIT_REACHED", "You can only pick a limited number of options", nil
	case errors.Is(err, ballot.ErrNoCandidate):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "candidateId is required", nil
	case errors.Is(err, split.ErrInvalidGroupSize), errors.Is(err, split.ErrInvalidPeriods), errors.Is(err, split.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, lists.ErrEmptyText), errors.Is(err, lists.ErrInvalidQuantity):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, lists.ErrIndexOutOfRange), errors.Is(err, lists.ErrItemNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error(), nil
	case errors.Is(err, lists.ErrNoIdentity):
		return http.StatusUnprocessableEntity, "INVALID_IDENTITY", "Enter your name first", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil
	case errors.Is(err, export.ErrArchiveDisabled):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Archive is not configured", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
