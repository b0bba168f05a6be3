package app

import (
	"errors"
	"fmt"
	"net/http"

	"designdesk/api/internal/auth"
	"designdesk/api/internal/store"
	"designdesk/api/internal/workflow"
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var flowErr *workflow.Error
	if errors.As(err, &flowErr) {
		switch flowErr.Kind {
		case workflow.KindValidation:
			return http.StatusBadRequest, "VALIDATION_ERROR", flowErr.Message, nil
		case workflow.KindLock:
			return http.StatusLocked, "APPROVAL_LOCKED", flowErr.Message, nil
		case workflow.KindNotFound:
			return http.StatusNotFound, "NOT_FOUND", flowErr.Message, nil
		case workflow.KindPermission:
			return http.StatusForbidden, "FORBIDDEN", flowErr.Message, nil
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrHistoryRewritten) {
		return http.StatusConflict, "CONFLICT", "Task changed concurrently, retry", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
