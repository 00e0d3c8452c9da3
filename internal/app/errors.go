package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/auth"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board"
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

var errForbidden = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, board.ErrValidation):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, board.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error(), nil
	case errors.Is(err, board.ErrTransaction):
		return http.StatusServiceUnavailable, "TRANSACTION_FAILED", "Transaction failed, try again", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
