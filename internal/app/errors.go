package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"linkdeck/internal/auth"
	"linkdeck/internal/collection"
	"linkdeck/internal/field"
	"linkdeck/internal/store"
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

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

// mapError turns service errors into the JSON error envelope.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *field.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", validationErr.Fields
	}
	var limitErr *collection.LimitExceededError
	if errors.As(err, &limitErr) {
		return http.StatusConflict, "LIMIT_EXCEEDED", limitErr.Error(), map[string]any{"kind": limitErr.Kind, "max": limitErr.Max}
	}
	if errors.Is(err, store.ErrOrderMismatch) {
		return http.StatusConflict, "ORDER_MISMATCH", "Order does not match the scope's items", nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
