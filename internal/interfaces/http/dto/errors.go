package dto

import (
	"net/http"
	"strings"
)

// API error codes. Every code has the ERR_ prefix; field validation codes
// extend ErrCodeValidation, e.g. ERR_VALIDATION_STATUS.
const (
	ErrCodeInternal            = "ERR_INTERNAL"
	ErrCodeUnavailable         = "ERR_UNAVAILABLE"
	ErrCodeValidation          = "ERR_VALIDATION"
	ErrCodeInvalidInput        = "ERR_INVALID_INPUT"
	ErrCodeInvalidJSON         = "ERR_INVALID_JSON"
	ErrCodeBadRequest          = "ERR_BAD_REQUEST"
	ErrCodeNotFound            = "ERR_NOT_FOUND"
	ErrCodeAlreadyExists       = "ERR_ALREADY_EXISTS"
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
	ErrCodeInvalidState        = "ERR_INVALID_STATE"
)

const validationPrefix = ErrCodeValidation + "_"

// apiCode ties an API code to its HTTP status and, when one exists, the
// domain error code it is reported for
type apiCode struct {
	domain string
	status int
}

var apiCodes = map[string]apiCode{
	ErrCodeInternal:            {"INTERNAL_ERROR", http.StatusInternalServerError},
	ErrCodeUnavailable:         {"UNAVAILABLE", http.StatusServiceUnavailable},
	ErrCodeValidation:          {"VALIDATION_ERROR", http.StatusBadRequest},
	ErrCodeInvalidInput:        {"INVALID_INPUT", http.StatusBadRequest},
	ErrCodeInvalidJSON:         {"", http.StatusBadRequest},
	ErrCodeBadRequest:          {"BAD_REQUEST", http.StatusBadRequest},
	ErrCodeNotFound:            {"NOT_FOUND", http.StatusNotFound},
	ErrCodeAlreadyExists:       {"ALREADY_EXISTS", http.StatusConflict},
	ErrCodeConcurrencyConflict: {"CONCURRENCY_CONFLICT", http.StatusConflict},
	ErrCodeInvalidState:        {"INVALID_STATE", http.StatusUnprocessableEntity},
}

// fromDomain is apiCodes keyed by domain code
var fromDomain = func() map[string]string {
	m := make(map[string]string, len(apiCodes))
	for code, c := range apiCodes {
		if c.domain != "" {
			m[c.domain] = code
		}
	}
	return m
}()

// GetHTTPStatus returns the HTTP status for an API code. Field validation
// codes are 400; anything unknown is 500.
func GetHTTPStatus(code string) int {
	if c, ok := apiCodes[code]; ok {
		return c.status
	}
	if strings.HasPrefix(code, validationPrefix) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// NormalizeErrorCode turns a domain error code into an API code. Lead field
// errors such as INVALID_STATUS become ERR_VALIDATION_STATUS; API codes and
// unknown codes pass through.
func NormalizeErrorCode(code string) string {
	if api, ok := fromDomain[code]; ok {
		return api
	}
	if field, ok := strings.CutPrefix(code, "INVALID_"); ok && field != "" {
		return validationPrefix + field
	}
	return code
}
