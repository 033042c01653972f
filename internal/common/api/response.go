// Package api provides the shared HTTP response envelope and request
// validation helpers used by every resource handler in the sandbox.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Response is the standard API response envelope
type Response[T any] struct {
	Data  T      `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Error represents an API error
type Error struct {
	Code    string            `json:"error"`
	Message string            `json:"message"`
	Hint    string            `json:"hint,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// ResourceResponse is the envelope for a single protected-resource read,
// per the external-interfaces response shape: data + links + meta.
type ResourceResponse[T any] struct {
	Data  T     `json:"data"`
	Links Links `json:"links"`
	Meta  *Meta `json:"meta,omitempty"`
}

// Links carries the self/next/prev navigation URLs for a resource response.
type Links struct {
	Self string `json:"self"`
	Next string `json:"next,omitempty"`
	Prev string `json:"prev,omitempty"`
}

// Meta carries pagination metadata for a resource response.
type Meta struct {
	TotalPages   int   `json:"totalPages,omitempty"`
	TotalRecords int64 `json:"totalRecords,omitempty"`
	CurrentPage  int   `json:"currentPage,omitempty"`
	PageSize     int   `json:"pageSize,omitempty"`
}

// PaginatedResponse is the legacy offset/limit envelope written by
// WritePaginated; no handler in this module currently uses it.
type PaginatedResponse[T any] struct {
	Data       []T         `json:"data"`
	Pagination *Pagination `json:"pagination"`
	Error      *Error      `json:"error,omitempty"`
}

// Pagination holds pagination info
type Pagination struct {
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
	Total      int64  `json:"total"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Stable error codes from the external-interfaces error envelope.
const (
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeServiceUnavail      = "SERVICE_UNAVAILABLE"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInsufficientFunds   = "INSUFFICIENT_FUNDS"
	ErrCodeConsentRequired     = "CONSENT_REQUIRED"
	ErrCodeInvalidConsent      = "INVALID_CONSENT"
	ErrCodeConsentMismatch     = "CONSENT_MISMATCH"
	ErrCodeSourceNotFound      = "SOURCE_NOT_FOUND"
	ErrCodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	ErrCodeClientNotFound      = "CLIENT_NOT_FOUND"
	ErrCodeInvalidScope        = "INVALID_SCOPE"
	ErrCodeInvalidTransition   = "INVALID_STATUS_TRANSITION"
	ErrCodeAmountOutOfRange    = "AMOUNT_OUT_OF_RANGE"
	ErrCodeInsufficientCapital = "INSUFFICIENT_CAPITAL"
	ErrCodeRepaymentRequired   = "REPAYMENT_REQUIRED"
)

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteData writes a successful data response
func WriteData[T any](w http.ResponseWriter, status int, data T) {
	WriteJSON(w, status, Response[T]{Data: data})
}

// WriteResource writes a successful single-resource response with links/meta.
func WriteResource[T any](w http.ResponseWriter, status int, data T, links Links, meta *Meta) {
	WriteJSON(w, status, ResourceResponse[T]{Data: data, Links: links, Meta: meta})
}

// WriteError writes an error response
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, Response[any]{
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}

// WriteErrorWithHint writes an error response carrying a hint, used for
// CONSENT_REQUIRED responses that name the missing permissions.
func WriteErrorWithHint(w http.ResponseWriter, status int, code, message, hint string) {
	WriteJSON(w, status, Response[any]{
		Error: &Error{
			Code:    code,
			Message: message,
			Hint:    hint,
		},
	})
}

// WriteErrorWithDetails writes an error response with details
func WriteErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	WriteJSON(w, status, Response[any]{
		Error: &Error{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// WritePaginated writes a paginated response
func WritePaginated[T any](w http.ResponseWriter, data []T, pagination *Pagination) {
	WriteJSON(w, http.StatusOK, PaginatedResponse[T]{
		Data:       data,
		Pagination: pagination,
	})
}

// BadRequest writes a 400 response
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized writes a 401 response
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden writes a 403 response
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// ConsentRequired writes a 403 CONSENT_REQUIRED response with a hint
// naming the consent kind and permissions the caller should request.
func ConsentRequired(w http.ResponseWriter, hint string) {
	WriteErrorWithHint(w, http.StatusForbidden, ErrCodeConsentRequired, "a consent authorizing this access is required", hint)
}

// NotFound writes a 404 response
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// Conflict writes a 409 response
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, ErrCodeConflict, message)
}

// InternalError writes a 500 response
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// ValidationError writes a 422 response with validation details
func ValidationError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make(map[string]string)
		for _, e := range validationErrors {
			details[e.Field()] = formatValidationError(e)
		}
		WriteErrorWithDetails(w, http.StatusUnprocessableEntity, ErrCodeValidation, "Validation failed", details)
		return
	}
	WriteError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Must be a valid email address"
	case "min":
		return "Must be at least " + e.Param()
	case "max":
		return "Must be at most " + e.Param()
	case "len":
		return "Must be exactly " + e.Param() + " characters"
	case "uuid":
		return "Must be a valid UUID"
	case "ulid":
		return "Must be a valid ULID"
	case "oneof":
		return "Must be one of: " + e.Param()
	case "gte":
		return "Must be greater than or equal to " + e.Param()
	case "lte":
		return "Must be less than or equal to " + e.Param()
	case "gt":
		return "Must be greater than " + e.Param()
	case "lt":
		return "Must be less than " + e.Param()
	default:
		return "Invalid value"
	}
}

// Validate is a shared validator instance
var Validate = validator.New()

// DecodeAndValidate decodes JSON and validates the result
func DecodeAndValidate(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return Validate.Struct(v)
}

// PaginationParams extracts pagination parameters from query string
type PaginationParams struct {
	Limit  int
	Offset int
	Cursor string
}

// GetPaginationParams extracts offset/limit pagination from a request.
func GetPaginationParams(r *http.Request, defaultLimit, maxLimit int) PaginationParams {
	params := PaginationParams{
		Limit:  defaultLimit,
		Offset: 0,
		Cursor: r.URL.Query().Get("cursor"),
	}

	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit <= maxLimit {
		params.Limit = limit
	}

	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && offset >= 0 {
		params.Offset = offset
	}

	return params
}

// PageParams is page/limit pagination per the transaction-history
// boundary behavior: limit=0 coerces to defaultLimit, limit>maxLimit
// caps at maxLimit, page<1 coerces to 1.
type PageParams struct {
	Page  int
	Limit int
}

// GetPageParams extracts page/limit pagination from a request query string.
func GetPageParams(r *http.Request, defaultLimit, maxLimit int) PageParams {
	page := 1
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p >= 1 {
		page = p
	}

	limit := defaultLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	return PageParams{Page: page, Limit: limit}
}

// Offset returns the zero-based row offset for this page.
func (p PageParams) Offset() int {
	return (p.Page - 1) * p.Limit
}
