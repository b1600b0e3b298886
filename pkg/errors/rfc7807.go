// Package errors renders API failures as RFC 7807 problem details.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// ContentType is the media type of every problem response.
const ContentType = "application/problem+json"

// Problem type URIs
const (
	TypeValidationError     = "https://barterex.dev/problems/validation-error"
	TypeInvalidOrder        = "https://barterex.dev/problems/invalid-order"
	TypeInsufficientFunds   = "https://barterex.dev/problems/insufficient-funds"
	TypeConcurrencyConflict = "https://barterex.dev/problems/concurrency-conflict"
	TypeStorageUnavailable  = "https://barterex.dev/problems/storage-unavailable"
	TypeNotFound            = "https://barterex.dev/problems/not-found"
	TypeInternalError       = "https://barterex.dev/problems/internal-error"
)

const (
	TitleValidationError     = "Validation Error"
	TitleInvalidOrder        = "Invalid Order"
	TitleInsufficientFunds   = "Insufficient Funds"
	TitleConcurrencyConflict = "Concurrency Conflict"
	TitleStorageUnavailable  = "Storage Unavailable"
	TitleNotFound            = "Not Found"
	TitleInternalError       = "Internal Server Error"
)

// ValidationError describes one rejected request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	TraceID  string            `json:"trace_id,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Extra    map[string]any    `json:"-"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return fmt.Sprintf("[%d] %s: %s", p.Status, p.Title, p.Detail)
}

// WithTraceID adds a trace ID to the problem details
func (p *ProblemDetails) WithTraceID(traceID string) *ProblemDetails {
	p.TraceID = traceID
	return p
}

// WithValidationErrors adds validation errors to the problem details
func (p *ProblemDetails) WithValidationErrors(errs []ValidationError) *ProblemDetails {
	p.Errors = errs
	return p
}

// WithExtra adds a member serialized at the top level.
func (p *ProblemDetails) WithExtra(key string, value any) *ProblemDetails {
	if p.Extra == nil {
		p.Extra = make(map[string]any)
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON flattens Extra into the top-level object.
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	result := map[string]any{
		"type":   p.Type,
		"title":  p.Title,
		"status": p.Status,
	}
	if p.Detail != "" {
		result["detail"] = p.Detail
	}
	if p.Instance != "" {
		result["instance"] = p.Instance
	}
	if p.TraceID != "" {
		result["trace_id"] = p.TraceID
	}
	if len(p.Errors) > 0 {
		result["errors"] = p.Errors
	}
	for k, v := range p.Extra {
		result[k] = v
	}
	return json.Marshal(result)
}

// NewProblemDetails creates a problem of the given type.
func NewProblemDetails(problemType, title string, status int, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     problemType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

// NewValidationError creates a validation error problem
func NewValidationError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeValidationError, TitleValidationError, http.StatusBadRequest, detail, instance)
}

// NewInvalidOrderError creates an invalid order problem
func NewInvalidOrderError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInvalidOrder, TitleInvalidOrder, http.StatusBadRequest, detail, instance)
}

// NewInsufficientFundsError reports the quantity that was available.
func NewInsufficientFundsError(detail, instance string, available int64) *ProblemDetails {
	return NewProblemDetails(TypeInsufficientFunds, TitleInsufficientFunds, http.StatusBadRequest, detail, instance).
		WithExtra("meta", map[string]int64{"available": available})
}

// NewConflictError creates a retryable concurrency conflict problem
func NewConflictError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeConcurrencyConflict, TitleConcurrencyConflict, http.StatusConflict, detail, instance).
		WithExtra("retryable", true)
}

// NewServiceUnavailableError creates a retryable storage failure problem
func NewServiceUnavailableError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeStorageUnavailable, TitleStorageUnavailable, http.StatusServiceUnavailable, detail, instance).
		WithExtra("retryable", true)
}

// NewNotFoundError creates a not found problem
func NewNotFoundError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeNotFound, TitleNotFound, http.StatusNotFound, detail, instance)
}

// NewInternalError creates an internal server error problem
func NewInternalError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInternalError, TitleInternalError, http.StatusInternalServerError, detail, instance)
}

// FieldErrors converts validator failures into problem field errors. Any
// other error yields nil.
func FieldErrors(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("failed %s", fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		out = append(out, ValidationError{Field: fe.Field(), Message: msg, Code: fe.Tag()})
	}
	return out
}

// Write aborts the request with p.
func Write(c *gin.Context, p *ProblemDetails) {
	if p.Instance == "" {
		p.Instance = c.Request.URL.Path
	}
	body, err := json.Marshal(p)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Abort()
	c.Data(p.Status, ContentType, body)
}
