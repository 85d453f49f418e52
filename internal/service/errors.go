package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNoValidProducts         = errors.New("order must include valid products")
	ErrInvalidVariant          = errors.New("missing or invalid variant selection")
	ErrQuantityOutOfRange      = errors.New("quantity is out of range")
	ErrOrderNotFound           = errors.New("order not found")
	ErrOrderAccessDenied       = errors.New("access denied")
	ErrTemplateNotFound        = errors.New("template not found")
	ErrPurchaseNotFound        = errors.New("purchase not found")
	ErrPurchaseNotDownloadable = errors.New("purchase is not paid")
	ErrPurchaseNotPending      = errors.New("purchase is no longer awaiting payment")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationError reports malformed or incomplete input. It is always raised
// before any mutation.
type ValidationError struct {
	Details []FieldError
	cause   error
}

func NewValidationError(cause error, details ...FieldError) *ValidationError {
	return &ValidationError{Details: details, cause: cause}
}

func (e *ValidationError) Error() string {
	if e.cause != nil {
		return e.cause.Error()
	}
	msgs := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		msgs = append(msgs, d.Path+": "+d.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return e.cause }

// NotFoundError reports a referenced product or variant that no longer exists.
type NotFoundError struct {
	Resource string
	ID       uuid.UUID
	Name     string
}

func (e *NotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %q not found", e.Resource, e.Name)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// InsufficientStockError is raised when the conditional decrement of a
// variant finds fewer units than requested. The message is shown to buyers.
type InsufficientStockError struct {
	ProductID   uuid.UUID
	ProductName string
	VariantID   uuid.UUID
	Size        string
	Color       string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	var variant []string
	if e.Size != "" {
		variant = append(variant, "size "+e.Size)
	}
	if e.Color != "" {
		variant = append(variant, "color "+e.Color)
	}
	label := fmt.Sprintf("%q", e.ProductName)
	if len(variant) > 0 {
		label += " (" + strings.Join(variant, ", ") + ")"
	}
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", label, e.Available, e.Requested)
}

// AuthorizationError reports a caller acting on a resource they do not own.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string { return "forbidden: " + e.Reason }
