// Package apperror provides structured error handling following RFC 7807 Problem Details.
// Every failure returned by the ledger, FIFO engine and reconciliation workflow is an AppError.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes. Values are stable: callers switch on them.
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"
	CodeTimeout  = "TIMEOUT_ERROR"

	// Validation errors (400)
	CodeValidation      = "VALIDATION_ERROR"
	CodeInvalidQuantity = "INVALID_QUANTITY"

	// Policy errors
	CodeInvalidCombination      = "INVALID_MOVEMENT_COMBINATION"
	CodeRoleNotAuthorized       = "ROLE_NOT_AUTHORIZED"
	CodeRoleNotAllowed          = "ROLE_NOT_ALLOWED"
	CodeAdminOnly               = "ADMIN_ONLY"
	CodeSelfValidationForbidden = "SELF_VALIDATION_FORBIDDEN"
	CodeSameValidatorForbidden  = "SAME_VALIDATOR_FORBIDDEN"

	// State errors (422)
	CodeInsufficientStock     = "INSUFFICIENT_STOCK"
	CodeInsufficientStockFIFO = "INSUFFICIENT_STOCK_FIFO"
	CodeInvalidStatus         = "INVALID_STATUS"
	CodeInventoryCooldown     = "INVENTORY_COOLDOWN"
	CodeEvidenceRequired      = "EVIDENCE_REQUIRED"
	CodeLotNotAvailable       = "LOT_NOT_AVAILABLE"
	CodeProductHasStock       = "PRODUCT_HAS_STOCK"

	// Concurrency errors (409)
	CodeConcurrentLotMutation  = "CONCURRENT_LOT_MUTATION"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"

	// Not found (404)
	CodeNotFound            = "NOT_FOUND"
	CodeDeclarationNotFound = "DECLARATION_NOT_FOUND"

	// Conflict (409)
	CodeDuplicate   = "DUPLICATE_ENTRY"
	CodeIdempotency = "IDEMPOTENCY_CONFLICT"
)

// Reasons carried in the "reason" detail of CodeConcurrentLotMutation.
const (
	ReasonLotNoLongerAvailable = "LOT_NO_LONGER_AVAILABLE"
	ReasonLotQuantityChanged   = "LOT_QUANTITY_CHANGED"
)

// AppError is the standard error type for the platform.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (quantities, statuses, offending actor)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Validation ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidQuantity is returned for zero or negative quantities.
func NewInvalidQuantity(quantity int64) *AppError {
	return &AppError{
		Code:       CodeInvalidQuantity,
		Message:    "Quantity must be strictly positive",
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]any{"quantity": quantity},
	}
}

// --- Policy ---

// NewInvalidCombination reports a (product class, origin, direction) triple the policy table forbids.
func NewInvalidCombination(productClass, origin, direction string) *AppError {
	return &AppError{
		Code:       CodeInvalidCombination,
		Message:    fmt.Sprintf("Movement %s %s is not allowed for product class %s", origin, direction, productClass),
		HTTPStatus: http.StatusBadRequest,
		Details: map[string]any{
			"product_class": productClass,
			"origin":        origin,
			"direction":     direction,
		},
	}
}

// NewRoleNotAuthorized reports an actor role that may not originate a movement cause.
func NewRoleNotAuthorized(origin, role string, allowed []string) *AppError {
	return &AppError{
		Code:       CodeRoleNotAuthorized,
		Message:    fmt.Sprintf("Role %s may not create %s movements", role, origin),
		HTTPStatus: http.StatusForbidden,
		Details:    map[string]any{"origin": origin, "role": role, "allowed_roles": allowed},
	}
}

// NewRoleNotAllowed reports a role outside the set allowed to count inventory.
func NewRoleNotAllowed(role string, allowed []string) *AppError {
	return &AppError{
		Code:       CodeRoleNotAllowed,
		Message:    "Role is not allowed to declare an inventory count",
		HTTPStatus: http.StatusForbidden,
		Details:    map[string]any{"role": role, "allowed_roles": allowed},
	}
}

// NewAdminOnly is returned when an operation requires the ADMIN role.
func NewAdminOnly(operation string) *AppError {
	return &AppError{
		Code:       CodeAdminOnly,
		Message:    fmt.Sprintf("Only an ADMIN may %s", operation),
		HTTPStatus: http.StatusForbidden,
	}
}

// NewForbidden creates a generic authorization error (403) with a specific code.
func NewForbidden(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// --- State ---

// NewBusinessRule creates a business rule violation error (422)
func NewBusinessRule(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewInsufficientStock creates a stock shortage error
func NewInsufficientStock(productID string, requested, available int64) *AppError {
	return &AppError{
		Code:       CodeInsufficientStock,
		Message:    "Insufficient stock",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"product_id": productID,
			"requested":  requested,
			"available":  available,
		},
	}
}

// NewInsufficientStockFIFO is returned when the eligible lots cannot cover a FIFO requirement.
func NewInsufficientStockFIFO(productID string, required, available int64) *AppError {
	return &AppError{
		Code:       CodeInsufficientStockFIFO,
		Message:    fmt.Sprintf("Insufficient lot stock: required %d, available %d", required, available),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"product_id": productID,
			"required":   required,
			"available":  available,
		},
	}
}

// NewInvalidStatus reports a state machine transition that is not allowed from the current status.
func NewInvalidStatus(entity, current string) *AppError {
	return &AppError{
		Code:       CodeInvalidStatus,
		Message:    fmt.Sprintf("Invalid %s status for this operation: %s", entity, current),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"entity": entity, "current_status": current},
	}
}

// --- Concurrency ---

// NewConcurrentLotMutation reports that a locked lot changed between planning and applying.
func NewConcurrentLotMutation(lotID any, reason string) *AppError {
	return &AppError{
		Code:       CodeConcurrentLotMutation,
		Message:    "Lot was modified concurrently. Please retry.",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"lot_id": lotID, "reason": reason},
	}
}

// NewConcurrentModification is returned when the store aborts a transaction to keep it serializable.
func NewConcurrentModification(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    "Record was modified by another transaction. Please retry.",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewTimeout wraps a transaction that exceeded its time budget.
func NewTimeout(err error) *AppError {
	return &AppError{
		Code:       CodeTimeout,
		Message:    "Operation timed out",
		HTTPStatus: http.StatusGatewayTimeout,
		Err:        err,
	}
}

// --- Lookup / conflicts ---

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewDeclarationNotFound is returned for an unknown inventory declaration.
func NewDeclarationNotFound(id any) *AppError {
	return &AppError{
		Code:       CodeDeclarationNotFound,
		Message:    "Inventory declaration not found",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"id": id},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewIdempotencyMismatch is returned when the same idempotency key is reused for
// a different request (different operation or arguments).
func NewIdempotencyMismatch(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotency,
		Message:    "Idempotency key was already used for a different request",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// NewDuplicate creates a duplicate entry error (409)
func NewDuplicate(entity, constraint string) *AppError {
	return &AppError{
		Code:       CodeDuplicate,
		Message:    fmt.Sprintf("%s already exists", entity),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "constraint": constraint},
	}
}

// --- Helper functions ---

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound) || HasCode(err, CodeDeclarationNotFound)
}

// IsRetryable reports failures a caller may retry as-is (ideally with the same idempotency key).
func IsRetryable(err error) bool {
	return HasCode(err, CodeConcurrentModification) ||
		HasCode(err, CodeConcurrentLotMutation) ||
		HasCode(err, CodeTimeout)
}
