package service

import "errors"

// Error classes. Handlers map these to HTTP statuses with errors.Is; every
// specific error below wraps exactly one of them.
var (
	ErrValidation         = errors.New("validation failed")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrNotEligible        = errors.New("not eligible")
	ErrConflict           = errors.New("conflict")
	ErrDownstreamDegraded = errors.New("downstream degraded")
)

// classError carries a client-facing message and unwraps to its class.
type classError struct {
	class error
	msg   string
}

func (e *classError) Error() string { return e.msg }
func (e *classError) Unwrap() error { return e.class }

func newError(class error, msg string) error {
	return &classError{class: class, msg: msg}
}

// Validation
var (
	ErrEmptyItems           = newError(ErrValidation, "items are required")
	ErrInvalidQuantity      = newError(ErrValidation, "quantity must be > 0")
	ErrInvalidMenuItemID    = newError(ErrValidation, "invalid menu_item_id")
	ErrInvalidUnitPrice     = newError(ErrValidation, "unit_price must be a decimal >= 0 with at most 2 places")
	ErrInvalidPaymentMethod = newError(ErrValidation, "invalid payment method")
	ErrInvalidTicketStatus  = newError(ErrValidation, "invalid ticket status")
	ErrInvalidStockDelta    = newError(ErrValidation, "delta must be a non-zero decimal")
	ErrInvalidStockReason   = newError(ErrValidation, "invalid stock adjustment reason")
)

// Authorization
var (
	ErrRoleNotAllowed = newError(ErrForbidden, "forbidden")
	ErrGatewayOnly    = newError(ErrForbidden, "forbidden")
)

// Not found
var (
	ErrOrderNotFound      = newError(ErrNotFound, "order not found")
	ErrMenuItemNotFound   = newError(ErrNotFound, "menu item not found")
	ErrTicketNotFound     = newError(ErrNotFound, "kitchen ticket not found")
	ErrIngredientNotFound = newError(ErrNotFound, "ingredient not found")
)

// Eligibility
var (
	ErrMenuItemUnavailable     = newError(ErrNotEligible, "menu item unavailable")
	ErrKDSNotConfigured        = newError(ErrNotEligible, "kitchen routing is not configured for this venue")
	ErrNotCompletable          = newError(ErrNotEligible, "order not eligible for completion")
	ErrNotServed               = newError(ErrNotEligible, "order must be served before completion")
	ErrKitchenNotDone          = newError(ErrNotEligible, "kitchen tickets are still open")
	ErrAlreadyPaid             = newError(ErrNotEligible, "order is already paid")
	ErrPayLaterNotAllowed      = newError(ErrNotEligible, "pay later is not available for this order")
	ErrOrderCancelled          = newError(ErrNotEligible, "order is cancelled")
	ErrNotCancellable          = newError(ErrNotEligible, "order can no longer be cancelled")
	ErrInvalidTransition       = newError(ErrNotEligible, "invalid order status transition")
	ErrInvalidTicketTransition = newError(ErrNotEligible, "invalid ticket status transition")
)

// Concurrency
var (
	ErrStatusChanged = newError(ErrConflict, "order status changed, please retry")
	ErrTicketChanged = newError(ErrConflict, "ticket status changed, please retry")
	ErrStationExists = newError(ErrConflict, "a station with this name, or a default station, already exists")
)
