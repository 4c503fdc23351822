package models

import "errors"

// ErrorKind classifies a booking flow failure. Each kind carries its own
// recovery semantics; see the constructors below for where each is raised.
type ErrorKind string

const (
	ErrKindValidation   ErrorKind = "validation"   // Bad/missing dates, local only
	ErrKindAvailability ErrorKind = "availability" // Probe failed or dates unavailable
	ErrKindHold         ErrorKind = "hold"         // Hold acquisition failed
	ErrKindAttach       ErrorKind = "attach"       // Cart attachment failed, hold retained
	ErrKindExpiry       ErrorKind = "expiry"       // Hold countdown elapsed
	ErrKindConfig       ErrorKind = "config"       // No locations available, fatal
)

// genericMessages are the per-kind fallbacks used when the backend did not
// report a reason of its own.
var genericMessages = map[ErrorKind]string{
	ErrKindValidation:   "Please select valid rental dates.",
	ErrKindAvailability: "Could not check availability. Please try again.",
	ErrKindHold:         "Could not reserve these dates. Please try again.",
	ErrKindAttach:       "Could not add the reservation to your cart. Please try again.",
	ErrKindExpiry:       "Your reservation hold has expired. Please try again.",
	ErrKindConfig:       "This product is not currently available for booking.",
}

// BookingError is a classified booking flow failure. Message holds the
// backend-reported reason verbatim when one was present; Display falls back
// to the generic per-kind message otherwise.
type BookingError struct {
	Kind    ErrorKind
	Message string
	Err     error // underlying cause, if any
}

func (e *BookingError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return genericMessages[e.Kind]
}

func (e *BookingError) Unwrap() error {
	return e.Err
}

// Display returns the shopper-facing text for this error
func (e *BookingError) Display() string {
	return e.Error()
}

// NewValidationError creates a local date validation error
func NewValidationError(message string) *BookingError {
	return &BookingError{Kind: ErrKindValidation, Message: message}
}

// NewAvailabilityError creates an availability probe error
func NewAvailabilityError(message string, cause error) *BookingError {
	return &BookingError{Kind: ErrKindAvailability, Message: message, Err: cause}
}

// NewHoldError creates a hold acquisition error
func NewHoldError(message string, cause error) *BookingError {
	return &BookingError{Kind: ErrKindHold, Message: message, Err: cause}
}

// NewAttachError creates a cart attachment error
func NewAttachError(message string, cause error) *BookingError {
	return &BookingError{Kind: ErrKindAttach, Message: message, Err: cause}
}

// NewExpiryError creates a hold expiry error
func NewExpiryError() *BookingError {
	return &BookingError{Kind: ErrKindExpiry}
}

// NewConfigError creates a fatal widget configuration error
func NewConfigError(message string) *BookingError {
	return &BookingError{Kind: ErrKindConfig, Message: message}
}

// KindOf returns the classification of err, or an empty kind for errors that
// did not originate in the booking flow
func KindOf(err error) ErrorKind {
	var be *BookingError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// DisplayOf returns the shopper-facing text for err, falling back to the
// generic availability message for unclassified errors
func DisplayOf(err error) string {
	var be *BookingError
	if errors.As(err, &be) {
		return be.Display()
	}
	return genericMessages[ErrKindAvailability]
}
