package escrow

import (
	"errors"
	"fmt"
)

// Class groups error codes by how a caller should react.
type Class string

const (
	ClassValidation    Class = "ValidationError"
	ClassAuthorization Class = "AuthorizationError"
	ClassTemporal      Class = "TemporalError"
	ClassState         Class = "StateError"
	ClassIntegrity     Class = "IntegrityError"
	ClassResource      Class = "ResourceError"
)

// Code is a stable machine-readable failure reason.
type Code string

const (
	CodeInvalidAuctionWindow Code = "InvalidAuctionWindow"
	CodeArithmeticOverflow   Code = "ArithmeticOverflow"
	CodeInvalidTimelocks     Code = "InvalidTimelocks"
	CodeInvalidTerms         Code = "InvalidTerms"
	CodeInvalidAmount        Code = "InvalidAmount"
	CodeThresholdExceeded    Code = "ThresholdExceeded"
	CodeInvalidCreationTime  Code = "InvalidCreationTime"
	CodeUnauthorized         Code = "Unauthorized"
	CodeTooEarly             Code = "TooEarly"
	CodeTooLate              Code = "TooLate"
	CodeOrderExpired         Code = "OrderExpired"
	CodeNotActive            Code = "NotActive"
	CodeAlreadyExists        Code = "AlreadyExists"
	CodeNotFound             Code = "NotFound"
	CodeInvalidSecret        Code = "InvalidSecret"
	CodeInsufficientBalance  Code = "InsufficientBalance"
)

// Error is a coded engine failure. Two Errors match under errors.Is when their codes match.
type Error struct {
	Code   Code
	Class  Class
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Detail
}

// Is matches on Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) with(format string, args ...interface{}) *Error {
	return &Error{Code: e.Code, Class: e.Class, Detail: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is.
var (
	ErrInvalidAuctionWindow = &Error{Code: CodeInvalidAuctionWindow, Class: ClassValidation}
	ErrArithmeticOverflow   = &Error{Code: CodeArithmeticOverflow, Class: ClassValidation}
	ErrInvalidTimelocks     = &Error{Code: CodeInvalidTimelocks, Class: ClassValidation}
	ErrInvalidTerms         = &Error{Code: CodeInvalidTerms, Class: ClassValidation}
	ErrInvalidAmount        = &Error{Code: CodeInvalidAmount, Class: ClassValidation}
	ErrThresholdExceeded    = &Error{Code: CodeThresholdExceeded, Class: ClassValidation}
	ErrInvalidCreationTime  = &Error{Code: CodeInvalidCreationTime, Class: ClassValidation}
	ErrUnauthorized         = &Error{Code: CodeUnauthorized, Class: ClassAuthorization}
	ErrTooEarly             = &Error{Code: CodeTooEarly, Class: ClassTemporal}
	ErrTooLate              = &Error{Code: CodeTooLate, Class: ClassTemporal}
	ErrOrderExpired         = &Error{Code: CodeOrderExpired, Class: ClassTemporal}
	ErrNotActive            = &Error{Code: CodeNotActive, Class: ClassState}
	ErrAlreadyExists        = &Error{Code: CodeAlreadyExists, Class: ClassState}
	ErrNotFound             = &Error{Code: CodeNotFound, Class: ClassState}
	ErrInvalidSecret        = &Error{Code: CodeInvalidSecret, Class: ClassIntegrity}
	ErrInsufficientBalance  = &Error{Code: CodeInsufficientBalance, Class: ClassResource}
)

// CodeOf returns the code of a coded error, or "" for infrastructure failures.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ClassOf returns the class of a coded error, or "".
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}
