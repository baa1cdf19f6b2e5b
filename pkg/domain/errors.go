package domain

import (
	"errors"
	"fmt"
)

// ErrorKind identifies a rejected ledger precondition. Callers branch on the
// kind, never on message text.
type ErrorKind string

const (
	KindMissingParams       ErrorKind = "MissingParams"
	KindAmountLessThanZero  ErrorKind = "AmountLessThanZero"
	KindWrongExpirationDate ErrorKind = "WrongExpirationDate"
	KindWrongFormat         ErrorKind = "WrongFormat"

	KindRequestNotFound ErrorKind = "RequestNotFound"
	KindFileNotFound    ErrorKind = "FileNotFound"

	KindRequestClosed      ErrorKind = "RequestClosed"
	KindRequestNotClosed   ErrorKind = "RequestNotClosed"
	KindAlreadyHaveAWinner ErrorKind = "AlreadyHaveAWinner"
	KindAlreadyWithdraw    ErrorKind = "AlreadyWithdraw"
	KindHaveToChooseWinner ErrorKind = "HaveToChooseWinner"
	KindNoParticipants     ErrorKind = "NoParticipants"

	KindYouAreNotTheAuthor  ErrorKind = "YouAreNotTheAuthor"
	KindYouCantParticipate  ErrorKind = "YouCantParticipate"
	KindAlreadyParticipated ErrorKind = "AlreadyParticipated"

	KindInsufficientFunds ErrorKind = "InsufficientFunds"
)

type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryStateMismatch ErrorCategory = "state_mismatch"
	CategoryAuthorization ErrorCategory = "authorization"
	CategoryCustody       ErrorCategory = "custody"
)

func (k ErrorKind) Category() ErrorCategory {
	switch k {
	case KindMissingParams, KindAmountLessThanZero, KindWrongExpirationDate, KindWrongFormat:
		return CategoryValidation
	case KindRequestNotFound, KindFileNotFound:
		return CategoryNotFound
	case KindRequestClosed, KindRequestNotClosed, KindAlreadyHaveAWinner, KindAlreadyWithdraw, KindHaveToChooseWinner, KindNoParticipants:
		return CategoryStateMismatch
	case KindYouAreNotTheAuthor, KindYouCantParticipate, KindAlreadyParticipated:
		return CategoryAuthorization
	case KindInsufficientFunds:
		return CategoryCustody
	}
	return ""
}

func (k ErrorKind) MarshalText() ([]byte, error) { return []byte(string(k)), nil }

// Error is a rejected ledger operation.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Detail
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrRequestClosed)
// holds regardless of detail.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

var (
	ErrMissingParams       = &Error{Kind: KindMissingParams}
	ErrAmountLessThanZero  = &Error{Kind: KindAmountLessThanZero}
	ErrWrongExpirationDate = &Error{Kind: KindWrongExpirationDate}
	ErrWrongFormat         = &Error{Kind: KindWrongFormat}
	ErrRequestNotFound     = &Error{Kind: KindRequestNotFound}
	ErrFileNotFound        = &Error{Kind: KindFileNotFound}
	ErrRequestClosed       = &Error{Kind: KindRequestClosed}
	ErrRequestNotClosed    = &Error{Kind: KindRequestNotClosed}
	ErrAlreadyHaveAWinner  = &Error{Kind: KindAlreadyHaveAWinner}
	ErrAlreadyWithdraw     = &Error{Kind: KindAlreadyWithdraw}
	ErrHaveToChooseWinner  = &Error{Kind: KindHaveToChooseWinner}
	ErrNoParticipants      = &Error{Kind: KindNoParticipants}
	ErrYouAreNotTheAuthor  = &Error{Kind: KindYouAreNotTheAuthor}
	ErrYouCantParticipate  = &Error{Kind: KindYouCantParticipate}
	ErrAlreadyParticipated = &Error{Kind: KindAlreadyParticipated}
	ErrInsufficientFunds   = &Error{Kind: KindInsufficientFunds}
)
