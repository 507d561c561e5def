package domain

import "errors"

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrContactNotFound  = errors.New("contact not found")
	ErrEventNotFound    = errors.New("event not found")
	ErrCommentNotFound  = errors.New("comment not found")
	ErrReminderNotFound = errors.New("reminder not found")
	ErrTaskNotFound     = errors.New("task not found")

	ErrDuplicatePhone = errors.New("phone already registered")
	ErrOverlap        = errors.New("time slot already taken")
	ErrPastInstant    = errors.New("instant is in the past")
	ErrAmbiguousMatch = errors.New("several items match")
	ErrNoMatch        = errors.New("no item matches")
	ErrInvalidInput   = errors.New("invalid input")

	ErrInvalidPIN = errors.New("wrong pin")
	ErrLockedOut  = errors.New("too many failed attempts")
)

// Kind buckets an error for reply selection and logging.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindAuth       Kind = "auth"
	KindExternal   Kind = "external"
	KindInternal   Kind = "internal"
)

// KindOf maps an error to its bucket. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrContactNotFound),
		errors.Is(err, ErrEventNotFound),
		errors.Is(err, ErrCommentNotFound),
		errors.Is(err, ErrReminderNotFound),
		errors.Is(err, ErrTaskNotFound),
		errors.Is(err, ErrNoMatch):
		return KindNotFound
	case errors.Is(err, ErrPastInstant), errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrDuplicatePhone), errors.Is(err, ErrOverlap), errors.Is(err, ErrAmbiguousMatch):
		return KindConflict
	case errors.Is(err, ErrInvalidPIN), errors.Is(err, ErrLockedOut):
		return KindAuth
	default:
		return KindInternal
	}
}
