package models

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrForbidden        = errors.New("forbidden")
	ErrUserNotFound     = errors.New("user not found")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrGroupNotFound    = errors.New("group not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrGroupArchived    = errors.New("group is archived")

	// ErrAlreadyWelcomed is returned when another caller won the welcome claim
	ErrAlreadyWelcomed = errors.New("group already welcomed")
)

// IsNotFound reports whether err is one of the not-found sentinels
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrProfileNotFound) ||
		errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrMessageNotFound) ||
		errors.Is(err, ErrQuestionNotFound)
}
