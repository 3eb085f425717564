// Package errors defines the error taxonomy shared by the service and
// handler layers. Handlers map these onto HTTP status codes.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	ErrRateLimited = errors.New("rate limited")
	ErrInternal    = errors.New("internal error")
)

func NewValidation(format string, a ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrValidation, a)...)
}

func NewNotFound(format string, a ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrNotFound, a)...)
}

func NewForbidden(format string, a ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrForbidden, a)...)
}

func NewInternal(format string, a ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrInternal, a)...)
}

func prepend(err error, a []interface{}) []interface{} {
	return append([]interface{}{err}, a...)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func IsInternal(err error) bool {
	return err != nil && !IsValidation(err) && !IsNotFound(err) && !IsForbidden(err) && !IsRateLimited(err)
}
