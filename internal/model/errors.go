package model

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrCapacityExceeded  = errors.New("slot capacity exceeded")
	ErrStaleSlot         = errors.New("slot is not produced by any active pattern")
	ErrInvalidTransition = errors.New("invalid booking status transition")
	ErrForbidden         = errors.New("forbidden")
)

// FieldError ошибка валидации одного поля
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func NewFieldError(field, reason string) *FieldError {
	return &FieldError{Field: field, Reason: reason}
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsValidation сообщает, содержит ли цепочка ошибок хотя бы одну FieldError
func IsValidation(err error) bool {
	return len(FieldErrors(err)) > 0
}

// FieldErrors собирает все FieldError из err, включая объединённые через multierr
// и обёрнутые через fmt.Errorf
func FieldErrors(err error) []*FieldError {
	var out []*FieldError
	collectFieldErrors(err, &out)
	return out
}

func collectFieldErrors(err error, out *[]*FieldError) {
	if err == nil {
		return
	}
	if fe, ok := err.(*FieldError); ok {
		*out = append(*out, fe)
		return
	}
	switch x := err.(type) {
	case interface{ Unwrap() []error }:
		for _, e := range x.Unwrap() {
			collectFieldErrors(e, out)
		}
	case interface{ Unwrap() error }:
		collectFieldErrors(x.Unwrap(), out)
	}
}

// Validation объединяет ошибки полей в одну; nil, если ошибок нет
func Validation(errs ...*FieldError) error {
	var err error
	for _, fe := range errs {
		if fe != nil {
			err = multierr.Append(err, fe)
		}
	}
	return err
}
