// Package service holds the use cases behind the HTTP API.
package service

import (
	"errors"
	"fmt"

	"github.com/labcompare/push-scheduler/internal/model"
)

var (
	// ErrValidation marks request problems the caller can fix.
	ErrValidation = errors.New("invalid request")
	// ErrDuplicate is returned when an idempotency key was already used.
	ErrDuplicate = errors.New("duplicate request")
	// ErrNoRecipients is returned by an immediate send that reached nobody.
	ErrNoRecipients = errors.New(model.ReasonNoRecipients)
)

func invalid(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
