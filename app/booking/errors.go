package booking

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrExtraction means the language backend returned nothing usable. Transient.
	ErrExtraction = errors.New("intent extraction failed")
	// ErrCalendarUnavailable covers network, timeout and rate-limit failures. Transient.
	ErrCalendarUnavailable = errors.New("calendar unavailable")
	// ErrCalendarAuth covers credential and permission failures. Fatal.
	ErrCalendarAuth = errors.New("calendar authorization failed")
	// ErrSlotConflict means the slot was taken before the event could be created.
	ErrSlotConflict = errors.New("slot is no longer free")
	// ErrVersionConflict means another turn saved the conversation first.
	ErrVersionConflict = errors.New("conversation state version conflict")
	// ErrBusy means a turn for the same conversation is still in flight.
	ErrBusy = errors.New("conversation is busy")
)

// IsTransient reports whether err is worth one immediate retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrExtraction) ||
		errors.Is(err, ErrCalendarUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Retry runs op with a per-attempt timeout, retrying up to retries times while
// the failure is transient.
func Retry(ctx context.Context, timeout time.Duration, retries int, op func(ctx context.Context) error) error {
	var err error

	for attempt := 0; attempt <= retries; attempt++ {
		err = func() error {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			return op(callCtx)
		}()
		if err == nil || !IsTransient(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}

	return err
}
