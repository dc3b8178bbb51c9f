package quota

import (
	"errors"
	"fmt"

	"github.com/aman-churiwal/tenant-admission/internal/models"
)

var (
	// ErrQuotaExceeded is matched by every quota denial, including denials
	// caused by an unavailable durable store.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrStoreUnavailable marks a denial caused by a durable store fault.
	ErrStoreUnavailable = errors.New("usage store unavailable")
)

type QuotaExceededError struct {
	UsageType models.UsageType
	Limit     int
	Used      int64
	// Available is the leftover under the limit, which can be non-zero when a
	// multi-unit request does not fit. The caller's remaining is always zero.
	Available int64
	// Cause is set when the denial comes from a store fault rather than the limit.
	Cause error
}

func (e *QuotaExceededError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("quota exceeded for %s: %v", e.UsageType, e.Cause)
	}
	return fmt.Sprintf("quota exceeded for %s: used %d of %d", e.UsageType, e.Used, e.Limit)
}

func (e *QuotaExceededError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrQuotaExceeded, e.Cause}
	}
	return []error{ErrQuotaExceeded}
}
