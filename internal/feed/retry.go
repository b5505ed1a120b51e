package feed

import "time"

// RetryPolicy bounds automatic retries of initial loads. Retry n waits
// n times BaseDelay.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy retries twice, after 1.5s and then 3s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  1500 * time.Millisecond,
	}
}

// Delay returns the wait before retry n (1-based) and whether that retry is
// permitted at all.
func (p RetryPolicy) Delay(n int) (time.Duration, bool) {
	if n < 1 || n > p.MaxRetries {
		return 0, false
	}
	return time.Duration(n) * p.BaseDelay, true
}
