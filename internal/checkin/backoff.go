package checkin

import "time"

// backoffCapMinutes bounds the worst-case gap between retries. Alerts are
// safety-critical, so the cap keeps time-to-notify bounded even deep into
// the retry sequence.
const backoffCapMinutes = 30

// BackoffDelay returns the wait before the next delivery retry:
// min(2^retryCount, 30) minutes, giving 1, 2, 4, 8, 16, 30, 30, ...
// retryCount is 0-based at the first failure.
func BackoffDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	minutes := backoffCapMinutes
	if retryCount < 5 {
		minutes = 1 << retryCount
	}
	return time.Duration(minutes) * time.Minute
}
