package entitlement

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// unlockLimiter tracks wrong activation codes. Mismatches beyond the burst
// are flagged as throttled; the comparison result itself never changes.
type unlockLimiter struct {
	mu  sync.Mutex
	lim *rate.Limiter
}

func newUnlockLimiter(burst int, refill time.Duration) *unlockLimiter {
	if burst < 1 {
		burst = 1
	}
	if refill <= 0 {
		refill = time.Second
	}
	return &unlockLimiter{lim: rate.NewLimiter(rate.Every(refill), burst)}
}

// fail records one mismatch at now and reports whether it was within the
// allowed burst
func (l *unlockLimiter) fail(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lim.AllowN(now, 1)
}
