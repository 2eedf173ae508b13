package stream

import (
	"math"
	"math/rand"
	"time"
)

const (
	backoffBase           = 1 * time.Second
	backoffMax            = 30 * time.Second
	maxRetriesPerEndpoint = 3
)

// backoff computes the exponential-with-jitter delay for retry attempt n
// (0-indexed): delay = min(BASE * 2^n, MAX_DELAY) + rand[0, BASE].
func backoff(n int) time.Duration {
	exp := float64(backoffBase) * math.Pow(2, float64(n))
	if exp > float64(backoffMax) {
		exp = float64(backoffMax)
	}
	jitter := time.Duration(rand.Int63n(int64(backoffBase)))
	return time.Duration(exp) + jitter
}
