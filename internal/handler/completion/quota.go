package completion

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrRateLimited = errors.New("rate limit exceeded, please try again later")
	ErrNoCredits   = errors.New("credits exhausted, please add credits to your workspace")
)

// Quota tracks a token bucket and a credit budget per user.
type Quota struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	spent    map[string]int

	every   time.Duration
	burst   int
	credits int
}

// NewQuota allows requestsPerMinute with the given burst; credits is the
// number of replies each user may request, 0 for unlimited.
func NewQuota(requestsPerMinute, burst, credits int) *Quota {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Quota{
		limiters: make(map[string]*rate.Limiter),
		spent:    make(map[string]int),
		every:    time.Minute / time.Duration(requestsPerMinute),
		burst:    burst,
		credits:  credits,
	}
}

// Take charges one request to userID.
func (q *Quota) Take(userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.credits > 0 && q.spent[userID] >= q.credits {
		return ErrNoCredits
	}

	limiter, ok := q.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(q.every), q.burst)
		q.limiters[userID] = limiter
	}
	if !limiter.Allow() {
		return ErrRateLimited
	}

	q.spent[userID]++
	return nil
}
