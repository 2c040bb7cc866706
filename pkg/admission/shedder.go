package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sluiceio/sluice/pkg/metrics"
)

// seenTTL bounds how long an admitted thread ID keeps its admission.
const seenTTL = time.Minute

// Shedder is the outermost overload defense: a non-blocking token bucket
// sized for the configured in-flight budget. Admission is idempotent per
// thread identifier, so a retried admission for the same request does not
// consume a second token.
type Shedder struct {
	enabled bool
	limiter *rate.Limiter

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewShedder creates a shedder admitting up to maxInFlight requests per
// second with an equal burst.
func NewShedder(enabled bool, maxInFlight int) *Shedder {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Shedder{
		enabled: enabled,
		limiter: rate.NewLimiter(rate.Limit(maxInFlight), maxInFlight),
		seen:    make(map[string]time.Time),
	}
}

// Accept is non-blocking; false means the request should be shed with 503.
func (s *Shedder) Accept(threadID string) bool {
	if !s.enabled {
		return true
	}

	now := time.Now()
	s.mu.Lock()
	if admitted, ok := s.seen[threadID]; ok && now.Sub(admitted) < seenTTL {
		s.mu.Unlock()
		return true
	}
	// Opportunistic cleanup keeps the map bounded without a sweeper.
	if len(s.seen) > 4096 {
		for id, at := range s.seen {
			if now.Sub(at) >= seenTTL {
				delete(s.seen, id)
			}
		}
	}
	s.mu.Unlock()

	if !s.limiter.Allow() {
		metrics.ShedTotal.Inc()
		return false
	}

	s.mu.Lock()
	s.seen[threadID] = now
	s.mu.Unlock()
	return true
}
