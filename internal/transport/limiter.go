package transport

import "sync"

// Rejection reasons returned by Limiter.Acquire
const (
	RejectPerClient = "per_client"
	RejectTotal     = "total"
)

// Limiter caps concurrent streams per client and in total
type Limiter struct {
	maxPerClient int
	maxTotal     int

	mu     sync.Mutex
	total  int
	counts map[string]int
}

// NewLimiter creates a limiter. Non-positive limits disable that check.
func NewLimiter(maxPerClient, maxTotal int) *Limiter {
	return &Limiter{
		maxPerClient: maxPerClient,
		maxTotal:     maxTotal,
		counts:       make(map[string]int),
	}
}

// Acquire reserves a stream slot for client. On success the returned
// release func must be called exactly once when the stream ends; on
// failure the reason names the exhausted limit.
func (l *Limiter) Acquire(client string) (release func(), reason string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxTotal > 0 && l.total >= l.maxTotal {
		return nil, RejectTotal, false
	}
	if l.maxPerClient > 0 && l.counts[client] >= l.maxPerClient {
		return nil, RejectPerClient, false
	}

	l.total++
	l.counts[client]++

	var once sync.Once
	return func() {
		once.Do(func() { l.release(client) })
	}, "", true
}

func (l *Limiter) release(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total--
	if l.counts[client] <= 1 {
		delete(l.counts, client)
		return
	}
	l.counts[client]--
}

// Active returns the number of reserved slots
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
