package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/iscc/iscc-hub-go/pkg/contracts"
)

// DeclareLimiter is the ingress rate policy hook of the declaration
// pipeline. Two layers gate the submit endpoint:
//
//   - a global bucket sized to the sequencer's writer lane, so a burst
//     of admissions never exceeds what the lane can absorb before
//     declarations would be rejected as BUSY anyway;
//   - per-client buckets, so a single submitter cannot drain the
//     global bucket for everyone else.
//
// Both layers reject with the protocol's BUSY kind. A global rejection
// carries a Retry-After derived from when the next global token frees
// up; a per-client rejection carries a fixed Retry-After of one second.
type DeclareLimiter struct {
	global *rate.Limiter

	mu        sync.Mutex
	clients   map[string]*clientBucket
	rps       rate.Limit
	burst     int
	lastSweep time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientTTL is how long an idle client's bucket is kept before the
// sweep drops it.
const clientTTL = 3 * time.Minute

// NewDeclareLimiter creates the limiter. rps and burst bound each
// client; queueDepth is the sequencer's writer-lane capacity and sets
// the global burst and refill rate. A queueDepth below burst is raised
// to burst.
func NewDeclareLimiter(rps, burst, queueDepth int) *DeclareLimiter {
	if queueDepth < burst {
		queueDepth = burst
	}
	return &DeclareLimiter{
		// The lane drains commits continuously, so the refill rate is
		// tied to its depth rather than to the per-client policy.
		global:  rate.NewLimiter(rate.Limit(queueDepth), queueDepth),
		clients: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

// admit charges one declaration against both layers. When rejected it
// reports how long the client should wait before retrying.
func (l *DeclareLimiter) admit(client string) (time.Duration, bool) {
	now := time.Now()
	if !l.clientAllow(client, now) {
		return time.Second, false
	}
	res := l.global.ReserveN(now, 1)
	if !res.OK() {
		return time.Second, false
	}
	if delay := res.DelayFrom(now); delay > 0 {
		// Admitting late would just park the request in front of the
		// writer lane; hand the wait back to the client instead.
		res.CancelAt(now)
		return delay, false
	}
	return 0, true
}

func (l *DeclareLimiter) clientAllow(client string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > clientTTL {
		for key, b := range l.clients {
			if now.Sub(b.lastSeen) > clientTTL {
				delete(l.clients, key)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.clients[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[client] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Middleware enforces the rate policy before the declaration pipeline
// runs.
func (l *DeclareLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		retryAfter, ok := l.admit(clientKey(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs(retryAfter)))
			WriteProblem(w, r,
				contracts.NewError(contracts.KindBusy, "", "declaration rate exceeded, retry later"), nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies a submitter by IP, tolerating bare IPv6 forms.
func clientKey(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}

// retryAfterSecs rounds a wait up to whole seconds, at least one.
func retryAfterSecs(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// WithRequestID assigns each request an X-Request-ID unless the client
// already sent one, and echoes it on the response.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}
