package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	httperrors "github.com/jw6ventures/calassist/internal/http/errors"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(*http.Request) string

// Limiter keeps one token bucket per key.
type Limiter struct {
	limiters   map[string]*limiterEntry
	mu         sync.Mutex
	rate       rate.Limit
	burst      int
	idle       time.Duration
	maxEntries int
	key        KeyFunc
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// New creates a limiter allowing r requests per second with burst b per key.
// Entries idle for twice the cleanup interval are dropped.
func New(r rate.Limit, b int, cleanup time.Duration, key KeyFunc) *Limiter {
	l := &Limiter{
		limiters:   make(map[string]*limiterEntry),
		rate:       r,
		burst:      b,
		idle:       cleanup * 2,
		maxEntries: 10000,
		key:        key,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	if cleanup > 0 {
		go l.cleanupLoop(cleanup)
	}
	return l
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Allow reports whether a request for key may proceed now.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).AllowN(l.now(), 1)
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= l.maxEntries {
			l.evictOldest()
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastAccess = now
	return entry.limiter
}

func (l *Limiter) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range l.limiters {
		if oldestKey == "" || e.lastAccess.Before(oldest) {
			oldestKey, oldest = k, e.lastAccess
		}
	}
	if oldestKey != "" {
		delete(l.limiters, oldestKey)
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.idle)
	for k, e := range l.limiters {
		if e.lastAccess.Before(cutoff) {
			delete(l.limiters, k)
		}
	}
}

func (l *Limiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

// Middleware rejects requests over the limit with 429.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	retryAfter := "1"
	if l.rate > 0 {
		if secs := int(1/float64(l.rate) + 0.999); secs > 1 {
			retryAfter = strconv.Itoa(secs)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(l.key(r)) {
				w.Header().Set("Retry-After", retryAfter)
				httperrors.Write(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys requests by client address. Forwarding headers are honoured
// only when the peer is one of the trusted proxies; an empty list trusts all.
func ClientIP(trustedProxies []string) KeyFunc {
	nets := parseProxies(trustedProxies)
	return func(r *http.Request) string {
		return clientIP(r, nets)
	}
}

// Prefixed keys by fn when it returns a value and falls back otherwise. Used
// to charge authenticated chat traffic to the owner instead of the address.
func Prefixed(prefix string, fn func(*http.Request) (string, bool), fallback KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		if k, ok := fn(r); ok {
			return prefix + k
		}
		return fallback(r)
	}
}

func parseProxies(list []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range list {
		cidr = strings.TrimSpace(cidr)
		if _, ipnet, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, ipnet)
			continue
		}
		ip := net.ParseIP(cidr)
		if ip == nil {
			continue
		}
		bits := 128
		if ip.To4() != nil {
			ip, bits = ip.To4(), 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

func clientIP(r *http.Request, trusted []*net.IPNet) string {
	remote := parseIP(r.RemoteAddr)
	if len(trusted) > 0 && !contains(trusted, remote) {
		return ipString(remote, r.RemoteAddr)
	}

	// leftmost X-Forwarded-For entry is the original client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(r.Header.Get("X-Real-IP")); ip != nil {
		return ip.String()
	}
	return ipString(remote, r.RemoteAddr)
}

func contains(nets []*net.IPNet, ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func ipString(ip net.IP, raw string) string {
	if ip == nil {
		return raw
	}
	return ip.String()
}

func parseIP(addr string) net.IP {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(addr)
}
