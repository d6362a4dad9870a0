package stream

import (
	"errors"
	"sync"
)

// Caps applied when Config leaves them unset.
const (
	defaultMaxPerIP = 10
	defaultMaxTotal = 1000
)

var (
	errIPLimit     = errors.New("too many concurrent streams from this address")
	errGlobalLimit = errors.New("server stream capacity reached")
)

// streamLimiter counts open position streams per client IP and server-wide.
type streamLimiter struct {
	mu       sync.Mutex
	perIP    map[string]int
	open     int
	maxPerIP int
	maxTotal int
}

func newStreamLimiter(maxPerIP, maxTotal int) *streamLimiter {
	if maxPerIP < 1 {
		maxPerIP = defaultMaxPerIP
	}
	if maxTotal < 1 {
		maxTotal = defaultMaxTotal
	}
	return &streamLimiter{
		perIP:    make(map[string]int),
		maxPerIP: maxPerIP,
		maxTotal: maxTotal,
	}
}

// acquire reserves a stream slot for ip. The error names the cap that refused
// it; the server-wide cap is checked first.
func (l *streamLimiter) acquire(ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.open >= l.maxTotal:
		return errGlobalLimit
	case l.perIP[ip] >= l.maxPerIP:
		return errIPLimit
	}
	l.perIP[ip]++
	l.open++
	return nil
}

func (l *streamLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.perIP[ip]--; l.perIP[ip] <= 0 {
		delete(l.perIP, ip)
	}
	l.open--
}

// count returns the open streams for ip.
func (l *streamLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perIP[ip]
}

// total returns the open streams across all clients.
func (l *streamLimiter) total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}
