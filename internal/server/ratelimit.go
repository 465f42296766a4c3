package server

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig limits how often one client may start work.
type RateLimitConfig struct {
	RequestsPerMinute int   // 0 disables request limiting
	MaxUploadPerDay   int64 // bytes, 0 disables the upload quota
}

// Enabled reports whether any limit is set.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerMinute > 0 || c.MaxUploadPerDay > 0
}

// RateLimiter applies a token bucket per client plus a daily upload quota.
type RateLimiter struct {
	mu sync.Mutex

	cfg     RateLimitConfig
	clients map[string]*clientUsage
	now     func() time.Time
}

type clientUsage struct {
	limiter  *rate.Limiter
	uploaded int64
	day      time.Time
}

// NewRateLimiter creates a limiter with the given limits.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg, clients: make(map[string]*clientUsage), now: time.Now}
}

// Allow records a request of size bytes from client, or returns a
// *RateLimitError or *QuotaExceededError without recording it.
func (rl *RateLimiter) Allow(client string, size int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	usage := rl.usage(client, now)

	if today := startOfDay(now); !today.Equal(usage.day) {
		usage.day = today
		usage.uploaded = 0
	}
	if rl.cfg.MaxUploadPerDay > 0 && usage.uploaded+size > rl.cfg.MaxUploadPerDay {
		return &QuotaExceededError{
			Limit:  rl.cfg.MaxUploadPerDay,
			Used:   usage.uploaded,
			Resets: usage.day.AddDate(0, 0, 1),
		}
	}

	if usage.limiter != nil {
		r := usage.limiter.ReserveN(now, 1)
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			return &RateLimitError{Limit: rl.cfg.RequestsPerMinute, RetryAfter: delay}
		}
	}
	usage.uploaded += size
	return nil
}

// Uploaded returns the bytes client uploaded today.
func (rl *RateLimiter) Uploaded(client string) int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if u, ok := rl.clients[client]; ok && u.day.Equal(startOfDay(rl.now())) {
		return u.uploaded
	}
	return 0
}

func (rl *RateLimiter) usage(client string, now time.Time) *clientUsage {
	u, ok := rl.clients[client]
	if !ok {
		u = &clientUsage{day: startOfDay(now)}
		if rl.cfg.RequestsPerMinute > 0 {
			perSecond := rate.Limit(float64(rl.cfg.RequestsPerMinute) / 60)
			u.limiter = rate.NewLimiter(perSecond, rl.cfg.RequestsPerMinute)
		}
		rl.clients[client] = u
	}
	return u
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// RateLimitError is returned when a client sends requests too quickly.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit: %d/min, retry after: %v)", e.Limit, e.RetryAfter.Round(time.Second))
}

// QuotaExceededError is returned when a client exhausted its upload quota.
type QuotaExceededError struct {
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("upload quota exceeded (used: %d, limit: %d, resets: %s)",
		e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
