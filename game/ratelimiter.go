package game

import (
	"context"
	"fmt"
	"io"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
	"github.com/zond/usurper/storage"
)

// loginRateLimiter remembers the time of the last failed login per username.
// Entries expire after interval, which bounds memory even when an attacker
// sprays unique names.
type loginRateLimiter struct {
	interval time.Duration
	attempts cache.Cache[string, time.Time]
}

func newLoginRateLimiter(interval time.Duration) *loginRateLimiter {
	return &loginRateLimiter{
		interval: interval,
		attempts: cache.NewCache[string, time.Time]().WithTTL(interval),
	}
}

// remaining returns how long the next attempt for username must wait at now.
func (l *loginRateLimiter) remaining(username string, now time.Time) time.Duration {
	last, found := l.attempts.Get(storage.Key(username))
	if !found {
		return 0
	}
	if wait := l.interval - now.Sub(last); wait > 0 {
		return wait
	}
	return 0
}

// waitIfNeeded blocks while a recent failed attempt exists for username.
func (l *loginRateLimiter) waitIfNeeded(ctx context.Context, username string, w io.Writer) error {
	wait := l.remaining(username, time.Now())
	if wait <= 0 {
		return nil
	}
	if w != nil {
		fmt.Fprintf(w, "Please wait %v before trying again.\n", wait.Round(time.Second))
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *loginRateLimiter) recordFailure(username string) {
	l.attempts.Set(storage.Key(username), time.Now(), l.interval)
}

func (l *loginRateLimiter) clearFailure(username string) {
	l.attempts.Invalidate(storage.Key(username))
}
