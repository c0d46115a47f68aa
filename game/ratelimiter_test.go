package game

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLoginRateLimiterRecordClear(t *testing.T) {
	l := newLoginRateLimiter(time.Minute)
	now := time.Now()

	if got := l.remaining("testuser", now); got != 0 {
		t.Errorf("got %v before any failure, want 0", got)
	}

	l.recordFailure("testuser")
	if got := l.remaining("TestUser", now); got <= 0 || got > time.Minute {
		t.Errorf("got %v after recordFailure, want (0, 1m]", got)
	}

	l.clearFailure("testuser")
	if got := l.remaining("testuser", now); got != 0 {
		t.Errorf("got %v after clearFailure, want 0", got)
	}
}

func TestLoginRateLimiterMultipleUsers(t *testing.T) {
	l := newLoginRateLimiter(time.Minute)
	now := time.Now()

	l.recordFailure("user1")
	l.recordFailure("user2")
	l.recordFailure("user3")
	l.clearFailure("user2")

	for name, limited := range map[string]bool{
		"user1": true,
		"user2": false,
		"user3": true,
	} {
		if got := l.remaining(name, now) > 0; got != limited {
			t.Errorf("%s limited = %v, want %v", name, got, limited)
		}
	}
}

func TestLoginRateLimiterClearNonexistent(t *testing.T) {
	l := newLoginRateLimiter(time.Minute)
	l.clearFailure("nonexistent")
	if got := l.remaining("nonexistent", time.Now()); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}

func TestLoginRateLimiterExpires(t *testing.T) {
	l := newLoginRateLimiter(time.Second)
	l.recordFailure("testuser")
	if got := l.remaining("testuser", time.Now().Add(2*time.Second)); got != 0 {
		t.Errorf("got %v after the interval, want 0", got)
	}
}

func TestLoginRateLimiterWait(t *testing.T) {
	l := newLoginRateLimiter(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	if err := l.waitIfNeeded(ctx, "testuser", nil); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 25*time.Millisecond {
		t.Errorf("waited %v without a failure", elapsed)
	}

	l.recordFailure("testuser")
	buf := &bytes.Buffer{}
	start = time.Now()
	if err := l.waitIfNeeded(ctx, "testuser", buf); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("waited only %v after a failure", elapsed)
	}
	if !strings.HasPrefix(buf.String(), "Please wait") {
		t.Errorf("got notice %q", buf.String())
	}
}

func TestLoginRateLimiterContextCancellation(t *testing.T) {
	l := newLoginRateLimiter(time.Hour)
	l.recordFailure("testuser")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.waitIfNeeded(ctx, "testuser", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want %v", err, context.Canceled)
	}
}

func TestLoginRateLimiterConcurrentAccess(t *testing.T) {
	l := newLoginRateLimiter(time.Minute)

	var wg sync.WaitGroup
	const goroutines = 10
	const iterations = 100

	wg.Add(goroutines * 2)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				l.recordFailure("user")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				l.clearFailure("user")
				l.remaining("user", time.Now())
			}
		}()
	}
	wg.Wait()
}
