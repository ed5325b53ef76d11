package embedding

import (
	"context"
	"sync"
	"time"
)

const rateWindow = time.Minute

type rateEntry struct {
	at     time.Time
	tokens int
}

// rateLimiter keeps a sliding log of the requests sent in the last minute and
// delays new requests until both the request and the token ceiling allow
// them.
type rateLimiter struct {
	mu      sync.Mutex
	clock   Clock
	rpm     int
	tpm     int
	entries []rateEntry
}

func newRateLimiter(clock Clock, requestsPerMinute, tokensPerMinute int) *rateLimiter {
	return &rateLimiter{
		clock: clock,
		rpm:   requestsPerMinute,
		tpm:   tokensPerMinute,
	}
}

// Wait blocks until a request carrying tokens fits in the window, then
// records it.
func (l *rateLimiter) Wait(ctx context.Context, tokens int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.clock.Now()
		l.prune(now)
		delay := l.delay(now, tokens)
		if delay <= 0 {
			l.entries = append(l.entries, rateEntry{at: now, tokens: tokens})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if err := l.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (l *rateLimiter) prune(now time.Time) {
	i := 0
	for i < len(l.entries) && now.Sub(l.entries[i].at) >= rateWindow {
		i++
	}
	l.entries = l.entries[i:]
}

// delay returns how long to wait until the oldest entries blocking the
// request have left the window. Must be called with mu held.
func (l *rateLimiter) delay(now time.Time, tokens int) time.Duration {
	var wait time.Duration

	if l.rpm > 0 && len(l.entries) >= l.rpm {
		oldest := l.entries[len(l.entries)-l.rpm]
		wait = oldest.at.Add(rateWindow).Sub(now)
	}

	if l.tpm > 0 && len(l.entries) > 0 {
		used := 0
		for _, e := range l.entries {
			used += e.tokens
		}
		for _, e := range l.entries {
			if used+tokens <= l.tpm {
				break
			}
			used -= e.tokens
			if d := e.at.Add(rateWindow).Sub(now); d > wait {
				wait = d
			}
		}
	}
	return wait
}

// usage reports the requests and tokens currently inside the window.
func (l *rateLimiter) usage() (requests, tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.clock.Now())
	for _, e := range l.entries {
		tokens += e.tokens
	}
	return len(l.entries), tokens
}
