package llm

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/openai/openai-go"
)

// Backoff retries transient chat-completion failures. Zero fields take the
// defaults below.
type Backoff struct {
	Retries int
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

func (b Backoff) normalized() Backoff {
	if b.Retries < 0 {
		b.Retries = 0
	}
	if b.Initial <= 0 {
		b.Initial = 200 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 3 * time.Second
	}
	if b.Factor <= 1 {
		b.Factor = 2
	}
	return b
}

// Retry calls fn until it succeeds, fails permanently or runs out of
// retries, and reports how many attempts were made. onRetry, when set, sees
// every failure that is about to be retried together with the wait.
func (b Backoff) Retry(ctx context.Context, fn func() error, onRetry func(err error, wait time.Duration)) (int, error) {
	b = b.normalized()
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return attempt, nil
		}
		if attempt > b.Retries || !transient(err) {
			return attempt, err
		}
		wait := b.delay(attempt-1, err)
		if onRetry != nil {
			onRetry(err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		}
	}
}

// delay grows geometrically with the retry index. A Retry-After from the
// server wins when present; both are capped at Max.
func (b Backoff) delay(retry int, err error) time.Duration {
	if after := retryAfter(err); after > 0 {
		return min(after, b.Max)
	}
	d := float64(b.Initial) * math.Pow(b.Factor, float64(retry))
	return time.Duration(math.Min(d, float64(b.Max)))
}

var transientStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return transientStatus[apiErr.StatusCode]
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// retryAfter reads the Retry-After header of an API error, in seconds or as
// an HTTP date.
func retryAfter(err error) time.Duration {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) || apiErr.Response == nil {
		return 0
	}
	v := apiErr.Response.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, convErr := strconv.Atoi(v); convErr == nil {
		return time.Duration(secs) * time.Second
	}
	if at, parseErr := http.ParseTime(v); parseErr == nil {
		return time.Until(at)
	}
	return 0
}
