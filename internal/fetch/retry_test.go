package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func temporaryErr() error {
	fe := newFetchError("fetch_sub", "u", "FETCH_FAILED", "x", nil)
	fe.temporary = true
	return fe
}

// runWithMock advances the mock clock until Do returns, so backoff waits cost
// no wall time.
func runWithMock(t *testing.T, mock *clock.Mock, step time.Duration, do func() error) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- do() }()
	for i := 0; i < 1000; i++ {
		select {
		case err := <-done:
			return err
		default:
			mock.Add(step)
		}
	}
	t.Fatalf("retry loop did not finish")
	return nil
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(time.Second, 8*time.Second)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := b(i + 1); got != w {
			t.Fatalf("attempt %d: backoff=%s, want=%s", i+1, got, w)
		}
	}
}

func TestRetryPolicy_RetriesTemporaryThenSucceeds(t *testing.T) {
	mock := clock.NewMock()
	var waits []time.Duration
	p := RetryPolicy{
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			d := ExponentialBackoff(time.Second, 8*time.Second)(attempt)
			waits = append(waits, d)
			return d
		},
		Clock: mock,
	}

	var calls int32
	err := runWithMock(t, mock, time.Second, func() error {
		return p.Do(context.Background(), func(context.Context) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return temporaryErr()
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls=%d, want=3", got)
	}
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != 2*time.Second {
		t.Fatalf("waits=%v, want=[1s 2s]", waits)
	}
}

func TestRetryPolicy_StopsOnPermanentError(t *testing.T) {
	permanent := newFetchError("fetch_sub", "u", "FETCH_FAILED", "404", nil)
	var calls int
	err := RetryPolicy{MaxAttempts: 5, Backoff: ExponentialBackoff(time.Hour, time.Hour)}.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err=%v, want the permanent error", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d, want=1", calls)
	}
}

func TestRetryPolicy_GivesUpAfterMaxAttempts(t *testing.T) {
	mock := clock.NewMock()
	p := RetryPolicy{MaxAttempts: 3, Backoff: ExponentialBackoff(time.Second, 8*time.Second), Clock: mock}

	var calls int32
	err := runWithMock(t, mock, 4*time.Second, func() error {
		return p.Do(context.Background(), func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return temporaryErr()
		})
	})
	if !IsTemporary(err) {
		t.Fatalf("err=%v, want the last temporary error", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls=%d, want=3", got)
	}
}

func TestRetryPolicy_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 3, Backoff: ExponentialBackoff(time.Hour, time.Hour), Clock: clock.NewMock()}

	var calls int
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return temporaryErr()
	})
	if !IsTemporary(err) {
		t.Fatalf("err=%v, want the first attempt's error", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d, want=1", calls)
	}
}

func TestRetryPolicy_RetriesUpstream503(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	p := RetryPolicy{MaxAttempts: 2}
	var text string
	err := p.Do(context.Background(), func(ctx context.Context) error {
		var err error
		text, err = FetchText(ctx, KindSubscription, ts.URL)
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "ok" || atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("text=%q hits=%d, want ok/2", text, hits)
	}
}
