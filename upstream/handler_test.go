package upstream

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func getReq() *Request {
	return &Request{Service: ServicePoll, Method: http.MethodGet, URL: "http://x/poll/a"}
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	cb := NewCircuitBreaker(
		WithBreakerThreshold(3),
		WithBreakerResetTimeout(100*time.Millisecond),
		WithBreakerClock(clock),
	)
	if cb.State() != BreakerClosed {
		t.Fatal("expected closed")
	}
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	if cb.State() != BreakerOpen || cb.Allow() {
		t.Fatal("expected open after 3 failures")
	}

	now = now.Add(200 * time.Millisecond)
	if cb.State() != BreakerHalfOpen || !cb.Allow() {
		t.Fatal("expected half-open after reset timeout")
	}
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Fatal("expected closed after success in half-open")
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(
		WithBreakerThreshold(1),
		WithBreakerResetTimeout(50*time.Millisecond),
		WithBreakerClock(func() time.Time { return now }),
	)
	cb.RecordFailure()
	now = now.Add(100 * time.Millisecond)
	if cb.State() != BreakerHalfOpen {
		t.Fatal("expected half-open")
	}
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatal("expected re-open after failure in half-open")
	}
}

func TestWithCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(WithBreakerThreshold(1))
	calls := 0
	base := func(ctx context.Context, req *Request) (*Response, error) {
		calls++
		return nil, errors.New("connection refused")
	}
	h := WithCircuitBreaker(cb, ServicePoll)(base)

	h(context.Background(), getReq())
	_, err := h(context.Background(), getReq())
	var open *ErrCircuitOpen
	if !errors.As(err, &open) || open.Service != ServicePoll {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("base called %d times, want 1", calls)
	}
}

func TestWithCircuitBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(WithBreakerThreshold(1))
	base := func(ctx context.Context, req *Request) (*Response, error) {
		return nil, &StatusError{Service: ServicePoll, Status: http.StatusNotFound}
	}
	h := WithCircuitBreaker(cb, ServicePoll)(base)
	for i := 0; i < 3; i++ {
		h(context.Background(), getReq())
	}
	if cb.State() != BreakerClosed {
		t.Fatalf("breaker %s after 404s, want closed", cb.State())
	}
}

func TestWithRetry(t *testing.T) {
	calls := 0
	base := func(ctx context.Context, req *Request) (*Response, error) {
		calls++
		if calls < 3 {
			return nil, &StatusError{Service: ServicePoll, Status: http.StatusBadGateway}
		}
		return &Response{Status: http.StatusOK}, nil
	}
	resp, err := WithRetry(3, time.Millisecond, nil)(base)(context.Background(), getReq())
	if err != nil || resp.Status != http.StatusOK {
		t.Fatalf("got %v, %v", resp, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestWithRetry_SkipsPostAndClientErrors(t *testing.T) {
	calls := 0
	base := func(ctx context.Context, req *Request) (*Response, error) {
		calls++
		return nil, errors.New("reset by peer")
	}
	post := &Request{Service: ServiceChatStart, Method: http.MethodPost}
	WithRetry(3, time.Millisecond, nil)(base)(context.Background(), post)
	if calls != 1 {
		t.Fatalf("POST retried: calls = %d", calls)
	}

	calls = 0
	notFound := func(ctx context.Context, req *Request) (*Response, error) {
		calls++
		return nil, &StatusError{Service: ServicePoll, Status: http.StatusNotFound}
	}
	WithRetry(3, time.Millisecond, nil)(notFound)(context.Background(), getReq())
	if calls != 1 {
		t.Fatalf("404 retried: calls = %d", calls)
	}
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	base := func(ctx context.Context, req *Request) (*Response, error) {
		calls++
		cancel()
		return nil, errors.New("fail")
	}
	if _, err := WithRetry(5, time.Second, nil)(base)(ctx, getReq()); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, req *Request) (*Response, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	base := func(ctx context.Context, req *Request) (*Response, error) {
		order = append(order, "base")
		return &Response{}, nil
	}
	Chain(mw("a"), mw("b"))(base)(context.Background(), getReq())
	want := []string{"a", "b", "base"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRecovery(t *testing.T) {
	base := func(ctx context.Context, req *Request) (*Response, error) {
		panic("boom")
	}
	_, err := Recovery(discardLogger())(base)(context.Background(), getReq())
	var p *ErrPanic
	if !errors.As(err, &p) {
		t.Fatalf("expected ErrPanic, got %v", err)
	}
}
