package haven

import (
	"context"
	"sync"
	"time"
)

// RateLimitOption configures WithRateLimit.
type RateLimitOption func(*rateLimitProvider)

// RPM caps upstream requests per minute.
func RPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.budget.maxRequests = n }
}

// TPM caps tokens per minute, input plus output. The cap is soft: the
// request that crosses it still completes, and later requests block
// until the window slides past its usage.
func TPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.budget.maxTokens = n }
}

// WithRateLimit wraps p so that calls block until the configured minute
// budgets admit them:
//
//	llm = haven.WithRateLimit(provider, haven.RPM(60))
//	llm = haven.WithRateLimit(provider, haven.RPM(60), haven.TPM(100000))
//
// A cancelled context unblocks the waiter with ctx.Err().
func WithRateLimit(p Provider, opts ...RateLimitOption) Provider {
	r := &rateLimitProvider{inner: p}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// rateLimitProvider defers each call until the shared budget admits it.
type rateLimitProvider struct {
	inner  Provider
	budget minuteBudget
}

func (r *rateLimitProvider) Name() string { return r.inner.Name() }

func (r *rateLimitProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return r.inner.ListModels(ctx)
}

func (r *rateLimitProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := r.budget.admit(ctx); err != nil {
		return ChatResponse{}, err
	}
	resp, err := r.inner.Chat(ctx, req)
	if err == nil {
		r.budget.spend(resp.Usage)
	}
	return resp, err
}

// ChatStream closes ch itself when the budget refuses the call, so the
// consumer's drain loop terminates on refusal too.
func (r *rateLimitProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error) {
	if err := r.budget.admit(ctx); err != nil {
		close(ch)
		return ChatResponse{}, err
	}
	resp, err := r.inner.ChatStream(ctx, req, ch)
	if err == nil {
		r.budget.spend(resp.Usage)
	}
	return resp, err
}

// minuteBudget tracks request and token spend over a sliding minute.
// Zero caps disable the corresponding check.
type minuteBudget struct {
	mu          sync.Mutex
	maxRequests int
	maxTokens   int
	requests    []time.Time
	spent       []tokenSpend
}

type tokenSpend struct {
	at     time.Time
	tokens int
}

// admit blocks until both caps have room, then reserves one request
// slot. Token spend is recorded afterwards via spend, once the real
// usage is known.
func (b *minuteBudget) admit(ctx context.Context) error {
	for {
		wait, ok := b.tryReserve(time.Now())
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryReserve reserves a request slot if both windows have room. When a
// window is full it returns how long until its oldest entry expires.
func (b *minuteBudget) tryReserve(now time.Time) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-time.Minute)
	b.requests = trimRequests(b.requests, cutoff)
	b.spent = trimSpend(b.spent, cutoff)

	var blocked time.Time
	if b.maxRequests > 0 && len(b.requests) >= b.maxRequests {
		blocked = b.requests[0]
	}
	if b.maxTokens > 0 && blocked.IsZero() {
		total := 0
		for _, s := range b.spent {
			total += s.tokens
		}
		if total >= b.maxTokens && len(b.spent) > 0 {
			blocked = b.spent[0].at
		}
	}
	if !blocked.IsZero() {
		wait := blocked.Add(time.Minute).Sub(now)
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		return wait, false
	}

	if b.maxRequests > 0 {
		b.requests = append(b.requests, now)
	}
	return 0, true
}

// spend records the tokens a completed request actually consumed.
func (b *minuteBudget) spend(u Usage) {
	if b.maxTokens <= 0 {
		return
	}
	total := u.InputTokens + u.OutputTokens
	if total <= 0 {
		return
	}
	b.mu.Lock()
	b.spent = append(b.spent, tokenSpend{at: time.Now(), tokens: total})
	b.mu.Unlock()
}

func trimRequests(s []time.Time, cutoff time.Time) []time.Time {
	for len(s) > 0 && s[0].Before(cutoff) {
		s = s[1:]
	}
	return s
}

func trimSpend(s []tokenSpend, cutoff time.Time) []tokenSpend {
	for len(s) > 0 && s[0].at.Before(cutoff) {
		s = s[1:]
	}
	return s
}

var _ Provider = (*rateLimitProvider)(nil)
