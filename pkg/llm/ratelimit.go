package llm

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// AdaptiveLimiter wraps a Client with an AIMD token-bucket budget over
// estimated request tokens, backing off on retryable errors and probing
// back up on success. Grounded on goadesign-goa-ai's
// features/model/middleware.AdaptiveRateLimiter, stripped of its
// cluster-coordination path (rmap) since one docbot run is always a single
// process — see DESIGN.md.
type AdaptiveLimiter struct {
	next Client

	mu           sync.Mutex
	limiter      *rate.Limiter
	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// NewAdaptiveLimiter wraps next with a tokens-per-minute budget bounded by
// [initialTPM*0.1, maxTPM].
func NewAdaptiveLimiter(next Client, initialTPM, maxTPM float64) *AdaptiveLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recovery := initialTPM * 0.05
	if recovery < 1 {
		recovery = 1
	}
	return &AdaptiveLimiter{
		next:         next,
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recovery,
	}
}

// Complete waits for budget, delegates to the wrapped Client, and adjusts
// the budget based on whether the call succeeded or hit a retryable error.
func (l *AdaptiveLimiter) Complete(ctx context.Context, req Request) (Stream, error) {
	tokens := estimateTokens(req)
	if err := l.limiter.WaitN(ctx, tokens); err != nil {
		return nil, err
	}

	stream, err := l.next.Complete(ctx, req)
	if err != nil && ClassifyError(err) {
		l.backoff()
	} else if err == nil {
		l.probe()
	}
	return stream, err
}

func estimateTokens(req Request) int {
	chars := len(req.System)
	for _, m := range req.Messages {
		chars += len(m.Text)
		for _, tr := range m.ToolResults {
			chars += len(tr.Content)
		}
	}
	if chars <= 0 {
		return 500
	}
	tokens := chars/3 + 500
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

func (l *AdaptiveLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.currentTPM * 0.5
	if next < l.minTPM {
		next = l.minTPM
	}
	l.currentTPM = next
	l.limiter.SetLimit(rate.Limit(next / 60.0))
	l.limiter.SetBurst(int(next))
}

func (l *AdaptiveLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.currentTPM + l.recoveryRate
	if next > l.maxTPM {
		next = l.maxTPM
	}
	l.currentTPM = next
	l.limiter.SetLimit(rate.Limit(next / 60.0))
	l.limiter.SetBurst(int(next))
}
