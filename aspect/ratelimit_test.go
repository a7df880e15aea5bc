package aspect

import (
	"testing"

	"github.com/wattframework/ampere/httpwire"
	"github.com/wattframework/ampere/router"
)

func TestRateLimitAllowsWithinBurst(t *testing.T) {
	a := RateLimit(RateLimitConfig{RequestsPerSecond: 10, Burst: 2, KeyFunc: func(router.Context) string { return "k" }})
	ctx := newRespCtx(httpwire.MethodGET)

	for i := 0; i < 2; i++ {
		handled, err := a.Before(ctx)
		if handled || err != nil {
			t.Fatalf("request %d: Before = (%v, %v), want (false, nil)", i, handled, err)
		}
	}
}

func TestRateLimitRejectsOverBurst(t *testing.T) {
	a := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1, KeyFunc: func(router.Context) string { return "k2" }})
	ctx := newRespCtx(httpwire.MethodGET)

	if handled, err := a.Before(ctx); handled || err != nil {
		t.Fatalf("first request: Before = (%v, %v)", handled, err)
	}
	handled, err := a.Before(ctx)
	if !handled || err != nil {
		t.Fatalf("second request: Before = (%v, %v), want (true, nil)", handled, err)
	}
	if ctx.resp.Status() != 429 {
		t.Errorf("status = %d, want 429", ctx.resp.Status())
	}
}
