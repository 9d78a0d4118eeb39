package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// rateLimited applica un token bucket davanti a un provider
type rateLimited struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit limita le richieste al provider a rps con il burst indicato.
// Con rps <= 0 il provider è restituito invariato.
func WithRateLimit(p Provider, rps float64, burst int) Provider {
	if rps <= 0 {
		return p
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Generate attende un token entro la deadline della richiesta
func (r *rateLimited) Generate(ctx context.Context, req *ChatRequest) *Result {
	if err := r.limiter.Wait(ctx); err != nil {
		return Failed(fmt.Errorf("%w: %v", ErrRateLimited, err))
	}
	return r.Provider.Generate(ctx, req)
}
