package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Call invoca il provider rispettando la deadline del context anche se
// l'adapter la ignora. Panic e risultati nil diventano Result di fallimento.
func Call(ctx context.Context, p Provider, req *ChatRequest) *Result {
	start := time.Now()
	done := make(chan *Result, 1)

	go func() {
		done <- safeGenerate(ctx, p, req)
	}()

	var res *Result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = Failed(contextFailure(ctx.Err()))
		log.Debug().
			Str("backend", p.Name()).
			Dur("elapsed", time.Since(start)).
			Msg("Backend call abandoned at deadline")
	}

	res.Latency = time.Since(start)
	return res
}

func safeGenerate(ctx context.Context, p Provider, req *ChatRequest) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("backend", p.Name()).
				Interface("panic", r).
				Msg("Backend adapter panicked")
			res = Failed(fmt.Errorf("%w: %v", ErrAdapterPanic, r))
		}
	}()

	res = p.Generate(ctx, req)
	if res == nil {
		return Failed(fmt.Errorf("%w: adapter returned no result", ErrEmptyResponse))
	}
	if !res.Success && res.Err == nil {
		res.Err = ErrUnavailable
	}
	return res
}

func contextFailure(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
