package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrMaxAttemptsExceeded viene restituito quando si esauriscono i tentativi
	ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")
)

// RetryConfig contiene la configurazione del retry
type RetryConfig struct {
	// MaxAttempts numero totale di tentativi, il primo incluso
	MaxAttempts int

	// BackoffStep attesa dopo il tentativo n: BackoffStep * n
	BackoffStep time.Duration

	// MaxBackoff limite superiore dell'attesa (0 = nessun limite)
	MaxBackoff time.Duration

	// RetryableChecker funzione custom per verificare se un errore è retryable
	RetryableChecker func(error) bool

	// OnRetry callback chiamata prima di ogni attesa
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// DefaultRetryConfig restituisce una configurazione di default
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BackoffStep: 2 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// Retry implementa retry logic con backoff lineare
type Retry struct {
	config RetryConfig
}

// NewRetry crea un nuovo retry handler
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.BackoffStep < 0 {
		config.BackoffStep = 0
	}
	return &Retry{config: config}
}

// MaxAttempts restituisce il budget di tentativi
func (r *Retry) MaxAttempts() int {
	return r.config.MaxAttempts
}

// Execute esegue fn fino a MaxAttempts volte. attempt parte da 1.
// La cancellazione del context interrompe sia i tentativi sia l'attesa.
func (r *Retry) Execute(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		// un fallimento dovuto al context del chiamante non va ritentato
		if ctx.Err() != nil {
			return err
		}

		if !r.isRetryable(err) {
			log.Debug().
				Err(err).
				Msg("Error is not retryable, stopping retries")
			return err
		}

		if attempt >= r.config.MaxAttempts {
			log.Warn().
				Err(err).
				Int("attempts", attempt).
				Msg("Max attempts exceeded")
			return errors.Join(ErrMaxAttemptsExceeded, err)
		}

		backoff := r.Backoff(attempt)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, backoff)
		}

		log.Debug().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", r.config.MaxAttempts).
			Dur("backoff", backoff).
			Msg("Retrying after error")

		if err := Sleep(ctx, backoff); err != nil {
			return err
		}
	}

	return lastErr
}

// Backoff calcola l'attesa dopo il tentativo indicato
func (r *Retry) Backoff(attempt int) time.Duration {
	backoff := r.config.BackoffStep * time.Duration(attempt)
	if r.config.MaxBackoff > 0 && backoff > r.config.MaxBackoff {
		backoff = r.config.MaxBackoff
	}
	return backoff
}

// isRetryable verifica se un errore è retryable
func (r *Retry) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if r.config.RetryableChecker != nil {
		return r.config.RetryableChecker(err)
	}
	return true
}

// Sleep attende d o la cancellazione del context
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
