package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrTimeout        = errors.New("backend timeout")
	ErrRateLimited    = errors.New("backend rate limited")
	ErrUnavailable    = errors.New("backend unavailable")
	ErrUnreachable    = errors.New("backend unreachable")
	ErrUnauthorized   = errors.New("backend rejected credentials")
	ErrInvalidRequest = errors.New("invalid request")
	ErrEmptyResponse  = errors.New("empty response")
	ErrAdapterPanic   = errors.New("adapter panic")
	ErrMissingAPIKey  = errors.New("missing API key")
)

// ClassifyStatus mappa uno status HTTP su un errore sentinella
func ClassifyStatus(status int, detail string) error {
	var base error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		base = ErrUnauthorized
	case status == http.StatusTooManyRequests:
		base = ErrRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		base = ErrTimeout
	case status >= 500:
		base = ErrUnavailable
	case status >= 400:
		base = ErrInvalidRequest
	default:
		return fmt.Errorf("unexpected status %d: %s", status, detail)
	}
	if detail == "" {
		return fmt.Errorf("%w: status %d", base, status)
	}
	return fmt.Errorf("%w: status %d: %s", base, status, detail)
}

// ClassifyTransport mappa un errore di trasporto su un errore sentinella
func ClassifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	// solo una connessione mai stabilita rende il backend irraggiungibile;
	// reset e EOF a metà risposta restano ritentabili sullo stesso backend
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// IsUnreachable indica un fallimento per cui il backend va rimosso dal live set
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrMissingAPIKey)
}

// IsTransient indica un fallimento ritentabile su un altro backend
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrUnreachable) ||
		errors.Is(err, ErrEmptyResponse) ||
		errors.Is(err, ErrAdapterPanic)
}
