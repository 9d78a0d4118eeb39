package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/biodoia/operatoros/internal/agents"
	"github.com/biodoia/operatoros/internal/providers"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrBackendNotFound      = errors.New("backend not found")
	ErrBackendAlreadyExists = errors.New("backend already exists")
	ErrNoBackendsAvailable  = errors.New("no backends available")
)

const (
	defaultProbeTimeout     = 10 * time.Second
	defaultProbeConcurrency = 4
	latencyEWMAAlpha        = 0.3
)

// Pricing costo per mille token
type Pricing struct {
	InputPer1K  float64 `json:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" yaml:"output_per_1k"`
}

// Cost calcola il costo stimato di un uso
func (p Pricing) Cost(u providers.Usage) float64 {
	return float64(u.PromptTokens)/1000*p.InputPer1K + float64(u.CompletionTokens)/1000*p.OutputPer1K
}

// Descriptor descrive un backend configurato
type Descriptor struct {
	Name       string                       `json:"name" yaml:"name"`
	Kind       providers.Kind               `json:"kind" yaml:"kind"`
	Model      string                       `json:"model" yaml:"model"`
	Priority   int                          `json:"priority" yaml:"priority"`
	Throughput float64                      `json:"throughput" yaml:"throughput"`
	Affinity   map[agents.Category]float64 `json:"affinity" yaml:"affinity"`
	Pricing    Pricing                      `json:"pricing" yaml:"pricing"`
}

func (d Descriptor) clone() Descriptor {
	aff := make(map[agents.Category]float64, len(d.Affinity))
	for c, v := range d.Affinity {
		aff[c] = v
	}
	d.Affinity = aff
	return d
}

// BackendStatus stato osservabile di un backend
type BackendStatus struct {
	Descriptor   `yaml:",inline"`
	Live         bool          `json:"live" yaml:"live"`
	Reason       string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	RegisteredAt time.Time     `json:"registered_at" yaml:"registered_at"`
	LastCheck    time.Time     `json:"last_check,omitempty" yaml:"last_check,omitempty"`
	SuccessCount int           `json:"success_count" yaml:"success_count"`
	ErrorCount   int           `json:"error_count" yaml:"error_count"`
	AvgLatency   time.Duration `json:"avg_latency" yaml:"avg_latency"`
}

type entry struct {
	desc     Descriptor
	provider providers.Provider
	status   BackendStatus
}

// LiveObserver riceve le variazioni di raggiungibilità
type LiveObserver func(name string, live bool)

// Registry gestisce i backend e il loro live set
type Registry struct {
	entries      map[string]*entry
	probeTimeout time.Duration
	concurrency  int
	observer     LiveObserver
	mu           sync.RWMutex
}

// RegistryOption opzione funzionale del registry
type RegistryOption func(*Registry)

// WithProbeTimeout imposta il timeout di ciascun health check
func WithProbeTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// WithProbeConcurrency limita gli health check concorrenti
func WithProbeConcurrency(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLiveObserver registra una callback per i cambi di stato
func WithLiveObserver(fn LiveObserver) RegistryOption {
	return func(r *Registry) {
		r.observer = fn
	}
}

// NewRegistry crea un nuovo registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries:      make(map[string]*entry),
		probeTimeout: defaultProbeTimeout,
		concurrency:  defaultProbeConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register registra un nuovo backend; parte nel live set fino al primo probe
func (r *Registry) Register(desc Descriptor, p providers.Provider) error {
	if desc.Name == "" {
		return fmt.Errorf("backend descriptor without name")
	}
	if p == nil {
		return fmt.Errorf("backend %s: nil provider", desc.Name)
	}

	r.mu.Lock()
	if _, exists := r.entries[desc.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBackendAlreadyExists, desc.Name)
	}

	desc = desc.clone()
	r.entries[desc.Name] = &entry{
		desc:     desc,
		provider: p,
		status: BackendStatus{
			Descriptor:   desc,
			Live:         true,
			RegisteredAt: time.Now(),
		},
	}
	r.mu.Unlock()

	log.Info().
		Str("backend", desc.Name).
		Str("kind", string(desc.Kind)).
		Str("model", desc.Model).
		Msg("Backend registered")

	r.notify(desc.Name, true)
	return nil
}

// Get restituisce provider e descrittore di un backend, live o meno
func (r *Registry) Get(name string) (providers.Provider, Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	if !exists {
		return nil, Descriptor{}, fmt.Errorf("%w: %s", ErrBackendNotFound, name)
	}
	return e.provider, e.desc.clone(), nil
}

// Live restituisce i backend raggiungibili ordinati per priorità
func (r *Registry) Live() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		if e.status.Live {
			out = append(out, e.desc.clone())
		}
	}
	sortByPriority(out)
	return out
}

// LiveNames nomi dei backend live in ordine di priorità
func (r *Registry) LiveNames() []string {
	live := r.Live()
	names := make([]string, len(live))
	for i, d := range live {
		names[i] = d.Name
	}
	return names
}

// IsLive indica se il backend è nel live set
func (r *Registry) IsLive(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	return exists && e.status.Live
}

// Names restituisce tutti i backend registrati in ordine di priorità
func (r *Registry) Names() []string {
	status := r.Status()
	names := make([]string, len(status))
	for i, s := range status {
		names[i] = s.Name
	}
	return names
}

// Status restituisce una copia dello stato di tutti i backend
func (r *Registry) Status() []BackendStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]BackendStatus, 0, len(r.entries))
	for _, e := range r.entries {
		s := e.status
		s.Descriptor = e.desc.clone()
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// MarkUnreachable esclude un backend dal live set mantenendolo registrato
func (r *Registry) MarkUnreachable(name string, cause error) {
	reason := "unreachable"
	if cause != nil {
		reason = cause.Error()
	}

	r.mu.Lock()
	e, exists := r.entries[name]
	if !exists {
		r.mu.Unlock()
		return
	}
	wasLive := e.status.Live
	e.status.Live = false
	e.status.Reason = reason
	r.mu.Unlock()

	if wasLive {
		log.Warn().
			Str("backend", name).
			Str("reason", reason).
			Msg("Backend removed from live set")
		r.notify(name, false)
	}
}

// Restore reinserisce un backend nel live set
func (r *Registry) Restore(name string) error {
	r.mu.Lock()
	e, exists := r.entries[name]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBackendNotFound, name)
	}
	wasLive := e.status.Live
	e.status.Live = true
	e.status.Reason = ""
	r.mu.Unlock()

	if !wasLive {
		log.Info().
			Str("backend", name).
			Msg("Backend restored to live set")
		r.notify(name, true)
	}
	return nil
}

// Probe verifica tutti i backend in parallelo e aggiorna il live set.
// Restituisce gli errori per backend; i backend sani non compaiono.
func (r *Registry) Probe(ctx context.Context) map[string]error {
	return r.probe(ctx, func(s BackendStatus) bool { return true })
}

// Reprobe verifica solo i backend esclusi, reinserendo quelli tornati sani
func (r *Registry) Reprobe(ctx context.Context) map[string]error {
	return r.probe(ctx, func(s BackendStatus) bool { return !s.Live })
}

func (r *Registry) probe(ctx context.Context, include func(BackendStatus) bool) map[string]error {
	type target struct {
		name     string
		provider providers.Provider
	}

	r.mu.RLock()
	targets := make([]target, 0, len(r.entries))
	for name, e := range r.entries {
		if include(e.status) {
			targets = append(targets, target{name: name, provider: e.provider})
		}
	}
	r.mu.RUnlock()

	var (
		resultsMu sync.Mutex
		results   = make(map[string]error)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, t := range targets {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(gctx, r.probeTimeout)
			defer cancel()

			err := safeHealthCheck(checkCtx, t.provider)
			r.recordProbe(t.name, err)

			if err != nil {
				resultsMu.Lock()
				results[t.name] = err
				resultsMu.Unlock()
			}
			// un backend malato non interrompe gli altri probe
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func safeHealthCheck(ctx context.Context, p providers.Provider) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("%w: %v", providers.ErrAdapterPanic, rec)
			}
		}()
		done <- p.HealthCheck(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: health check: %v", providers.ErrTimeout, ctx.Err())
	}
}

func (r *Registry) recordProbe(name string, err error) {
	r.mu.Lock()
	e, exists := r.entries[name]
	if !exists {
		r.mu.Unlock()
		return
	}
	wasLive := e.status.Live
	e.status.LastCheck = time.Now()
	if err != nil {
		e.status.Live = false
		e.status.Reason = err.Error()
	} else {
		e.status.Live = true
		e.status.Reason = ""
	}
	nowLive := e.status.Live
	r.mu.Unlock()

	if err != nil {
		log.Warn().
			Err(err).
			Str("backend", name).
			Msg("Backend health check failed")
	} else {
		log.Debug().
			Str("backend", name).
			Msg("Backend health check succeeded")
	}

	if wasLive != nowLive {
		r.notify(name, nowLive)
	}
}

// RecordSuccess registra una chiamata riuscita aggiornando la latenza media
func (r *Registry) RecordSuccess(name string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, exists := r.entries[name]; exists {
		e.status.SuccessCount++
		if e.status.AvgLatency == 0 {
			e.status.AvgLatency = latency
		} else {
			avg := latencyEWMAAlpha*float64(latency) + (1-latencyEWMAAlpha)*float64(e.status.AvgLatency)
			e.status.AvgLatency = time.Duration(math.Round(avg))
		}
	}
}

// RecordError registra una chiamata fallita
func (r *Registry) RecordError(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, exists := r.entries[name]; exists {
		e.status.ErrorCount++
	}
}

func (r *Registry) notify(name string, live bool) {
	if r.observer != nil {
		r.observer(name, live)
	}
}

func sortByPriority(ds []Descriptor) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Priority != ds[j].Priority {
			return ds[i].Priority < ds[j].Priority
		}
		return ds[i].Name < ds[j].Name
	})
}
