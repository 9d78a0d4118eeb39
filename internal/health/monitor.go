package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Prober è il registry visto dal monitor
type Prober interface {
	// Reprobe verifica i soli backend esclusi dal live set
	Reprobe(ctx context.Context) map[string]error
	// LiveNames restituisce i nomi dei backend raggiungibili
	LiveNames() []string
}

// Monitor riverifica periodicamente i backend esclusi
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
}

// NewMonitor crea un nuovo monitor. interval <= 0 usa 5 minuti.
func NewMonitor(prober Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		timeout:  30 * time.Second,
	}
}

// Start avvia il loop di re-probe. Chiamate ripetute sono ignorate.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(ctx, m.done)

	log.Info().Dur("interval", m.interval).Msg("Backend re-probe started")
}

// Stop ferma il loop e attende la sua terminazione
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info().Msg("Backend re-probe stopped")
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce esegue un singolo giro di re-probe e restituisce i backend ancora in errore
func (m *Monitor) RunOnce(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	before := len(m.prober.LiveNames())
	results := m.prober.Reprobe(ctx)
	restored := len(m.prober.LiveNames()) - before

	m.mu.Lock()
	m.lastRun = time.Now()
	m.mu.Unlock()

	for name, err := range results {
		log.Debug().
			Err(err).
			Str("backend", name).
			Msg("Backend still unreachable")
	}

	if restored > 0 || len(results) > 0 {
		log.Info().
			Int("restored", restored).
			Int("still_unreachable", len(results)).
			Msg("Re-probe completed")
	}
	return results
}

// LastRun istante dell'ultimo giro completato
func (m *Monitor) LastRun() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRun
}

// Ready indica se almeno un backend è servibile
func (m *Monitor) Ready() bool {
	return len(m.prober.LiveNames()) > 0
}
