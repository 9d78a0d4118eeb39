package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/biodoia/operatoros/pkg/config"
	"github.com/rs/zerolog/log"
)

// ErrQueueFull la coda asincrona è piena e l'evento è stato scartato
var ErrQueueFull = errors.New("notification queue is full")

// Channel interfaccia per i canali di notifica
type Channel interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

// NotifierConfig configurazione per il notifier
type NotifierConfig struct {
	Enabled        bool
	DefaultTimeout time.Duration
	AsyncMode      bool // Se true, le notifiche sono inviate in modo asincrono
	BufferSize     int  // Dimensione buffer per modalità asincrona
}

// Notifier dispatcher principale per le notifiche
type Notifier struct {
	config NotifierConfig

	channels map[string]Channel
	rules    []*Rule
	chMu     sync.RWMutex

	eventQueue chan queuedEvent
	stopOnce   sync.Once
	stopCh     chan struct{}
	wg         sync.WaitGroup

	metrics *NotificationMetrics
	metMu   sync.RWMutex
}

type queuedEvent struct {
	event Event
	ctx   context.Context
}

// NotificationMetrics metriche delle notifiche
type NotificationMetrics struct {
	TotalSent        int64
	TotalFailed      int64
	TotalDropped     int64
	ByChannel        map[string]*ChannelMetrics
	ByEventType      map[EventType]int64
	LastNotification time.Time
}

// ChannelMetrics metriche per canale
type ChannelMetrics struct {
	Sent       int64
	Failed     int64
	AvgLatency time.Duration
	LastSent   time.Time
}

// NewNotifier crea un nuovo notifier
func NewNotifier(cfg NotifierConfig) *Notifier {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}

	n := &Notifier{
		config:   cfg,
		channels: make(map[string]Channel),
		stopCh:   make(chan struct{}),
		metrics: &NotificationMetrics{
			ByChannel:   make(map[string]*ChannelMetrics),
			ByEventType: make(map[EventType]int64),
		},
	}
	if cfg.AsyncMode {
		n.eventQueue = make(chan queuedEvent, cfg.BufferSize)
	}
	return n
}

// Start avvia il worker asincrono
func (n *Notifier) Start() {
	if !n.config.Enabled {
		log.Info().Msg("Notifier disabled")
		return
	}
	if n.config.AsyncMode {
		n.wg.Add(1)
		go n.asyncWorker()
	}

	n.chMu.RLock()
	count := len(n.channels)
	n.chMu.RUnlock()

	log.Info().
		Int("channels", count).
		Bool("async", n.config.AsyncMode).
		Msg("Notifier started")
}

// Stop svuota la coda e ferma il worker
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
	})
	n.wg.Wait()
}

// RegisterChannel registra un canale di notifica
func (n *Notifier) RegisterChannel(channel Channel) {
	n.chMu.Lock()
	n.channels[channel.Name()] = channel
	n.chMu.Unlock()

	n.metMu.Lock()
	if _, ok := n.metrics.ByChannel[channel.Name()]; !ok {
		n.metrics.ByChannel[channel.Name()] = &ChannelMetrics{}
	}
	n.metMu.Unlock()

	log.Info().
		Str("channel", channel.Name()).
		Msg("Channel registered")
}

// AddRule aggiunge una regola di instradamento
func (n *Notifier) AddRule(rule *Rule) {
	n.chMu.Lock()
	defer n.chMu.Unlock()
	n.rules = append(n.rules, rule)
}

// Notify invia una notifica. In modalità asincrona l'evento viene accodato
// e il context del chiamante non ne limita la consegna.
func (n *Notifier) Notify(ctx context.Context, event Event) error {
	if !n.config.Enabled {
		return nil
	}

	if n.config.AsyncMode {
		select {
		case n.eventQueue <- queuedEvent{event: event, ctx: context.WithoutCancel(ctx)}:
			return nil
		default:
			n.metMu.Lock()
			n.metrics.TotalDropped++
			n.metMu.Unlock()
			return fmt.Errorf("%w: dropping %s", ErrQueueFull, event.Type())
		}
	}

	return n.processEvent(ctx, event)
}

func (n *Notifier) asyncWorker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.stopCh:
			// eventi rimasti in coda
			for {
				select {
				case qe := <-n.eventQueue:
					_ = n.processEvent(qe.ctx, qe.event)
				default:
					return
				}
			}
		case qe := <-n.eventQueue:
			_ = n.processEvent(qe.ctx, qe.event)
		}
	}
}

// processEvent consegna l'evento ai canali delle regole applicabili
func (n *Notifier) processEvent(ctx context.Context, event Event) error {
	targets := n.targets(event)
	if len(targets) == 0 {
		log.Debug().
			Str("event_type", string(event.Type())).
			Msg("No channel configured for event")
		return nil
	}

	n.metMu.Lock()
	n.metrics.ByEventType[event.Type()]++
	n.metrics.LastNotification = time.Now()
	n.metMu.Unlock()

	var errs []error
	for _, ch := range targets {
		if err := n.sendToChannel(ctx, ch, event); err != nil {
			log.Error().
				Err(err).
				Str("channel", ch.Name()).
				Str("event_type", string(event.Type())).
				Msg("Failed to send notification")
			errs = append(errs, fmt.Errorf("channel %s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// targets canali distinti selezionati dalle regole
func (n *Notifier) targets(event Event) []Channel {
	n.chMu.RLock()
	defer n.chMu.RUnlock()

	seen := make(map[string]bool)
	var out []Channel
	for _, rule := range n.rules {
		if !rule.Matches(event) {
			continue
		}
		for _, name := range rule.Channels {
			ch, ok := n.channels[name]
			if !ok || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, ch)
		}
	}
	return out
}

func (n *Notifier) sendToChannel(ctx context.Context, ch Channel, event Event) error {
	sendCtx, cancel := context.WithTimeout(ctx, n.config.DefaultTimeout)
	defer cancel()

	start := time.Now()
	err := ch.Send(sendCtx, event)
	n.updateChannelMetrics(ch.Name(), err == nil, time.Since(start))
	return err
}

func (n *Notifier) updateChannelMetrics(name string, success bool, duration time.Duration) {
	n.metMu.Lock()
	defer n.metMu.Unlock()

	m, ok := n.metrics.ByChannel[name]
	if !ok {
		m = &ChannelMetrics{}
		n.metrics.ByChannel[name] = m
	}

	if !success {
		m.Failed++
		n.metrics.TotalFailed++
		return
	}

	m.Sent++
	m.LastSent = time.Now()
	n.metrics.TotalSent++
	if m.AvgLatency == 0 {
		m.AvgLatency = duration
	} else {
		m.AvgLatency = (m.AvgLatency + duration) / 2
	}
}

// Metrics restituisce una copia delle metriche
func (n *Notifier) Metrics() NotificationMetrics {
	n.metMu.RLock()
	defer n.metMu.RUnlock()

	out := NotificationMetrics{
		TotalSent:        n.metrics.TotalSent,
		TotalFailed:      n.metrics.TotalFailed,
		TotalDropped:     n.metrics.TotalDropped,
		ByChannel:        make(map[string]*ChannelMetrics, len(n.metrics.ByChannel)),
		ByEventType:      make(map[EventType]int64, len(n.metrics.ByEventType)),
		LastNotification: n.metrics.LastNotification,
	}
	for k, v := range n.metrics.ByChannel {
		cp := *v
		out.ByChannel[k] = &cp
	}
	for k, v := range n.metrics.ByEventType {
		out.ByEventType[k] = v
	}
	return out
}

// BuildNotifier costruisce il notifier dalla configurazione: canale log sempre,
// webhook se è configurato un URL, più gli eventuali canali extra
func BuildNotifier(cfg config.NotificationsConfig, extra ...Channel) *Notifier {
	n := NewNotifier(NotifierConfig{
		Enabled:        cfg.Enabled,
		DefaultTimeout: cfg.Timeout,
		AsyncMode:      true,
		BufferSize:     cfg.BufferSize,
	})

	names := []string{LogChannelName}
	n.RegisterChannel(NewLogChannel(&log.Logger))

	if cfg.Webhook.URL != "" {
		n.RegisterChannel(NewWebhookChannel(WebhookConfig{
			URL:        cfg.Webhook.URL,
			Secret:     cfg.Webhook.Secret,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.Webhook.MaxRetries,
		}))
		names = append(names, WebhookChannelName)
	}

	for _, ch := range extra {
		n.RegisterChannel(ch)
		names = append(names, ch.Name())
	}

	for _, rule := range DefaultRules(names...) {
		n.AddRule(rule)
	}
	return n
}
