package router

import (
	"sort"

	"github.com/biodoia/operatoros/internal/agents"
	"github.com/biodoia/operatoros/pkg/config"
	"github.com/rs/zerolog/log"
)

// Strategie di routing supportate
const (
	StrategyAffinity     = "affinity"
	StrategyLatencyFirst = "latency_first"
	StrategyPriority     = "priority"
)

// DefaultThroughputBonus bonus di throughput per task con molte categorie
const DefaultThroughputBonus = 0.1

// Candidate backend classificato con il suo punteggio
type Candidate struct {
	Descriptor
	Score float64 `json:"score"`
}

// RoutingStrategy definisce come ordinare i backend live per un task
type RoutingStrategy interface {
	Name() string
	Rank(signals agents.Signals, live []Descriptor) []Candidate
}

// Router gestisce la selezione dei backend
type Router struct {
	registry *Registry
	analyzer *agents.Analyzer
	strategy RoutingStrategy
}

// New crea un nuovo router
func New(cfg config.RoutingConfig, registry *Registry) *Router {
	bonus := cfg.ThroughputBonus
	if bonus < 0 {
		bonus = 0
	}

	r := &Router{
		registry: registry,
		analyzer: agents.NewAnalyzer(),
	}

	switch cfg.Strategy {
	case StrategyAffinity, "":
		r.strategy = &AffinityStrategy{ThroughputBonus: bonus}
	case StrategyLatencyFirst:
		r.strategy = &LatencyFirstStrategy{}
	case StrategyPriority:
		r.strategy = &PriorityStrategy{}
	default:
		log.Warn().
			Str("strategy", cfg.Strategy).
			Msg("Unknown routing strategy, falling back to affinity")
		r.strategy = &AffinityStrategy{ThroughputBonus: bonus}
	}

	return r
}

// Strategy restituisce il nome della strategia attiva
func (r *Router) Strategy() string {
	return r.strategy.Name()
}

// Registry restituisce il registry usato dal router
func (r *Router) Registry() *Registry {
	return r.registry
}

// Rank classifica i backend live per il ruolo e il testo indicati
func (r *Router) Rank(role agents.Role, text string) []Candidate {
	live := r.registry.Live()
	if len(live) == 0 {
		return nil
	}
	signals := r.analyzer.Analyze(role, text)
	ranked := r.strategy.Rank(signals, live)

	if e := log.Debug(); e.Enabled() {
		names := make([]string, len(ranked))
		for i, c := range ranked {
			names[i] = c.Name
		}
		e.Str("agent", string(role)).
			Str("strategy", r.strategy.Name()).
			Strs("ranking", names).
			Msg("Backends ranked")
	}
	return ranked
}

// PinFirst sposta il backend indicato in testa alla lista, se presente
func PinFirst(cands []Candidate, name string) []Candidate {
	if name == "" {
		return cands
	}
	for i, c := range cands {
		if c.Name != name {
			continue
		}
		out := make([]Candidate, 0, len(cands))
		out = append(out, c)
		out = append(out, cands[:i]...)
		out = append(out, cands[i+1:]...)
		return out
	}
	return cands
}

// AffinityScore somma peso di categoria per affinità del backend
func AffinityScore(signals agents.Signals, d Descriptor) float64 {
	// ordine fisso: a parità di pesi la somma deve essere identica fra chiamate
	score := 0.0
	for _, cat := range agents.AllCategories() {
		score += signals.Weights[cat] * d.Affinity[cat]
	}
	return score
}

// AffinityStrategy ordina per affinità di categoria, con bonus di throughput
// quando il task tocca più di due categorie
type AffinityStrategy struct {
	ThroughputBonus float64
}

func (s *AffinityStrategy) Name() string { return StrategyAffinity }

func (s *AffinityStrategy) Rank(signals agents.Signals, live []Descriptor) []Candidate {
	// il set bilanciato di fallback non conta come task ampio
	broad := !signals.Default && len(signals.Detected()) > 2

	out := make([]Candidate, len(live))
	for i, d := range live {
		score := AffinityScore(signals, d)
		if broad {
			score += s.ThroughputBonus * d.Throughput
		}
		out[i] = Candidate{Descriptor: d, Score: score}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return byPriority(out[i].Descriptor, out[j].Descriptor)
	})
	return out
}

// LatencyFirstStrategy privilegia il throughput, l'affinità decide a parità
type LatencyFirstStrategy struct{}

func (s *LatencyFirstStrategy) Name() string { return StrategyLatencyFirst }

func (s *LatencyFirstStrategy) Rank(signals agents.Signals, live []Descriptor) []Candidate {
	out := make([]Candidate, len(live))
	for i, d := range live {
		out[i] = Candidate{Descriptor: d, Score: AffinityScore(signals, d)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Throughput != out[j].Throughput {
			return out[i].Throughput > out[j].Throughput
		}
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return byPriority(out[i].Descriptor, out[j].Descriptor)
	})
	return out
}

// PriorityStrategy usa solo la priorità configurata
type PriorityStrategy struct{}

func (s *PriorityStrategy) Name() string { return StrategyPriority }

func (s *PriorityStrategy) Rank(signals agents.Signals, live []Descriptor) []Candidate {
	out := make([]Candidate, len(live))
	for i, d := range live {
		out[i] = Candidate{Descriptor: d, Score: AffinityScore(signals, d)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return byPriority(out[i].Descriptor, out[j].Descriptor)
	})
	return out
}

func byPriority(a, b Descriptor) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Name < b.Name
}
