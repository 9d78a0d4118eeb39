package agents

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Category categoria di segnale di un task
type Category string

const (
	CategoryFinancial Category = "financial"
	CategoryTechnical Category = "technical"
	CategoryCreative  Category = "creative"
	CategoryResearch  Category = "research"
	CategoryConcise   Category = "concise"
	CategoryAnalysis  Category = "analysis"
)

// AllCategories elenca le categorie in ordine stabile
func AllCategories() []Category {
	return []Category{
		CategoryFinancial, CategoryTechnical, CategoryCreative,
		CategoryResearch, CategoryConcise, CategoryAnalysis,
	}
}

// ParseCategory converte una stringa in categoria
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllCategories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category: %q", s)
}

const (
	keywordHitWeight = 0.2
	maxKeywordWeight = 0.6
)

var keywords = map[Category][]string{
	CategoryFinancial: {
		"revenue", "profit", "profits", "margin", "margins", "budget", "cost", "costs",
		"pricing", "price", "cash", "cash flow", "roi", "investment", "invest", "funding",
		"valuation", "financial", "finance", "forecast", "expense", "expenses", "ebitda",
		"income", "loan", "tax", "earnings",
	},
	CategoryTechnical: {
		"code", "software", "api", "architecture", "system", "infrastructure", "database",
		"cloud", "security", "deploy", "deployment", "integration", "technical", "technology",
		"algorithm", "scalability", "platform", "stack", "devops", "backend", "frontend",
		"automation",
	},
	CategoryCreative: {
		"creative", "story", "brand", "branding", "campaign", "slogan", "content", "design",
		"write", "copy", "narrative", "marketing", "blog", "tagline", "storytelling",
		"idea", "ideas", "brainstorm",
	},
	CategoryResearch: {
		"research", "market", "competitor", "competitors", "competitive", "trend", "trends",
		"data", "survey", "study", "industry", "benchmark", "sources", "investigate",
		"evidence", "statistics",
	},
	CategoryConcise: {
		"summary", "summarize", "brief", "concise", "tldr", "in short", "overview", "quick",
		"short", "bullet", "bullets", "outline",
	},
	CategoryAnalysis: {
		"analyze", "analysis", "evaluate", "assess", "compare", "strategy", "strategic",
		"plan", "risk", "swot", "reasoning", "why", "decision", "prioritize",
	},
}

// Signals esito della classificazione di un task
type Signals struct {
	// Weights peso per categoria rilevata
	Weights map[Category]float64
	// Default il testo e il ruolo non hanno prodotto segnali
	Default bool
}

// Detected restituisce le categorie con peso positivo, ordinate per peso
func (s Signals) Detected() []Category {
	out := make([]Category, 0, len(s.Weights))
	for c, w := range s.Weights {
		if w > 0 {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if s.Weights[out[i]] != s.Weights[out[j]] {
			return s.Weights[out[i]] > s.Weights[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// Analyzer classifica un task in categorie di segnale
type Analyzer struct {
	keywords map[Category][]string
}

// NewAnalyzer crea un analyzer con gli insiemi di keyword standard
func NewAnalyzer() *Analyzer {
	return &Analyzer{keywords: keywords}
}

// Analyze combina keyword nel testo e hint statici del ruolo.
// Senza segnali restituisce l'insieme bilanciato di default.
func (a *Analyzer) Analyze(role Role, text string) Signals {
	weights := make(map[Category]float64)

	lower := strings.ToLower(text)
	words := wordSet(lower)
	for cat, kws := range a.keywords {
		hits := 0
		for _, kw := range kws {
			if strings.Contains(kw, " ") {
				if strings.Contains(lower, kw) {
					hits++
				}
				continue
			}
			if words[kw] {
				hits++
			}
		}
		if hits > 0 {
			weights[cat] = min(float64(hits)*keywordHitWeight, maxKeywordWeight)
		}
	}

	for cat, hint := range ProfileFor(role).Hints {
		weights[cat] += hint
	}

	if len(weights) == 0 {
		return Signals{Weights: balancedWeights(), Default: true}
	}
	return Signals{Weights: weights}
}

func balancedWeights() map[Category]float64 {
	cats := AllCategories()
	w := make(map[Category]float64, len(cats))
	for _, c := range cats {
		w[c] = 1 / float64(len(cats))
	}
	return w
}

func wordSet(text string) map[string]bool {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
