package agents

import (
	"fmt"
	"math"
	"strings"
)

// ProductionGuidelines linee guida comuni a tutti gli agenti
const ProductionGuidelines = `You are an OperatorOS agent following production memory guidelines:
- No flattery, no soothing, no inflation
- Respond with precision and clarity
- Challenge with precision, not friction
- Mirror, don't mentor
- Dignity structured, labor remembered, clarity delivered`

const (
	defaultEnhancement = "Provide clear, actionable guidance."
	defaultPrompt      = "You are a strategic business advisor providing professional guidance."
)

// Priority priorità di una richiesta, modifica i parametri di generazione
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ParsePriority converte una stringa in priorità; vuota vale normal
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case "", PriorityNormal:
		return PriorityNormal, nil
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityLow:
		return PriorityLow, nil
	}
	return "", fmt.Errorf("unknown priority: %q", s)
}

const (
	priorityTokenDelta = 200
	priorityTempDelta  = 0.1
	maxPriorityTokens  = 1500
	minPriorityTokens  = 400
)

// Profile descrive come un ruolo viene istruito e parametrizzato
type Profile struct {
	Role        Role
	Title       string
	Prompt      string
	Enhancement string
	MaxTokens   int
	Temperature float64
	Hints       map[Category]float64
}

// GenerationParams parametri da passare al backend
type GenerationParams struct {
	MaxTokens   int
	Temperature float64
}

// Parameters restituisce i parametri di generazione per la priorità indicata
func (p Profile) Parameters(priority Priority) GenerationParams {
	params := GenerationParams{MaxTokens: p.MaxTokens, Temperature: p.Temperature}
	switch priority {
	case PriorityHigh:
		params.MaxTokens = min(params.MaxTokens+priorityTokenDelta, maxPriorityTokens)
		params.Temperature -= priorityTempDelta
	case PriorityLow:
		params.MaxTokens = max(params.MaxTokens-priorityTokenDelta, minPriorityTokens)
		params.Temperature += priorityTempDelta
	}
	params.Temperature = clampTemperature(params.Temperature)
	return params
}

// SystemPrompt compone linee guida, enhancement e prompt del ruolo
func (p Profile) SystemPrompt() string {
	return ProductionGuidelines + "\n\nAgent Role: " + p.Enhancement + "\n\n" + p.Prompt
}

// clampTemperature arrotonda a un decimale e limita a [0, 1]
func clampTemperature(t float64) float64 {
	t = math.Round(t*10) / 10
	return math.Max(0, math.Min(1, t))
}

var profiles = map[Role]Profile{
	RoleAnalyst: {
		Title:       "Senior Business Analyst",
		Enhancement: "Provide deep analysis with supporting evidence and clear conclusions.",
		Prompt: "You are a Senior Business Analyst providing strategic analysis and market intelligence. " +
			"Focus on business analysis, competitive positioning, and strategic recommendations. " +
			"Provide detailed analysis with actionable insights for executive decision-making.",
		MaxTokens: 1000, Temperature: 0.3,
		Hints: map[Category]float64{CategoryAnalysis: 0.5, CategoryResearch: 0.2, CategoryConcise: 0.1},
	},
	RoleResearcher: {
		Title:       "Strategic Researcher",
		Enhancement: "Deliver comprehensive research with verified sources and insights.",
		Prompt: "You are a Strategic Researcher providing comprehensive market research and data analysis. " +
			"Focus on market trends, customer insights, and competitive intelligence. " +
			"Provide data-driven insights with specific examples and industry context.",
		MaxTokens: 1200, Temperature: 0.4,
		Hints: map[Category]float64{CategoryResearch: 0.5, CategoryAnalysis: 0.2},
	},
	RoleWriter: {
		Title:       "Strategic Communications Writer",
		Enhancement: "Create precise, clear content that serves the user's specific needs.",
		Prompt: "You are a Strategic Communications Writer creating professional business content. " +
			"Focus on clear, executive-level communication with compelling messaging. " +
			"Provide well-structured content suitable for C-suite audiences.",
		MaxTokens: 1000, Temperature: 0.5,
		Hints: map[Category]float64{CategoryCreative: 0.4, CategoryConcise: 0.3},
	},
	RoleRefiner: {
		Title:       "Strategic Refiner",
		Enhancement: "Improve clarity, remove unnecessary elements, enhance precision.",
		Prompt: "You are a Strategic Refiner providing final synthesis and recommendations. " +
			"Focus on consolidating insights, refining strategies, and providing final recommendations. " +
			"Provide refined strategic guidance with clear action priorities.",
		MaxTokens: 600, Temperature: 0.3,
		Hints: map[Category]float64{CategoryConcise: 0.4, CategoryAnalysis: 0.2, CategoryCreative: 0.1},
	},
	RoleCSA: {
		Title:       "Chief Strategy Agent",
		Enhancement: "Provide strategic oversight with long-term perspective and decision frameworks.",
		Prompt: "You are a Chief Strategy Agent providing strategic direction and competitive intelligence. " +
			"Focus on long-term strategic planning, market positioning, and competitive advantages. " +
			"Provide strategic recommendations with clear rationale and implementation guidance.",
		MaxTokens: 1200, Temperature: 0.5,
		Hints: map[Category]float64{CategoryAnalysis: 0.4, CategoryConcise: 0.1},
	},
	RoleCOO: {
		Title:       "Chief Operating Agent",
		Enhancement: "Focus on operational efficiency, process optimization, and execution clarity.",
		Prompt: "You are a Chief Operating Agent focused on operational excellence and execution. " +
			"Focus on process optimization, resource allocation, and operational efficiency. " +
			"Provide operational recommendations with clear implementation steps.",
		MaxTokens: 800, Temperature: 0.4,
		Hints: map[Category]float64{CategoryAnalysis: 0.3, CategoryConcise: 0.2},
	},
	RoleCTO: {
		Title:       "Chief Technology Agent",
		Enhancement: "Provide technical accuracy, system thinking, and implementation clarity.",
		Prompt: "You are a Chief Technology Agent providing technical strategy and innovation guidance. " +
			"Focus on technology architecture, digital transformation, and innovation opportunities. " +
			"Provide technical recommendations with scalability and security considerations.",
		MaxTokens: 1000, Temperature: 0.4,
		Hints: map[Category]float64{CategoryTechnical: 0.5, CategoryAnalysis: 0.2},
	},
	RoleCFO: {
		Title:       "Chief Financial Agent",
		Enhancement: "Focus on financial precision, data-driven insights, and clear monetary impact.",
		Prompt: "You are a Chief Financial Agent providing financial strategy and analysis. " +
			"Focus on financial planning, investment analysis, and resource optimization. " +
			"Provide financial recommendations with clear ROI and risk assessment.",
		MaxTokens: 800, Temperature: 0.3,
		Hints: map[Category]float64{CategoryFinancial: 0.5, CategoryAnalysis: 0.3, CategoryConcise: 0.1},
	},
	RoleCMO: {
		Title:       "Chief Marketing Agent",
		Enhancement: "Deliver strategic market insights with measurable business impact.",
		Prompt: "You are a Chief Marketing Agent providing marketing strategy and growth planning. " +
			"Focus on brand strategy, customer acquisition, and market expansion. " +
			"Provide marketing recommendations with clear growth tactics and metrics.",
		MaxTokens: 900, Temperature: 0.6,
		Hints: map[Category]float64{CategoryCreative: 0.3, CategoryAnalysis: 0.2},
	},
	RoleCPO: {
		Title:       "Chief People Agent",
		Enhancement: "Balance user needs with technical feasibility and business objectives.",
		Prompt: "You are a Chief People Agent focused on human capital and organizational development. " +
			"Focus on team optimization, culture development, and leadership effectiveness. " +
			"Provide people strategy recommendations with clear implementation approaches.",
		MaxTokens: 900, Temperature: 0.5,
		Hints: map[Category]float64{CategoryCreative: 0.3, CategoryTechnical: 0.2, CategoryAnalysis: 0.1},
	},
	RoleCIO: {
		Title:       "Chief Intelligence Agent",
		Enhancement: "Focus on information systems, data management, and technology alignment.",
		Prompt: "You are a Chief Intelligence Agent providing strategic intelligence and insights synthesis. " +
			"Focus on information synthesis, pattern recognition, and strategic decision support. " +
			"Provide intelligence recommendations with cross-functional insights.",
		MaxTokens: 800, Temperature: 0.4,
		Hints: map[Category]float64{CategoryTechnical: 0.3, CategoryAnalysis: 0.3},
	},
	RoleGeneral: {
		Title:       "Business Advisor",
		Enhancement: defaultEnhancement,
		Prompt:      defaultPrompt,
		MaxTokens:   800,
		Temperature: 0.5,
	},
}

// ProfileFor restituisce il profilo di un ruolo; i ruoli sconosciuti
// ricevono il profilo generale
func ProfileFor(role Role) Profile {
	p, ok := profiles[role]
	if !ok {
		p = profiles[RoleGeneral]
	}
	p.Role = role
	hints := make(map[Category]float64, len(p.Hints))
	for c, w := range p.Hints {
		hints[c] = w
	}
	p.Hints = hints
	return p
}
