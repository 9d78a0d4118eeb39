package agents

import (
	"strings"
	"testing"

	"github.com/biodoia/operatoros/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Role
		wantErr bool
	}{
		{"canonical", "analyst", RoleAnalyst, false},
		{"upper case", "CFO", RoleCFO, false},
		{"alias with spaces", "financial advisor", RoleCFO, false},
		{"alias with underscores", "chief_technology_officer", RoleCTO, false},
		{"alias with dashes", "Chief-Marketing-Agent", RoleCMO, false},
		{"surrounding whitespace", "  writer  ", RoleWriter, false},
		{"empty", "   ", "", true},
		{"unknown", "janitor", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRole(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnknownRole)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRoles(t *testing.T) {
	roles, err := ParseRoles([]string{"analyst", "Writer"})
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleAnalyst, RoleWriter}, roles)
	assert.Equal(t, []string{"analyst", "writer"}, RoleStrings(roles))

	_, err = ParseRoles([]string{"analyst", "nope"})
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestPipeline(t *testing.T) {
	core, err := Pipeline("core")
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleAnalyst, RoleResearcher, RoleWriter, RoleRefiner}, core)

	extended, err := Pipeline("Extended")
	require.NoError(t, err)
	assert.Len(t, extended, 7)
	assert.Equal(t, RoleRefiner, extended[len(extended)-1])

	full, err := Pipeline(PipelineFull)
	require.NoError(t, err)
	assert.Len(t, full, 11)

	// la copia restituita non altera la pipeline registrata
	core[0] = RoleGeneral
	again, _ := Pipeline("core")
	assert.Equal(t, RoleAnalyst, again[0])

	_, err = Pipeline("mega")
	assert.ErrorIs(t, err, ErrUnknownPipeline)
}

func TestProfileFor(t *testing.T) {
	for _, r := range AllRoles() {
		t.Run(string(r), func(t *testing.T) {
			p := ProfileFor(r)
			assert.Equal(t, r, p.Role)
			assert.NotEmpty(t, p.Prompt)
			assert.NotEmpty(t, p.Enhancement)
			assert.Positive(t, p.MaxTokens)
			assert.True(t, strings.HasPrefix(p.SystemPrompt(), ProductionGuidelines))
		})
	}

	cfo := ProfileFor(RoleCFO)
	assert.Contains(t, cfo.Prompt, "Chief Financial Agent")
	assert.Equal(t, 800, cfo.MaxTokens)
	assert.InDelta(t, 0.3, cfo.Temperature, 1e-9)

	// i profili restituiti sono copie indipendenti
	cfo.Hints[CategoryFinancial] = 0
	assert.InDelta(t, 0.5, ProfileFor(RoleCFO).Hints[CategoryFinancial], 1e-9)

	unknown := ProfileFor(Role("mystery"))
	assert.Equal(t, defaultPrompt, unknown.Prompt)
}

func TestProfile_Parameters(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		priority Priority
		tokens   int
		temp     float64
	}{
		{"normal cfo", RoleCFO, PriorityNormal, 800, 0.3},
		{"high cfo", RoleCFO, PriorityHigh, 1000, 0.2},
		{"low cfo", RoleCFO, PriorityLow, 600, 0.4},
		{"high researcher", RoleResearcher, PriorityHigh, 1400, 0.3},
		{"high csa", RoleCSA, PriorityHigh, 1400, 0.4},
		{"low refiner floored", RoleRefiner, PriorityLow, 400, 0.4},
		{"low cmo", RoleCMO, PriorityLow, 700, 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProfileFor(tt.role).Parameters(tt.priority)
			assert.Equal(t, tt.tokens, got.MaxTokens)
			assert.InDelta(t, tt.temp, got.Temperature, 1e-9)
		})
	}

	p := Profile{MaxTokens: 1450, Temperature: 0.05}
	high := p.Parameters(PriorityHigh)
	assert.Equal(t, 1500, high.MaxTokens)
	assert.GreaterOrEqual(t, high.Temperature, 0.0)
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("")
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, p)

	p, err = ParsePriority("HIGH")
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, p)

	_, err = ParsePriority("urgent")
	assert.Error(t, err)
}

func TestAnalyzer_Analyze(t *testing.T) {
	a := NewAnalyzer()

	t.Run("keywords", func(t *testing.T) {
		s := a.Analyze(RoleGeneral, "Increase revenue and cut costs with a new API")
		assert.False(t, s.Default)
		assert.InDelta(t, 0.4, s.Weights[CategoryFinancial], 1e-9)
		assert.InDelta(t, 0.2, s.Weights[CategoryTechnical], 1e-9)
		assert.NotContains(t, s.Weights, CategoryCreative)
	})

	t.Run("keyword weight is capped", func(t *testing.T) {
		s := a.Analyze(RoleGeneral, "revenue profit margin budget cost pricing cash loan tax")
		assert.InDelta(t, maxKeywordWeight, s.Weights[CategoryFinancial], 1e-9)
	})

	t.Run("word boundaries", func(t *testing.T) {
		// "capital" non contiene la keyword "api" come parola
		s := a.Analyze(RoleGeneral, "capital")
		assert.True(t, s.Default)
	})

	t.Run("phrases", func(t *testing.T) {
		s := a.Analyze(RoleGeneral, "Give me the answer in short form")
		assert.Greater(t, s.Weights[CategoryConcise], 0.0)
	})

	t.Run("role hints without text signals", func(t *testing.T) {
		s := a.Analyze(RoleCFO, "hello there")
		assert.False(t, s.Default)
		assert.InDelta(t, 0.5, s.Weights[CategoryFinancial], 1e-9)
		assert.Equal(t, []Category{CategoryFinancial, CategoryAnalysis, CategoryConcise}, s.Detected())
	})

	t.Run("balanced default", func(t *testing.T) {
		s := a.Analyze(RoleGeneral, "hello there")
		assert.True(t, s.Default)
		assert.Len(t, s.Weights, len(AllCategories()))
		assert.Len(t, s.Detected(), len(AllCategories()))
	})
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Financial ")
	require.NoError(t, err)
	assert.Equal(t, CategoryFinancial, c)

	_, err = ParseCategory("legal")
	assert.Error(t, err)
}

func TestExtractHandoff(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
		ok     bool
	}{
		{"present", "Analysis done.\nNEXT AGENT QUESTION: What should we write?", "What should we write?", true},
		{"first occurrence", "x NEXT AGENT QUESTION: first NEXT AGENT QUESTION: second", "first NEXT AGENT QUESTION: second", true},
		{"missing", "Analysis done without marker", "", false},
		{"empty remainder", "Analysis done. NEXT AGENT QUESTION:   \n", "", false},
		{"lowercase marker is not accepted", "next agent question: hi", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractHandoff(tt.output, DefaultHandoffMarker)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := ExtractHandoff("anything", "")
	assert.False(t, ok)
}

func TestMarkerExtractor(t *testing.T) {
	extract := MarkerExtractor("HANDOFF>>")
	got, ok := extract("done HANDOFF>> continue")
	assert.True(t, ok)
	assert.Equal(t, "continue", got)

	def := MarkerExtractor("")
	_, ok = def("done HANDOFF>> continue")
	assert.False(t, ok)
}

func TestParseBackendOverride(t *testing.T) {
	tests := []struct {
		input   string
		backend string
		rest    string
	}{
		{"@claude: review this", "anthropic", "review this"},
		{"@Anthropic:review", "anthropic", "review"},
		{"  @gpt: plan", "openai", "plan"},
		{"@openai: plan", "openai", "plan"},
		{"@gemini: research", "gemini", "research"},
		{"plain input", "", "plain input"},
		{"mail me @claude: later", "", "mail me @claude: later"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			backend, rest := ParseBackendOverride(tt.input)
			assert.Equal(t, tt.backend, backend)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestBuildMessages(t *testing.T) {
	history := []Turn{
		{Role: RoleAnalyst, Output: "one"},
		{Role: RoleResearcher, Output: "two"},
		{Role: RoleWriter, Output: "three"},
		{Role: RoleCSA, Output: "four"},
	}

	msgs := BuildMessages(PromptInput{
		Role:    RoleCFO,
		Input:   "What about revenue?",
		History: history,
		Window:  3,
	})

	require.Len(t, msgs, 5)
	assert.Equal(t, providers.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Chief Financial Agent")
	assert.Contains(t, msgs[0].Content, HandoffInstruction(DefaultHandoffMarker))
	assert.Equal(t, "Previous context from researcher: two", msgs[1].Content)
	assert.Equal(t, "Previous context from csa: four", msgs[3].Content)
	assert.Equal(t, providers.Message{Role: providers.RoleUser, Content: "What about revenue?"}, msgs[4])

	final := BuildMessages(PromptInput{Role: RoleRefiner, Input: "wrap up", Final: true, Window: 0, History: history})
	require.Len(t, final, 2)
	assert.NotContains(t, final[0].Content, DefaultHandoffMarker)
}
