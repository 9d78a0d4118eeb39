package agents

import (
	"strings"
)

// DefaultHandoffMarker marker che precede il testo per l'agente successivo
const DefaultHandoffMarker = "NEXT AGENT QUESTION:"

// HandoffExtractor estrae il testo di hand-off da una risposta
type HandoffExtractor func(output string) (string, bool)

// ExtractHandoff restituisce il testo che segue la prima occorrenza del marker.
// Un marker assente o seguito solo da spazi non è un hand-off valido.
func ExtractHandoff(output, marker string) (string, bool) {
	if marker == "" {
		return "", false
	}
	idx := strings.Index(output, marker)
	if idx < 0 {
		return "", false
	}
	next := strings.TrimSpace(output[idx+len(marker):])
	if next == "" {
		return "", false
	}
	return next, true
}

// MarkerExtractor crea un HandoffExtractor per il marker indicato
func MarkerExtractor(marker string) HandoffExtractor {
	if marker == "" {
		marker = DefaultHandoffMarker
	}
	return func(output string) (string, bool) {
		return ExtractHandoff(output, marker)
	}
}

// backendPrefixes prefissi di input che forzano un backend
var backendPrefixes = []struct {
	prefix  string
	backend string
}{
	{"@claude:", "anthropic"},
	{"@anthropic:", "anthropic"},
	{"@openai:", "openai"},
	{"@gpt:", "openai"},
	{"@gemini:", "gemini"},
}

// ParseBackendOverride riconosce un prefisso @backend: all'inizio dell'input.
// Restituisce il backend forzato (vuoto se assente) e l'input senza prefisso.
func ParseBackendOverride(input string) (backend string, rest string) {
	trimmed := strings.TrimLeft(input, " \t\r\n")
	for _, p := range backendPrefixes {
		if len(trimmed) >= len(p.prefix) && strings.EqualFold(trimmed[:len(p.prefix)], p.prefix) {
			return p.backend, strings.TrimSpace(trimmed[len(p.prefix):])
		}
	}
	return "", input
}
