package agents

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole il ruolo richiesto non appartiene all'insieme supportato
var ErrUnknownRole = errors.New("unknown agent role")

// ErrUnknownPipeline la pipeline richiesta non esiste
var ErrUnknownPipeline = errors.New("unknown pipeline")

// Role identifica un agente specializzato
type Role string

const (
	RoleAnalyst    Role = "analyst"
	RoleResearcher Role = "researcher"
	RoleWriter     Role = "writer"
	RoleRefiner    Role = "refiner"
	RoleCSA        Role = "csa" // Chief Strategy Agent
	RoleCOO        Role = "coo" // Chief Operating Agent
	RoleCTO        Role = "cto" // Chief Technology Agent
	RoleCFO        Role = "cfo" // Chief Financial Agent
	RoleCMO        Role = "cmo" // Chief Marketing Agent
	RoleCPO        Role = "cpo" // Chief People Agent
	RoleCIO        Role = "cio" // Chief Intelligence Agent
	RoleGeneral    Role = "general"
)

// AllRoles elenca i ruoli supportati
func AllRoles() []Role {
	return []Role{
		RoleAnalyst, RoleResearcher, RoleWriter, RoleRefiner,
		RoleCSA, RoleCOO, RoleCTO, RoleCFO, RoleCMO, RoleCPO, RoleCIO,
		RoleGeneral,
	}
}

// roleAliases nomi alternativi accettati in input
var roleAliases = map[string]Role{
	"business analyst":          RoleAnalyst,
	"strategic researcher":      RoleResearcher,
	"research":                  RoleResearcher,
	"communications writer":     RoleWriter,
	"strategic refiner":         RoleRefiner,
	"chief strategy agent":      RoleCSA,
	"chief strategy officer":    RoleCSA,
	"strategy advisor":          RoleCSA,
	"chief operating agent":     RoleCOO,
	"chief operating officer":   RoleCOO,
	"operations advisor":        RoleCOO,
	"chief technology agent":    RoleCTO,
	"chief technology officer":  RoleCTO,
	"technical advisor":         RoleCTO,
	"chief financial agent":     RoleCFO,
	"chief financial officer":   RoleCFO,
	"financial advisor":         RoleCFO,
	"financial analyst":         RoleCFO,
	"chief marketing agent":     RoleCMO,
	"chief marketing officer":   RoleCMO,
	"marketing advisor":         RoleCMO,
	"chief people agent":        RoleCPO,
	"chief people officer":      RoleCPO,
	"chief intelligence agent":  RoleCIO,
	"chief information officer": RoleCIO,
	"assistant":                 RoleGeneral,
}

// ParseRole converte un tag testuale nel ruolo corrispondente
func ParseRole(s string) (Role, error) {
	key := normalize(s)
	if key == "" {
		return "", fmt.Errorf("%w: empty", ErrUnknownRole)
	}
	for _, r := range AllRoles() {
		if string(r) == key {
			return r, nil
		}
	}
	if r, ok := roleAliases[key]; ok {
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// ParseRoles converte una lista di tag preservandone l'ordine
func ParseRoles(tags []string) ([]Role, error) {
	roles := make([]Role, 0, len(tags))
	for _, tag := range tags {
		r, err := ParseRole(tag)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, nil
}

// RoleStrings converte i ruoli nei rispettivi tag
func RoleStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Pipeline predefinite
const (
	PipelineCore     = "core"
	PipelineExtended = "extended"
	PipelineFull     = "full"
)

var pipelines = map[string][]Role{
	PipelineCore: {RoleAnalyst, RoleResearcher, RoleWriter, RoleRefiner},
	PipelineExtended: {
		RoleAnalyst, RoleResearcher, RoleWriter,
		RoleCSA, RoleCTO, RoleCFO,
		RoleRefiner,
	},
	PipelineFull: {
		RoleAnalyst, RoleResearcher, RoleWriter,
		RoleCSA, RoleCOO, RoleCTO, RoleCFO, RoleCMO, RoleCPO, RoleCIO,
		RoleRefiner,
	},
}

// Pipeline restituisce una copia della lista di ruoli di una pipeline
func Pipeline(name string) ([]Role, error) {
	roles, ok := pipelines[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, name)
	}
	return append([]Role(nil), roles...), nil
}
