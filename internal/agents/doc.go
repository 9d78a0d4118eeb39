// Package agents definisce i ruoli degli agenti OperatorOS e tutto ciò che
// serve a preparare un turno: profili (prompt, parametri di generazione,
// affinità di categoria), analisi dei segnali di task, costruzione dei
// messaggi ed estrazione del testo di hand-off.
//
// I ruoli formano un insieme chiuso:
//
//	role, err := agents.ParseRole("financial advisor") // agents.RoleCFO
//	profile := agents.ProfileFor(role)
//
// Il contratto di hand-off è isolato in ExtractHandoff: un agente non finale
// termina la risposta con il marker (di default "NEXT AGENT QUESTION:")
// seguito dal testo per l'agente successivo.
//
//	next, ok := agents.ExtractHandoff(output, agents.DefaultHandoffMarker)
//
// Le pipeline predefinite sono "core", "extended" e "full".
package agents
