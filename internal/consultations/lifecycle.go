package consultations

import (
	"github.com/lexconnect/lexconnect-backend/pkg/models"
)

// Actor is the caller's relation to a consultation row, resolved by the
// store before any policy check. A lawyer is matched through their profile
// id, never through the raw user id.
type Actor int

const (
	ActorNone Actor = iota // no relation to the row
	ActorClient
	ActorLawyer
	ActorAdmin
)

// transitions is the full status graph. Completed and cancelled rows have no
// outgoing edges.
var transitions = map[models.ConsultationStatus][]models.ConsultationStatus{
	models.ConsultationPendiente:  {models.ConsultationAceptada, models.ConsultationCancelada},
	models.ConsultationAceptada:   {models.ConsultationEnProceso, models.ConsultationCompletada, models.ConsultationCancelada},
	models.ConsultationEnProceso:  {models.ConsultationCompletada, models.ConsultationCancelada},
	models.ConsultationCompletada: {},
	models.ConsultationCancelada:  {},
}

type edge struct {
	from, to models.ConsultationStatus
}

// actorEdges authorizes each transition per actor. Admins may additionally
// cancel from any non-terminal state (handled in AllowedFor, not listed here).
var actorEdges = map[Actor]map[edge]bool{
	ActorClient: {
		{models.ConsultationPendiente, models.ConsultationCancelada}:  true,
		{models.ConsultationAceptada, models.ConsultationCancelada}:   true,
		{models.ConsultationEnProceso, models.ConsultationCancelada}:  true,
		{models.ConsultationAceptada, models.ConsultationCompletada}:  true,
		{models.ConsultationEnProceso, models.ConsultationCompletada}: true,
	},
	ActorLawyer: {
		{models.ConsultationPendiente, models.ConsultationAceptada}:   true, // accept
		{models.ConsultationPendiente, models.ConsultationCancelada}:  true, // reject
		{models.ConsultationAceptada, models.ConsultationEnProceso}:   true,
		{models.ConsultationAceptada, models.ConsultationCancelada}:   true,
		{models.ConsultationEnProceso, models.ConsultationCancelada}:  true,
		{models.ConsultationAceptada, models.ConsultationCompletada}:  true,
		{models.ConsultationEnProceso, models.ConsultationCompletada}: true,
	},
}

// ValidStatus reports whether s is one of the five consultation states.
func ValidStatus(s models.ConsultationStatus) bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no transition may ever leave s.
func IsTerminal(s models.ConsultationStatus) bool {
	edges, ok := transitions[s]
	return ok && len(edges) == 0
}

// CanTransition is a pure membership test on the status graph.
func CanTransition(from, to models.ConsultationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedFor reports whether the actor may trigger from→to. It assumes the
// edge itself is legal; callers check CanTransition first.
func AllowedFor(actor Actor, from, to models.ConsultationStatus) bool {
	if actor == ActorAdmin {
		// Admin override: cancel anything non-terminal, and drive any legal
		// edge through the generic update path.
		return CanTransition(from, to)
	}
	return actorEdges[actor][edge{from, to}]
}
