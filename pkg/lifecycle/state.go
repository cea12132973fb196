package lifecycle

import (
	"fmt"
	"slices"
)

// State is the lifecycle state of a governed record.
type State string

const (
	// StateActive records are readable and governed by their retention rule.
	StateActive State = "active"
	// StatePendingReview records were flagged by the audit scan and wait for an operator.
	StatePendingReview State = "pending_review"
	// StateHeld records are covered by at least one unreleased legal hold.
	StateHeld State = "held"
	// StateAnonymizing records are expired and waiting to be folded into an aggregate.
	StateAnonymizing State = "anonymizing"
	// StateAnonymized records were erased after a covering aggregate was published.
	StateAnonymized State = "anonymized"
	// StatePendingDeletion records are being erased from every store.
	StatePendingDeletion State = "pending_deletion"
	// StateDeleted records were erased and verified.
	StateDeleted State = "deleted"
)

// AllStates lists every state in declaration order.
var AllStates = []State{
	StateActive,
	StatePendingReview,
	StateHeld,
	StateAnonymizing,
	StateAnonymized,
	StatePendingDeletion,
	StateDeleted,
}

// transitions is the allowed transition table.
var transitions = map[State][]State{
	StateActive:          {StateHeld, StatePendingReview, StateAnonymizing, StatePendingDeletion},
	StatePendingReview:   {StateActive, StateHeld, StatePendingDeletion},
	StateHeld:            {StateActive},
	StateAnonymizing:     {StateHeld, StateAnonymized},
	StatePendingDeletion: {StateHeld, StateDeleted},
	StateAnonymized:      nil,
	StateDeleted:         nil,
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDeleted || s == StateAnonymized
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	return slices.Contains(transitions[s], next)
}

// ParseState parses a state name.
func ParseState(v string) (State, error) {
	s := State(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown record state %q", v)
	}
	return s, nil
}

// Reason explains why an audit entry was written.
type Reason string

const (
	ReasonPolicyExpired     Reason = "policy-expired"
	ReasonConsentWithdrawn  Reason = "consent-withdrawn"
	ReasonLegalHoldReleased Reason = "legal-hold-released"
	ReasonManualOverride    Reason = "manual-override"
	ReasonLegalHoldPlaced   Reason = "legal-hold-placed"
	ReasonAnomalyFlagged    Reason = "anomaly-flagged"
)
