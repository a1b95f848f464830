// Package lifecycle models the verification lifecycle of a bank mutation.
//
// A mutation starts UNMATCHED, moves to MATCHED_PENDING or MATCHED_AUTO when
// a matching strategy finds a resident, and from there to VERIFIED or
// OMITTED through explicit review actions. OMITTED mutations can always be
// restored back to UNMATCHED; nothing is hard-deleted.
package lifecycle

import "fmt"

// State is the verification state of a bank mutation.
type State string

const (
	StateUnmatched      State = "UNMATCHED"
	StateMatchedPending State = "MATCHED_PENDING"
	StateMatchedAuto    State = "MATCHED_AUTO"
	StateVerified       State = "VERIFIED"
	StateOmitted        State = "OMITTED"
)

// Action tags a state-changing operation in the audit log.
type Action string

const (
	ActionAutoMatch      Action = "AUTO_MATCH"
	ActionManualConfirm  Action = "MANUAL_CONFIRM"
	ActionManualOverride Action = "MANUAL_OVERRIDE"
	ActionManualOmit     Action = "MANUAL_OMIT"
	ActionSystemUnmatch  Action = "SYSTEM_UNMATCH"
)

// TransitionError reports a rejected state transition and the violated
// precondition. It is returned synchronously; no partial state is written.
type TransitionError struct {
	From   State
	Action Action
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot apply %s from state %s: %s", e.Action, e.From, e.Reason)
}

// VerifyGuard carries the data-completeness facts required to verify a
// mutation. Both must hold before a mutation may be marked VERIFIED.
type VerifyGuard struct {
	HasResident      bool
	ResidentHasHouse bool
}

// Verify validates the transition to VERIFIED.
func Verify(from State, guard VerifyGuard) (State, error) {
	if from == StateVerified {
		return from, &TransitionError{From: from, Action: ActionManualConfirm, Reason: "mutation is already verified"}
	}
	if from != StateMatchedPending && from != StateMatchedAuto {
		return from, &TransitionError{From: from, Action: ActionManualConfirm, Reason: "mutation has no match to verify"}
	}
	if !guard.HasResident {
		return from, &TransitionError{From: from, Action: ActionManualConfirm, Reason: "mutation has no matched resident"}
	}
	if !guard.ResidentHasHouse {
		return from, &TransitionError{From: from, Action: ActionManualConfirm, Reason: "matched resident has no recorded house number"}
	}
	return StateVerified, nil
}

// Omit validates the transition to OMITTED. Omission always requires a
// non-empty reason and is reversible via Restore.
func Omit(from State, reason string) (State, error) {
	if from == StateOmitted {
		return from, &TransitionError{From: from, Action: ActionManualOmit, Reason: "mutation is already omitted"}
	}
	if reason == "" {
		return from, &TransitionError{From: from, Action: ActionManualOmit, Reason: "omission requires a reason"}
	}
	return StateOmitted, nil
}

// Restore validates the transition back from OMITTED. The restored mutation
// returns to UNMATCHED with all match fields cleared.
func Restore(from State) (State, error) {
	if from != StateOmitted {
		return from, &TransitionError{From: from, Action: ActionSystemUnmatch, Reason: "only omitted mutations can be restored"}
	}
	return StateUnmatched, nil
}

// ManualMatch validates a manual resident assignment. A manual match
// overrides any prior automated match; omitted mutations must be restored
// first. When verified is true the mutation lands directly in VERIFIED.
func ManualMatch(from State, verified bool) (State, error) {
	if from == StateOmitted {
		return from, &TransitionError{From: from, Action: ActionManualOverride, Reason: "omitted mutations must be restored before matching"}
	}
	if verified {
		return StateVerified, nil
	}
	return StateMatchedPending, nil
}

// AutoMatch returns the state for a freshly matched mutation given its
// confidence and the auto-match threshold.
func AutoMatch(confidence, threshold float64) State {
	if confidence >= threshold {
		return StateMatchedAuto
	}
	return StateMatchedPending
}

// IsMatched reports whether the state carries a resident match.
func IsMatched(s State) bool {
	return s == StateMatchedPending || s == StateMatchedAuto || s == StateVerified
}
