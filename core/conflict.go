package core

import (
	"time"
)

type ConflictDecision string

const (
	DecisionApplyRemote ConflictDecision = "apply-remote"
	DecisionKeepLocal   ConflictDecision = "keep-local"
	DecisionHold        ConflictDecision = "hold"
)

type ConflictInput struct {
	Policy    ConflictPolicy
	Local     SyncState
	RemoteAt  time.Time
	Tolerance time.Duration
}

type ConflictOutcome struct {
	Conflict bool
	Decision ConflictDecision
	Reason   string
}

// DetectConflict reports whether both sides changed since the last sync.
func DetectConflict(local SyncState, remoteAt time.Time) bool {
	if !local.HasLocalEdits() {
		return false
	}
	if local.LastSyncedAt == nil || remoteAt.IsZero() {
		return true
	}
	return remoteAt.After(*local.LastSyncedAt)
}

// ResolveConflict decides how an inbound change merges with local state.
// An entity already in conflict is held until it is resolved explicitly.
func ResolveConflict(in ConflictInput) ConflictOutcome {
	if in.Local.SyncStatus == SyncStatusConflict {
		return ConflictOutcome{Conflict: true, Decision: DecisionHold, Reason: "awaiting manual resolution"}
	}
	if !DetectConflict(in.Local, in.RemoteAt) {
		return ConflictOutcome{Decision: DecisionApplyRemote}
	}

	policy := in.Policy
	if !policy.Valid() {
		policy = ConflictNewestWins
	}
	switch policy {
	case ConflictRemoteWins:
		return ConflictOutcome{Conflict: true, Decision: DecisionApplyRemote, Reason: "remote wins"}
	case ConflictLocalWins:
		return ConflictOutcome{Conflict: true, Decision: DecisionKeepLocal, Reason: "local wins"}
	case ConflictManual:
		return ConflictOutcome{Conflict: true, Decision: DecisionHold, Reason: "local and remote both changed"}
	}

	localAt := in.Local.LastModifiedAt
	if localAt == nil {
		localAt = in.Local.LastSyncedAt
	}
	if localAt == nil || in.RemoteAt.IsZero() {
		return ConflictOutcome{Conflict: true, Decision: DecisionApplyRemote, Reason: "remote newer"}
	}
	tolerance := in.Tolerance
	if tolerance < 0 {
		tolerance = 0
	}
	if localAt.After(in.RemoteAt.Add(tolerance)) {
		return ConflictOutcome{Conflict: true, Decision: DecisionKeepLocal, Reason: "local newer"}
	}
	return ConflictOutcome{Conflict: true, Decision: DecisionApplyRemote, Reason: "remote newer"}
}

// ExponentialBackoff doubles Initial per attempt, capped at Max.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialBackoff) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Minute
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

// ConflictKeep selects the side kept by a manual conflict resolution.
type ConflictKeep string

const (
	KeepLocal  ConflictKeep = "local"
	KeepRemote ConflictKeep = "remote"
)

func (k ConflictKeep) Valid() bool {
	return k == KeepLocal || k == KeepRemote
}
