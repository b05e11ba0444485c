package core

import (
	"testing"
	"time"
)

func TestResolveConflictAppliesRemoteWithoutLocalEdits(t *testing.T) {
	synced := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	local := SyncState{LocalID: "cl_1", RemoteID: "ct_1", SyncStatus: SyncStatusSynced, LastSyncedAt: &synced}

	outcome := ResolveConflict(ConflictInput{Policy: ConflictManual, Local: local, RemoteAt: synced.Add(time.Hour)})
	if outcome.Conflict || outcome.Decision != DecisionApplyRemote {
		t.Fatalf("expected plain apply, got %+v", outcome)
	}
}

func TestResolveConflictPolicies(t *testing.T) {
	synced := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	edited := synced.Add(30 * time.Minute)
	local := SyncState{
		LocalID:        "cl_1",
		RemoteID:       "ct_1",
		SyncStatus:     SyncStatusUnsynced,
		LastSyncedAt:   &synced,
		LastModifiedAt: &edited,
	}

	cases := []struct {
		policy   ConflictPolicy
		remoteAt time.Time
		want     ConflictDecision
	}{
		{ConflictRemoteWins, synced.Add(10 * time.Minute), DecisionApplyRemote},
		{ConflictLocalWins, synced.Add(time.Hour), DecisionKeepLocal},
		{ConflictManual, synced.Add(time.Hour), DecisionHold},
		{ConflictNewestWins, synced.Add(10 * time.Minute), DecisionKeepLocal},
		{ConflictNewestWins, synced.Add(time.Hour), DecisionApplyRemote},
		{"", synced.Add(10 * time.Minute), DecisionKeepLocal},
	}
	for _, tc := range cases {
		outcome := ResolveConflict(ConflictInput{Policy: tc.policy, Local: local, RemoteAt: tc.remoteAt})
		if !outcome.Conflict || outcome.Decision != tc.want {
			t.Fatalf("policy %q remote %v: expected %s, got %+v", tc.policy, tc.remoteAt, tc.want, outcome)
		}
	}
}

func TestResolveConflictToleratesClockSkew(t *testing.T) {
	synced := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	edited := synced.Add(30 * time.Minute)
	local := SyncState{LocalID: "cl_1", SyncStatus: SyncStatusPending, LastSyncedAt: &synced, LastModifiedAt: &edited}

	outcome := ResolveConflict(ConflictInput{
		Policy:    ConflictNewestWins,
		Local:     local,
		RemoteAt:  edited.Add(-time.Minute),
		Tolerance: 2 * time.Minute,
	})
	if outcome.Decision != DecisionApplyRemote {
		t.Fatalf("expected remote inside tolerance to win, got %+v", outcome)
	}
}

func TestResolveConflictHoldsEntityAwaitingResolution(t *testing.T) {
	local := SyncState{LocalID: "cl_1", SyncStatus: SyncStatusConflict}
	outcome := ResolveConflict(ConflictInput{Policy: ConflictRemoteWins, Local: local, RemoteAt: time.Now()})
	if outcome.Decision != DecisionHold {
		t.Fatalf("expected hold, got %+v", outcome)
	}
}

func TestExponentialBackoffCapsAtMax(t *testing.T) {
	backoff := ExponentialBackoff{Initial: time.Second, Max: 10 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, expected := range want {
		if got := backoff.NextDelay(i + 1); got != expected {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, expected, got)
		}
	}
	if got := (ExponentialBackoff{}).NextDelay(1); got != time.Second {
		t.Fatalf("expected default initial delay, got %v", got)
	}
}

func TestConflictKeepValid(t *testing.T) {
	if !KeepLocal.Valid() || !KeepRemote.Valid() || ConflictKeep("both").Valid() {
		t.Fatalf("unexpected keep validation")
	}
}
