package entities

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/goliatone/go-crmsync/core"
)

func TestTaskMapping(t *testing.T) {
	h := newHarness(t)
	due := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	remote := h.taskSync.MapLocalToRemote(core.Task{
		Description: "Call about gutters",
		Status:      core.TaskStatusCompleted,
		DueDate:     &due,
		AssignedTo:  "user_1",
	}, "ct_1")
	if remote.Title != DefaultTaskTitle || remote.Body != "Call about gutters" || remote.ContactID != "ct_1" {
		t.Fatalf("unexpected mapping %+v", remote)
	}
	if !remote.Completed || remote.AssignedTo != "user_1" || !remote.DueDate.Equal(due) {
		t.Fatalf("unexpected completion fields %+v", remote)
	}

	local := h.taskSync.MapRemoteToLocal(RemoteTask{ID: "tk_1", Title: "Quote", Completed: false})
	if local.RemoteID != "tk_1" || local.Status != core.TaskStatusPending {
		t.Fatalf("unexpected reverse mapping %+v", local)
	}
}

func TestTaskPushSkipsWithoutBoundClient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.taskSync.Push(ctx, core.Task{SyncState: core.SyncState{LocalID: "t_1"}})
	if err != nil || !result.Skipped || result.Reason != "task has no client" {
		t.Fatalf("expected skip without client, got %+v err=%v", result, err)
	}

	result, err = h.taskSync.Push(ctx, core.Task{SyncState: core.SyncState{LocalID: "t_2"}, ClientID: "missing"})
	if err != nil || !result.Skipped {
		t.Fatalf("expected skip for unknown client, got %+v err=%v", result, err)
	}

	h.crm.on("POST", "/contacts/", 500, `{"message":"boom"}`)
	h.saveClient(t, core.Client{SyncState: core.SyncState{LocalID: "c_1"}, Name: "Unbindable"})
	task := core.Task{SyncState: core.SyncState{LocalID: "t_3", SyncStatus: core.SyncStatusUnsynced}, ClientID: "c_1"}
	if err := h.tasks.Save(ctx, task); err != nil {
		t.Fatalf("save task: %v", err)
	}
	result, err = h.taskSync.Push(ctx, task)
	if err != nil || !result.Skipped {
		t.Fatalf("expected skip when client cannot bind, got %+v err=%v", result, err)
	}
	stored, _ := h.tasks.Get(ctx, "t_3")
	if stored.SyncStatus != core.SyncStatusUnsynced {
		t.Fatalf("expected skipped task to stay unsynced, got %s", stored.SyncStatus)
	}
	if h.crm.count("POST", "/contacts/c_1/tasks") != 0 {
		t.Fatalf("expected no task request")
	}
}

func TestTaskOfflineCreateBindsAfterReconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.saveClient(t, core.Client{SyncState: core.SyncState{LocalID: "c_1", RemoteID: "ct_1", SyncStatus: core.SyncStatusSynced}, Name: "Bound"})
	if _, err := h.api.SetOffline(ctx, true); err != nil {
		t.Fatalf("set offline: %v", err)
	}
	task := core.Task{
		SyncState: core.SyncState{LocalID: "t_1", SyncStatus: core.SyncStatusUnsynced},
		ClientID:  "c_1",
		Title:     "Measure windows",
	}
	if err := h.tasks.Save(ctx, task); err != nil {
		t.Fatalf("save task: %v", err)
	}

	result, err := h.taskSync.Push(ctx, task)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !result.Queued || result.Operation != core.OperationCreate {
		t.Fatalf("expected queued create, got %+v", result)
	}
	pending, _ := h.tasks.Get(ctx, "t_1")
	if pending.SyncStatus != core.SyncStatusPending {
		t.Fatalf("expected pending task, got %s", pending.SyncStatus)
	}

	h.crm.on("POST", "/contacts/ct_1/tasks", 201, `{"task":{"id":"tk_1"}}`)
	flushed, err := h.api.SetOffline(ctx, false)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if flushed.Sent != 1 || flushed.Remaining != 0 {
		t.Fatalf("unexpected flush result %+v", flushed)
	}
	synced, _ := h.tasks.Get(ctx, "t_1")
	if synced.RemoteID != "tk_1" || synced.SyncStatus != core.SyncStatusSynced {
		t.Fatalf("expected bound synced task, got %+v", synced.SyncState)
	}

	calls := h.crm.requests()
	var body RemoteTask
	if err := json.Unmarshal(calls[len(calls)-1].Body, &body); err != nil {
		t.Fatalf("decode task body: %v", err)
	}
	if body.ContactID != "ct_1" || body.Title != "Measure windows" {
		t.Fatalf("unexpected task body %+v", body)
	}
}

func TestTaskUpdateUsesTaskEndpointAndSyncPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.crm.on("PUT", "/tasks/tk_1", 200, `{"task":{"id":"tk_1"}}`)
	h.saveClient(t, core.Client{SyncState: core.SyncState{LocalID: "c_1", RemoteID: "ct_1", SyncStatus: core.SyncStatusSynced}})
	for _, task := range []core.Task{
		{SyncState: core.SyncState{LocalID: "t_1", RemoteID: "tk_1", SyncStatus: core.SyncStatusFailed}, ClientID: "c_1"},
		{SyncState: core.SyncState{LocalID: "t_2", RemoteID: "tk_2", SyncStatus: core.SyncStatusSynced}, ClientID: "c_1"},
	} {
		if err := h.tasks.Save(ctx, task); err != nil {
			t.Fatalf("save task: %v", err)
		}
	}

	result, err := h.taskSync.SyncPending(ctx)
	if err != nil {
		t.Fatalf("sync pending: %v", err)
	}
	if result.Total != 1 || result.Synced != 1 {
		t.Fatalf("expected only the failed task pushed, got %+v", result)
	}
	if h.crm.count("PUT", "/tasks/tk_1") != 1 || h.crm.count("PUT", "/tasks/tk_2") != 0 {
		t.Fatalf("unexpected update calls %+v", h.crm.requests())
	}
}

func TestTaskPullMarksCompleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.tasks.Save(ctx, core.Task{
		SyncState: core.SyncState{LocalID: "t_1", RemoteID: "tk_1", SyncStatus: core.SyncStatusSynced},
		Title:     "Old",
		Status:    core.TaskStatusPending,
	}); err != nil {
		t.Fatalf("save task: %v", err)
	}

	at := h.clock.advance(time.Minute)
	due := at.Add(24 * time.Hour)
	evt := event(t, core.EventTaskUpdated, "tk_1", core.TaskPayload{ID: "tk_1", Title: "New", Description: "done on site", Completed: true, DueDate: &due}, at)
	if err := h.taskSync.Pull(ctx, evt); err != nil {
		t.Fatalf("pull: %v", err)
	}
	task, _ := h.tasks.Get(ctx, "t_1")
	if task.Title != "New" || task.Description != "done on site" || !task.DueDate.Equal(due) {
		t.Fatalf("unexpected pulled fields %+v", task)
	}
	if task.Status != core.TaskStatusCompleted || task.CompletedAt == nil || !task.CompletedAt.Equal(at) {
		t.Fatalf("expected completed task, got %+v", task)
	}
	if !task.LastSyncedAt.Equal(at) {
		t.Fatalf("expected last synced %s, got %s", at, task.LastSyncedAt)
	}
}
