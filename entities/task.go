package entities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/outbound"
)

const (
	DefaultTaskTitle = "Follow-up Task"
	TaskPriorityHigh = "high"
)

type RemoteTask struct {
	ID         string     `json:"id,omitempty"`
	Title      string     `json:"title"`
	Body       string     `json:"body,omitempty"`
	ContactID  string     `json:"contactId,omitempty"`
	DueDate    *time.Time `json:"dueDate,omitempty"`
	Completed  bool       `json:"completed"`
	AssignedTo string     `json:"assignedTo,omitempty"`
}

// TaskSync keeps local tasks and CRM contact tasks aligned.
type TaskSync struct {
	*base
	tasks    TaskStore
	clients  ClientStore
	contacts *ContactSync
}

func NewTaskSync(cfg core.SyncConfig, tasks TaskStore, clients ClientStore, contacts *ContactSync, api Requester, opts ...Option) *TaskSync {
	tasksSync := &TaskSync{
		base:     newBase("crmsync.tasks", cfg, api, opts),
		tasks:    tasks,
		clients:  clients,
		contacts: contacts,
	}
	if api != nil {
		api.RegisterCompletion(core.EntityTask, tasksSync)
	}
	return tasksSync
}

func (s *TaskSync) MapLocalToRemote(task core.Task, contactID string) RemoteTask {
	title := strings.TrimSpace(task.Title)
	if title == "" {
		title = DefaultTaskTitle
	}
	remote := RemoteTask{
		Title:      title,
		Body:       strings.TrimSpace(task.Description),
		ContactID:  strings.TrimSpace(contactID),
		Completed:  task.Status == core.TaskStatusCompleted,
		AssignedTo: strings.TrimSpace(task.AssignedTo),
	}
	if task.DueDate != nil {
		remote.DueDate = timePtr(*task.DueDate)
	}
	return remote
}

func (s *TaskSync) MapRemoteToLocal(remote RemoteTask) core.Task {
	task := core.Task{
		SyncState:   core.SyncState{RemoteID: strings.TrimSpace(remote.ID)},
		Title:       strings.TrimSpace(remote.Title),
		Description: strings.TrimSpace(remote.Body),
		AssignedTo:  strings.TrimSpace(remote.AssignedTo),
		Status:      core.TaskStatusPending,
	}
	if remote.Completed {
		task.Status = core.TaskStatusCompleted
	}
	if remote.DueDate != nil {
		task.DueDate = timePtr(*remote.DueDate)
	}
	return task
}

func (s *TaskSync) Push(ctx context.Context, task core.Task) (PushResult, error) {
	startedAt := s.now()
	result, err := s.push(ctx, task)
	s.observer.Observe(ctx, "task_push", startedAt, err, map[string]any{
		"entity_kind": string(core.EntityTask),
		"local_id":    task.LocalID,
		"skipped":     result.Skipped,
		"queued":      result.Queued,
	})
	return result, err
}

func (s *TaskSync) push(ctx context.Context, task core.Task) (PushResult, error) {
	if s == nil || s.api == nil || s.tasks == nil || s.clients == nil {
		return PushResult{}, core.BadInputError("task sync is not configured", nil)
	}
	result := PushResult{LocalID: task.LocalID, RemoteID: task.RemoteID}
	if task.Deleted {
		result.Skipped, result.Reason = true, "task is deleted"
		return result, nil
	}
	if strings.TrimSpace(task.ClientID) == "" {
		result.Skipped, result.Reason = true, "task has no client"
		return result, nil
	}
	client, err := s.clients.Get(ctx, task.ClientID)
	if err != nil {
		if core.IsNotFound(err) {
			result.Skipped, result.Reason = true, "client "+task.ClientID+" not found"
			return result, nil
		}
		return result, err
	}
	if !client.Bound() && client.SyncStatus != core.SyncStatusPending && s.contacts != nil {
		pushed, err := s.contacts.Push(ctx, client)
		if err == nil {
			client.RemoteID = pushed.RemoteID
		}
	}
	if !client.Bound() {
		result.Skipped, result.Reason = true, "client "+client.LocalID+" is not synced to the crm"
		return result, nil
	}

	body, err := json.Marshal(s.MapLocalToRemote(task, client.RemoteID))
	if err != nil {
		return result, core.ApplyError(err, "encode task", map[string]any{"local_id": task.LocalID})
	}
	req := core.OutboundRequest{
		Body:       body,
		EntityKind: core.EntityTask,
		EntityID:   task.LocalID,
		Operation:  requestOperation(task.SyncState),
	}
	if task.Bound() {
		req.Method, req.Endpoint = http.MethodPut, "/tasks/"+url.PathEscape(task.RemoteID)
	} else {
		req.Method, req.Endpoint = http.MethodPost, "/contacts/"+url.PathEscape(client.RemoteID)+"/tasks"
	}
	result.Operation = req.Operation

	task.MarkPending()
	if err := s.tasks.Save(ctx, task); err != nil {
		return result, err
	}
	res, err := s.api.Do(ctx, req)
	if err != nil {
		return result, s.markFailed(ctx, task, err)
	}
	if res.Queued {
		result.Queued = true
		return result, nil
	}
	updated, err := s.applyCompletion(ctx, req, res)
	if err != nil {
		return result, err
	}
	result.RemoteID = updated.RemoteID
	return result, nil
}

func (s *TaskSync) PushAll(ctx context.Context, tasks []core.Task) (BatchPushResult, error) {
	return pushAll(ctx, s.base, tasks, func(t core.Task) string { return t.LocalID }, s.Push)
}

// SyncPending pushes every task that still has local changes.
func (s *TaskSync) SyncPending(ctx context.Context) (BatchPushResult, error) {
	all, err := s.tasks.List(ctx)
	if err != nil {
		return BatchPushResult{}, err
	}
	pending := make([]core.Task, 0, len(all))
	for _, task := range all {
		if needsPush(task.SyncState) {
			pending = append(pending, task)
		}
	}
	return s.PushAll(ctx, pending)
}

func (s *TaskSync) Pull(ctx context.Context, event core.CanonicalEvent) error {
	var payload core.TaskPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	remoteID := strings.TrimSpace(payload.ID)
	if remoteID == "" {
		remoteID = strings.TrimSpace(event.SourceID)
	}
	if remoteID == "" {
		return core.TransformError("task event has no remote id", map[string]any{"event_id": event.ID})
	}

	task, found, err := s.tasks.FindByRemoteID(ctx, remoteID)
	if err != nil {
		return core.ApplyError(err, "find task", map[string]any{"remote_id": remoteID})
	}
	if !found {
		s.observer.Debug(ctx, "task not bound to a local task", map[string]any{"remote_id": remoteID})
		return nil
	}

	remoteAt := eventTime(payload.DateUpdated, event)
	if s.skipStale(ctx, core.EntityTask, task.SyncState, event, remoteAt) {
		return nil
	}
	outcome := s.resolve(task.SyncState, remoteAt)
	s.logOutcome(ctx, core.EntityTask, task.LocalID, outcome)
	switch outcome.Decision {
	case core.DecisionHold:
		if task.SyncStatus != core.SyncStatusConflict {
			task.MarkConflict(outcome.Reason)
			if err := s.tasks.Save(ctx, task); err != nil {
				return core.ApplyError(err, "save task", map[string]any{"local_id": task.LocalID})
			}
		}
		return core.ConflictError(core.EntityTask, task.LocalID, outcome.Reason)
	case core.DecisionKeepLocal:
		return nil
	}

	applyRemoteTask(&task, RemoteTask{
		Title:      payload.Title,
		Body:       payload.Description,
		DueDate:    payload.DueDate,
		Completed:  payload.Completed,
		AssignedTo: payload.AssignedTo,
	}, remoteAt)
	task.MarkSynced(remoteAt)
	if err := s.tasks.Save(ctx, task); err != nil {
		return core.ApplyError(err, "save task", map[string]any{"local_id": task.LocalID})
	}
	return nil
}

func (s *TaskSync) Delete(ctx context.Context, localID string) error {
	task, err := s.tasks.Get(ctx, localID)
	if err != nil {
		return err
	}
	if !task.Bound() {
		return s.tasks.Delete(ctx, task.LocalID)
	}
	task.Deleted = true
	task.MarkPending()
	if err := s.tasks.Save(ctx, task); err != nil {
		return err
	}
	req := core.OutboundRequest{
		Method:     http.MethodDelete,
		Endpoint:   "/tasks/" + url.PathEscape(task.RemoteID),
		EntityKind: core.EntityTask,
		EntityID:   task.LocalID,
		Operation:  core.OperationDelete,
	}
	res, err := s.api.Do(ctx, req)
	if err != nil {
		return s.markFailed(ctx, task, err)
	}
	if res.Queued {
		return nil
	}
	_, err = s.applyCompletion(ctx, req, res)
	return err
}

func (s *TaskSync) Unlink(ctx context.Context, localID string) error {
	task, err := s.tasks.Get(ctx, localID)
	if err != nil {
		return err
	}
	task.Unlink()
	return s.tasks.Save(ctx, task)
}

func (s *TaskSync) Resolve(ctx context.Context, localID string, keep core.ConflictKeep) error {
	task, err := s.tasks.Get(ctx, localID)
	if err != nil {
		return err
	}
	if task.SyncStatus != core.SyncStatusConflict {
		return core.BadInputError("task is not in conflict", map[string]any{"local_id": localID})
	}
	switch keep {
	case core.KeepLocal:
		task.MarkPending()
		_, err := s.Push(ctx, task)
		return err
	case core.KeepRemote:
		res, err := s.api.Do(ctx, core.OutboundRequest{Method: http.MethodGet, Endpoint: "/tasks/" + url.PathEscape(task.RemoteID)})
		if err != nil {
			return err
		}
		if res.Queued {
			return core.NetworkError(nil, "crm unavailable for conflict resolution", map[string]any{"local_id": localID})
		}
		var envelope struct {
			Task RemoteTask `json:"task"`
		}
		if err := res.Decode(&envelope); err != nil {
			return err
		}
		now := s.now()
		applyRemoteTask(&task, envelope.Task, now)
		task.MarkSynced(now)
		return s.tasks.Save(ctx, task)
	default:
		return core.BadInputError("conflict keep must be local or remote", map[string]any{"keep": string(keep)})
	}
}

func (s *TaskSync) Complete(ctx context.Context, req core.OutboundRequest, res outbound.Response, cause error) error {
	if cause != nil {
		task, err := s.tasks.Get(ctx, req.EntityID)
		if err != nil {
			return err
		}
		task.MarkFailed(cause.Error())
		return s.tasks.Save(ctx, task)
	}
	_, err := s.applyCompletion(ctx, req, res)
	return err
}

func (s *TaskSync) applyCompletion(ctx context.Context, req core.OutboundRequest, res outbound.Response) (core.Task, error) {
	task, err := s.tasks.Get(ctx, req.EntityID)
	if err != nil {
		return core.Task{}, err
	}
	if req.Operation == core.OperationDelete {
		return task, s.tasks.Delete(ctx, task.LocalID)
	}
	if req.Operation == core.OperationCreate {
		remoteID := res.FirstString("task.id", "id")
		if remoteID == "" {
			return task, core.TransformError("create task response has no id", map[string]any{"local_id": task.LocalID})
		}
		if err := task.Bind(remoteID); err != nil {
			return task, err
		}
	}
	task.MarkAcked(req.UpdatedAt, s.now())
	return task, s.tasks.Save(ctx, task)
}

func (s *TaskSync) markFailed(ctx context.Context, task core.Task, cause error) error {
	task.MarkFailed(cause.Error())
	if err := s.tasks.Save(ctx, task); err != nil {
		s.observer.Error(ctx, "save failed task state", map[string]any{"local_id": task.LocalID, "error": err.Error()})
	}
	return cause
}

func applyRemoteTask(task *core.Task, remote RemoteTask, at time.Time) {
	if title := strings.TrimSpace(remote.Title); title != "" {
		task.Title = title
	}
	if body := strings.TrimSpace(remote.Body); body != "" {
		task.Description = body
	}
	if remote.DueDate != nil {
		task.DueDate = timePtr(*remote.DueDate)
	}
	if assignee := strings.TrimSpace(remote.AssignedTo); assignee != "" {
		task.AssignedTo = assignee
	}
	switch {
	case remote.Completed && task.Status != core.TaskStatusCompleted:
		task.Status = core.TaskStatusCompleted
		task.CompletedAt = timePtr(at)
	case !remote.Completed && task.Status == core.TaskStatusCompleted:
		task.Status = core.TaskStatusPending
		task.CompletedAt = nil
	}
}

var (
	_ core.EventHandler          = (*TaskSync)(nil)
	_ outbound.CompletionHandler = (*TaskSync)(nil)
)
