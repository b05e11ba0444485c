package entities

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/core"
)

const (
	NoteSourceCRM       = "crm"
	messageFollowUpDue  = 2 * time.Hour
	messagePreviewRunes = 100
)

// NoteHandler attaches CRM notes to the client's most recent quote.
type NoteHandler struct {
	clients  ClientStore
	quotes   QuoteStore
	observer *core.Observer
}

func NewNoteHandler(clients ClientStore, quotes QuoteStore, opts ...Option) *NoteHandler {
	b := newBase("crmsync.notes", core.SyncConfig{}, nil, opts)
	return &NoteHandler{clients: clients, quotes: quotes, observer: b.observer}
}

func (h *NoteHandler) Pull(ctx context.Context, event core.CanonicalEvent) error {
	var payload core.NotePayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	noteID := strings.TrimSpace(payload.ID)
	if noteID == "" {
		noteID = strings.TrimSpace(event.SourceID)
	}
	if noteID == "" {
		return core.TransformError("note event has no id", map[string]any{"event_id": event.ID})
	}

	quotes, ok, err := latestQuotes(ctx, h.clients, h.quotes, payload.ContactID)
	if err != nil {
		return err
	}
	if !ok {
		h.observer.Debug(ctx, "note has no local quote to attach to", map[string]any{"contact_id": payload.ContactID})
		return nil
	}
	for _, quote := range quotes {
		for _, note := range quote.Notes {
			if note.RemoteID == noteID {
				return nil
			}
		}
	}

	localID, err := newLocalID("note")
	if err != nil {
		return core.ApplyError(err, "generate note id", nil)
	}
	createdAt := eventTime(payload.CreatedAt, event)
	quote := quotes[len(quotes)-1]
	quote.Notes = append(quote.Notes, core.Note{
		ID:        localID,
		RemoteID:  noteID,
		Body:      strings.TrimSpace(payload.Body),
		Source:    NoteSourceCRM,
		CreatedAt: createdAt,
	})
	if err := h.quotes.Save(ctx, quote); err != nil {
		return core.ApplyError(err, "save quote note", map[string]any{"local_id": quote.LocalID})
	}
	return nil
}

// MessageHandler turns inbound client messages on a sent quote into follow-up tasks.
type MessageHandler struct {
	clients  ClientStore
	quotes   QuoteStore
	tasks    TaskStore
	clock    core.Clock
	observer *core.Observer
}

func NewMessageHandler(clients ClientStore, quotes QuoteStore, tasks TaskStore, opts ...Option) *MessageHandler {
	b := newBase("crmsync.messages", core.SyncConfig{}, nil, opts)
	return &MessageHandler{clients: clients, quotes: quotes, tasks: tasks, clock: b.clock, observer: b.observer}
}

func (h *MessageHandler) Pull(ctx context.Context, event core.CanonicalEvent) error {
	var payload core.MessagePayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	messageID := strings.TrimSpace(payload.ID)
	if messageID == "" {
		messageID = strings.TrimSpace(event.SourceID)
	}
	if messageID == "" {
		return core.TransformError("message event has no id", map[string]any{"event_id": event.ID})
	}

	ref := "message:" + messageID
	if _, exists, err := h.tasks.FindBySourceRef(ctx, ref); err != nil {
		return core.ApplyError(err, "find message task", map[string]any{"source_ref": ref})
	} else if exists {
		return nil
	}

	quotes, ok, err := latestQuotes(ctx, h.clients, h.quotes, payload.ContactID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	quote := quotes[len(quotes)-1]
	if quote.Status != core.QuoteStatusSent {
		return nil
	}

	localID, err := newLocalID("task")
	if err != nil {
		return core.ApplyError(err, "generate task id", nil)
	}
	kind := strings.TrimSpace(payload.Type)
	if kind == "" {
		kind = "message"
	}
	now := h.clock.Time()
	task := core.Task{
		SyncState:   core.SyncState{LocalID: localID, SyncStatus: core.SyncStatusUnsynced, LastModifiedAt: timePtr(now)},
		ClientID:    quote.ClientID,
		QuoteID:     quote.LocalID,
		Title:       "Respond to client " + kind,
		Description: "Client sent " + kind + ": " + preview(payload.Body, messagePreviewRunes),
		Status:      core.TaskStatusPending,
		Priority:    TaskPriorityHigh,
		DueDate:     timePtr(now.Add(messageFollowUpDue)),
		SourceRef:   ref,
	}
	if err := h.tasks.Save(ctx, task); err != nil {
		return core.ApplyError(err, "save message task", map[string]any{"source_ref": ref})
	}
	h.observer.Info(ctx, "follow-up task created from client message", map[string]any{
		"task_id":  task.LocalID,
		"quote_id": quote.LocalID,
	})
	return nil
}

// latestQuotes returns the quotes of the client bound to contactID, oldest first.
func latestQuotes(ctx context.Context, clients ClientStore, quotes QuoteStore, contactID string) ([]core.Quote, bool, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return nil, false, nil
	}
	client, found, err := clients.FindByRemoteID(ctx, contactID)
	if err != nil {
		return nil, false, core.ApplyError(err, "find client", map[string]any{"remote_id": contactID})
	}
	if !found {
		return nil, false, nil
	}
	list, err := quotes.ListByClient(ctx, client.LocalID)
	if err != nil {
		return nil, false, core.ApplyError(err, "list client quotes", map[string]any{"local_id": client.LocalID})
	}
	return list, len(list) > 0, nil
}

func preview(body string, limit int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= limit {
		return body
	}
	return string(runes[:limit])
}

var (
	_ core.EventHandler = (*NoteHandler)(nil)
	_ core.EventHandler = (*MessageHandler)(nil)
)
