package webhooks

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/goliatone/go-crmsync/core"
)

var eventTypes = map[string]core.EventType{
	"ContactCreate":           core.EventContactUpdated,
	"ContactUpdate":           core.EventContactUpdated,
	"OpportunityUpdate":       core.EventOpportunityUpdated,
	"OpportunityStatusUpdate": core.EventOpportunityUpdated,
	"TaskUpdate":              core.EventTaskUpdated,
	"TaskComplete":            core.EventTaskUpdated,
	"NoteCreate":              core.EventNoteCreated,
	"InboundMessage":          core.EventMessageReceived,
}

// EventTypeFor maps a provider event type to its canonical type.
func EventTypeFor(providerType string) (core.EventType, bool) {
	eventType, ok := eventTypes[strings.TrimSpace(providerType)]
	return eventType, ok
}

// Transform converts a provider webhook body into a CanonicalEvent. When the
// payload cannot be mapped the returned event still carries its identity and
// the error is a transform error.
func Transform(body []byte, receivedAt time.Time) (core.CanonicalEvent, error) {
	if !gjson.ValidBytes(body) {
		return core.CanonicalEvent{}, core.BadInputError("webhook body is not valid json", nil)
	}
	root := gjson.ParseBytes(body)
	providerType := strings.TrimSpace(root.Get("type").String())
	eventType, ok := EventTypeFor(providerType)
	if !ok {
		return core.CanonicalEvent{}, core.UnsupportedEventError(providerType)
	}

	event := core.CanonicalEvent{
		ID:         strings.TrimSpace(root.Get("id").String()),
		EventType:  eventType,
		SourceType: providerType,
		ReceivedAt: receivedAt.UTC(),
	}
	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return event, core.ApplyError(err, "generate event id", nil)
		}
		event.ID = id.String()
	}

	data := root.Get("data")
	if !data.IsObject() {
		return event, core.TransformError("webhook data must be an object", map[string]any{"event_id": event.ID, "type": providerType})
	}
	event.SourceID = strings.TrimSpace(data.Get("id").String())

	payload, err := familyPayload(eventType, providerType, data)
	if err != nil {
		return event, core.WrapTransformError(err, "map webhook data", map[string]any{"event_id": event.ID, "type": providerType})
	}
	if event.SourceID == "" && eventType.Family() != core.FamilyMessage {
		return event, core.TransformError("webhook data has no id", map[string]any{"event_id": event.ID, "type": providerType})
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return event, core.WrapTransformError(err, "encode canonical payload", map[string]any{"event_id": event.ID})
	}
	event.Payload = raw
	return event, nil
}

func familyPayload(eventType core.EventType, providerType string, data gjson.Result) (any, error) {
	switch eventType.Family() {
	case core.FamilyContact:
		updated, err := timeField(data, "dateUpdated")
		if err != nil {
			return nil, err
		}
		first, last := str(data, "firstName"), str(data, "lastName")
		name := strings.TrimSpace(strings.Join(nonEmpty(first, last), " "))
		if name == "" {
			name = str(data, "name")
		}
		var tags []string
		for _, tag := range data.Get("tags").Array() {
			if value := strings.TrimSpace(tag.String()); value != "" {
				tags = append(tags, value)
			}
		}
		return core.ContactPayload{
			ID:        str(data, "id"),
			Name:      name,
			FirstName: first,
			LastName:  last,
			Email:     str(data, "email"),
			Phone:     str(data, "phone"),
			Address: core.AddressPayload{
				Street:   str(data, "address1"),
				City:     str(data, "city"),
				State:    str(data, "state"),
				Postcode: str(data, "postalCode"),
			},
			Tags:        tags,
			DateUpdated: updated,
		}, nil
	case core.FamilyOpportunity:
		updated, err := timeField(data, "dateUpdated")
		if err != nil {
			return nil, err
		}
		payload := core.OpportunityPayload{
			ID:          str(data, "id"),
			ContactID:   str(data, "contactId"),
			Name:        str(data, "name"),
			Status:      str(data, "status"),
			Stage:       str(data, "pipelineStageId"),
			DateUpdated: updated,
		}
		if value := data.Get("monetaryValue"); value.Exists() && value.Type == gjson.Number {
			amount := value.Float()
			payload.Value = &amount
		}
		return payload, nil
	case core.FamilyTask:
		due, err := timeField(data, "dueDate")
		if err != nil {
			return nil, err
		}
		updated, err := timeField(data, "dateUpdated")
		if err != nil {
			return nil, err
		}
		return core.TaskPayload{
			ID:          str(data, "id"),
			Title:       str(data, "title"),
			Description: str(data, "body"),
			Completed:   data.Get("completed").Bool() || providerType == "TaskComplete",
			DueDate:     due,
			ContactID:   str(data, "contactId"),
			AssignedTo:  str(data, "assignedTo"),
			DateUpdated: updated,
		}, nil
	case core.FamilyNote:
		created, err := timeField(data, "dateAdded")
		if err != nil {
			return nil, err
		}
		return core.NotePayload{
			ID:        str(data, "id"),
			ContactID: str(data, "contactId"),
			Body:      str(data, "body"),
			CreatedAt: created,
		}, nil
	case core.FamilyMessage:
		received, err := timeField(data, "dateAdded")
		if err != nil {
			return nil, err
		}
		kind := str(data, "type")
		if kind == "" {
			kind = str(data, "messageType")
		}
		return core.MessagePayload{
			ID:         str(data, "id"),
			ContactID:  str(data, "contactId"),
			Type:       kind,
			Body:       str(data, "body"),
			ReceivedAt: received,
		}, nil
	}
	return nil, core.UnsupportedEventError(string(eventType))
}

func str(data gjson.Result, path string) string {
	return strings.TrimSpace(data.Get(path).String())
}

// timeField accepts RFC3339 strings and epoch milliseconds.
func timeField(data gjson.Result, path string) (*time.Time, error) {
	value := data.Get(path)
	if !value.Exists() || value.Type == gjson.Null {
		return nil, nil
	}
	if value.Type == gjson.Number {
		at := time.UnixMilli(value.Int()).UTC()
		return &at, nil
	}
	raw := strings.TrimSpace(value.String())
	if raw == "" {
		return nil, nil
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, core.TransformError("invalid "+path+" timestamp", map[string]any{"value": raw})
	}
	at = at.UTC()
	return &at, nil
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}
