package entities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/outbound"
)

const (
	ContactSource  = "TicTacStick"
	ContactCountry = "Australia"
	ContactTag     = "tictacstick"

	FieldClientType   = "client_type"
	FieldClientSource = "client_source"
	FieldLastJobDate  = "last_job_date"
	FieldTotalRevenue = "total_revenue"

	ServiceWindowCleaning  = "window-cleaning"
	ServicePressureWashing = "pressure-washing"
)

// RemoteContact is the CRM contact shape.
type RemoteContact struct {
	ID          string            `json:"id,omitempty"`
	LocationID  string            `json:"locationId,omitempty"`
	FirstName   string            `json:"firstName"`
	LastName    string            `json:"lastName"`
	Name        string            `json:"name,omitempty"`
	Email       string            `json:"email"`
	Phone       string            `json:"phone"`
	Address1    string            `json:"address1"`
	City        string            `json:"city"`
	State       string            `json:"state"`
	PostalCode  string            `json:"postalCode"`
	Country     string            `json:"country,omitempty"`
	Source      string            `json:"source,omitempty"`
	Tags        []string          `json:"tags"`
	CustomField map[string]string `json:"customField,omitempty"`
}

// ContactSync keeps local clients and CRM contacts aligned.
type ContactSync struct {
	*base
	clients ClientStore
}

func NewContactSync(cfg core.SyncConfig, clients ClientStore, api Requester, opts ...Option) *ContactSync {
	contacts := &ContactSync{
		base:    newBase("crmsync.contacts", cfg, api, opts),
		clients: clients,
	}
	if api != nil {
		api.RegisterCompletion(core.EntityClient, contacts)
	}
	return contacts
}

func (s *ContactSync) MapLocalToRemote(client core.Client) RemoteContact {
	contact := RemoteContact{
		LocationID:  strings.TrimSpace(s.config().API.LocationID),
		Email:       strings.TrimSpace(client.Email),
		Phone:       strings.TrimSpace(client.Phone),
		Country:     ContactCountry,
		Source:      ContactSource,
		Tags:        []string{ContactTag},
		CustomField: map[string]string{},
	}

	if parts := strings.Fields(client.Name); len(parts) > 0 {
		contact.FirstName = parts[0]
		contact.LastName = strings.Join(parts[1:], " ")
	}

	contact.Address1 = strings.TrimSpace(client.Street)
	contact.City = strings.TrimSpace(client.City)
	contact.State = strings.TrimSpace(client.State)
	contact.PostalCode = strings.TrimSpace(client.Postcode)
	if contact.Address1 == "" && contact.City == "" && contact.State == "" {
		contact.Address1, contact.City, contact.State = parseLocation(client.Location)
	}

	for _, tag := range []string{ServiceWindowCleaning, ServicePressureWashing} {
		if slices.Contains(client.ServiceHistory, tag) {
			contact.Tags = append(contact.Tags, tag)
		}
	}
	if clientType := strings.TrimSpace(client.ClientType); clientType != "" {
		if clientType == core.ClientTypeResidential {
			contact.Tags = append(contact.Tags, core.ClientTypeResidential)
		} else {
			contact.Tags = append(contact.Tags, core.ClientTypeCommercial)
		}
		contact.CustomField[FieldClientType] = clientType
	}
	if source := strings.TrimSpace(client.Source); source != "" {
		contact.CustomField[FieldClientSource] = source
	}
	if lastJob := strings.TrimSpace(client.LastJobDate); lastJob != "" {
		contact.CustomField[FieldLastJobDate] = lastJob
	}
	if client.TotalRevenue != 0 {
		contact.CustomField[FieldTotalRevenue] = strconv.FormatFloat(client.TotalRevenue, 'f', -1, 64)
	}
	return contact
}

func (s *ContactSync) MapRemoteToLocal(contact RemoteContact) core.Client {
	return remoteToClient(contact)
}

func remoteToClient(contact RemoteContact) core.Client {
	client := core.Client{
		SyncState:  core.SyncState{RemoteID: strings.TrimSpace(contact.ID)},
		Email:      strings.TrimSpace(contact.Email),
		Phone:      strings.TrimSpace(contact.Phone),
		Street:     strings.TrimSpace(contact.Address1),
		City:       strings.TrimSpace(contact.City),
		State:      strings.TrimSpace(contact.State),
		Postcode:   strings.TrimSpace(contact.PostalCode),
		ClientType: core.ClientTypeResidential,
		Source:     "crm",
	}

	client.Name = joinNonEmpty(" ", contact.FirstName, contact.LastName)
	if client.Name == "" {
		client.Name = strings.TrimSpace(contact.Name)
	}
	if client.Name == "" {
		client.Name = "Unknown"
	}
	client.Location = joinNonEmpty(", ", client.Street, client.City, client.State, client.Postcode)

	if value := strings.TrimSpace(contact.CustomField[FieldClientType]); value != "" {
		client.ClientType = value
	}
	if value := strings.TrimSpace(contact.CustomField[FieldClientSource]); value != "" {
		client.Source = value
	}
	client.LastJobDate = strings.TrimSpace(contact.CustomField[FieldLastJobDate])
	if value, err := strconv.ParseFloat(strings.TrimSpace(contact.CustomField[FieldTotalRevenue]), 64); err == nil {
		client.TotalRevenue = value
	}
	if slices.Contains(contact.Tags, core.ClientTypeCommercial) {
		client.ClientType = core.ClientTypeCommercial
	}
	return client
}

// Push creates or updates the client's CRM contact. Unbound clients are
// matched by email or phone first so an existing contact is reused.
func (s *ContactSync) Push(ctx context.Context, client core.Client) (PushResult, error) {
	startedAt := s.now()
	result, err := s.push(ctx, client)
	s.observer.Observe(ctx, "contact_push", startedAt, err, map[string]any{
		"entity_kind": string(core.EntityClient),
		"local_id":    client.LocalID,
		"queued":      result.Queued,
	})
	return result, err
}

func (s *ContactSync) push(ctx context.Context, client core.Client) (PushResult, error) {
	if s == nil || s.api == nil || s.clients == nil {
		return PushResult{}, core.BadInputError("contact sync is not configured", nil)
	}
	if strings.TrimSpace(client.LocalID) == "" {
		return PushResult{}, core.BadInputError("client local id is required", nil)
	}
	result := PushResult{LocalID: client.LocalID, RemoteID: client.RemoteID}
	if client.Deleted {
		result.Skipped, result.Reason = true, "client is deleted"
		return result, nil
	}

	if !client.Bound() && !s.api.Offline() {
		remoteID, err := s.search(ctx, client)
		if err != nil {
			return result, s.markFailed(ctx, client, err)
		}
		if remoteID != "" {
			if err := client.Bind(remoteID); err != nil {
				return result, err
			}
			result.RemoteID = remoteID
		}
	}

	body, err := json.Marshal(s.MapLocalToRemote(client))
	if err != nil {
		return result, core.ApplyError(err, "encode contact", map[string]any{"local_id": client.LocalID})
	}
	req := core.OutboundRequest{
		Body:       body,
		EntityKind: core.EntityClient,
		EntityID:   client.LocalID,
		Operation:  requestOperation(client.SyncState),
	}
	if client.Bound() {
		req.Method, req.Endpoint = http.MethodPut, "/contacts/"+url.PathEscape(client.RemoteID)
	} else {
		req.Method, req.Endpoint = http.MethodPost, "/contacts/"
	}
	result.Operation = req.Operation

	client.MarkPending()
	if err := s.clients.Save(ctx, client); err != nil {
		return result, err
	}
	res, err := s.api.Do(ctx, req)
	if err != nil {
		return result, s.markFailed(ctx, client, err)
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

func (s *ContactSync) search(ctx context.Context, client core.Client) (string, error) {
	query := strings.TrimSpace(client.Email)
	if query == "" {
		query = strings.TrimSpace(client.Phone)
	}
	if query == "" {
		return "", nil
	}
	res, err := s.api.Do(ctx, core.OutboundRequest{
		Method:   http.MethodGet,
		Endpoint: "/contacts/?query=" + url.QueryEscape(query),
	})
	if err != nil || res.Queued {
		return "", err
	}
	return res.String("contacts.0.id"), nil
}

func (s *ContactSync) PushAll(ctx context.Context, clients []core.Client) (BatchPushResult, error) {
	return pushAll(ctx, s.base, clients, func(c core.Client) string { return c.LocalID }, s.Push)
}

// SyncPending pushes every client with unsent local changes.
func (s *ContactSync) SyncPending(ctx context.Context) (BatchPushResult, error) {
	all, err := s.clients.List(ctx)
	if err != nil {
		return BatchPushResult{}, err
	}
	pending := make([]core.Client, 0, len(all))
	for _, client := range all {
		if needsPush(client.SyncState) {
			pending = append(pending, client)
		}
	}
	return s.PushAll(ctx, pending)
}

// Pull applies an inbound contact change. Clients are matched by remote id,
// then email, then phone; unmatched contacts become new local clients.
func (s *ContactSync) Pull(ctx context.Context, event core.CanonicalEvent) error {
	var payload core.ContactPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	remoteID := strings.TrimSpace(payload.ID)
	if remoteID == "" {
		remoteID = strings.TrimSpace(event.SourceID)
	}
	if remoteID == "" {
		return core.TransformError("contact event has no remote id", map[string]any{"event_id": event.ID})
	}
	remote := contactFromPayload(remoteID, payload)
	remoteAt := eventTime(payload.DateUpdated, event)

	local, found, err := s.match(ctx, remoteID, payload)
	if err != nil {
		return core.ApplyError(err, "match client", map[string]any{"remote_id": remoteID})
	}
	if !found {
		client := s.MapRemoteToLocal(remote)
		client.LocalID, err = newLocalID("client")
		if err != nil {
			return core.ApplyError(err, "generate client id", nil)
		}
		client.MarkSynced(remoteAt)
		if err := s.clients.Save(ctx, client); err != nil {
			return core.ApplyError(err, "save client", map[string]any{"remote_id": remoteID})
		}
		s.observer.Info(ctx, "client created from crm contact", map[string]any{"local_id": client.LocalID, "remote_id": remoteID})
		return nil
	}

	if s.skipStale(ctx, core.EntityClient, local.SyncState, event, remoteAt) {
		return nil
	}
	outcome := s.resolve(local.SyncState, remoteAt)
	s.logOutcome(ctx, core.EntityClient, local.LocalID, outcome)
	switch outcome.Decision {
	case core.DecisionHold:
		if local.SyncStatus != core.SyncStatusConflict {
			local.MarkConflict(outcome.Reason)
			if err := s.clients.Save(ctx, local); err != nil {
				return core.ApplyError(err, "save client", map[string]any{"local_id": local.LocalID})
			}
		}
		return core.ConflictError(core.EntityClient, local.LocalID, outcome.Reason)
	case core.DecisionKeepLocal:
		return nil
	}

	if err := local.Bind(remoteID); err != nil {
		return err
	}
	mergeContact(&local, remote)
	local.MarkSynced(remoteAt)
	if err := s.clients.Save(ctx, local); err != nil {
		return core.ApplyError(err, "save client", map[string]any{"local_id": local.LocalID})
	}
	return nil
}

func (s *ContactSync) match(ctx context.Context, remoteID string, payload core.ContactPayload) (core.Client, bool, error) {
	if client, ok, err := s.clients.FindByRemoteID(ctx, remoteID); err != nil || ok {
		return client, ok, err
	}
	if email := strings.TrimSpace(payload.Email); email != "" {
		if client, ok, err := s.clients.FindByEmail(ctx, email); err != nil || (ok && !client.Bound()) {
			return client, ok, err
		}
	}
	if phone := strings.TrimSpace(payload.Phone); phone != "" {
		if client, ok, err := s.clients.FindByPhone(ctx, phone); err != nil || (ok && !client.Bound()) {
			return client, ok, err
		}
	}
	return core.Client{}, false, nil
}

// Delete tombstones the client and removes the CRM contact. Clients that
// were never bound are removed immediately.
func (s *ContactSync) Delete(ctx context.Context, localID string) error {
	client, err := s.clients.Get(ctx, localID)
	if err != nil {
		return err
	}
	if !client.Bound() {
		return s.clients.Delete(ctx, client.LocalID)
	}
	client.Deleted = true
	client.MarkPending()
	if err := s.clients.Save(ctx, client); err != nil {
		return err
	}
	req := core.OutboundRequest{
		Method:     http.MethodDelete,
		Endpoint:   "/contacts/" + url.PathEscape(client.RemoteID),
		EntityKind: core.EntityClient,
		EntityID:   client.LocalID,
		Operation:  core.OperationDelete,
	}
	res, err := s.api.Do(ctx, req)
	if err != nil {
		return s.markFailed(ctx, client, err)
	}
	if res.Queued {
		return nil
	}
	_, err = s.applyCompletion(ctx, req, res)
	return err
}

func (s *ContactSync) Unlink(ctx context.Context, localID string) error {
	client, err := s.clients.Get(ctx, localID)
	if err != nil {
		return err
	}
	client.Unlink()
	return s.clients.Save(ctx, client)
}

// Resolve settles a held conflict by keeping one side.
func (s *ContactSync) Resolve(ctx context.Context, localID string, keep core.ConflictKeep) error {
	client, err := s.clients.Get(ctx, localID)
	if err != nil {
		return err
	}
	if client.SyncStatus != core.SyncStatusConflict {
		return core.BadInputError("client is not in conflict", map[string]any{"local_id": localID})
	}
	switch keep {
	case core.KeepLocal:
		client.MarkPending()
		_, err := s.Push(ctx, client)
		return err
	case core.KeepRemote:
		if !client.Bound() {
			return core.BadInputError("client is not bound to a crm contact", map[string]any{"local_id": localID})
		}
		res, err := s.api.Do(ctx, core.OutboundRequest{Method: http.MethodGet, Endpoint: "/contacts/" + url.PathEscape(client.RemoteID)})
		if err != nil {
			return err
		}
		if res.Queued {
			return core.NetworkError(nil, "crm unavailable for conflict resolution", map[string]any{"local_id": localID})
		}
		var envelope struct {
			Contact RemoteContact `json:"contact"`
		}
		if err := res.Decode(&envelope); err != nil {
			return err
		}
		mergeContact(&client, envelope.Contact)
		client.MarkSynced(s.now())
		return s.clients.Save(ctx, client)
	default:
		return core.BadInputError("conflict keep must be local or remote", map[string]any{"keep": string(keep)})
	}
}

// Complete handles replayed contact requests.
func (s *ContactSync) Complete(ctx context.Context, req core.OutboundRequest, res outbound.Response, cause error) error {
	if cause != nil {
		client, err := s.clients.Get(ctx, req.EntityID)
		if err != nil {
			return err
		}
		client.MarkFailed(cause.Error())
		return s.clients.Save(ctx, client)
	}
	_, err := s.applyCompletion(ctx, req, res)
	return err
}

func (s *ContactSync) applyCompletion(ctx context.Context, req core.OutboundRequest, res outbound.Response) (core.Client, error) {
	client, err := s.clients.Get(ctx, req.EntityID)
	if err != nil {
		return core.Client{}, err
	}
	if req.Operation == core.OperationDelete {
		return client, s.clients.Delete(ctx, client.LocalID)
	}
	if req.Operation == core.OperationCreate {
		remoteID := res.FirstString("contact.id", "id")
		if remoteID == "" {
			return client, core.TransformError("create contact response has no id", map[string]any{"local_id": client.LocalID})
		}
		if err := client.Bind(remoteID); err != nil {
			return client, err
		}
	}
	client.MarkAcked(req.UpdatedAt, s.now())
	return client, s.clients.Save(ctx, client)
}

func (s *ContactSync) markFailed(ctx context.Context, client core.Client, cause error) error {
	client.MarkFailed(cause.Error())
	if err := s.clients.Save(ctx, client); err != nil {
		s.observer.Error(ctx, "save failed client state", map[string]any{"local_id": client.LocalID, "error": err.Error()})
	}
	return cause
}

func contactFromPayload(remoteID string, payload core.ContactPayload) RemoteContact {
	contact := RemoteContact{
		ID:         remoteID,
		FirstName:  strings.TrimSpace(payload.FirstName),
		LastName:   strings.TrimSpace(payload.LastName),
		Name:       strings.TrimSpace(payload.Name),
		Email:      payload.Email,
		Phone:      payload.Phone,
		Address1:   payload.Address.Street,
		City:       payload.Address.City,
		State:      payload.Address.State,
		PostalCode: payload.Address.Postcode,
		Tags:       payload.Tags,
	}
	if contact.FirstName == "" && contact.LastName == "" && contact.Name != "" {
		parts := strings.Fields(contact.Name)
		contact.FirstName = parts[0]
		contact.LastName = strings.Join(parts[1:], " ")
	}
	return contact
}

// mergeContact overwrites the fields the CRM owns and keeps local only data.
func mergeContact(client *core.Client, contact RemoteContact) {
	remote := remoteToClient(contact)
	client.Name = remote.Name
	client.Email = remote.Email
	client.Phone = remote.Phone
	client.Street = remote.Street
	client.City = remote.City
	client.State = remote.State
	client.Postcode = remote.Postcode
	client.Location = remote.Location
	if slices.Contains(contact.Tags, core.ClientTypeCommercial) {
		client.ClientType = core.ClientTypeCommercial
	}
}

// parseLocation splits "street, city, state" using the last two parts as city and state.
func parseLocation(location string) (street, city, state string) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", "", ""
	}
	parts := strings.Split(location, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 2 {
		return location, "", ""
	}
	city, state = parts[len(parts)-2], parts[len(parts)-1]
	street = strings.Join(parts[:len(parts)-2], ", ")
	if street == "" {
		street = location
	}
	return street, city, state
}

func joinNonEmpty(sep string, values ...string) string {
	parts := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			parts = append(parts, value)
		}
	}
	return strings.Join(parts, sep)
}

var (
	_ core.EventHandler          = (*ContactSync)(nil)
	_ outbound.CompletionHandler = (*ContactSync)(nil)
)
