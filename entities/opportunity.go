package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/outbound"
)

const (
	OpportunityOpen      = "open"
	OpportunityWon       = "won"
	OpportunityLost      = "lost"
	OpportunityAbandoned = "abandoned"

	FieldQuoteNumber    = "quote_number"
	FieldServiceTypes   = "service_types"
	FieldPrimaryService = "primary_service"
	FieldQuoteDate      = "quote_date"
	FieldQuoteTotal     = "quote_total"
)

var serviceLabels = map[string]string{
	ServiceWindowCleaning:  "Window Cleaning",
	ServicePressureWashing: "Pressure Washing",
}

type RemoteOpportunity struct {
	ID              string            `json:"id,omitempty"`
	LocationID      string            `json:"locationId,omitempty"`
	PipelineID      string            `json:"pipelineId,omitempty"`
	PipelineStageID string            `json:"pipelineStageId,omitempty"`
	Name            string            `json:"name"`
	MonetaryValue   float64           `json:"monetaryValue"`
	Status          string            `json:"status"`
	ContactID       string            `json:"contactId,omitempty"`
	Source          string            `json:"source,omitempty"`
	CustomFields    map[string]string `json:"customFields,omitempty"`
}

// OpportunitySync keeps local quotes and CRM opportunities aligned.
type OpportunitySync struct {
	*base
	quotes   QuoteStore
	clients  ClientStore
	contacts *ContactSync
}

func NewOpportunitySync(cfg core.SyncConfig, quotes QuoteStore, clients ClientStore, contacts *ContactSync, api Requester, opts ...Option) *OpportunitySync {
	opportunities := &OpportunitySync{
		base:     newBase("crmsync.opportunities", cfg, api, opts),
		quotes:   quotes,
		clients:  clients,
		contacts: contacts,
	}
	if api != nil {
		api.RegisterCompletion(core.EntityQuote, opportunities)
	}
	return opportunities
}

// StageFor maps a quote status to the configured pipeline stage id.
func (s *OpportunitySync) StageFor(status string) string {
	stages := s.config().Pipeline.Stages
	switch strings.TrimSpace(status) {
	case core.QuoteStatusAccepted:
		return stages.Won
	case core.QuoteStatusDeclined:
		return stages.Lost
	case core.QuoteStatusFollowUp:
		return stages.FollowUp
	default:
		return stages.Quote
	}
}

func (s *OpportunitySync) MapLocalToRemote(quote core.Quote, contactID string) RemoteOpportunity {
	cfg := s.config()
	total := quote.TotalIncGst
	if total == 0 {
		total = quote.Total
	}
	total = math.Round(total*100) / 100

	status := OpportunityOpen
	switch quote.Status {
	case core.QuoteStatusAccepted:
		status = OpportunityWon
	case core.QuoteStatusDeclined:
		status = OpportunityLost
	}

	name := strings.TrimSpace(quote.Title)
	if name == "" {
		clientName := strings.TrimSpace(quote.ClientName)
		if clientName == "" {
			clientName = "Unknown"
		}
		name = "Quote - " + clientName
	}

	quoteNumber := strings.TrimSpace(quote.QuoteNumber)
	if quoteNumber == "" {
		quoteNumber = quote.LocalID
	}
	quoteDate := s.now()
	if quote.QuoteDate != nil {
		quoteDate = quote.QuoteDate.UTC()
	}

	opportunity := RemoteOpportunity{
		LocationID:      strings.TrimSpace(cfg.API.LocationID),
		PipelineID:      strings.TrimSpace(cfg.Pipeline.ID),
		PipelineStageID: s.StageFor(quote.Status),
		Name:            name,
		MonetaryValue:   total,
		Status:          status,
		ContactID:       strings.TrimSpace(contactID),
		Source:          ContactSource,
		CustomFields: map[string]string{
			FieldQuoteNumber:    quoteNumber,
			FieldPrimaryService: primaryService(quote.LineItems),
			FieldQuoteDate:      quoteDate.Format(time.RFC3339),
			FieldQuoteTotal:     strconv.FormatFloat(total, 'f', -1, 64),
		},
	}
	if services := serviceTypes(quote.LineItems); len(services) > 0 {
		opportunity.CustomFields[FieldServiceTypes] = strings.Join(services, ", ")
	}
	return opportunity
}

func (s *OpportunitySync) MapRemoteToLocal(opportunity RemoteOpportunity) core.Quote {
	return core.Quote{
		SyncState:   core.SyncState{RemoteID: strings.TrimSpace(opportunity.ID)},
		Title:       strings.TrimSpace(opportunity.Name),
		Status:      quoteStatusFor(opportunity.Status),
		TotalIncGst: opportunity.MonetaryValue,
		QuoteNumber: strings.TrimSpace(opportunity.CustomFields[FieldQuoteNumber]),
	}
}

// Push creates or updates the quote's opportunity, binding its client first.
func (s *OpportunitySync) Push(ctx context.Context, quote core.Quote) (PushResult, error) {
	startedAt := s.now()
	result, err := s.push(ctx, quote)
	s.observer.Observe(ctx, "opportunity_push", startedAt, err, map[string]any{
		"entity_kind": string(core.EntityQuote),
		"local_id":    quote.LocalID,
		"queued":      result.Queued,
	})
	return result, err
}

func (s *OpportunitySync) push(ctx context.Context, quote core.Quote) (PushResult, error) {
	if s == nil || s.api == nil || s.quotes == nil || s.clients == nil {
		return PushResult{}, core.BadInputError("opportunity sync is not configured", nil)
	}
	result := PushResult{LocalID: quote.LocalID, RemoteID: quote.RemoteID}
	if quote.Deleted {
		result.Skipped, result.Reason = true, "quote is deleted"
		return result, nil
	}
	if strings.TrimSpace(quote.ClientID) == "" {
		return result, s.markFailed(ctx, quote, core.BadInputError("quote has no client", map[string]any{"local_id": quote.LocalID}))
	}

	client, err := s.clients.Get(ctx, quote.ClientID)
	if err != nil {
		return result, s.markFailed(ctx, quote, err)
	}
	if !client.Bound() && client.SyncStatus != core.SyncStatusPending && s.contacts != nil {
		pushed, err := s.contacts.Push(ctx, client)
		if err != nil {
			return result, s.markFailed(ctx, quote, err)
		}
		client.RemoteID = pushed.RemoteID
	}
	if !client.Bound() {
		quote.MarkPending()
		if err := s.quotes.Save(ctx, quote); err != nil {
			return result, err
		}
		result.Queued, result.Reason = true, "waiting for client "+client.LocalID+" to bind"
		return result, nil
	}

	body, err := json.Marshal(s.MapLocalToRemote(quote, client.RemoteID))
	if err != nil {
		return result, core.ApplyError(err, "encode opportunity", map[string]any{"local_id": quote.LocalID})
	}
	req := core.OutboundRequest{
		Body:       body,
		EntityKind: core.EntityQuote,
		EntityID:   quote.LocalID,
		Operation:  requestOperation(quote.SyncState),
	}
	if quote.Bound() {
		req.Method, req.Endpoint = http.MethodPut, "/opportunities/"+url.PathEscape(quote.RemoteID)
	} else {
		req.Method, req.Endpoint = http.MethodPost, "/opportunities/"
	}
	result.Operation = req.Operation

	quote.MarkPending()
	if err := s.quotes.Save(ctx, quote); err != nil {
		return result, err
	}
	res, err := s.api.Do(ctx, req)
	if err != nil {
		return result, s.markFailed(ctx, quote, err)
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

func (s *OpportunitySync) PushAll(ctx context.Context, quotes []core.Quote) (BatchPushResult, error) {
	return pushAll(ctx, s.base, quotes, func(q core.Quote) string { return q.LocalID }, s.Push)
}

func (s *OpportunitySync) SyncPending(ctx context.Context) (BatchPushResult, error) {
	all, err := s.quotes.List(ctx)
	if err != nil {
		return BatchPushResult{}, err
	}
	pending := make([]core.Quote, 0, len(all))
	for _, quote := range all {
		if needsPush(quote.SyncState) {
			pending = append(pending, quote)
		}
	}
	return s.PushAll(ctx, pending)
}

// Pull applies an inbound opportunity change to the bound quote.
// Unknown opportunities are acknowledged without creating a quote.
func (s *OpportunitySync) Pull(ctx context.Context, event core.CanonicalEvent) error {
	var payload core.OpportunityPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	remoteID := strings.TrimSpace(payload.ID)
	if remoteID == "" {
		remoteID = strings.TrimSpace(event.SourceID)
	}
	if remoteID == "" {
		return core.TransformError("opportunity event has no remote id", map[string]any{"event_id": event.ID})
	}

	quote, found, err := s.quotes.FindByRemoteID(ctx, remoteID)
	if err != nil {
		return core.ApplyError(err, "find quote", map[string]any{"remote_id": remoteID})
	}
	if !found {
		s.observer.Debug(ctx, "opportunity not bound to a local quote", map[string]any{"remote_id": remoteID})
		return nil
	}

	remoteAt := eventTime(payload.DateUpdated, event)
	if s.skipStale(ctx, core.EntityQuote, quote.SyncState, event, remoteAt) {
		return nil
	}
	outcome := s.resolve(quote.SyncState, remoteAt)
	s.logOutcome(ctx, core.EntityQuote, quote.LocalID, outcome)
	switch outcome.Decision {
	case core.DecisionHold:
		if quote.SyncStatus != core.SyncStatusConflict {
			quote.MarkConflict(outcome.Reason)
			if err := s.quotes.Save(ctx, quote); err != nil {
				return core.ApplyError(err, "save quote", map[string]any{"local_id": quote.LocalID})
			}
		}
		return core.ConflictError(core.EntityQuote, quote.LocalID, outcome.Reason)
	case core.DecisionKeepLocal:
		return nil
	}

	applyOpportunity(&quote, payload.Status, payload.Value, remoteAt)
	quote.MarkSynced(remoteAt)
	if err := s.quotes.Save(ctx, quote); err != nil {
		return core.ApplyError(err, "save quote", map[string]any{"local_id": quote.LocalID})
	}
	return nil
}

func (s *OpportunitySync) Delete(ctx context.Context, localID string) error {
	quote, err := s.quotes.Get(ctx, localID)
	if err != nil {
		return err
	}
	if !quote.Bound() {
		return s.quotes.Delete(ctx, quote.LocalID)
	}
	quote.Deleted = true
	quote.MarkPending()
	if err := s.quotes.Save(ctx, quote); err != nil {
		return err
	}
	req := core.OutboundRequest{
		Method:     http.MethodDelete,
		Endpoint:   "/opportunities/" + url.PathEscape(quote.RemoteID),
		EntityKind: core.EntityQuote,
		EntityID:   quote.LocalID,
		Operation:  core.OperationDelete,
	}
	res, err := s.api.Do(ctx, req)
	if err != nil {
		return s.markFailed(ctx, quote, err)
	}
	if res.Queued {
		return nil
	}
	_, err = s.applyCompletion(ctx, req, res)
	return err
}

func (s *OpportunitySync) Unlink(ctx context.Context, localID string) error {
	quote, err := s.quotes.Get(ctx, localID)
	if err != nil {
		return err
	}
	quote.Unlink()
	return s.quotes.Save(ctx, quote)
}

func (s *OpportunitySync) Resolve(ctx context.Context, localID string, keep core.ConflictKeep) error {
	quote, err := s.quotes.Get(ctx, localID)
	if err != nil {
		return err
	}
	if quote.SyncStatus != core.SyncStatusConflict {
		return core.BadInputError("quote is not in conflict", map[string]any{"local_id": localID})
	}
	switch keep {
	case core.KeepLocal:
		quote.MarkPending()
		_, err := s.Push(ctx, quote)
		return err
	case core.KeepRemote:
		res, err := s.api.Do(ctx, core.OutboundRequest{Method: http.MethodGet, Endpoint: "/opportunities/" + url.PathEscape(quote.RemoteID)})
		if err != nil {
			return err
		}
		if res.Queued {
			return core.NetworkError(nil, "crm unavailable for conflict resolution", map[string]any{"local_id": localID})
		}
		var envelope struct {
			Opportunity RemoteOpportunity `json:"opportunity"`
		}
		if err := res.Decode(&envelope); err != nil {
			return err
		}
		value := envelope.Opportunity.MonetaryValue
		now := s.now()
		applyOpportunity(&quote, envelope.Opportunity.Status, &value, now)
		quote.MarkSynced(now)
		return s.quotes.Save(ctx, quote)
	default:
		return core.BadInputError("conflict keep must be local or remote", map[string]any{"keep": string(keep)})
	}
}

func (s *OpportunitySync) Complete(ctx context.Context, req core.OutboundRequest, res outbound.Response, cause error) error {
	if req.Operation == core.OperationNote {
		if cause != nil {
			s.observer.Warn(ctx, "quote note was not delivered", map[string]any{"local_id": req.EntityID, "error": cause.Error()})
		}
		return nil
	}
	if cause != nil {
		quote, err := s.quotes.Get(ctx, req.EntityID)
		if err != nil {
			return err
		}
		quote.MarkFailed(cause.Error())
		return s.quotes.Save(ctx, quote)
	}
	_, err := s.applyCompletion(ctx, req, res)
	return err
}

func (s *OpportunitySync) applyCompletion(ctx context.Context, req core.OutboundRequest, res outbound.Response) (core.Quote, error) {
	quote, err := s.quotes.Get(ctx, req.EntityID)
	if err != nil {
		return core.Quote{}, err
	}
	if req.Operation == core.OperationDelete {
		return quote, s.quotes.Delete(ctx, quote.LocalID)
	}
	created := false
	if req.Operation == core.OperationCreate {
		remoteID := res.FirstString("opportunity.id", "id")
		if remoteID == "" {
			return quote, core.TransformError("create opportunity response has no id", map[string]any{"local_id": quote.LocalID})
		}
		if err := quote.Bind(remoteID); err != nil {
			return quote, err
		}
		created = true
	}
	quote.MarkAcked(req.UpdatedAt, s.now())
	if err := s.quotes.Save(ctx, quote); err != nil {
		return quote, err
	}
	if created {
		s.postDescription(ctx, quote)
	}
	return quote, nil
}

// postDescription attaches the quote breakdown to the contact as a note.
func (s *OpportunitySync) postDescription(ctx context.Context, quote core.Quote) {
	client, err := s.clients.Get(ctx, quote.ClientID)
	if err != nil || !client.Bound() {
		return
	}
	body, err := json.Marshal(map[string]string{"body": QuoteDescription(quote)})
	if err != nil {
		return
	}
	_, err = s.api.Do(ctx, core.OutboundRequest{
		Method:     http.MethodPost,
		Endpoint:   "/contacts/" + url.PathEscape(client.RemoteID) + "/notes",
		Body:       body,
		EntityKind: core.EntityQuote,
		EntityID:   quote.LocalID,
		Operation:  core.OperationNote,
	})
	if err != nil {
		s.observer.Warn(ctx, "add quote note failed", map[string]any{"local_id": quote.LocalID, "error": err.Error()})
	}
}

func (s *OpportunitySync) markFailed(ctx context.Context, quote core.Quote, cause error) error {
	quote.MarkFailed(cause.Error())
	if err := s.quotes.Save(ctx, quote); err != nil {
		s.observer.Error(ctx, "save failed quote state", map[string]any{"local_id": quote.LocalID, "error": err.Error()})
	}
	return cause
}

// QuoteDescription renders the note posted alongside a new opportunity.
func QuoteDescription(quote core.Quote) string {
	lines := []string{"Quote Details:", ""}
	grouped := map[string][]core.LineItem{}
	var order []string
	for _, item := range quote.LineItems {
		label := serviceLabels[item.ServiceType]
		if label == "" {
			label = "Other Services"
		}
		if _, ok := grouped[label]; !ok {
			order = append(order, label)
		}
		grouped[label] = append(grouped[label], item)
	}
	for _, label := range order {
		lines = append(lines, label+":")
		for _, item := range grouped[label] {
			lines = append(lines, fmt.Sprintf("  - %sx %s", strconv.FormatFloat(item.Quantity, 'f', -1, 64), item.Description))
		}
		lines = append(lines, "")
	}
	lines = append(lines, "Pricing:")
	if quote.Total != 0 {
		lines = append(lines, fmt.Sprintf("  Subtotal: $%.2f", quote.Total))
	}
	if quote.TotalIncGst != 0 {
		lines = append(lines, fmt.Sprintf("  Total (inc GST): $%.2f", quote.TotalIncGst))
	}
	return strings.Join(lines, "\n")
}

func applyOpportunity(quote *core.Quote, status string, value *float64, at time.Time) {
	switch strings.TrimSpace(status) {
	case OpportunityWon:
		if quote.Status != core.QuoteStatusAccepted {
			quote.Status = core.QuoteStatusAccepted
			quote.DateAccepted = timePtr(at)
		}
	case OpportunityLost, OpportunityAbandoned:
		if quote.Status != core.QuoteStatusDeclined {
			quote.Status = core.QuoteStatusDeclined
			quote.DateDeclined = timePtr(at)
		}
	}
	if value != nil {
		quote.TotalIncGst = math.Round(*value*100) / 100
	}
}

func quoteStatusFor(status string) string {
	switch strings.TrimSpace(status) {
	case OpportunityWon:
		return core.QuoteStatusAccepted
	case OpportunityLost, OpportunityAbandoned:
		return core.QuoteStatusDeclined
	default:
		return core.QuoteStatusSent
	}
}

func serviceTypes(items []core.LineItem) []string {
	var out []string
	for _, service := range []string{ServiceWindowCleaning, ServicePressureWashing} {
		for _, item := range items {
			if item.ServiceType == service {
				out = append(out, serviceLabels[service])
				break
			}
		}
	}
	return out
}

func primaryService(items []core.LineItem) string {
	windows, pressure := 0, 0
	for _, item := range items {
		switch item.ServiceType {
		case ServiceWindowCleaning:
			windows++
		case ServicePressureWashing:
			pressure++
		}
	}
	switch {
	case windows > pressure:
		return serviceLabels[ServiceWindowCleaning]
	case pressure > windows:
		return serviceLabels[ServicePressureWashing]
	case windows > 0:
		return serviceLabels[ServiceWindowCleaning]
	default:
		return "General Service"
	}
}

var (
	_ core.EventHandler          = (*OpportunitySync)(nil)
	_ outbound.CompletionHandler = (*OpportunitySync)(nil)
)
