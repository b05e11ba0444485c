package core

import (
	"strings"
	"time"
)

type SyncStatus string

const (
	SyncStatusUnsynced SyncStatus = "unsynced"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusFailed   SyncStatus = "failed"
	SyncStatusConflict SyncStatus = "conflict"
)

type EntityKind string

const (
	EntityClient EntityKind = "client"
	EntityQuote  EntityKind = "quote"
	EntityTask   EntityKind = "task"
)

// SyncState is the binding between a local record and its remote counterpart.
type SyncState struct {
	LocalID        string     `json:"localId"`
	RemoteID       string     `json:"remoteId,omitempty"`
	LastSyncedAt   *time.Time `json:"lastSyncedAt,omitempty"`
	LastModifiedAt *time.Time `json:"lastModifiedAt,omitempty"`
	SyncStatus     SyncStatus `json:"syncStatus"`
	SyncError      string     `json:"syncError,omitempty"`
	Deleted        bool       `json:"deleted,omitempty"`
}

func (s SyncState) Bound() bool {
	return strings.TrimSpace(s.RemoteID) != ""
}

// HasLocalEdits reports whether the record changed locally after the last sync.
func (s SyncState) HasLocalEdits() bool {
	switch s.SyncStatus {
	case SyncStatusUnsynced, SyncStatusPending, SyncStatusFailed:
	default:
		return false
	}
	if s.LastModifiedAt == nil || s.LastSyncedAt == nil {
		return true
	}
	return s.LastModifiedAt.After(*s.LastSyncedAt)
}

// Bind sets the remote id once; rebinding requires Unlink.
func (s *SyncState) Bind(remoteID string) error {
	if s == nil {
		return nil
	}
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return BadInputError("remote id is required to bind", map[string]any{"local_id": s.LocalID})
	}
	current := strings.TrimSpace(s.RemoteID)
	if current != "" && current != remoteID {
		return BindingError(s.LocalID, current, remoteID)
	}
	s.RemoteID = remoteID
	return nil
}

func (s *SyncState) Unlink() {
	if s == nil {
		return
	}
	s.RemoteID = ""
	s.LastSyncedAt = nil
	s.SyncStatus = SyncStatusUnsynced
	s.SyncError = ""
}

func (s *SyncState) MarkSynced(at time.Time) {
	if s == nil {
		return
	}
	at = at.UTC()
	s.LastSyncedAt = &at
	s.SyncStatus = SyncStatusSynced
	s.SyncError = ""
}

// MarkAcked records a request accepted by the CRM. The body was captured at
// capturedAt; a local edit made after that is still unsent, so the record
// stays unsynced instead of synced.
func (s *SyncState) MarkAcked(capturedAt, at time.Time) {
	if s == nil {
		return
	}
	if capturedAt.IsZero() || s.LastModifiedAt == nil || !s.LastModifiedAt.After(capturedAt) {
		s.MarkSynced(at)
		return
	}
	capturedAt = capturedAt.UTC()
	s.LastSyncedAt = &capturedAt
	s.SyncStatus = SyncStatusUnsynced
	s.SyncError = ""
}

func (s *SyncState) MarkPending() {
	if s == nil {
		return
	}
	s.SyncStatus = SyncStatusPending
	s.SyncError = ""
}

func (s *SyncState) MarkFailed(reason string) {
	if s == nil {
		return
	}
	s.SyncStatus = SyncStatusFailed
	s.SyncError = strings.TrimSpace(reason)
}

func (s *SyncState) MarkConflict(reason string) {
	if s == nil {
		return
	}
	s.SyncStatus = SyncStatusConflict
	s.SyncError = strings.TrimSpace(reason)
}

// Touch records a local edit.
func (s *SyncState) Touch(at time.Time) {
	if s == nil {
		return
	}
	at = at.UTC()
	s.LastModifiedAt = &at
	if s.SyncStatus == SyncStatusSynced || s.SyncStatus == "" {
		s.SyncStatus = SyncStatusUnsynced
	}
}

type Client struct {
	SyncState
	Name           string   `json:"name"`
	Email          string   `json:"email,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	Location       string   `json:"location,omitempty"`
	Street         string   `json:"street,omitempty"`
	City           string   `json:"city,omitempty"`
	State          string   `json:"state,omitempty"`
	Postcode       string   `json:"postcode,omitempty"`
	ClientType     string   `json:"clientType,omitempty"`
	Source         string   `json:"source,omitempty"`
	Notes          string   `json:"notes,omitempty"`
	ServiceHistory []string `json:"serviceHistory,omitempty"`
	LastJobDate    string   `json:"lastJobDate,omitempty"`
	TotalRevenue   float64  `json:"totalRevenue,omitempty"`
}

type LineItem struct {
	Description string  `json:"description"`
	ServiceType string  `json:"serviceType,omitempty"`
	Quantity    float64 `json:"quantity,omitempty"`
	Total       float64 `json:"total,omitempty"`
}

type Note struct {
	ID        string    `json:"id"`
	RemoteID  string    `json:"remoteId,omitempty"`
	Body      string    `json:"body"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Quote struct {
	SyncState
	ClientID     string     `json:"clientId,omitempty"`
	ClientName   string     `json:"clientName,omitempty"`
	QuoteNumber  string     `json:"quoteNumber,omitempty"`
	Title        string     `json:"title,omitempty"`
	Status       string     `json:"status,omitempty"`
	Total        float64    `json:"total,omitempty"`
	TotalIncGst  float64    `json:"totalIncGst,omitempty"`
	LineItems    []LineItem `json:"lineItems,omitempty"`
	QuoteDate    *time.Time `json:"quoteDate,omitempty"`
	DateAccepted *time.Time `json:"dateAccepted,omitempty"`
	DateDeclined *time.Time `json:"dateDeclined,omitempty"`
	Notes        []Note     `json:"notes,omitempty"`
}

type Task struct {
	SyncState
	ClientID    string     `json:"clientId,omitempty"`
	QuoteID     string     `json:"quoteId,omitempty"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	AssignedTo  string     `json:"assignedTo,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	SourceRef   string     `json:"sourceRef,omitempty"`
}

const (
	QuoteStatusDraft    = "draft"
	QuoteStatusSent     = "sent"
	QuoteStatusPending  = "pending"
	QuoteStatusAccepted = "accepted"
	QuoteStatusDeclined = "declined"
	QuoteStatusFollowUp = "follow-up"

	TaskStatusPending   = "pending"
	TaskStatusCompleted = "completed"

	ClientTypeResidential = "residential"
	ClientTypeCommercial  = "commercial"
)

// Family payloads carried by CanonicalEvent.Payload.

type AddressPayload struct {
	Street   string `json:"street,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	Postcode string `json:"postcode,omitempty"`
}

type ContactPayload struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	FirstName   string         `json:"firstName,omitempty"`
	LastName    string         `json:"lastName,omitempty"`
	Email       string         `json:"email,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	Address     AddressPayload `json:"address"`
	Tags        []string       `json:"tags,omitempty"`
	DateUpdated *time.Time     `json:"dateUpdated,omitempty"`
}

type OpportunityPayload struct {
	ID          string     `json:"id"`
	ContactID   string     `json:"contactId,omitempty"`
	Name        string     `json:"name,omitempty"`
	Value       *float64   `json:"value,omitempty"`
	Status      string     `json:"status,omitempty"`
	Stage       string     `json:"stage,omitempty"`
	DateUpdated *time.Time `json:"dateUpdated,omitempty"`
}

type TaskPayload struct {
	ID          string     `json:"id"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	ContactID   string     `json:"contactId,omitempty"`
	AssignedTo  string     `json:"assignedTo,omitempty"`
	DateUpdated *time.Time `json:"dateUpdated,omitempty"`
}

type NotePayload struct {
	ID        string     `json:"id"`
	ContactID string     `json:"contactId,omitempty"`
	Body      string     `json:"body,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

type MessagePayload struct {
	ID         string     `json:"id"`
	ContactID  string     `json:"contactId,omitempty"`
	Type       string     `json:"type,omitempty"`
	Body       string     `json:"body,omitempty"`
	ReceivedAt *time.Time `json:"receivedAt,omitempty"`
}
