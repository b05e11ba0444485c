package query

import "strings"

const (
	TypeStatus         = "crmsync.query.status"
	TypeDeadLetters    = "crmsync.query.dead_letters.list"
	TypeFailedRequests = "crmsync.query.requests.failed"
	TypeConfig         = "crmsync.query.config"
)

type StatusMessage struct{}

func (StatusMessage) Type() string { return TypeStatus }

func (StatusMessage) Validate() error { return nil }

// DeadLettersMessage lists dead letters, optionally narrowed to one reason.
// A zero Limit returns every match.
type DeadLettersMessage struct {
	Reason string
	Limit  int
}

func (DeadLettersMessage) Type() string { return TypeDeadLetters }

func (m DeadLettersMessage) Validate() error {
	if m.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	if m.Reason != strings.TrimSpace(m.Reason) {
		return queryValidationError("reason", "reason must not carry surrounding spaces")
	}
	return nil
}

type FailedRequestsMessage struct{}

func (FailedRequestsMessage) Type() string { return TypeFailedRequests }

func (FailedRequestsMessage) Validate() error { return nil }

// ConfigMessage reads the running config. Secrets are masked unless
// IncludeSecrets is set.
type ConfigMessage struct {
	IncludeSecrets bool
}

func (ConfigMessage) Type() string { return TypeConfig }

func (ConfigMessage) Validate() error { return nil }
