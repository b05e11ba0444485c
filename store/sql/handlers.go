package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// keyedHandlers builds repository handlers for records keyed by a string
// column. Local ids carry a uuid after their kind prefix.
func keyedHandlers[R any](
	newRecord func() R,
	column string,
	get func(R) string,
	set func(R, string),
) repository.ModelHandlers[R] {
	return repository.ModelHandlers[R]{
		NewRecord: newRecord,
		GetID: func(record R) uuid.UUID {
			return parseUUID(get(record))
		},
		SetID: func(record R, id uuid.UUID) {
			if strings.TrimSpace(get(record)) == "" {
				set(record, id.String())
			}
		},
		GetIdentifier: func() string {
			return column
		},
		GetIdentifierValue: func(record R) string {
			return strings.TrimSpace(get(record))
		},
	}
}

func outboundRequestHandlers() repository.ModelHandlers[*outboundRequestRecord] {
	return keyedHandlers(
		func() *outboundRequestRecord { return &outboundRequestRecord{} },
		"id",
		func(r *outboundRequestRecord) string {
			if r == nil {
				return ""
			}
			return r.ID
		},
		func(r *outboundRequestRecord, id string) {
			if r != nil {
				r.ID = id
			}
		},
	)
}

func clientHandlers() repository.ModelHandlers[*clientRecord] {
	return keyedHandlers(
		func() *clientRecord { return &clientRecord{} },
		"local_id",
		func(r *clientRecord) string {
			if r == nil {
				return ""
			}
			return r.LocalID
		},
		func(r *clientRecord, id string) {
			if r != nil {
				r.LocalID = id
			}
		},
	)
}

func quoteHandlers() repository.ModelHandlers[*quoteRecord] {
	return keyedHandlers(
		func() *quoteRecord { return &quoteRecord{} },
		"local_id",
		func(r *quoteRecord) string {
			if r == nil {
				return ""
			}
			return r.LocalID
		},
		func(r *quoteRecord, id string) {
			if r != nil {
				r.LocalID = id
			}
		},
	)
}

func taskHandlers() repository.ModelHandlers[*taskRecord] {
	return keyedHandlers(
		func() *taskRecord { return &taskRecord{} },
		"local_id",
		func(r *taskRecord) string {
			if r == nil {
				return ""
			}
			return r.LocalID
		},
		func(r *taskRecord, id string) {
			if r != nil {
				r.LocalID = id
			}
		},
	)
}

func rateLimitStateHandlers() repository.ModelHandlers[*rateLimitStateRecord] {
	return keyedHandlers(
		func() *rateLimitStateRecord { return &rateLimitStateRecord{} },
		"id",
		func(r *rateLimitStateRecord) string {
			if r == nil {
				return ""
			}
			return r.ID
		},
		func(r *rateLimitStateRecord, id string) {
			if r != nil {
				r.ID = id
			}
		},
	)
}

// parseUUID accepts a bare uuid or one behind a "kind_" prefix.
func parseUUID(value string) uuid.UUID {
	value = strings.TrimSpace(value)
	if parsed, err := uuid.Parse(value); err == nil {
		return parsed
	}
	if _, suffix, ok := strings.Cut(value, "_"); ok {
		if parsed, err := uuid.Parse(suffix); err == nil {
			return parsed
		}
	}
	return uuid.Nil
}
