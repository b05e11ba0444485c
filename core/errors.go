package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput         = "SYNC_BAD_INPUT"
	ErrorNotFound         = "SYNC_NOT_FOUND"
	ErrorSignatureInvalid = "SYNC_SIGNATURE_INVALID"
	ErrorEventUnsupported = "SYNC_EVENT_UNSUPPORTED"
	ErrorTransformFailed  = "SYNC_TRANSFORM_FAILED"
	ErrorApplyFailed      = "SYNC_APPLY_FAILED"
	ErrorNetworkFailed    = "SYNC_NETWORK_FAILED"
	ErrorRateLimited      = "SYNC_RATE_LIMITED"
	ErrorConflict         = "SYNC_CONFLICT"
	ErrorBindingConflict  = "SYNC_BINDING_CONFLICT"
	ErrorConfigInvalid    = "SYNC_CONFIG_INVALID"
	ErrorRemoteRejected   = "SYNC_REMOTE_REJECTED"
	ErrorRetryExhausted   = "SYNC_RETRY_EXHAUSTED"
	ErrorInternal         = "SYNC_INTERNAL_ERROR"
)

var ErrNotFound = errors.New("crmsync: not found")

func newSyncError(message string, category goerrors.Category, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(httpStatus(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrapSyncError(source error, category goerrors.Category, textCode string, message string, metadata map[string]any) *goerrors.Error {
	if source == nil {
		return newSyncError(message, category, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(httpStatus(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func BadInputError(message string, metadata map[string]any) error {
	return newSyncError(message, goerrors.CategoryBadInput, ErrorBadInput, metadata)
}

func NotFoundError(message string, metadata map[string]any) error {
	return wrapSyncError(ErrNotFound, goerrors.CategoryNotFound, ErrorNotFound, message, metadata)
}

func SignatureError(message string) error {
	return newSyncError(message, goerrors.CategoryAuth, ErrorSignatureInvalid, nil)
}

func UnsupportedEventError(eventType string) error {
	return newSyncError(
		fmt.Sprintf("event type %q not supported", strings.TrimSpace(eventType)),
		goerrors.CategoryBadInput,
		ErrorEventUnsupported,
		map[string]any{"event_type": strings.TrimSpace(eventType)},
	)
}

func TransformError(message string, metadata map[string]any) error {
	return newSyncError(message, goerrors.CategoryValidation, ErrorTransformFailed, metadata)
}

func WrapTransformError(source error, message string, metadata map[string]any) error {
	return wrapSyncError(source, goerrors.CategoryValidation, ErrorTransformFailed, message, metadata)
}

func ApplyError(source error, message string, metadata map[string]any) error {
	return wrapSyncError(source, goerrors.CategoryOperation, ErrorApplyFailed, message, metadata)
}

func NetworkError(source error, message string, metadata map[string]any) error {
	return wrapSyncError(source, goerrors.CategoryExternal, ErrorNetworkFailed, message, metadata)
}

func RateLimitError(retryAfter time.Duration, metadata map[string]any) error {
	meta := cloneFields(metadata)
	if retryAfter > 0 {
		meta["retry_after_ms"] = retryAfter.Milliseconds()
	}
	return newSyncError("remote rate limit reached", goerrors.CategoryRateLimit, ErrorRateLimited, meta)
}

func RemoteRejectedError(status int, message string, metadata map[string]any) error {
	meta := cloneFields(metadata)
	meta["status_code"] = status
	return newSyncError(message, goerrors.CategoryBadInput, ErrorRemoteRejected, meta).WithCode(status)
}

func ConflictError(kind EntityKind, localID string, reason string) error {
	return newSyncError(
		fmt.Sprintf("%s %s in conflict: %s", kind, strings.TrimSpace(localID), strings.TrimSpace(reason)),
		goerrors.CategoryConflict,
		ErrorConflict,
		map[string]any{"entity_kind": string(kind), "local_id": strings.TrimSpace(localID)},
	)
}

func BindingError(localID string, current string, requested string) error {
	return newSyncError(
		"remote id binding is immutable; unlink before rebinding",
		goerrors.CategoryConflict,
		ErrorBindingConflict,
		map[string]any{"local_id": localID, "remote_id": current, "requested_remote_id": requested},
	)
}

func ConfigError(field string, message string) error {
	return goerrors.NewValidation("crmsync: invalid configuration", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorConfigInvalid).
		WithSeverity(goerrors.SeverityError)
}

func RetryExhaustedError(source error, attempts int, metadata map[string]any) error {
	meta := cloneFields(metadata)
	meta["attempts"] = attempts
	return wrapSyncError(source, goerrors.CategoryOperation, ErrorRetryExhausted, "retry budget exhausted", meta)
}

// TextCode returns the envelope text code of err, or "" when err is not a sync error.
func TextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		return strings.TrimSpace(richErr.TextCode)
	}
	return ""
}

func HasTextCode(err error, code string) bool {
	return err != nil && TextCode(err) == code
}

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotFound) || HasTextCode(err, ErrorNotFound)
}

// IsRetryable reports whether a failure is transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil {
		return true
	}
	switch richErr.TextCode {
	case ErrorSignatureInvalid, ErrorEventUnsupported, ErrorTransformFailed,
		ErrorConflict, ErrorBindingConflict, ErrorConfigInvalid, ErrorRemoteRejected, ErrorRetryExhausted:
		return false
	}
	switch richErr.Category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation, goerrors.CategoryAuth,
		goerrors.CategoryAuthz, goerrors.CategoryConflict, goerrors.CategoryNotFound:
		return false
	}
	return true
}

// RetryAfter extracts the retry hint carried by a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil || richErr.Category != goerrors.CategoryRateLimit {
		return 0, false
	}
	switch value := richErr.Metadata["retry_after_ms"].(type) {
	case int64:
		return time.Duration(value) * time.Millisecond, value > 0
	case int:
		return time.Duration(value) * time.Millisecond, value > 0
	case float64:
		return time.Duration(value) * time.Millisecond, value > 0
	}
	return 0, false
}

// MapError normalizes any error into the sync error envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureEnvelope(richErr)
	}
	if errors.Is(err, ErrNotFound) {
		return newSyncError(err.Error(), goerrors.CategoryNotFound, ErrorNotFound, nil)
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"):
		return newSyncError(err.Error(), goerrors.CategoryAuth, ErrorSignatureInvalid, nil)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newSyncError(err.Error(), goerrors.CategoryRateLimit, ErrorRateLimited, nil)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newSyncError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput, nil)
	}
	return ensureEnvelope(goerrors.MapToError(err, goerrors.DefaultErrorMappers()))
}

func ensureEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorSignatureInvalid
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorNetworkFailed
	case goerrors.CategoryOperation:
		return ErrorApplyFailed
	default:
		return ErrorInternal
	}
}

func httpStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
