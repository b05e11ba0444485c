package core

import (
	stderrors "errors"
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func TestErrorConstructorsCarryStableCodes(t *testing.T) {
	cases := map[string]error{
		ErrorBadInput:         BadInputError("event id is required", nil),
		ErrorNotFound:         NotFoundError("client not found", nil),
		ErrorSignatureInvalid: SignatureError("signature mismatch"),
		ErrorEventUnsupported: UnsupportedEventError("AppointmentCreate"),
		ErrorTransformFailed:  TransformError("contact payload is not an object", nil),
		ErrorNetworkFailed:    NetworkError(stderrors.New("dial tcp: refused"), "crm unreachable", nil),
		ErrorRateLimited:      RateLimitError(2*time.Second, nil),
		ErrorRemoteRejected:   RemoteRejectedError(http.StatusUnprocessableEntity, "email invalid", nil),
		ErrorConflict:         ConflictError(EntityClient, "cl_1", "both sides edited"),
		ErrorBindingConflict:  BindingError("cl_1", "ct_1", "ct_2"),
		ErrorConfigInvalid:    ConfigError("api.base_url", "base url is required"),
		ErrorRetryExhausted:   RetryExhaustedError(stderrors.New("timeout"), 4, nil),
	}
	for code, err := range cases {
		if !HasTextCode(err, code) {
			t.Fatalf("expected %s, got %q from %v", code, TextCode(err), err)
		}
		if mapped := MapError(err); mapped.Code == 0 {
			t.Fatalf("expected http status on %s", code)
		}
	}
}

func TestIsRetryableSeparatesTransientFailures(t *testing.T) {
	retryable := []error{
		stderrors.New("connection reset"),
		NetworkError(nil, "crm unreachable", nil),
		RateLimitError(time.Second, nil),
	}
	for _, err := range retryable {
		if !IsRetryable(err) {
			t.Fatalf("expected retryable: %v", err)
		}
	}
	permanent := []error{
		nil,
		BadInputError("bad", nil),
		RemoteRejectedError(http.StatusBadRequest, "rejected", nil),
		ConflictError(EntityQuote, "q_1", "edited"),
		ConfigError("webhook_secret", "missing"),
		TransformError("bad payload", nil),
		RetryExhaustedError(nil, 3, nil),
	}
	for _, err := range permanent {
		if IsRetryable(err) {
			t.Fatalf("expected permanent: %v", err)
		}
	}
}

func TestRetryAfterReadsRateLimitHint(t *testing.T) {
	delay, ok := RetryAfter(RateLimitError(1500*time.Millisecond, map[string]any{"bucket": "contacts"}))
	if !ok || delay != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s hint, got %v %v", delay, ok)
	}
	if _, ok := RetryAfter(RateLimitError(0, nil)); ok {
		t.Fatalf("expected no hint without retry-after")
	}
	if _, ok := RetryAfter(NetworkError(nil, "down", nil)); ok {
		t.Fatalf("expected no hint on network errors")
	}
}

func TestMapErrorClassifiesPlainErrors(t *testing.T) {
	if mapped := MapError(stderrors.New("webhook signature mismatch")); mapped.TextCode != ErrorSignatureInvalid {
		t.Fatalf("expected signature code, got %q", mapped.TextCode)
	}
	if mapped := MapError(stderrors.New("throttled by upstream")); mapped.Category != goerrors.CategoryRateLimit {
		t.Fatalf("expected rate limit category, got %q", mapped.Category)
	}
	if mapped := MapError(ErrNotFound); mapped.TextCode != ErrorNotFound || mapped.Code != http.StatusNotFound {
		t.Fatalf("expected not found envelope, got %+v", mapped)
	}
	if MapError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	if !IsNotFound(NotFoundError("task missing", nil)) {
		t.Fatalf("expected not found detection")
	}
}

func TestRemoteRejectedKeepsUpstreamStatus(t *testing.T) {
	mapped := MapError(RemoteRejectedError(http.StatusConflict, "duplicate contact", map[string]any{"remote_id": "ct_1"}))
	if mapped.Code != http.StatusConflict {
		t.Fatalf("expected upstream status, got %d", mapped.Code)
	}
	if mapped.Metadata["status_code"] != http.StatusConflict || mapped.Metadata["remote_id"] != "ct_1" {
		t.Fatalf("unexpected metadata %+v", mapped.Metadata)
	}
}
