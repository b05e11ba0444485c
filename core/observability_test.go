package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFieldMap(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFieldMap(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFieldMap(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func cloneFieldMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

func TestObserverRecordsSuccessMetricsAndLog(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	observer := &Observer{Logger: logger, Metrics: metrics, Prefix: "crmsync"}

	observer.Observe(context.Background(), "Apply Event", time.Now().Add(-5*time.Millisecond), nil, map[string]any{
		"event_type": "contact-updated",
		"event_id":   "evt_1",
	})

	if len(metrics.counters) != 1 || metrics.counters[0].name != "crmsync.apply_event.total" {
		t.Fatalf("expected one total counter, got %+v", metrics.counters)
	}
	tags := metrics.counters[0].tags
	if tags["status"] != "success" || tags["event_type"] != "contact-updated" {
		t.Fatalf("unexpected tags %+v", tags)
	}
	if len(metrics.histograms) != 1 || metrics.histograms[0].name != "crmsync.apply_event.duration_ms" {
		t.Fatalf("expected duration histogram, got %+v", metrics.histograms)
	}
	records := logger.snapshot()
	if len(records) != 1 || records[0].level != "info" || records[0].msg != "apply_event succeeded" {
		t.Fatalf("unexpected log records %+v", records)
	}
	if records[0].fields["event_id"] != "evt_1" {
		t.Fatalf("expected traceable event id in log fields, got %+v", records[0].fields)
	}
}

func TestObserverMeasuresDurationOnInjectedClock(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	startedAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	observer := &Observer{
		Logger:  newCaptureLogger(),
		Metrics: metrics,
		Now:     func() time.Time { return startedAt.Add(1500 * time.Millisecond) },
	}

	observer.Observe(context.Background(), "poll", startedAt, nil, nil)

	if len(metrics.histograms) != 1 || metrics.histograms[0].value != 1500 {
		t.Fatalf("expected 1500ms from the injected clock, got %+v", metrics.histograms)
	}
}

func TestObserverLogsFailureWithErrorCode(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	observer := &Observer{Logger: logger, Metrics: metrics}

	observer.Observe(context.Background(), "push", time.Now(), RemoteRejectedError(422, "contact email invalid", nil), nil)

	records := logger.snapshot()
	if len(records) != 1 || records[0].level != "error" {
		t.Fatalf("expected one error record, got %+v", records)
	}
	if records[0].fields["error_code"] != ErrorRemoteRejected {
		t.Fatalf("expected error code field, got %+v", records[0].fields)
	}
	if metrics.counters[0].tags["status"] != "failure" {
		t.Fatalf("expected failure status tag")
	}
}

func TestObserverRedactsSecretsInLogFields(t *testing.T) {
	logger := newCaptureLogger()
	observer := &Observer{Logger: logger}

	observer.Info(context.Background(), "api configured", map[string]any{
		"api_key":        "key_live_1",
		"webhook_secret": "whsec_1",
		"location_id":    "loc_1",
	})

	fields := logger.snapshot()[0].fields
	if fields["api_key"] != RedactedValue || fields["webhook_secret"] != RedactedValue {
		t.Fatalf("expected secrets redacted, got %+v", fields)
	}
	if fields["location_id"] != "loc_1" {
		t.Fatalf("expected location id visible, got %+v", fields)
	}
}

func TestNilObserverIsSafe(t *testing.T) {
	var observer *Observer
	observer.Observe(context.Background(), "poll", time.Now(), nil, nil)
	observer.Count(context.Background(), "poll", 1, nil)
}
