package gologger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func TestResolveDeterministicFallback(t *testing.T) {
	loggerOnly := &capturingLogger{id: "logger"}
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	var resolvedProvider glog.LoggerProvider
	_, resolved := Resolve("crmsync", provider, loggerOnly)
	got := resolved.(*capturingLogger)
	if got.id != "provider" {
		t.Fatalf("expected provider logger precedence, got %q", got.id)
	}

	resolvedProvider, resolved = Resolve("crmsync", nil, loggerOnly)
	got = resolved.(*capturingLogger)
	if got.id != "logger" {
		t.Fatalf("expected direct logger when provider is nil, got %q", got.id)
	}
	if resolvedProvider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	_, resolved = Resolve("crmsync", nil, nil)
	if resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestLoggersShareProviderAcrossComponents(t *testing.T) {
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	loggers := NewLoggers(provider, nil)
	if loggers.Engine == nil || loggers.Poller == nil || loggers.Gateway == nil || loggers.Jobs == nil {
		t.Fatalf("expected every component logger resolved, got %+v", loggers)
	}
	if len(provider.requested) == 0 {
		t.Fatalf("expected provider asked for named loggers")
	}
	seen := map[string]bool{}
	for _, name := range provider.requested {
		seen[name] = true
	}
	for _, name := range []string{ComponentEngine, ComponentPoller, ComponentGateway, ComponentJobs} {
		if !seen[name] {
			t.Fatalf("expected logger requested for %q, got %v", name, provider.requested)
		}
	}

	jobProvider := loggers.JobProvider()
	if jobProvider == nil {
		t.Fatalf("expected go-job provider bridge")
	}
	jobProvider.GetLogger(ComponentJobs).Info("hello", "k", "v")

	captured := providerLogger.lastInfo
	if captured.msg != "hello" {
		t.Fatalf("expected bridged message, got %q", captured.msg)
	}
	if captured.args[0] != "k" || captured.args[1] != "v" {
		t.Fatalf("expected bridged args, got %#v", captured.args)
	}
}

func TestLoggersObserverUsesMetrics(t *testing.T) {
	metrics := &countingMetrics{}
	observer := NewLoggers(nil, nil).Observer(metrics)
	observer.Count(context.Background(), "job_succeeded", 1, nil)
	if metrics.counts == 0 {
		t.Fatalf("expected observer to record into metrics")
	}

	fallback := NewLoggers(nil, nil).Observer(nil)
	if fallback.Metrics == nil {
		t.Fatalf("expected nop metrics fallback")
	}
}

type countingMetrics struct {
	counts int
}

func (m *countingMetrics) IncCounter(context.Context, string, int64, map[string]string) {
	m.counts++
}

func (m *countingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

var (
	_ glog.Logger         = (*capturingLogger)(nil)
	_ glog.LoggerProvider = (*capturingProvider)(nil)
)

type capturingProvider struct {
	logger    *capturingLogger
	requested []string
}

func (p *capturingProvider) GetLogger(name string) glog.Logger {
	if p == nil {
		return glog.Nop()
	}
	p.requested = append(p.requested, name)
	if p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type infoCall struct {
	msg  string
	args []any
}

type capturingLogger struct {
	id       string
	lastInfo infoCall
}

func (l *capturingLogger) Trace(string, ...any) {}
func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Warn(string, ...any)  {}
func (l *capturingLogger) Error(string, ...any) {}
func (l *capturingLogger) Fatal(string, ...any) {}

func (l *capturingLogger) Info(msg string, args ...any) {
	l.lastInfo = infoCall{
		msg:  msg,
		args: append([]any(nil), args...),
	}
}

func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}

func TestZerologProviderWritesNamedStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	provider := NewZerologProvider(&buf, "debug")

	loggers := NewLoggers(provider, nil)
	loggers.Poller.Info("poll finished", "fetched", 3, "cursor", int64(42))

	line := buf.String()
	for _, want := range []string{`"component":"crmsync.poller"`, `"message":"poll finished"`, `"fetched":3`, `"cursor":42`, `"level":"info"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %s in %s", want, line)
		}
	}

	buf.Reset()
	NewZerologProvider(&buf, "warn").GetLogger("quiet").Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info suppressed at warn level, got %s", buf.String())
	}
}
