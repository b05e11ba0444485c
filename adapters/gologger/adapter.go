package gologger

import (
	"github.com/goliatone/go-crmsync/core"
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// Component names used for the named loggers handed to each sync part.
const (
	ComponentEngine  = "crmsync.engine"
	ComponentPoller  = "crmsync.poller"
	ComponentGateway = "crmsync.gateway"
	ComponentJobs    = "crmsync.jobs"
)

// Resolve picks provider over logger over nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// Loggers bundles the named loggers used by a sync deployment so the engine,
// the gateway and the job worker share one provider.
type Loggers struct {
	Provider glog.LoggerProvider
	Engine   glog.Logger
	Poller   glog.Logger
	Gateway  glog.Logger
	Jobs     job.Logger
}

// NewLoggers resolves one provider and derives a logger per component.
func NewLoggers(provider glog.LoggerProvider, fallback glog.Logger) Loggers {
	resolvedProvider, _ := Resolve(ComponentEngine, provider, fallback)
	named := func(name string) glog.Logger {
		_, logger := Resolve(name, resolvedProvider, nil)
		return logger
	}
	return Loggers{
		Provider: resolvedProvider,
		Engine:   named(ComponentEngine),
		Poller:   named(ComponentPoller),
		Gateway:  named(ComponentGateway),
		Jobs:     ToJobLogger(named(ComponentJobs)),
	}
}

// JobProvider exposes the shared provider to go-job workers.
func (l Loggers) JobProvider() job.LoggerProvider {
	return ToJobProvider(l.Provider)
}

// Observer returns a job observer that logs through the jobs component and
// records into metrics when one is given.
func (l Loggers) Observer(metrics core.MetricsRecorder) *core.Observer {
	observer := core.NewObserver(ComponentJobs, l.Provider, nil)
	if metrics != nil {
		observer.Metrics = metrics
	}
	return observer
}
