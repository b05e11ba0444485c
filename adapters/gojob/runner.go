package gojob

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/entities"
	"github.com/goliatone/go-crmsync/outbound"
	"github.com/goliatone/go-crmsync/poller"
	syncengine "github.com/goliatone/go-crmsync/sync"
)

const (
	JobIDPoll      = "crmsync.poll"
	JobIDProcess   = "crmsync.process"
	JobIDPush      = "crmsync.push"
	JobIDFlush     = "crmsync.flush"
	JobIDPurgeSeen = "crmsync.seen.purge"
)

const defaultRetryDelay = time.Minute

func KnownJob(jobID string) bool {
	switch strings.TrimSpace(jobID) {
	case JobIDPoll, JobIDProcess, JobIDPush, JobIDFlush, JobIDPurgeSeen:
		return true
	default:
		return false
	}
}

// Engine is the part of the sync engine a job worker drives.
type Engine interface {
	SyncNow(ctx context.Context) (poller.PollResult, error)
	ProcessNow(ctx context.Context) (syncengine.BatchResult, error)
	SyncPending(ctx context.Context) (entities.PushSummary, error)
	Flush(ctx context.Context) (outbound.FlushResult, error)
	PurgeSeen(ctx context.Context) (int, error)
}

// Runner executes sync jobs against an engine. It is the go-job side
// alternative to the engine's own loops.
type Runner struct {
	engine Engine
	hook   WorkerHook
}

func NewRunner(engine Engine, hook WorkerHook) *Runner {
	return &Runner{engine: engine, hook: hook}
}

// Run executes one job and returns its result for logging.
func (r *Runner) Run(ctx context.Context, msg *Message) (any, error) {
	if r == nil || r.engine == nil {
		return nil, core.ConfigError("gojob.engine", "job runner requires an engine")
	}
	if msg == nil {
		return nil, core.BadInputError("job message is required", nil)
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDPoll:
		return r.engine.SyncNow(ctx)
	case JobIDProcess:
		return r.engine.ProcessNow(ctx)
	case JobIDPush:
		return r.engine.SyncPending(ctx)
	case JobIDFlush:
		return r.engine.Flush(ctx)
	case JobIDPurgeSeen:
		return r.engine.PurgeSeen(ctx)
	default:
		return nil, core.BadInputError("unknown sync job", map[string]any{"job_id": msg.JobID})
	}
}

// Handle runs a delivered job and settles it. Retryable failures are
// requeued after the server's Retry-After or the default delay. Other
// failures go straight to the dead letter queue. The job error reaches the
// hook; Handle only returns settle errors.
func (r *Runner) Handle(ctx context.Context, delivery *DeliveryAdapter, attempt int) error {
	if delivery == nil {
		return core.BadInputError("job delivery is required", nil)
	}
	msg := delivery.Message()
	event := Event{Message: msg, Attempt: attempt, StartedAt: time.Now()}
	r.onStart(ctx, event)

	_, err := r.Run(ctx, msg)
	event.Duration = time.Since(event.StartedAt)
	if err == nil {
		r.onSuccess(ctx, event)
		return delivery.Ack(ctx)
	}

	event.Err = err
	opts := NackOptions{Reason: err.Error()}
	if core.IsRetryable(err) {
		opts.Requeue = true
		opts.Delay = defaultRetryDelay
		if delay, ok := core.RetryAfter(err); ok {
			opts.Delay = delay
		}
	} else {
		opts.DeadLetter = true
	}
	normalized := delivery.policy.NormalizeAttempt(opts, attempt)
	if normalized.Requeue {
		event.Delay = normalized.Delay
		r.onRetry(ctx, event)
	} else {
		r.onFailure(ctx, event)
	}
	return delivery.NackForAttempt(ctx, opts, attempt)
}

func (r *Runner) onStart(ctx context.Context, event Event) {
	if r.hook != nil {
		r.hook.OnStart(ctx, event)
	}
}

func (r *Runner) onSuccess(ctx context.Context, event Event) {
	if r.hook != nil {
		r.hook.OnSuccess(ctx, event)
	}
}

func (r *Runner) onFailure(ctx context.Context, event Event) {
	if r.hook != nil {
		r.hook.OnFailure(ctx, event)
	}
}

func (r *Runner) onRetry(ctx context.Context, event Event) {
	if r.hook != nil {
		r.hook.OnRetry(ctx, event)
	}
}
