// Package crmsync keeps local clients, quotes and tasks in step with a CRM.
// Webhooks land on a gateway, the engine polls the gateway, applies events
// in order and pushes local edits back through a rate-limited queue that
// survives going offline.
package crmsync

import (
	"context"

	"github.com/goliatone/go-crmsync/core"
)

type Config = core.SyncConfig

type Event = core.CanonicalEvent

type DeadLetter = core.DeadLetter

type ConflictPolicy = core.ConflictPolicy

const (
	ConflictLocalWins  = core.ConflictLocalWins
	ConflictRemoteWins = core.ConflictRemoteWins
	ConflictNewestWins = core.ConflictNewestWins
	ConflictManual     = core.ConflictManual
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// Setup builds an engine and starts it.
func Setup(ctx context.Context, cfg Config, opts ...Option) (*Engine, error) {
	engine, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := engine.Start(ctx); err != nil {
		engine.Stop()
		return nil, err
	}
	return engine, nil
}
