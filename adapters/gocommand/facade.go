package gocommand

import (
	"fmt"

	crmsync "github.com/goliatone/go-crmsync"
	synccommand "github.com/goliatone/go-crmsync/command"
	"github.com/goliatone/go-crmsync/core"
	syncquery "github.com/goliatone/go-crmsync/query"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
)

// Subscriptions holds every dispatcher subscription made for a facade.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// RegisterFacade registers and subscribes every sync command and query so
// they can be sent through Dispatch and Query by message type. A failure
// undoes the subscriptions made so far.
func RegisterFacade(adapter *RegistryAdapter, facade *crmsync.Facade, runnerOpts ...runner.Option) (Subscriptions, error) {
	if facade == nil {
		return nil, fmt.Errorf("gocommand: facade is required")
	}
	commands := facade.Commands()
	queries := facade.Queries()

	var subs Subscriptions
	register := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			subs.Unsubscribe()
			return err
		}
		subs = append(subs, sub)
		return nil
	}

	steps := []func() error{
		func() error { return register(RegisterAndSubscribe[synccommand.SyncNowMessage](adapter, commands.SyncNow, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribe[synccommand.ProcessBatchMessage](adapter, commands.ProcessBatch, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribe[synccommand.QueueEventMessage](adapter, commands.QueueEvent, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribe[synccommand.SyncPendingMessage](adapter, commands.SyncPending, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribe[synccommand.FlushRequestsMessage](adapter, commands.FlushRequests, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribe[synccommand.ClearRequestsMessage](adapter, commands.ClearRequests, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribe[synccommand.SetOfflineMessage](adapter, commands.SetOffline, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribe[synccommand.UpdateConfigMessage](adapter, commands.UpdateConfig, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribe[synccommand.ResolveConflictMessage](adapter, commands.ResolveConflict, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribe[synccommand.RequeueDeadLetterMessage](adapter, commands.RequeueDeadLetter, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribeQuery[syncquery.StatusMessage, crmsync.Status](adapter, queries.Status, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribeQuery[syncquery.DeadLettersMessage, []core.DeadLetter](adapter, queries.DeadLetters, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribeQuery[syncquery.FailedRequestsMessage, []core.OutboundRequest](adapter, queries.FailedRequests, runnerOpts...)) },
		func() error { return register(RegisterAndSubscribeQuery[syncquery.ConfigMessage, core.SyncConfig](adapter, queries.Config, runnerOpts...)) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return subs, nil
}
