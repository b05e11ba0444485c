package crmsync

import (
	"fmt"

	"github.com/goliatone/go-crmsync/command"
	"github.com/goliatone/go-crmsync/query"
)

// CommandQueryService is what the facade needs from an engine. *Engine
// satisfies it.
type CommandQueryService interface {
	command.SyncService
	query.StatusReader[Status]
	query.DeadLetterReader
	query.FailedRequestReader
	query.ConfigReader
}

type Commands struct {
	SyncNow           *command.SyncNowCommand
	ProcessBatch      *command.ProcessBatchCommand
	QueueEvent        *command.QueueEventCommand
	SyncPending       *command.SyncPendingCommand
	FlushRequests     *command.FlushRequestsCommand
	ClearRequests     *command.ClearRequestsCommand
	SetOffline        *command.SetOfflineCommand
	UpdateConfig      *command.UpdateConfigCommand
	ResolveConflict   *command.ResolveConflictCommand
	RequeueDeadLetter *command.RequeueDeadLetterCommand
}

type Queries struct {
	Status         *query.StatusQuery[Status]
	DeadLetters    *query.DeadLettersQuery
	FailedRequests *query.FailedRequestsQuery
	Config         *query.ConfigQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("crmsync: command/query service is required")
	}
	facade := &Facade{service: service}
	facade.commands = Commands{
		SyncNow:           command.NewSyncNowCommand(service),
		ProcessBatch:      command.NewProcessBatchCommand(service),
		QueueEvent:        command.NewQueueEventCommand(service),
		SyncPending:       command.NewSyncPendingCommand(service),
		FlushRequests:     command.NewFlushRequestsCommand(service),
		ClearRequests:     command.NewClearRequestsCommand(service),
		SetOffline:        command.NewSetOfflineCommand(service),
		UpdateConfig:      command.NewUpdateConfigCommand(service),
		ResolveConflict:   command.NewResolveConflictCommand(service),
		RequeueDeadLetter: command.NewRequeueDeadLetterCommand(service),
	}
	facade.queries = Queries{
		Status:         query.NewStatusQuery[Status](service),
		DeadLetters:    query.NewDeadLettersQuery(service),
		FailedRequests: query.NewFailedRequestsQuery(service),
		Config:         query.NewConfigQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*Engine)(nil)
