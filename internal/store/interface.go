package store

import (
	"context"

	"stopguard/internal/exit"
)

// RuleRepository persists exit rule state across restarts.
type RuleRepository interface {
	exit.RulePersister
	LoadRules(ctx context.Context) ([]exit.ExitRule, error)
}

// ActionRepository stores the audit trail of stop management actions.
type ActionRepository interface {
	AppendActions(ctx context.Context, entries []exit.JournalEntry) error
	// ListActions returns the latest limit entries for ticket in chronological order.
	ListActions(ctx context.Context, ticket int64, limit int) ([]exit.JournalEntry, error)
}

// Store is the entry point for database access.
type Store interface {
	RuleRepository
	ActionRepository
	Close() error
}
