// Package persistence is the document store behind the pipeline: events,
// round verdicts, fight results, audit chains and worker snapshots. The
// in-memory store is the default; postgres provides durability and redis an
// optional broadcast mirror for read models.
package persistence

import (
	"context"
	"errors"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/audit"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/router"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// Store is the document store contract. Implementations must be safe for
// concurrent use. A Store doubles as the audit chain's sink.
type Store interface {
	audit.Sink

	AppendEvent(ctx context.Context, ev model.CombatEvent) error
	EventsForRound(ctx context.Context, boutID string, round int) ([]model.CombatEvent, error)

	SaveRoundVerdict(ctx context.Context, v model.RoundVerdict) error
	RoundVerdict(ctx context.Context, boutID string, round int) (*model.RoundVerdict, error)
	RoundVerdicts(ctx context.Context, boutID string) ([]model.RoundVerdict, error)

	SaveFightResult(ctx context.Context, res model.FightResult) error
	FightResult(ctx context.Context, boutID string) (*model.FightResult, error)

	AuditRecords(ctx context.Context, boutID string) ([]audit.Record, error)

	SaveWorkerSnapshot(ctx context.Context, workers []router.WorkerInfo) error
	WorkerSnapshot(ctx context.Context) ([]router.WorkerInfo, error)

	Close() error
}
