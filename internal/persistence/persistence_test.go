package persistence

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/audit"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/router"
)

func storedEvent(id string, ts int64) model.CombatEvent {
	return model.CombatEvent{
		ID: id, BoutID: "bout-1", Round: 1,
		Fighter: model.FighterA, Type: model.EventStrikeSignificant,
		Severity: 0.6, Confidence: 0.9,
		Source: model.SourceCVSystem, TimestampMS: ts,
	}
}

func TestMemoryEventsOrderedByTimestamp(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, storedEvent("e2", 2000)))
	require.NoError(t, s.AppendEvent(ctx, storedEvent("e1", 1000)))

	events, err := s.EventsForRound(ctx, "bout-1", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e2", events[1].ID)

	// Other rounds stay empty.
	events, err = s.EventsForRound(ctx, "bout-1", 2)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryVerdictRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	_, err := s.RoundVerdict(ctx, "bout-1", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	v := model.RoundVerdict{BoutID: "bout-1", Round: 1, Winner: model.WinnerA}
	require.NoError(t, s.SaveRoundVerdict(ctx, v))

	got, err := s.RoundVerdict(ctx, "bout-1", 1)
	require.NoError(t, err)
	assert.Equal(t, model.WinnerA, got.Winner)

	// Re-scoring a round replaces the verdict.
	v.Winner = model.WinnerB
	require.NoError(t, s.SaveRoundVerdict(ctx, v))
	got, err = s.RoundVerdict(ctx, "bout-1", 1)
	require.NoError(t, err)
	assert.Equal(t, model.WinnerB, got.Winner)

	all, err := s.RoundVerdicts(ctx, "bout-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryAuditMirror(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	chain := audit.NewChain("bout-1", s)
	_, err := chain.Append(ctx, audit.KindEventAccepted, "system", 1000, map[string]string{"id": "e1"}, audit.Metadata{})
	require.NoError(t, err)
	_, err = chain.Append(ctx, audit.KindRoundVerdict, "system", 2000, map[string]string{"round": "1"}, audit.Metadata{})
	require.NoError(t, err)

	records, err := s.AuditRecords(ctx, "bout-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, audit.VerifyRecords(records).Valid)
}

func TestMemoryWorkerSnapshot(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.SaveWorkerSnapshot(ctx, []router.WorkerInfo{{ID: "w1", State: router.StateHealthy}}))
	got, err := s.WorkerSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "w1", got[0].ID)
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresFromDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestPostgresAppendEvent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).
		WithArgs("e1", "bout-1", 1, int64(1000), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.AppendEvent(context.Background(), storedEvent("e1", 1000)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEventsForRound(t *testing.T) {
	s, mock := newMockStore(t)

	doc1, _ := json.Marshal(storedEvent("e1", 1000))
	doc2, _ := json.Marshal(storedEvent("e2", 2000))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT doc FROM events")).
		WithArgs("bout-1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(doc1).AddRow(doc2))

	events, err := s.EventsForRound(context.Background(), "bout-1", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresVerdictUpsert(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO round_verdicts")).
		WithArgs("bout-1", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	v := model.RoundVerdict{BoutID: "bout-1", Round: 1, Winner: model.WinnerA}
	require.NoError(t, s.SaveRoundVerdict(context.Background(), v))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresVerdictNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT doc FROM round_verdicts")).
		WithArgs("bout-1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"doc"}))

	_, err := s.RoundVerdict(context.Background(), "bout-1", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresAuditAppendIdempotent(t *testing.T) {
	s, mock := newMockStore(t)

	rec := audit.Record{BoutID: "bout-1", Seq: 1, PrevHash: audit.GenesisHash, Kind: audit.KindEventAccepted}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_chain")).
		WithArgs("bout-1", uint64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.AppendAuditRecord(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}
