package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/audit"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/router"
)

// schema holds every collection as a JSONB document with the columns the
// queries filter on lifted out.
const schema = `
CREATE TABLE IF NOT EXISTS events (
	id        TEXT PRIMARY KEY,
	bout_id   TEXT NOT NULL,
	round     INT  NOT NULL,
	ts_ms     BIGINT NOT NULL,
	doc       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS events_bout_round ON events (bout_id, round, ts_ms);

CREATE TABLE IF NOT EXISTS round_verdicts (
	bout_id   TEXT NOT NULL,
	round     INT  NOT NULL,
	doc       JSONB NOT NULL,
	PRIMARY KEY (bout_id, round)
);

CREATE TABLE IF NOT EXISTS fight_results (
	bout_id   TEXT PRIMARY KEY,
	doc       JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_chain (
	bout_id   TEXT NOT NULL,
	seq       BIGINT NOT NULL,
	doc       JSONB NOT NULL,
	PRIMARY KEY (bout_id, seq)
);

CREATE TABLE IF NOT EXISTS workers (
	id        TEXT PRIMARY KEY,
	doc       JSONB NOT NULL
);
`

// PostgresStore stores every collection as JSONB documents.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgres connects and ensures the schema exists.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresFromDB wraps an existing connection, for tests.
func NewPostgresFromDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// AppendEvent inserts one canonical event document.
func (s *PostgresStore) AppendEvent(ctx context.Context, ev model.CombatEvent) error {
	doc, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, bout_id, round, ts_ms, doc) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.BoutID, ev.Round, ev.TimestampMS, doc)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// EventsForRound reads a round's events in timestamp order.
func (s *PostgresStore) EventsForRound(ctx context.Context, boutID string, round int) ([]model.CombatEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM events WHERE bout_id = $1 AND round = $2 ORDER BY ts_ms, id`,
		boutID, round)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []model.CombatEvent
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var ev model.CombatEvent
		if err := json.Unmarshal(doc, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event document: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SaveRoundVerdict upserts a round verdict document.
func (s *PostgresStore) SaveRoundVerdict(ctx context.Context, v model.RoundVerdict) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO round_verdicts (bout_id, round, doc) VALUES ($1, $2, $3)
		 ON CONFLICT (bout_id, round) DO UPDATE SET doc = EXCLUDED.doc`,
		v.BoutID, v.Round, doc)
	if err != nil {
		return fmt.Errorf("failed to upsert verdict: %w", err)
	}
	return nil
}

// RoundVerdict reads one round's verdict.
func (s *PostgresStore) RoundVerdict(ctx context.Context, boutID string, round int) (*model.RoundVerdict, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM round_verdicts WHERE bout_id = $1 AND round = $2`,
		boutID, round).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query verdict: %w", err)
	}
	var v model.RoundVerdict
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("failed to decode verdict document: %w", err)
	}
	return &v, nil
}

// RoundVerdicts reads every verdict for a bout, ordered by round.
func (s *PostgresStore) RoundVerdicts(ctx context.Context, boutID string) ([]model.RoundVerdict, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM round_verdicts WHERE bout_id = $1 ORDER BY round`, boutID)
	if err != nil {
		return nil, fmt.Errorf("failed to query verdicts: %w", err)
	}
	defer rows.Close()

	var out []model.RoundVerdict
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}
		var v model.RoundVerdict
		if err := json.Unmarshal(doc, &v); err != nil {
			return nil, fmt.Errorf("failed to decode verdict document: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SaveFightResult upserts a bout result document.
func (s *PostgresStore) SaveFightResult(ctx context.Context, res model.FightResult) error {
	doc, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal fight result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fight_results (bout_id, doc) VALUES ($1, $2)
		 ON CONFLICT (bout_id) DO UPDATE SET doc = EXCLUDED.doc`,
		res.BoutID, doc)
	if err != nil {
		return fmt.Errorf("failed to upsert fight result: %w", err)
	}
	return nil
}

// FightResult reads a bout's result.
func (s *PostgresStore) FightResult(ctx context.Context, boutID string) (*model.FightResult, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM fight_results WHERE bout_id = $1`, boutID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query fight result: %w", err)
	}
	var res model.FightResult
	if err := json.Unmarshal(doc, &res); err != nil {
		return nil, fmt.Errorf("failed to decode fight result document: %w", err)
	}
	return &res, nil
}

// AppendAuditRecord mirrors one chain record. Records are immutable; a replay
// of an existing sequence is ignored.
func (s *PostgresStore) AppendAuditRecord(ctx context.Context, rec audit.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_chain (bout_id, seq, doc) VALUES ($1, $2, $3)
		 ON CONFLICT (bout_id, seq) DO NOTHING`,
		rec.BoutID, rec.Seq, doc)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// AuditRecords reads a bout's mirrored chain in sequence order.
func (s *PostgresStore) AuditRecords(ctx context.Context, boutID string) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM audit_chain WHERE bout_id = $1 ORDER BY seq`, boutID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit chain: %w", err)
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		var rec audit.Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode audit document: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveWorkerSnapshot upserts every worker document.
func (s *PostgresStore) SaveWorkerSnapshot(ctx context.Context, workers []router.WorkerInfo) error {
	for _, w := range workers {
		doc, err := json.Marshal(w)
		if err != nil {
			return fmt.Errorf("failed to marshal worker %s: %w", w.ID, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO workers (id, doc) VALUES ($1, $2)
			 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
			w.ID, doc); err != nil {
			return fmt.Errorf("failed to upsert worker %s: %w", w.ID, err)
		}
	}
	return nil
}

// WorkerSnapshot reads the stored worker table.
func (s *PostgresStore) WorkerSnapshot(ctx context.Context) ([]router.WorkerInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM workers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workers: %w", err)
	}
	defer rows.Close()

	var out []router.WorkerInfo
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		var w router.WorkerInfo
		if err := json.Unmarshal(doc, &w); err != nil {
			return nil, fmt.Errorf("failed to decode worker document: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
