package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/audit"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/router"
)

// MemoryStore keeps every collection in process memory. Default store for
// single-node deployments and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	events   map[string][]model.CombatEvent
	verdicts map[string]model.RoundVerdict
	results  map[string]model.FightResult
	chains   map[string][]audit.Record
	workers  []router.WorkerInfo
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		events:   make(map[string][]model.CombatEvent),
		verdicts: make(map[string]model.RoundVerdict),
		results:  make(map[string]model.FightResult),
		chains:   make(map[string][]audit.Record),
	}
}

func roundKey(boutID string, round int) string {
	return fmt.Sprintf("%s|%d", boutID, round)
}

// AppendEvent stores one canonical event under its bout and round.
func (s *MemoryStore) AppendEvent(_ context.Context, ev model.CombatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := roundKey(ev.BoutID, ev.Round)
	s.events[key] = append(s.events[key], ev)
	return nil
}

// EventsForRound returns the round's events in timestamp order.
func (s *MemoryStore) EventsForRound(_ context.Context, boutID string, round int) ([]model.CombatEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[roundKey(boutID, round)]
	out := make([]model.CombatEvent, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimestampMS < out[j].TimestampMS })
	return out, nil
}

// SaveRoundVerdict upserts a round's verdict.
func (s *MemoryStore) SaveRoundVerdict(_ context.Context, v model.RoundVerdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts[roundKey(v.BoutID, v.Round)] = v
	return nil
}

// RoundVerdict fetches one round's verdict.
func (s *MemoryStore) RoundVerdict(_ context.Context, boutID string, round int) (*model.RoundVerdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.verdicts[roundKey(boutID, round)]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

// RoundVerdicts returns every verdict for a bout, ordered by round.
func (s *MemoryStore) RoundVerdicts(_ context.Context, boutID string) ([]model.RoundVerdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.RoundVerdict
	for _, v := range s.verdicts {
		if v.BoutID == boutID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Round < out[j].Round })
	return out, nil
}

// SaveFightResult upserts a bout's final result.
func (s *MemoryStore) SaveFightResult(_ context.Context, res model.FightResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[res.BoutID] = res
	return nil
}

// FightResult fetches a bout's final result.
func (s *MemoryStore) FightResult(_ context.Context, boutID string) (*model.FightResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[boutID]
	if !ok {
		return nil, ErrNotFound
	}
	return &res, nil
}

// AppendAuditRecord mirrors one chain record.
func (s *MemoryStore) AppendAuditRecord(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[rec.BoutID] = append(s.chains[rec.BoutID], rec)
	return nil
}

// AuditRecords returns a bout's mirrored chain in sequence order.
func (s *MemoryStore) AuditRecords(_ context.Context, boutID string) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.chains[boutID]
	out := make([]audit.Record, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// SaveWorkerSnapshot replaces the stored worker table snapshot.
func (s *MemoryStore) SaveWorkerSnapshot(_ context.Context, workers []router.WorkerInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = make([]router.WorkerInfo, len(workers))
	copy(s.workers, workers)
	return nil
}

// WorkerSnapshot returns the last stored worker table.
func (s *MemoryStore) WorkerSnapshot(_ context.Context) ([]router.WorkerInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]router.WorkerInfo, len(s.workers))
	copy(out, s.workers)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
