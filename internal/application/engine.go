// Package application is the composition root: it wires ingest, routing, CV
// interpretation, gating, harmonisation, scoring, stats and audit into one
// engine. Each bout gets a single compute goroutine fed by a multi-producer
// queue, so all per-bout state is touched from exactly one place.
package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/audit"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/config"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/cv"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/harmonizer"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/metrics"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/persistence"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/pipeline"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/scoring"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/stats"
)

// ErrShuttingDown rejects submissions once Stop has begun.
var ErrShuttingDown = errors.New("engine shutting down")

// Engine owns all bouts in flight.
type Engine struct {
	cfg     *config.Config
	store   persistence.Store
	stats   *stats.Aggregator
	auditor *audit.Log
	scorer  *scoring.Engine
	reg     *metrics.Registry
	meta    audit.Metadata

	mu     sync.Mutex
	bouts  map[string]*boutLoop
	closed bool
}

// New wires an engine over the given store.
func New(cfg *config.Config, scoringCfg *scoring.Config, store persistence.Store, agg *stats.Aggregator, reg *metrics.Registry) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   store,
		stats:   agg,
		auditor: audit.NewLog(store),
		scorer:  scoring.NewEngine(scoringCfg),
		reg:     reg,
		meta:    audit.Metadata{EngineVersion: scoring.EngineVersion},
		bouts:   make(map[string]*boutLoop),
	}
}

// Auditor exposes the chain registry for the ops surface.
func (e *Engine) Auditor() *audit.Log { return e.auditor }

// task is one unit of work for a bout's compute goroutine. Tasks are ordered
// by (tsMS, seq) before processing; seq preserves producer order for ties.
type task struct {
	tsMS int64
	seq  uint64

	event *model.CombatEvent
	raw   *model.RawCVInput
	run   func()
}

type boutLoop struct {
	boutID string
	engine *Engine

	smoother *cv.Smoother
	fuser    *cv.Fuser
	classify *cv.Classifier
	gate     *pipeline.Gate
	harmon   *harmonizer.Harmonizer

	cvPending []model.CombatEvent
	degraded  bool

	mu      sync.Mutex
	cond    *sync.Cond
	pending []task
	seq     uint64
	closing bool
	done    chan struct{}
}

func (e *Engine) loopFor(boutID string) (*boutLoop, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrShuttingDown
	}
	b, ok := e.bouts[boutID]
	if !ok {
		b = &boutLoop{
			boutID:   boutID,
			engine:   e,
			smoother: cv.NewSmoother(e.cfg.Smoother),
			fuser:    cv.NewFuser(e.cfg.Fusion.WindowMS),
			classify: cv.NewClassifier(boutID),
			gate:     pipeline.NewGate(e.cfg.Dedup, e.reg),
			harmon:   harmonizer.New(e.cfg.Harmonizer, e.reg),
			done:     make(chan struct{}),
		}
		b.cond = sync.NewCond(&b.mu)
		e.bouts[boutID] = b
		go b.run()
	}
	return b, nil
}

// SubmitJudgeEvent validates and enqueues one operator observation.
func (e *Engine) SubmitJudgeEvent(ctx context.Context, j model.JudgeEvent) error {
	if err := j.Validate(); err != nil {
		return err
	}
	b, err := e.loopFor(j.BoutID)
	if err != nil {
		return err
	}
	ev := j.Event(uuid.NewString())
	return b.enqueue(task{tsMS: ev.TimestampMS, event: &ev})
}

// SubmitRawCV validates and enqueues one worker inference output.
func (e *Engine) SubmitRawCV(ctx context.Context, raw model.RawCVInput) error {
	if err := raw.Validate(); err != nil {
		return err
	}
	b, err := e.loopFor(raw.BoutID)
	if err != nil {
		return err
	}
	r := raw
	return b.enqueue(task{tsMS: raw.TimestampMS, raw: &r})
}

// ComputeRound flushes the bout's buffers and scores the round.
func (e *Engine) ComputeRound(ctx context.Context, boutID string, round int) (*model.RoundVerdict, error) {
	b, err := e.loopFor(boutID)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		verdict *model.RoundVerdict
		err     error
	}
	res := make(chan outcome, 1)
	barrier := task{tsMS: int64(1) << 62, run: func() {
		v, err := b.scoreRound(ctx, round)
		res <- outcome{verdict: v, err: err}
	}}
	if err := b.enqueue(barrier); err != nil {
		return nil, err
	}
	select {
	case out := <-res:
		return out.verdict, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FinaliseFight aggregates the stored round verdicts into a fight result.
func (e *Engine) FinaliseFight(ctx context.Context, boutID string) (*model.FightResult, error) {
	verdicts, err := e.store.RoundVerdicts(ctx, boutID)
	if err != nil {
		return nil, err
	}
	if len(verdicts) == 0 {
		return nil, fmt.Errorf("no scored rounds for bout %s", boutID)
	}

	totals := map[model.FighterID]int{model.FighterA: 0, model.FighterB: 0}
	for _, v := range verdicts {
		totals[model.FighterA] += v.Scores[model.FighterA]
		totals[model.FighterB] += v.Scores[model.FighterB]
	}
	winner := model.WinnerDraw
	if totals[model.FighterA] > totals[model.FighterB] {
		winner = model.WinnerA
	} else if totals[model.FighterB] > totals[model.FighterA] {
		winner = model.WinnerB
	}

	e.mu.Lock()
	degraded := false
	if b, ok := e.bouts[boutID]; ok {
		b.mu.Lock()
		degraded = b.degraded
		b.mu.Unlock()
	}
	e.mu.Unlock()

	result := &model.FightResult{
		BoutID:      boutID,
		Rounds:      verdicts,
		TotalScores: totals,
		Winner:      winner,
		Degraded:    degraded,
	}
	if err := e.store.SaveFightResult(ctx, *result); err != nil {
		return nil, err
	}
	return result, nil
}

// Stop drains every bout loop. Submissions after Stop return ErrShuttingDown.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	loops := make([]*boutLoop, 0, len(e.bouts))
	for _, b := range e.bouts {
		loops = append(loops, b)
	}
	e.mu.Unlock()

	for _, b := range loops {
		b.close()
		<-b.done
	}
}

func (b *boutLoop) enqueue(t task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		return ErrShuttingDown
	}
	b.seq++
	t.seq = b.seq
	b.pending = append(b.pending, t)
	b.cond.Signal()
	return nil
}

func (b *boutLoop) close() {
	b.mu.Lock()
	b.closing = true
	b.cond.Signal()
	b.mu.Unlock()
}

// run is the bout's single compute goroutine. Each wake drains the queue,
// orders the batch by timestamp and processes it.
func (b *boutLoop) run() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.pending) == 0 && !b.closing {
			b.cond.Wait()
		}
		if len(b.pending) == 0 && b.closing {
			b.mu.Unlock()
			return
		}
		batch := b.pending
		b.pending = nil
		b.mu.Unlock()

		sort.SliceStable(batch, func(i, j int) bool {
			if batch[i].tsMS != batch[j].tsMS {
				return batch[i].tsMS < batch[j].tsMS
			}
			return batch[i].seq < batch[j].seq
		})
		for i := range batch {
			b.process(&batch[i])
		}
	}
}

func (b *boutLoop) process(t *task) {
	ctx := context.Background()
	switch {
	case t.raw != nil:
		b.handleRaw(ctx, t.raw)
	case t.event != nil:
		b.admit(ctx, *t.event)
	case t.run != nil:
		t.run()
	}
}

// handleRaw walks one inference output through smoothing, classification and
// windowed fusion.
func (b *boutLoop) handleRaw(ctx context.Context, raw *model.RawCVInput) {
	smoothed, ok := b.smoother.Observe(*raw)
	if !ok {
		return
	}
	b.cvPending = append(b.cvPending, b.classify.Classify(smoothed)...)

	// Fuse and advance everything beyond the fusion window behind the
	// newest classified event.
	cutoff := raw.TimestampMS - b.engine.cfg.Fusion.WindowMS
	var due, hold []model.CombatEvent
	for _, ev := range b.cvPending {
		if ev.TimestampMS <= cutoff {
			due = append(due, ev)
		} else {
			hold = append(hold, ev)
		}
	}
	b.cvPending = hold
	for _, ev := range b.fuser.Fuse(due) {
		b.admit(ctx, ev)
	}
}

// admit runs one canonical candidate through the gate and harmonizer, then
// persists whatever the harmonizer releases.
func (b *boutLoop) admit(ctx context.Context, ev model.CombatEvent) {
	if !b.gate.Admit(&ev).Accepted {
		return
	}
	for _, released := range b.harmon.Offer(ev) {
		b.persist(ctx, released)
	}
}

func (b *boutLoop) persist(ctx context.Context, ev model.CombatEvent) {
	kind := audit.KindEventAccepted
	actor := string(ev.Source)
	if ev.Provenance != nil {
		kind = audit.KindHarmonised
	}
	if _, err := b.engine.auditor.Chain(b.boutID).Append(ctx, kind, actor, ev.TimestampMS, ev, b.engine.meta); err != nil {
		log.Warn().Err(err).Str("bout_id", b.boutID).Msg("audit append failed")
	}
	if err := b.engine.store.AppendEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("bout_id", b.boutID).Str("event_id", ev.ID).
			Msg("event write failed")
		return
	}
	b.engine.stats.Invalidate(ctx, ev.BoutID, ev.Round)
}

// scoreRound drains the CV and harmonizer buffers, loads the round's stored
// timeline and runs the scoring engine. Runs on the compute goroutine.
func (b *boutLoop) scoreRound(ctx context.Context, round int) (*model.RoundVerdict, error) {
	for _, ev := range b.fuser.Fuse(b.cvPending) {
		b.admit(ctx, ev)
	}
	b.cvPending = nil
	for _, ev := range b.harmon.Flush() {
		b.persist(ctx, ev)
	}

	events, err := b.engine.store.EventsForRound(ctx, b.boutID, round)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	verdict, err := b.engine.scorer.ScoreRound(b.boutID, round, events)
	if err != nil {
		if errors.Is(err, scoring.ErrScoringFault) {
			b.mu.Lock()
			b.degraded = true
			b.mu.Unlock()
			if b.engine.reg != nil {
				b.engine.reg.ScoringFaults.Inc()
			}
			if _, aerr := b.engine.auditor.Chain(b.boutID).Append(ctx, audit.KindScoringFault,
				"scoring-engine", time.Now().UnixMilli(),
				map[string]interface{}{"round": round, "error": err.Error()},
				b.engine.meta); aerr != nil {
				log.Warn().Err(aerr).Str("bout_id", b.boutID).Msg("fault audit append failed")
			}
			log.Error().Err(err).Str("bout_id", b.boutID).Int("round", round).
				Msg("round scoring aborted, bout degraded")
		}
		return nil, err
	}

	if b.engine.reg != nil {
		b.engine.reg.RoundsScored.Inc()
		b.engine.reg.ScoreLatencyMS.Observe(float64(time.Since(start).Microseconds()) / 1000)
	}
	if err := b.engine.store.SaveRoundVerdict(ctx, *verdict); err != nil {
		return nil, err
	}
	if _, err := b.engine.auditor.Chain(b.boutID).Append(ctx, audit.KindRoundVerdict,
		"scoring-engine", time.Now().UnixMilli(), verdict, b.engine.meta); err != nil {
		log.Warn().Err(err).Str("bout_id", b.boutID).Msg("verdict audit append failed")
	}
	return verdict, nil
}
