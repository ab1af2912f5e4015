package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// GenesisHash is the fixed previous-hash of every chain's first record.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Record kinds for decisions worth auditing.
const (
	KindEventAccepted = "event-accepted"
	KindHarmonised    = "harmonised-event"
	KindRoundVerdict  = "round-verdict"
	KindManualEdit    = "manual-edit"
	KindScoringFault  = "scoring-fault"
)

// Metadata attributes a record to the software and hardware that produced it.
type Metadata struct {
	ModelVersion  string `json:"cv_model_version,omitempty"`
	DeviceID      string `json:"judge_device_id,omitempty"`
	EngineVersion string `json:"scoring_engine_version,omitempty"`
}

// Record is one ordered entry in a bout's hash chain.
type Record struct {
	BoutID      string          `json:"bout_id"`
	Seq         uint64          `json:"seq"`
	PrevHash    string          `json:"prev_hash"`
	Kind        string          `json:"kind"`
	Actor       string          `json:"actor"`
	TimestampMS int64           `json:"ts_ms"`
	Payload     json.RawMessage `json:"payload"`
	Metadata    Metadata        `json:"metadata,omitempty"`
	Hash        string          `json:"hash"`
}

// computeHash hashes the deterministically serialised record including the
// previous hash. The ||-joined layout matches what chain verification
// recomputes; the payload is already canonical JSON (Go sorts map keys).
func (r *Record) computeHash() string {
	input := fmt.Sprintf("%s||%d||%s||%s||%s||%d||%s",
		r.BoutID, r.Seq, r.PrevHash, r.Kind, r.Actor, r.TimestampMS, string(r.Payload))
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Sink mirrors appended records to durable storage. Appends never fail the
// in-memory chain on sink errors; the error is logged and the chain proceeds.
type Sink interface {
	AppendAuditRecord(ctx context.Context, rec Record) error
}

// Chain is the append-only audit log for one bout. Appends come only from the
// bout's compute task; readers take a snapshot.
type Chain struct {
	mu      sync.RWMutex
	boutID  string
	records []Record
	sink    Sink
}

// NewChain creates an empty chain for a bout. sink may be nil.
func NewChain(boutID string, sink Sink) *Chain {
	return &Chain{boutID: boutID, sink: sink}
}

// Append serialises payload, links it to the previous record and appends it.
func (c *Chain) Append(ctx context.Context, kind, actor string, tsMS int64, payload interface{}, meta Metadata) (Record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("failed to serialise audit payload: %w", err)
	}

	c.mu.Lock()
	prev := GenesisHash
	if n := len(c.records); n > 0 {
		prev = c.records[n-1].Hash
	}
	rec := Record{
		BoutID:      c.boutID,
		Seq:         uint64(len(c.records) + 1),
		PrevHash:    prev,
		Kind:        kind,
		Actor:       actor,
		TimestampMS: tsMS,
		Payload:     raw,
		Metadata:    meta,
	}
	rec.Hash = rec.computeHash()
	c.records = append(c.records, rec)
	c.mu.Unlock()

	if c.sink != nil {
		if err := c.sink.AppendAuditRecord(ctx, rec); err != nil {
			log.Warn().Err(err).Str("bout_id", c.boutID).Uint64("seq", rec.Seq).
				Msg("audit sink append failed, chain continues in memory")
		}
	}
	return rec, nil
}

// Snapshot returns a copy of the chain's records.
func (c *Chain) Snapshot() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Len returns the number of records in the chain.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// VerifyResult reports the outcome of a chain verification pass.
type VerifyResult struct {
	Valid      bool   `json:"valid"`
	BadSeq     uint64 `json:"bad_seq,omitempty"`
	Recomputed string `json:"recomputed,omitempty"`
	Stored     string `json:"stored,omitempty"`
}

// Verify re-hashes the chain and reports the first sequence whose recomputed
// hash differs from the stored hash, or declares the chain valid.
func (c *Chain) Verify() VerifyResult {
	return VerifyRecords(c.Snapshot())
}

// VerifyRecords verifies an arbitrary ordered record slice, e.g. one read
// back from the document store.
func VerifyRecords(records []Record) VerifyResult {
	prev := GenesisHash
	for i := range records {
		rec := records[i]
		if rec.Seq != uint64(i+1) {
			return VerifyResult{Valid: false, BadSeq: rec.Seq, Stored: rec.Hash}
		}
		if rec.PrevHash != prev {
			return VerifyResult{Valid: false, BadSeq: rec.Seq, Recomputed: prev, Stored: rec.PrevHash}
		}
		recomputed := rec.computeHash()
		if recomputed != rec.Hash {
			return VerifyResult{Valid: false, BadSeq: rec.Seq, Recomputed: recomputed, Stored: rec.Hash}
		}
		prev = rec.Hash
	}
	return VerifyResult{Valid: true}
}

// Log manages one chain per bout.
type Log struct {
	mu     sync.Mutex
	chains map[string]*Chain
	sink   Sink
}

// NewLog creates a chain registry. sink may be nil.
func NewLog(sink Sink) *Log {
	return &Log{chains: make(map[string]*Chain), sink: sink}
}

// Chain returns the chain for a bout, creating it on first use.
func (l *Log) Chain(boutID string) *Chain {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chains[boutID]
	if !ok {
		c = NewChain(boutID, l.sink)
		l.chains[boutID] = c
	}
	return c
}
