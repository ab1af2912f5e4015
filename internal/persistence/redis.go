package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
)

// mirrorTTL bounds how long a broadcast read model outlives its last write.
const mirrorTTL = 24 * time.Hour

// RedisMirror decorates a Store with a redis broadcast of the read models
// other services consume (round verdicts, fight results). Reads always come
// from the wrapped store; a redis failure is logged and never fails a write.
type RedisMirror struct {
	Store
	rdb *redis.Client
}

// NewRedisMirror wraps a store with a redis mirror.
func NewRedisMirror(store Store, rdb *redis.Client) *RedisMirror {
	return &RedisMirror{Store: store, rdb: rdb}
}

// NewAuto returns the store as-is unless REDIS_ADDR is set, in which case the
// store is wrapped with a mirror against that address.
func NewAuto(store Store) Store {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return store
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	log.Info().Str("addr", addr).Msg("redis read-model mirror enabled")
	return NewRedisMirror(store, rdb)
}

func verdictKey(boutID string, round int) string {
	return fmt.Sprintf("fightcore:verdict:%s:%d", boutID, round)
}

func resultKey(boutID string) string {
	return fmt.Sprintf("fightcore:result:%s", boutID)
}

// SaveRoundVerdict writes through to the store, then broadcasts the verdict.
func (m *RedisMirror) SaveRoundVerdict(ctx context.Context, v model.RoundVerdict) error {
	if err := m.Store.SaveRoundVerdict(ctx, v); err != nil {
		return err
	}
	m.broadcast(ctx, verdictKey(v.BoutID, v.Round), v)
	return nil
}

// SaveFightResult writes through to the store, then broadcasts the result.
func (m *RedisMirror) SaveFightResult(ctx context.Context, res model.FightResult) error {
	if err := m.Store.SaveFightResult(ctx, res); err != nil {
		return err
	}
	m.broadcast(ctx, resultKey(res.BoutID), res)
	return nil
}

func (m *RedisMirror) broadcast(ctx context.Context, key string, doc interface{}) {
	raw, err := json.Marshal(doc)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("mirror marshal failed")
		return
	}
	if err := m.rdb.Set(ctx, key, raw, mirrorTTL).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis mirror write failed")
	}
}

// Close closes the redis client and the wrapped store.
func (m *RedisMirror) Close() error {
	if err := m.rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("redis mirror close failed")
	}
	return m.Store.Close()
}
