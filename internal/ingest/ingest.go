// Package ingest owns the camera feed connections. Each feed is a websocket
// stream of frames, paced to the target cadence; a failing feed is isolated
// and never takes its siblings down.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/config"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
)

// FrameFunc receives every admitted frame.
type FrameFunc func(frame *model.Frame)

// FeedStats is the externally visible state of one camera feed.
type FeedStats struct {
	CameraID  string  `json:"camera_id"`
	Connected bool    `json:"connected"`
	FPS       float64 `json:"fps"`
	Frames    int64   `json:"frames"`
	Dropped   int64   `json:"dropped"`
	Malformed int64   `json:"malformed"`
}

type feed struct {
	cameraID string
	url      string
	cancel   context.CancelFunc
	limiter  *rate.Limiter

	connected bool
	fps       float64
	lastFrame time.Time
	frames    int64
	dropped   int64
	malformed int64
}

// Manager runs all camera feeds for one venue. Safe for concurrent use.
type Manager struct {
	cfg config.IngestConfig
	now func() time.Time

	mu       sync.Mutex
	feeds    map[string]*feed
	callback FrameFunc
}

// NewManager creates a feed manager.
func NewManager(cfg config.IngestConfig) *Manager {
	return &Manager{
		cfg:   cfg,
		now:   time.Now,
		feeds: make(map[string]*feed),
	}
}

// SetCallback installs the frame consumer. Must be set before AddStream.
func (m *Manager) SetCallback(fn FrameFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = fn
}

// AddStream connects a camera feed and starts its read loop.
func (m *Manager) AddStream(ctx context.Context, cameraID, url string) error {
	m.mu.Lock()
	if _, exists := m.feeds[cameraID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("camera %s already streaming", cameraID)
	}
	ctx, cancel := context.WithCancel(ctx)
	f := &feed{
		cameraID: cameraID,
		url:      url,
		cancel:   cancel,
		limiter:  rate.NewLimiter(rate.Limit(m.cfg.TargetFPS), int(m.cfg.TargetFPS)),
	}
	m.feeds[cameraID] = f
	m.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		m.RemoveStream(cameraID)
		return fmt.Errorf("failed to connect camera %s: %w", cameraID, err)
	}

	m.mu.Lock()
	f.connected = true
	m.mu.Unlock()

	go m.readLoop(ctx, f, conn)
	log.Info().Str("camera_id", cameraID).Str("url", url).Msg("camera feed connected")
	return nil
}

// RemoveStream stops a feed and forgets its state.
func (m *Manager) RemoveStream(cameraID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.feeds[cameraID]; ok {
		f.cancel()
		delete(m.feeds, cameraID)
		log.Info().Str("camera_id", cameraID).Msg("camera feed removed")
	}
}

// readLoop drains one connection until it fails or its context ends. A read
// error only marks this feed disconnected.
func (m *Manager) readLoop(ctx context.Context, f *feed, conn *websocket.Conn) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var frame model.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("camera_id", f.cameraID).Msg("camera feed read failed")
				m.mu.Lock()
				f.connected = false
				m.mu.Unlock()
			}
			return
		}
		m.HandleFrame(f.cameraID, &frame)
	}
}

// HandleFrame admits one frame from a feed: validation, cadence pacing and
// FPS accounting, then the callback. Frames beyond the target cadence drop.
func (m *Manager) HandleFrame(cameraID string, frame *model.Frame) {
	m.mu.Lock()
	f, ok := m.feeds[cameraID]
	if !ok {
		m.mu.Unlock()
		return
	}

	if err := frame.Validate(); err != nil {
		f.malformed++
		m.mu.Unlock()
		log.Warn().Err(err).Str("camera_id", cameraID).Msg("malformed frame dropped")
		return
	}

	if !f.limiter.Allow() {
		f.dropped++
		m.mu.Unlock()
		return
	}

	now := m.now()
	if !f.lastFrame.IsZero() {
		if gap := now.Sub(f.lastFrame).Seconds(); gap > 0 {
			instant := 1 / gap
			if f.fps == 0 {
				f.fps = instant
			} else {
				f.fps = m.cfg.FPSAlpha*instant + (1-m.cfg.FPSAlpha)*f.fps
			}
		}
	}
	f.lastFrame = now
	f.frames++
	cb := m.callback
	m.mu.Unlock()

	if cb != nil {
		cb(frame)
	}
}

// Stats snapshots every feed, sorted by camera id.
func (m *Manager) Stats() []FeedStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FeedStats, 0, len(m.feeds))
	for _, f := range m.feeds {
		out = append(out, FeedStats{
			CameraID:  f.cameraID,
			Connected: f.connected,
			FPS:       f.fps,
			Frames:    f.frames,
			Dropped:   f.dropped,
			Malformed: f.malformed,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

// Stop tears down every feed.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, f := range m.feeds {
		f.cancel()
		delete(m.feeds, id)
	}
}
