package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/ingest"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/router"
)

// inferencer is the worker call surface, split out so tests can stub the
// websocket client.
type inferencer interface {
	Infer(ctx context.Context, frame *model.Frame) (model.RawCVInput, error)
	Close() error
}

// Dispatcher closes the frame loop: camera frames are routed to a CV worker,
// the inference result is reported back to the router and submitted to the
// engine as raw CV input.
type Dispatcher struct {
	engine  *Engine
	router  *router.Router
	timeout time.Duration
	dial    func(workerID, endpoint string) inferencer

	mu      sync.Mutex
	clients map[string]inferencer
}

// NewDispatcher wires the dispatcher as the feed manager's frame consumer.
func NewDispatcher(e *Engine, rt *router.Router, feeds *ingest.Manager, callTimeout time.Duration) *Dispatcher {
	d := &Dispatcher{
		engine:  e,
		router:  rt,
		timeout: callTimeout,
		dial: func(workerID, endpoint string) inferencer {
			return router.NewClient(workerID, endpoint, callTimeout)
		},
		clients: make(map[string]inferencer),
	}
	if feeds != nil {
		feeds.SetCallback(d.Dispatch)
	}
	return d
}

func (d *Dispatcher) client(workerID string) (inferencer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[workerID]; ok {
		return c, nil
	}
	for _, info := range d.router.Workers() {
		if info.ID == workerID {
			c := d.dial(workerID, info.Endpoint)
			d.clients[workerID] = c
			return c, nil
		}
	}
	return nil, errors.New("worker vanished from table")
}

// Dispatch routes one frame and runs the worker call off the feed goroutine.
func (d *Dispatcher) Dispatch(frame *model.Frame) {
	workerID, err := d.router.Route(frame)
	if err != nil {
		log.Warn().Err(err).Str("frame_id", frame.ID).Msg("frame dropped, no worker")
		return
	}
	c, err := d.client(workerID)
	if err != nil {
		d.router.ReportResult(workerID, 0, true)
		log.Warn().Err(err).Str("worker_id", workerID).Msg("frame dropped")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		start := time.Now()
		raw, err := c.Infer(ctx, frame)
		d.router.ReportResult(workerID, time.Since(start), err != nil)
		if err != nil {
			log.Warn().Err(err).Str("worker_id", workerID).
				Str("frame_id", frame.ID).Msg("inference failed")
			return
		}
		if err := d.engine.SubmitRawCV(ctx, raw); err != nil && !errors.Is(err, ErrShuttingDown) {
			log.Warn().Err(err).Str("frame_id", frame.ID).Msg("raw input rejected")
		}
	}()
}

// Close tears down every worker client.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, c := range d.clients {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Str("worker_id", id).Msg("client close failed")
		}
		delete(d.clients, id)
	}
}
