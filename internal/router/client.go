package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
)

// Client is a websocket connection to one CV worker, guarded by a circuit
// breaker so a flapping worker sheds load instead of stalling the router.
type Client struct {
	workerID string
	endpoint string
	timeout  time.Duration
	breaker  *gobreaker.CircuitBreaker

	mu   sync.Mutex
	conn *websocket.Conn
}

// inferRequest is the frame envelope sent to a worker.
type inferRequest struct {
	Frame *model.Frame `json:"frame"`
}

// NewClient creates a worker client. The connection is established lazily on
// the first call.
func NewClient(workerID, endpoint string, timeout time.Duration) *Client {
	settings := gobreaker.Settings{
		Name:    "worker-" + workerID,
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("worker circuit state change")
		},
	}
	return &Client{
		workerID: workerID,
		endpoint: endpoint,
		timeout:  timeout,
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

func (c *Client) dialLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to dial worker %s: %w", c.workerID, err)
	}
	c.conn = conn
	return nil
}

// Infer sends one frame and waits for the worker's raw inference output. The
// call deadline is the router's configured per-call timeout; a breaker in the
// open state fails fast without touching the connection.
func (c *Client) Infer(ctx context.Context, frame *model.Frame) (model.RawCVInput, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.call(ctx, frame)
	})
	if err != nil {
		return model.RawCVInput{}, err
	}
	return result.(model.RawCVInput), nil
}

func (c *Client) call(ctx context.Context, frame *model.Frame) (model.RawCVInput, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.dialLocked(ctx); err != nil {
		return model.RawCVInput{}, err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(inferRequest{Frame: frame}); err != nil {
		c.reset()
		return model.RawCVInput{}, fmt.Errorf("failed to send frame to worker %s: %w", c.workerID, err)
	}

	_ = c.conn.SetReadDeadline(deadline)
	var raw model.RawCVInput
	if err := c.conn.ReadJSON(&raw); err != nil {
		c.reset()
		return model.RawCVInput{}, fmt.Errorf("failed to read inference from worker %s: %w", c.workerID, err)
	}
	if err := raw.Validate(); err != nil {
		return model.RawCVInput{}, fmt.Errorf("worker %s returned malformed inference: %w", c.workerID, err)
	}
	return raw, nil
}

// reset drops a broken connection so the next call redials.
func (c *Client) reset() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
