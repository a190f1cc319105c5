package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-assistant/internal/metrics"
	"github.com/p-blackswan/project-assistant/internal/requestid"
)

var (
	// ErrQueueFull is returned when a conversation has too many pending events.
	ErrQueueFull = errors.New("conversation queue is full")
	// ErrStopped is returned when submitting to a dispatcher that is not running.
	ErrStopped = errors.New("dispatcher is not running")
)

// FailureFunc is told about a job that returned an error or panicked.
type FailureFunc func(ctx context.Context, conversationID string, err error)

type job struct {
	name      string
	requestID string
	fn        func(ctx context.Context) error
}

// Dispatcher runs event jobs one at a time per conversation while different
// conversations proceed concurrently. A lane goroutine exists only while its
// conversation has pending jobs.
type Dispatcher struct {
	mu        sync.Mutex
	lanes     map[string]chan job
	queueSize int
	onFailure FailureFunc
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher. onFailure may be nil.
func NewDispatcher(queueSize int, onFailure FailureFunc, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		lanes:     make(map[string]chan job),
		queueSize: queueSize,
		onFailure: onFailure,
		metrics:   m,
		logger:    logger.With().Str("component", "assistant.dispatcher").Logger(),
	}
}

// Start enables submissions. Jobs run with a context derived from ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.logger.Info().Int("queue_size", d.queueSize).Msg("dispatcher started")
}

// Stop cancels running jobs, drops pending ones and waits for every lane.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
	d.logger.Info().Msg("dispatcher stopped")
}

// Wait blocks until every submitted job has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Submit queues fn on the conversation's lane. ctx only contributes its
// request ID; the job runs under the dispatcher's context.
func (d *Dispatcher) Submit(ctx context.Context, conversationID, name string, fn func(ctx context.Context) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil || d.ctx.Err() != nil {
		return ErrStopped
	}

	jobs, ok := d.lanes[conversationID]
	if !ok {
		jobs = make(chan job, d.queueSize)
		d.lanes[conversationID] = jobs
		d.wg.Add(1)
		go d.lane(conversationID, jobs)
	}
	select {
	case jobs <- job{name: name, requestID: requestid.FromContext(ctx), fn: fn}:
		return nil
	default:
		d.logger.Warn().Str("conversation_id", conversationID).Str("event", name).Msg("conversation queue full, event dropped")
		return ErrQueueFull
	}
}

func (d *Dispatcher) lane(conversationID string, jobs chan job) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		select {
		case j := <-jobs:
			d.mu.Unlock()
			d.run(conversationID, j)
		default:
			delete(d.lanes, conversationID)
			d.mu.Unlock()
			return
		}
	}
}

func (d *Dispatcher) run(conversationID string, j job) {
	if d.ctx.Err() != nil {
		return
	}
	ctx := d.ctx
	if j.requestID != "" {
		ctx = requestid.WithRequestID(ctx, j.requestID)
	}
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in %s handler: %v", j.name, r)
			}
		}()
		return j.fn(ctx)
	}()
	d.metrics.ObserveEvent(j.name, time.Since(start).Seconds())
	if err == nil {
		return
	}

	logger := requestid.Logger(ctx, d.logger)
	logger.Error().Err(err).Str("conversation_id", conversationID).Str("event", j.name).Msg("event handling failed")
	if d.onFailure != nil {
		d.onFailure(ctx, conversationID, err)
	}
}
