package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/way365/notiq/internal/models"
	"github.com/way365/notiq/internal/storage"
)

// engine drives the delivery state machine. The scavenger loop and inline
// sends both funnel into process, so a message sees identical transition
// logic no matter which path attempts it.
type engine struct {
	store        storage.Store
	registry     *Registry
	backoff      Backoff
	batchLimit   int
	pollInterval time.Duration
	workers      int
	log          zerolog.Logger
	now          func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}

	stop chan struct{}
	wg   sync.WaitGroup
}

func newEngine(store storage.Store, registry *Registry, backoff Backoff, batchLimit, workers int, pollInterval time.Duration, log zerolog.Logger) *engine {
	return &engine{
		store:        store,
		registry:     registry,
		backoff:      backoff,
		batchLimit:   batchLimit,
		pollInterval: pollInterval,
		workers:      workers,
		log:          log,
		now:          time.Now,
		inflight:     make(map[string]struct{}),
	}
}

func (e *engine) start(ctx context.Context) {
	e.stop = make(chan struct{})
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
}

// stopWithin halts the poll loop and waits for in-flight attempts. Returns
// false if the grace period elapsed with work still running; the store's
// conditional updates make abandoning that work safe.
func (e *engine) stopWithin(grace time.Duration) bool {
	close(e.stop)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(grace):
		e.log.Warn().Dur("grace", grace).Msg("grace period elapsed, abandoning in-flight deliveries")
		return false
	}
}

func (e *engine) pollLoop(ctx context.Context) {
	// Immediate first pass so records left over from a previous run are
	// picked up without waiting out a full interval.
	if err := e.runOnce(ctx); err != nil {
		e.log.Error().Err(err).Msg("scavenger pass failed")
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.runOnce(ctx); err != nil {
				e.log.Error().Err(err).Msg("scavenger pass failed")
			}
		}
	}
}

// runOnce performs one scavenger pass: load the due batch and drive every
// record through an attempt. Records are dispatched in created_at order to
// a bounded set of workers and the pass returns once the batch settles.
func (e *engine) runOnce(ctx context.Context) error {
	msgs, err := e.store.FindDue(ctx, e.now().UTC(), e.batchLimit)
	if err != nil {
		return fmt.Errorf("load due messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	sem := make(chan struct{}, e.workers)
	var batch sync.WaitGroup
	for i := range msgs {
		m := msgs[i]
		if e.stopped() {
			break
		}
		sem <- struct{}{}
		batch.Add(1)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer batch.Done()
			defer func() { <-sem }()
			e.process(ctx, &m)
		}()
	}
	batch.Wait()
	return nil
}

func (e *engine) stopped() bool {
	if e.stop == nil {
		return false
	}
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

// process runs one attempt for a record, holding its in-flight slot for the
// duration so no two workers ever act on the same message_id at once.
func (e *engine) process(ctx context.Context, m *models.Message) {
	if !e.acquire(m.MessageID) {
		return
	}
	defer e.release(m.MessageID)
	e.attempt(ctx, m)
}

// attempt is the single transition routine:
//
//	pending → sent                      delivery succeeded
//	pending → pending (retry scheduled) failed, retries remain
//	pending → dead                      failed, retries exhausted
func (e *engine) attempt(ctx context.Context, m *models.Message) {
	err := e.deliver(ctx, m)
	if err == nil {
		if uerr := e.store.UpdateStatus(ctx, m.MessageID, models.StatusSent, m.RetryCount, ""); uerr != nil {
			e.log.Error().Err(uerr).Str("message_id", m.MessageID).Msg("failed to mark message sent")
			return
		}
		e.log.Info().Str("message_id", m.MessageID).Str("type", m.MessageType).Msg("message delivered")
		return
	}

	retry := m.RetryCount + 1
	if retry >= m.MaxRetry {
		reason := fmt.Sprintf("max retry exceeded: %v", err)
		if uerr := e.store.UpdateStatus(ctx, m.MessageID, models.StatusDead, retry, reason); uerr != nil {
			e.log.Error().Err(uerr).Str("message_id", m.MessageID).Msg("failed to mark message dead")
			return
		}
		e.log.Warn().
			Str("message_id", m.MessageID).
			Int("attempts", retry).
			Str("error", err.Error()).
			Msg("message permanently failed")
		return
	}

	next := e.now().UTC().Add(e.backoff.NextDelay(retry))
	if uerr := e.store.UpdateRetry(ctx, m.MessageID, retry, next, err.Error()); uerr != nil {
		e.log.Error().Err(uerr).Str("message_id", m.MessageID).Msg("failed to schedule retry")
		return
	}
	e.log.Info().
		Str("message_id", m.MessageID).
		Int("attempt", retry).
		Time("next_retry", next).
		Str("error", err.Error()).
		Msg("delivery failed, retry scheduled")
}

// deliver resolves the handler and invokes it. A missing handler and a
// panicking handler are both ordinary failures: the record keeps its retry
// budget running, so registering a handler later still rescues the message.
func (e *engine) deliver(ctx context.Context, m *models.Message) (err error) {
	h, ok := e.registry.Resolve(m.MessageType)
	if !ok {
		return fmt.Errorf("no handler registered for type %q", m.MessageType)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Deliver(ctx, m.Destination, m.Content)
}

func (e *engine) acquire(messageID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[messageID]; busy {
		return false
	}
	e.inflight[messageID] = struct{}{}
	return true
}

func (e *engine) release(messageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, messageID)
}
