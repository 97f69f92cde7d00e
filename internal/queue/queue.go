// Package queue implements a reliable local delivery queue for outbound
// notifications. Messages are persisted before the first send attempt and a
// periodic scavenger retries failures with exponential backoff until they
// succeed or exhaust their retry budget. Delivery is at-least-once;
// consumers are assumed idempotent.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/way365/notiq/internal/models"
	"github.com/way365/notiq/internal/storage"
)

type Options struct {
	// PollInterval is the scavenger period.
	PollInterval time.Duration
	// BaseDelay seeds the exponential backoff (30s, 60s, 120s, ...).
	BaseDelay time.Duration
	// Jitter spreads retry times of simultaneously failing messages.
	// Off by default so scheduled delays stay exact.
	Jitter bool
	// StopGrace bounds how long Stop waits for in-flight deliveries.
	StopGrace time.Duration
	// BatchLimit caps how many due messages one scavenger pass loads.
	BatchLimit int
	// MaxRetry is the default retry budget for new messages.
	MaxRetry int
	// Workers bounds concurrent deliveries within a scavenger pass.
	Workers int
}

func DefaultOptions() Options {
	return Options{
		PollInterval: 30 * time.Second,
		BaseDelay:    DefaultBaseDelay,
		StopGrace:    10 * time.Second,
		BatchLimit:   100,
		MaxRetry:     models.DefaultMaxRetry,
		Workers:      4,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.StopGrace <= 0 {
		o.StopGrace = d.StopGrace
	}
	if o.BatchLimit <= 0 {
		o.BatchLimit = d.BatchLimit
	}
	if o.MaxRetry <= 0 {
		o.MaxRetry = d.MaxRetry
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	return o
}

// Queue is the public face of the delivery mechanism. Construct one per
// store with New, register handlers, then Start it. All methods are safe
// for concurrent use.
type Queue struct {
	store     storage.Store
	registry  *Registry
	engine    *engine
	log       zerolog.Logger
	maxRetry  int
	stopGrace time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

func New(store storage.Store, opts Options, log zerolog.Logger) *Queue {
	opts = opts.withDefaults()
	registry := NewRegistry()
	backoff := Backoff{Base: opts.BaseDelay, Jitter: opts.Jitter}
	return &Queue{
		store:     store,
		registry:  registry,
		engine:    newEngine(store, registry, backoff, opts.BatchLimit, opts.Workers, opts.PollInterval, log),
		log:       log,
		maxRetry:  opts.MaxRetry,
		stopGrace: opts.StopGrace,
	}
}

// RegisterHandler binds a handler to a message type; the last registration
// for a type wins. Messages enqueued before registration are retried by the
// scavenger once a handler appears.
func (q *Queue) RegisterHandler(messageType string, h Handler) {
	q.registry.Register(messageType, h)
}

// Start launches the scavenger. No-op when already running.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.engine.start(ctx)
	q.running = true
	q.log.Info().Msg("reliable message queue started")
}

// Stop halts scheduling immediately and waits up to the grace period for
// in-flight deliveries, then abandons them. No-op when already stopped.
// The store's atomic conditional updates keep abandoned attempts harmless.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}
	q.engine.stopWithin(q.stopGrace)
	q.cancel()
	q.running = false
	q.log.Info().Msg("reliable message queue stopped")
}

func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// SendMessage persists a new pending message and performs one synchronous
// delivery attempt before returning. The message ID comes back regardless
// of the attempt's outcome; a failed attempt is retried by the scavenger.
// Only a store error prevents the message from being accepted.
func (q *Queue) SendMessage(ctx context.Context, messageType, destination, content string) (string, error) {
	m := models.NewMessage(messageType, destination, content, q.maxRetry)

	err := q.store.Insert(ctx, m)
	if errors.Is(err, storage.ErrDuplicateMessageID) {
		// ULIDs make a collision all but impossible; one fresh ID is
		// plenty if it ever happens.
		m.MessageID = models.NewMessageID()
		err = q.store.Insert(ctx, m)
	}
	if err != nil {
		return "", fmt.Errorf("enqueue message: %w", err)
	}

	q.engine.process(ctx, m)
	return m.MessageID, nil
}

// SendTaskCompletion formats a task success notification and enqueues it.
func (q *Queue) SendTaskCompletion(ctx context.Context, messageType, destination, taskName string, duration time.Duration) (string, error) {
	content := fmt.Sprintf("task %q completed successfully in %dms", taskName, duration.Milliseconds())
	return q.SendMessage(ctx, messageType, destination, content)
}

// SendError formats a task failure notification and enqueues it.
func (q *Queue) SendError(ctx context.Context, messageType, destination, taskName, errText string) (string, error) {
	content := fmt.Sprintf("task %q failed: %s", taskName, errText)
	return q.SendMessage(ctx, messageType, destination, content)
}

// Message looks up a record by its message ID; (nil, nil) when absent.
func (q *Queue) Message(ctx context.Context, messageID string) (*models.Message, error) {
	return q.store.FindByMessageID(ctx, messageID)
}

func (q *Queue) Stats(ctx context.Context) (*storage.Stats, error) {
	return q.store.Stats(ctx)
}

// ProcessDue runs a single scavenger pass synchronously. The periodic loop
// uses the same routine; this is exposed so operators (and tests) can drive
// the queue without waiting out the poll interval.
func (q *Queue) ProcessDue(ctx context.Context) error {
	return q.engine.runOnce(ctx)
}
