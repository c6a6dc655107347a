package reqlog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/AgentCommerce/ucp/internal/metrics"
	"github.com/AgentCommerce/ucp/internal/observability"
)

// Recorder accepts entries from request middleware and persists them
// through a bounded queue and a single worker. A full queue drops the
// entry; a store failure logs and moves on. The request path never
// blocks on persistence.
type Recorder struct {
	store    Store
	queue    chan Entry
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	hooks    *observability.Registry
	stopChan chan struct{}
	doneChan chan struct{}
}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	Store     Store
	QueueSize int // Pending-entry buffer (default: 256)
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	Hooks     *observability.Registry
}

const (
	defaultQueueSize = 256
	persistTimeout   = 5 * time.Second
)

// NewRecorder creates a recorder. Call Start to launch the worker.
func NewRecorder(opts RecorderOptions) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger.GetLevel() == zerolog.Disabled {
		opts.Logger = zerolog.Nop()
	}
	return &Recorder{
		store:    opts.Store,
		queue:    make(chan Entry, opts.QueueSize),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		hooks:    opts.Hooks,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches the persistence worker.
func (r *Recorder) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop drains queued entries and stops the worker.
func (r *Recorder) Stop() {
	close(r.stopChan)
	<-r.doneChan
}

// Record enqueues one entry. Non-blocking: when the queue is full the
// entry is counted as dropped and discarded.
func (r *Recorder) Record(entry Entry) {
	if entry.ID == "" {
		entry.ID = NewEntryID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	select {
	case r.queue <- entry:
	default:
		if r.metrics != nil {
			r.metrics.ObserveRequestLog(string(entry.Kind), true)
		}
		r.logger.Warn().
			Str("endpoint", entry.Endpoint).
			Msg("request log queue full, entry dropped")
	}
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.doneChan)

	r.logger.Info().
		Int("queueSize", cap(r.queue)).
		Msg("request log recorder started")

	for {
		select {
		case <-r.stopChan:
			r.drain()
			r.logger.Info().Msg("request log recorder stopping")
			return
		case <-ctx.Done():
			return
		case entry := <-r.queue:
			r.persist(ctx, entry)
		}
	}
}

// drain persists whatever is still queued at shutdown.
func (r *Recorder) drain() {
	for {
		select {
		case entry := <-r.queue:
			r.persist(context.Background(), entry)
		default:
			return
		}
	}
}

func (r *Recorder) persist(ctx context.Context, entry Entry) {
	// The persist deadline is independent of the server context so a
	// shutdown drain can still flush.
	pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	start := time.Now()
	err := r.store.Insert(pctx, entry)
	if r.metrics != nil {
		r.metrics.ObserveRequestLogFlush(time.Since(start))
	}
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("kind", string(entry.Kind)).
			Str("endpoint", entry.Endpoint).
			Msg("failed to persist request log entry")
		return
	}
	if r.metrics != nil {
		r.metrics.ObserveRequestLog(string(entry.Kind), false)
	}
	if r.hooks != nil {
		r.hooks.EmitRequestRecorded(ctx, observability.RequestRecordedEvent{
			Timestamp: entry.Timestamp,
			Method:    entry.Method,
			Path:      entry.Path,
			Endpoint:  entry.Endpoint,
			Status:    entry.Status,
			Duration:  time.Duration(entry.DurationMS) * time.Millisecond,
		})
	}
}
