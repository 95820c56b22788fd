package audit

/*
postgres_sink.go implements the durable audit sink: a non-blocking channel
fed by the hot invocation path, drained by a single worker that batches
events in memory and flushes them to Postgres on a timer or once the batch
fills. Drain-on-Stop plus sync.WaitGroup guarantee every buffered event is
flushed before the process exits.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// BatchWriter persists a batch of audit events in one round trip.
type BatchWriter interface {
	WriteBatch(ctx context.Context, events []Event) error
}

const (
	sinkQueueSize  = 10000
	sinkBatchSize  = 100
	sinkFlushEvery = 500 * time.Millisecond
)

// PostgresSink is the async, batching Postgres audit sink. It never blocks
// the caller: a full queue sheds load (and logs the drop) rather than
// stalling an invocation on database latency.
type PostgresSink struct {
	ch         chan Event
	writer     BatchWriter
	logger     *zap.Logger
	wg         sync.WaitGroup
	isClosed   int32
	depthGauge prometheus.Gauge
}

// SetDepthGauge attaches a gauge that the worker keeps in sync with the
// number of events currently buffered in ch. Optional: a sink with no
// gauge attached behaves exactly as before.
func (s *PostgresSink) SetDepthGauge(g prometheus.Gauge) {
	s.depthGauge = g
}

// NewPostgresSink constructs a sink whose worker is not yet running; call
// Start to launch it. Events enqueued before Start stay buffered until then.
func NewPostgresSink(writer BatchWriter, logger *zap.Logger) *PostgresSink {
	return &PostgresSink{
		ch:     make(chan Event, sinkQueueSize),
		writer: writer,
		logger: logger.With(zap.String("component", "audit_postgres_sink")),
	}
}

// Start launches the background batch worker.
func (s *PostgresSink) Start() {
	s.wg.Add(1)
	go s.worker()
}

// Stop closes the input channel and blocks until the worker has flushed
// every buffered event.
func (s *PostgresSink) Stop() {
	atomic.StoreInt32(&s.isClosed, 1)
	time.Sleep(10 * time.Millisecond) // let in-flight Enqueue calls land
	s.logger.Info("stopping audit postgres sink: draining buffer")
	close(s.ch)
	s.wg.Wait()
	s.logger.Info("audit postgres sink stopped")
}

// Enqueue hands event to the sink. It never blocks the invocation path: if
// the queue is full the event is dropped and logged, not awaited.
func (s *PostgresSink) Enqueue(event Event) {
	if atomic.LoadInt32(&s.isClosed) == 1 {
		s.logger.Warn("audit event dropped: sink is stopping", zap.String("request_id", event.RequestID))
		return
	}

	select {
	case s.ch <- event:
		s.reportDepth()
	default:
		s.logger.Error("audit_buffer_overflow",
			zap.String("request_id", event.RequestID),
			zap.String("tool", event.Tool),
		)
	}
}

func (s *PostgresSink) reportDepth() {
	if s.depthGauge != nil {
		s.depthGauge.Set(float64(len(s.ch)))
	}
}

func (s *PostgresSink) worker() {
	defer s.wg.Done()

	batch := make([]Event, 0, sinkBatchSize)
	ticker := time.NewTicker(sinkFlushEvery)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background context: the caller that triggered this batch may
		// already have returned by the time the timer fires.
		if err := s.writer.WriteBatch(context.Background(), batch); err != nil {
			s.logger.Error("audit flush failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-s.ch:
			if !ok {
				flush()
				s.logger.Info("audit postgres worker finished")
				return
			}
			batch = append(batch, event)
			s.reportDepth()
			if len(batch) >= sinkBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
