// Package telemetry emits billing and usage events without ever holding up
// the caller. Events are buffered in memory and dropped when the buffer is
// full; a background worker drains them to a Sink.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"kycflow/internal/platform/kafka"
)

// Event is one telemetry record.
type Event struct {
	Name       string            `json:"name"`
	Tenant     string            `json:"tenant_id"`
	WorkflowID string            `json:"workflow_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	At         time.Time         `json:"at"`
}

// Sink receives drained batches.
type Sink interface {
	Write(ctx context.Context, events []Event) error
}

// Emitter buffers events for a Sink.
type Emitter struct {
	ch         chan Event
	sink       Sink
	batchSize  int
	flushEvery time.Duration
	logger     *slog.Logger
	metrics    *Metrics

	dropped atomic.Int64
}

type Option func(*Emitter)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Emitter) {
		e.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Emitter) {
		e.metrics = m
	}
}

func WithBatchSize(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(e *Emitter) {
		if d > 0 {
			e.flushEvery = d
		}
	}
}

// NewEmitter creates an emitter with room for capacity pending events.
func NewEmitter(sink Sink, capacity int, opts ...Option) *Emitter {
	if capacity <= 0 {
		capacity = 10000
	}
	e := &Emitter{
		ch:         make(chan Event, capacity),
		sink:       sink,
		batchSize:  100,
		flushEvery: time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit queues ev and reports whether it was accepted. It never blocks. A nil
// Emitter accepts nothing.
func (e *Emitter) Emit(ev Event) bool {
	if e == nil {
		return false
	}
	select {
	case e.ch <- ev:
		e.metrics.IncEmitted()
		return true
	default:
		e.dropped.Add(1)
		e.metrics.IncDropped()
		return false
	}
}

// Dropped returns how many events were refused because the buffer was full.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Pending returns the number of buffered events.
func (e *Emitter) Pending() int {
	return len(e.ch)
}

// Run drains the buffer until ctx is done, then flushes what is left on a
// short detached deadline.
func (e *Emitter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.flushEvery)
	defer ticker.Stop()

	batch := make([]Event, 0, e.batchSize)
	for {
		select {
		case <-ctx.Done():
			batch = e.drainInto(batch)
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			e.flush(flushCtx, batch)
			cancel()
			return ctx.Err()
		case ev := <-e.ch:
			batch = append(batch, ev)
			if len(batch) >= e.batchSize {
				e.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			e.flush(ctx, batch)
			batch = batch[:0]
		}
	}
}

// Flush hands everything buffered to the sink. Short-lived commands call it
// before exiting instead of running the worker.
func (e *Emitter) Flush(ctx context.Context) {
	if e == nil {
		return
	}
	e.flush(ctx, e.drainInto(nil))
}

func (e *Emitter) drainInto(batch []Event) []Event {
	for {
		select {
		case ev := <-e.ch:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

// flush hands batch to the sink. Failed batches are logged and discarded.
func (e *Emitter) flush(ctx context.Context, batch []Event) {
	if len(batch) == 0 {
		return
	}
	for start := 0; start < len(batch); start += e.batchSize {
		end := min(start+e.batchSize, len(batch))
		if err := e.sink.Write(ctx, batch[start:end]); err != nil {
			e.metrics.AddSinkFailures(end - start)
			e.logger.WarnContext(ctx, "telemetry batch discarded",
				"events", end-start,
				"error", err.Error(),
			)
		}
	}
}

// Producer is the slice of the Kafka producer KafkaSink needs.
type Producer interface {
	Produce(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// KafkaSink writes events as JSON records keyed by tenant.
type KafkaSink struct {
	producer Producer
	topic    string
}

func NewKafkaSink(producer Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Write(ctx context.Context, events []Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(ev.Tenant),
			Value:   value,
			Headers: []kafka.Header{{Key: "event_name", Value: ev.Name}},
		})
	}
	return s.producer.Produce(ctx, s.topic, msgs...)
}

// LogSink writes events to a logger. Used when no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(ctx context.Context, events []Event) error {
	for _, ev := range events {
		s.logger.InfoContext(ctx, "telemetry",
			"name", ev.Name,
			"tenant_id", ev.Tenant,
			"workflow_id", ev.WorkflowID,
			"at", ev.At,
		)
	}
	return nil
}
