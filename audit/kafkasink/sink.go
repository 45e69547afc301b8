// Package kafkasink publishes voiceGate audit events to a Kafka topic.
package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	voiceGate "github.com/MrEthical07/voiceGate"
	"github.com/segmentio/kafka-go"
)

const defaultWriteTimeout = 5 * time.Second

// messageWriter is the subset of *kafka.Writer used by Sink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Options configures New.
type Options struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Sink implements voiceGate.AuditSink. Events are JSON encoded and keyed by
// transaction id (user id for events without one) so that every event of a
// transaction lands on the same partition in order.
type Sink struct {
	writer  messageWriter
	timeout time.Duration
	logger  *slog.Logger
	failed  atomic.Uint64
}

var _ voiceGate.AuditSink = (*Sink)(nil)

// New creates a Sink writing to opts.Topic. Call Close when shutting down.
func New(opts Options) (*Sink, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafkasink: at least one broker is required")
	}
	if opts.Topic == "" {
		return nil, errors.New("kafkasink: topic is required")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newSink(w, opts), nil
}

func newSink(w messageWriter, opts Options) *Sink {
	s := &Sink{writer: w, timeout: opts.WriteTimeout, logger: opts.Logger}
	if s.timeout <= 0 {
		s.timeout = defaultWriteTimeout
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// Emit writes event to Kafka within WriteTimeout, even when ctx is already
// canceled. Failures are logged and counted.
func (s *Sink) Emit(ctx context.Context, event voiceGate.AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.failed.Add(1)
		return
	}

	key := event.TransactionID
	if key == "" {
		key = event.UserID
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	if err := s.writer.WriteMessages(writeCtx, msg); err != nil {
		s.failed.Add(1)
		s.logger.Warn("kafka audit emit failed",
			"event_type", event.EventType,
			"transaction_id", event.TransactionID,
			"error", err,
		)
	}
}

// Failed returns how many events could not be published.
func (s *Sink) Failed() uint64 {
	if s == nil {
		return 0
	}
	return s.failed.Load()
}

// Close flushes pending batches and closes the writer. Safe to call on a nil
// Sink.
func (s *Sink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
