package kafkax

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Dedupe is implemented by inbox.Repository.
type Dedupe interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID, eventType string) (bool, error)
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type ConsumerConfig struct {
	Brokers  string
	GroupID  string
	Topic    string
	Attempts int
	Backoff  time.Duration
	// DeadLetterTopic receives messages whose handler keeps failing. Empty means
	// Topic + ".dlq".
	DeadLetterTopic string
}

// Consumer reads one topic, skips events already recorded in the inbox, and records an
// event only after its handler succeeds. A message whose handler keeps failing is
// parked on the dead-letter topic before its offset is committed; if that write fails
// too, the offset stays put and the message is retried.
type Consumer struct {
	reader     *kafka.Reader
	deadLetter MessageWriter
	logger     *slog.Logger
	dedupe     Dedupe
	handler    Handler
	cfg        ConsumerConfig
}

func NewConsumer(logger *slog.Logger, dedupe Dedupe, cfg ConsumerConfig, handler Handler) *Consumer {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = cfg.Topic + ".dlq"
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(SplitBrokers(cfg.Brokers)...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &Consumer{reader: reader, deadLetter: writer, logger: logger, dedupe: dedupe, handler: handler, cfg: cfg}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()
	if w, ok := c.deadLetter.(*kafka.Writer); ok {
		defer w.Close()
	}

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err, "topic", c.cfg.Topic)
			sleep(ctx, time.Second)
			continue
		}

		// Committing past an unsettled message would lose it, so hold the partition.
		for err := c.Process(ctx, msg); err != nil; err = c.Process(ctx, msg) {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("message not settled, retrying", "err", err, "topic", c.cfg.Topic, "offset", msg.Offset)
			if !sleep(ctx, c.cfg.Backoff*time.Duration(c.cfg.Attempts)) {
				return
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit error", "err", err, "topic", c.cfg.Topic)
		}
	}
}

// Process applies one message. A nil error means the message is settled, either
// handled or parked on the dead-letter topic, and its offset may be committed.
func (c *Consumer) Process(ctx context.Context, msg kafka.Message) error {
	ctxMsg := ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := ExtractEventMeta(msg)
	log := c.logger.With("event_id", meta.EventID, "event_type", meta.EventType)

	if c.dedupe != nil {
		seen, err := c.dedupe.Seen(ctxSpan, meta.EventID)
		if err != nil {
			log.Error("inbox lookup failed", "err", err)
		} else if seen {
			log.Info("duplicate event ignored")
			return nil
		}
	}

	var err error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		if err = c.handler(ctxSpan, msg); err == nil {
			break
		}
		log.Warn("handler attempt failed", "err", err, "attempt", attempt)
		if attempt < c.cfg.Attempts && !sleep(ctx, time.Duration(attempt)*c.cfg.Backoff) {
			return ctx.Err()
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if dlqErr := c.park(ctxSpan, msg, err); dlqErr != nil {
			log.Error("dead-letter write failed", "err", dlqErr, "handler_err", err)
			return fmt.Errorf("handler: %w; dead letter: %v", err, dlqErr)
		}
		log.Error("handler gave up, message dead-lettered", "err", err, "dlq_topic", c.cfg.DeadLetterTopic)
		return nil
	}

	if c.dedupe != nil {
		if _, err := c.dedupe.Record(ctxSpan, meta.EventID, meta.EventType); err != nil {
			log.Error("inbox record failed", "err", err)
		}
	}
	return nil
}

// park copies msg to the dead-letter topic with the failure recorded in its headers.
func (c *Consumer) park(ctx context.Context, msg kafka.Message, cause error) error {
	if c.deadLetter == nil {
		return errors.New("no dead-letter writer")
	}
	headers := append([]kafka.Header(nil), msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq_source_topic", Value: []byte(msg.Topic)},
		kafka.Header{Key: "dlq_source_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: "dlq_error", Value: []byte(cause.Error())},
	)
	return c.deadLetter.WriteMessages(ctx, kafka.Message{
		Topic:   c.cfg.DeadLetterTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
