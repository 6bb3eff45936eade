package kafkax

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Handler processes one deduplicated event payload.
type Handler func(ctx context.Context, meta EventMeta, payload []byte) error

// Deduper remembers consumed event ids. Record returns false for an id it
// has already seen, which drops the redelivery before the handler runs.
type Deduper interface {
	Record(ctx context.Context, eventID, eventType string) (bool, error)
}

type ConsumerConfig struct {
	Brokers string
	GroupID string
	Topic   string
}

type Consumer struct {
	cfg     ConsumerConfig
	brokers []string
	dedup   Deduper
	logger  *slog.Logger
	handler Handler
}

func NewConsumer(cfg ConsumerConfig, dedup Deduper, logger *slog.Logger, handler Handler) *Consumer {
	return &Consumer{
		cfg:     cfg,
		brokers: SplitBrokers(cfg.Brokers),
		dedup:   dedup,
		logger:  logger,
		handler: handler,
	}
}

// Run reads the topic until ctx is cancelled. Handler errors are logged and
// the offset still advances, so handlers must be retry-safe through their
// own outbox rather than through Kafka redelivery.
func (c *Consumer) Run(ctx context.Context) {
	if len(c.brokers) == 0 {
		c.logger.Warn("consumer disabled (no kafka brokers configured)", "topic", c.cfg.Topic)
		return
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: c.brokers,
		GroupID: c.cfg.GroupID,
		Topic:   c.cfg.Topic,
	})
	defer reader.Close()

	tracer := otel.Tracer(c.cfg.GroupID + "/consumer")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read failed", "topic", c.cfg.Topic, "err", err)
			time.Sleep(time.Second)
			continue
		}

		msgCtx := ExtractTraceContext(ctx, msg)
		msgCtx, span := tracer.Start(msgCtx, "kafka.consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination.name", msg.Topic),
			))

		meta := ExtractEventMeta(msg)
		fresh, err := c.dedup.Record(msgCtx, meta.EventID, meta.EventType)
		if err != nil {
			c.logger.Error("inbox record failed", "event_id", meta.EventID, "err", err)
			span.End()
			continue
		}
		if !fresh {
			span.End()
			continue
		}

		if err := c.handler(msgCtx, meta, msg.Value); err != nil {
			c.logger.Error("event handler failed", "topic", msg.Topic, "event_id", meta.EventID, "err", err)
		}
		span.End()
	}
}
