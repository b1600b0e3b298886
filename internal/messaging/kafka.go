// Package messaging publishes committed fills to the event stream.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/barterex/internal/config"
	"github.com/Aidin1998/barterex/pkg/models"
)

// FillPublisher announces fills that have already been committed.
type FillPublisher interface {
	PublishFills(ctx context.Context, fills []*models.Fill) error
	Close() error
}

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher implements FillPublisher on a kafka topic.
type KafkaPublisher struct {
	writer MessageWriter
	logger *zap.Logger
	now    func() time.Time
}

// NewKafkaPublisher creates a publisher writing to cfg.Topic.
func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
		MaxAttempts:  3,
		Compression:  kafka.Snappy,
	}
	return NewPublisher(writer, logger)
}

// NewPublisher wraps an existing writer.
func NewPublisher(w MessageWriter, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, logger: logger, now: time.Now}
}

// EncodeFills turns fills into keyed JSON kafka messages.
func EncodeFills(fills []*models.Fill, now time.Time) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(fills))
	for _, f := range fills {
		data, err := json.Marshal(NewFillEvent(f, now))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal fill %s: %w", f.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(FillKey(f)),
			Value: data,
			Time:  now,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(MsgTradeExecuted)},
			},
		})
	}
	return msgs, nil
}

// PublishFills writes one message per fill.
func (p *KafkaPublisher) PublishFills(ctx context.Context, fills []*models.Fill) error {
	if len(fills) == 0 {
		return nil
	}
	msgs, err := EncodeFills(fills, p.now())
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish %d fills: %w", len(fills), err)
	}
	p.logger.Debug("Published fills", zap.Int("count", len(fills)))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every fill. It is used when kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishFills(context.Context, []*models.Fill) error { return nil }
func (NopPublisher) Close() error                                       { return nil }
