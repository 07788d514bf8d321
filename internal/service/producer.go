package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"mokametrics-ingest/internal/config"
	"mokametrics-ingest/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes records to Kafka. Records with the same key go to the
// same partition and keep their order.
type Producer struct {
	writer messageWriter
	logger *zap.SugaredLogger
	sleep  func(ctx context.Context, d time.Duration) error
}

func requiredAcks(acks string) kafka.RequiredAcks {
	switch acks {
	case "one", "1":
		return kafka.RequireOne
	case "none", "0":
		return kafka.RequireNone
	default:
		return kafka.RequireAll
	}
}

// NewProducer builds a synchronous writer. Retries are owned by
// SendWithRetry, so the writer itself makes a single attempt.
func NewProducer(cfg *config.Config, logger *zap.SugaredLogger) (*Producer, error) {
	tlsConfig, err := cfg.CreateKafkaTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("kafka tls: %w", err)
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           requiredAcks(cfg.ProducerAcks),
		WriteTimeout:           cfg.ProducerTimeout,
		MaxAttempts:            1,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: false,
		Transport: &kafka.Transport{
			TLS: tlsConfig,
		},
		ErrorLogger: kafka.LoggerFunc(logger.Errorf),
	}
	return newProducer(writer, logger), nil
}

func newProducer(w messageWriter, logger *zap.SugaredLogger) *Producer {
	return &Producer{writer: w, logger: logger, sleep: sleepCtx}
}

// Send publishes one raw record.
func (p *Producer) Send(ctx context.Context, topic, key, value string) error {
	msg := kafka.Message{Topic: topic, Value: []byte(value)}
	if key != "" {
		msg.Key = []byte(key)
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return &model.BrokerTransientError{Op: "produce to " + topic, Err: err}
	}
	return nil
}

// SendJSON encodes v and publishes it. Field names follow the json tags of v.
func (p *Producer) SendJSON(ctx context.Context, topic, key string, v any) error {
	b, err := jsonOut.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}
	return p.Send(ctx, topic, key, string(b))
}

// SendWithRetry makes up to maxAttempts sends, waiting 2^attempt seconds
// between them. It reports whether any attempt succeeded.
func (p *Producer) SendWithRetry(ctx context.Context, topic, key, value string, maxAttempts int) bool {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := p.Send(ctx, topic, key, value)
		if err == nil {
			if attempt > 1 {
				p.logger.Infow("record delivered after retry", "topic", topic, "key", key, "attempt", attempt)
			}
			return true
		}
		p.logger.Warnw("send failed", "topic", topic, "key", key, "attempt", attempt, "max_attempts", maxAttempts, "error", err)
		if attempt == maxAttempts {
			break
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		if err := p.sleep(ctx, backoff); err != nil {
			return false
		}
	}
	p.logger.Errorw("giving up on record", "topic", topic, "key", key, "attempts", maxAttempts)
	return false
}

// SendDeadLetter republishes a record that could not be processed, with its
// origin and the failure in headers.
func (p *Producer) SendDeadLetter(ctx context.Context, topic string, m kafka.Message, cause error) error {
	headers := append([]kafka.Header{}, m.Headers...)
	headers = append(headers,
		kafka.Header{Key: "x-original-topic", Value: []byte(m.Topic)},
		kafka.Header{Key: "x-original-partition", Value: []byte(strconv.Itoa(m.Partition))},
		kafka.Header{Key: "x-original-offset", Value: []byte(strconv.FormatInt(m.Offset, 10))},
	)
	if cause != nil {
		headers = append(headers, kafka.Header{Key: "x-error", Value: []byte(cause.Error())})
	}
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
	})
	if err != nil {
		return &model.BrokerTransientError{Op: "produce to " + topic, Err: err}
	}
	return nil
}

// Close flushes pending records and releases the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
