package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"mokametrics-ingest/internal/config"
	"mokametrics-ingest/internal/model"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ConsumerState is the lifecycle state of the consumer loop.
type ConsumerState int32

const (
	StateStopped ConsumerState = iota
	StateInitializing
	StateSubscribed
	StateRunning
	StateStopping
)

func (s ConsumerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateInitializing:
		return "initializing"
	case StateSubscribed:
		return "subscribed"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ReaderFactory builds a fresh reader each time the consumer (re)connects.
// It should fail when the brokers cannot be reached.
type ReaderFactory func(ctx context.Context) (MessageReader, error)

// Processor handles one record.
type Processor interface {
	Process(ctx context.Context, topic string, key, value []byte) error
}

type DeadLetterSender interface {
	SendDeadLetter(ctx context.Context, topic string, m kafka.Message, cause error) error
}

type ConsumerOptions struct {
	Topics             []string
	ProcessBackoff     time.Duration
	MaxProcessAttempts int
	HandlerTimeout     time.Duration
	DeadLetterTopic    string

	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
	// MaxFetchErrors consecutive fetch errors make the loop give up and
	// rebuild the reader.
	MaxFetchErrors int
}

func ConsumerOptionsFromConfig(cfg *config.Config, topics []string) ConsumerOptions {
	return ConsumerOptions{
		Topics:             topics,
		ProcessBackoff:     cfg.ProcessBackoff,
		MaxProcessAttempts: cfg.MaxProcessAttempts,
		HandlerTimeout:     cfg.HandlerTimeout,
		DeadLetterTopic:    cfg.DeadLetterTopic,
	}
}

func (o *ConsumerOptions) applyDefaults() {
	if o.ProcessBackoff <= 0 {
		o.ProcessBackoff = 5 * time.Second
	}
	if o.MaxProcessAttempts < 1 {
		o.MaxProcessAttempts = 3
	}
	if o.HandlerTimeout <= 0 {
		o.HandlerTimeout = 30 * time.Second
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = 5 * time.Second
	}
	if o.MaxReconnectBackoff <= 0 {
		o.MaxReconnectBackoff = 2 * time.Minute
	}
	if o.MaxFetchErrors < 1 {
		o.MaxFetchErrors = 5
	}
}

// KafkaService pulls records one at a time, hands them to the processor and
// commits each offset only once the record is settled.
type KafkaService struct {
	processor  Processor
	deadLetter DeadLetterSender
	recorder   Recorder
	Logger     *zap.SugaredLogger
	opts       ConsumerOptions

	state   atomic.Int32
	fetched atomic.Int64
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewKafkaService(processor Processor, deadLetter DeadLetterSender, recorder Recorder, logger *zap.SugaredLogger, opts ConsumerOptions) *KafkaService {
	opts.applyDefaults()
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &KafkaService{
		processor:  processor,
		deadLetter: deadLetter,
		recorder:   recorder,
		Logger:     logger,
		opts:       opts,
		sleep:      sleepCtx,
	}
}

func (s *KafkaService) State() ConsumerState {
	return ConsumerState(s.state.Load())
}

func (s *KafkaService) setState(st ConsumerState) {
	if prev := ConsumerState(s.state.Swap(int32(st))); prev != st {
		s.Logger.Debugw("consumer state changed", "from", prev, "to", st)
	}
}

func newDialer(cfg *config.Config) (*kafka.Dialer, error) {
	tlsConfig, err := cfg.CreateKafkaTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("kafka tls: %w", err)
	}
	return &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
		TLS:       tlsConfig,
	}, nil
}

// CheckBrokers dials the configured brokers until one answers a metadata
// request. Readers and writers connect lazily and never report this.
func CheckBrokers(ctx context.Context, cfg *config.Config) error {
	dialer, err := newDialer(cfg)
	if err != nil {
		return err
	}
	lastErr := errors.New("no brokers configured")
	for _, addr := range cfg.KafkaBrokers {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return &model.BrokerTransientError{Op: "connect", Err: lastErr}
}

// NewReader builds a consumer-group reader over topics with auto-commit
// disabled. Errors the reader retries internally go to logger.
func NewReader(cfg *config.Config, topics []string, logger *zap.SugaredLogger) (*kafka.Reader, error) {
	dialer, err := newDialer(cfg)
	if err != nil {
		return nil, err
	}

	startOffset := kafka.FirstOffset
	if cfg.KafkaAutoOffsetReset == "latest" {
		startOffset = kafka.LastOffset
	}

	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:           cfg.KafkaBrokers,
		GroupID:           cfg.KafkaGroupID,
		GroupTopics:       topics,
		StartOffset:       startOffset,
		CommitInterval:    0,
		ReadLagInterval:   -1,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    cfg.KafkaSessionTimeout,
		Dialer:            dialer,
		ErrorLogger:       kafka.LoggerFunc(logger.Errorf),
	}), nil
}

func recordFields(m kafka.Message) []any {
	return []any{"topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "key", string(m.Key)}
}

// ProcessMessage runs the processor for m, retrying retryable failures. It
// reports whether the offset may be committed. A non-nil error means the
// record is unsettled and must be redelivered.
func (s *KafkaService) ProcessMessage(ctx context.Context, m kafka.Message) (bool, error) {
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= s.opts.MaxProcessAttempts; attempt++ {
		lastErr = s.process(ctx, m)
		if lastErr == nil {
			s.recorder.MessageProcessed(m.Topic, ResultOK, time.Since(start))
			return true, nil
		}
		if !model.Retryable(lastErr) {
			s.Logger.Warnw("dropping record", append(recordFields(m), "error", lastErr)...)
			s.recorder.MessageProcessed(m.Topic, ResultDropped, time.Since(start))
			return true, nil
		}

		s.Logger.Errorw("processing failed", append(recordFields(m), "attempt", attempt, "error", lastErr)...)
		if attempt == s.opts.MaxProcessAttempts {
			break
		}
		s.recorder.MessageProcessed(m.Topic, ResultRetried, time.Since(start))
		if err := s.sleep(ctx, s.opts.ProcessBackoff); err != nil {
			s.recorder.MessageProcessed(m.Topic, ResultUncommitted, time.Since(start))
			return false, err
		}
	}

	if s.opts.DeadLetterTopic == "" || s.deadLetter == nil {
		s.Logger.Errorw("giving up on record, no dead-letter topic configured", append(recordFields(m), "error", lastErr)...)
		s.recorder.MessageProcessed(m.Topic, ResultDropped, time.Since(start))
		return true, nil
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.HandlerTimeout)
	defer cancel()
	if err := s.deadLetter.SendDeadLetter(dctx, s.opts.DeadLetterTopic, m, lastErr); err != nil {
		s.recorder.MessageProcessed(m.Topic, ResultUncommitted, time.Since(start))
		return false, fmt.Errorf("dead-letter %s[%d]@%d: %w", m.Topic, m.Partition, m.Offset, err)
	}
	s.Logger.Warnw("record sent to dead-letter topic", append(recordFields(m), "dead_letter_topic", s.opts.DeadLetterTopic)...)
	s.recorder.DeadLettered(m.Topic)
	s.recorder.MessageProcessed(m.Topic, ResultDeadLetter, time.Since(start))
	return true, nil
}

// process runs the handler on a context that survives shutdown so a
// relational change is never cut in half.
func (s *KafkaService) process(ctx context.Context, m kafka.Message) error {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.HandlerTimeout)
	defer cancel()
	return s.processor.Process(hctx, m.Topic, m.Key, m.Value)
}

// Internal consumer loop
func (s *KafkaService) consumeLoop(ctx context.Context, reader MessageReader) error {
	fetchErrors := 0
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.Logger.Info("consumer context canceled, stopping consumer loop")
				return nil
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("reader closed: %w", err)
			}
			fetchErrors++
			transient := &model.BrokerTransientError{Op: "fetch", Err: err}
			s.Logger.Warnw("fetch failed", "error", transient, "consecutive", fetchErrors)
			if fetchErrors >= s.opts.MaxFetchErrors {
				return transient
			}
			if err := s.sleep(ctx, time.Second); err != nil {
				return nil
			}
			continue
		}
		fetchErrors = 0
		s.fetched.Add(1)
		s.setState(StateRunning)

		commit, err := s.ProcessMessage(ctx, m)
		if err != nil {
			if ctx.Err() != nil {
				s.Logger.Infow("shutdown during retry, record left uncommitted", recordFields(m)...)
				return nil
			}
			return err
		}
		if !commit {
			continue
		}

		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.HandlerTimeout)
		err = reader.CommitMessages(cctx, m)
		cancel()
		if err != nil {
			return &model.BrokerTransientError{Op: "commit", Err: err}
		}
	}
}

// StartConsumer runs the consumer until ctx is cancelled, rebuilding the
// reader with exponential backoff whenever the loop fails. The backoff starts
// over after a run that fetched at least one record.
func (s *KafkaService) StartConsumer(ctx context.Context, newReader ReaderFactory) {
	defer s.setState(StateStopped)

	if len(s.opts.Topics) == 0 {
		s.Logger.Warn("no topics configured, consumer idle")
		s.setState(StateSubscribed)
		<-ctx.Done()
		s.setState(StateStopping)
		return
	}

	backoff := s.opts.ReconnectBackoff
	for ctx.Err() == nil {
		s.setState(StateInitializing)
		reader, err := newReader(ctx)
		if err == nil {
			s.setState(StateSubscribed)
			s.Logger.Infow("consumer subscribed", "topics", s.opts.Topics)
			before := s.fetched.Load()
			err = s.consumeLoop(ctx, reader)
			if s.fetched.Load() > before {
				backoff = s.opts.ReconnectBackoff
			}
			s.setState(StateStopping)
			if cerr := reader.Close(); cerr != nil {
				s.Logger.Warnw("failed to close reader", "error", cerr)
			}
			if err == nil {
				return
			}
		}

		s.Logger.Errorw("kafka consumer error, reconnecting", "error", err, "backoff", backoff)
		if s.sleep(ctx, backoff) != nil {
			return
		}
		backoff *= 2
		if backoff > s.opts.MaxReconnectBackoff {
			backoff = s.opts.MaxReconnectBackoff
		}
	}
}
