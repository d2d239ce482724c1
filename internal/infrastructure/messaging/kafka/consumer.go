package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/medimorph/medimorph/internal/config"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
)

var (
	// ErrConsumerClosed is returned by Run after Close.
	ErrConsumerClosed = errors.New(errors.ErrCodeInternal, "consumer closed")
)

// Handler processes one consumed record.  Returning an error leaves the
// offset uncommitted so the record is redelivered.
type Handler func(ctx context.Context, msg kafka.Message) error

// readerInterface abstracts kafka.Reader for testing.
type readerInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer tails a topic within a consumer group and hands each record to
// a handler.  It commits offsets only after the handler succeeds.
type Consumer struct {
	reader   readerInterface
	logger   logging.Logger
	closed   atomic.Bool
	consumed atomic.Int64
	errored  atomic.Int64
}

// NewConsumer builds a group consumer for one topic.
func NewConsumer(cfg config.KafkaConfig, groupID, topic string, logger logging.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.InvalidParam("kafka brokers required")
	}
	if groupID == "" || topic == "" {
		return nil, errors.InvalidParam("group id and topic required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	if cfg.TLSEnabled {
		tlsConfig := &tls.Config{InsecureSkipVerify: true}
		if cfg.TLSCertPath != "" {
			caCert, err := os.ReadFile(cfg.TLSCertPath)
			if err == nil {
				pool := x509.NewCertPool()
				pool.AppendCertsFromPEM(caCert)
				tlsConfig.RootCAs = pool
				tlsConfig.InsecureSkipVerify = false
			}
		}
		dialer.TLS = tlsConfig
	}
	if cfg.SASLEnabled {
		var mech sasl.Mechanism
		var err error
		switch cfg.SASLMechanism {
		case "PLAIN":
			mech = plain.Mechanism{Username: cfg.SASLUsername, Password: cfg.SASLPassword}
		case "SCRAM-SHA-256":
			mech, err = scram.Mechanism(scram.SHA256, cfg.SASLUsername, cfg.SASLPassword)
		case "SCRAM-SHA-512":
			mech, err = scram.Mechanism(scram.SHA512, cfg.SASLUsername, cfg.SASLPassword)
		default:
			return nil, errors.InvalidParam("unsupported SASL mechanism " + cfg.SASLMechanism)
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create SASL mechanism")
		}
		dialer.SASLMechanism = mech
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        groupID,
		Topic:          topic,
		Dialer:         dialer,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		MaxWait:        time.Second,
		StartOffset:    kafka.LastOffset,
		CommitInterval: 0, // explicit commits only
	})

	return &Consumer{
		reader: reader,
		logger: logger.Named("kafka_consumer"),
	}, nil
}

// Run fetches records until ctx is cancelled or the consumer is closed.
// Records whose handler fails are logged and left uncommitted.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.InvalidParam("handler required")
	}
	for {
		if c.closed.Load() {
			return ErrConsumerClosed
		}
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if c.closed.Load() {
				return ErrConsumerClosed
			}
			c.errored.Add(1)
			c.logger.Error("Fetch failed", logging.Err(err))
			continue
		}

		if err := handler(ctx, msg); err != nil {
			c.errored.Add(1)
			c.logger.Error("Handler failed, offset not committed",
				logging.String("topic", msg.Topic),
				logging.Int("partition", msg.Partition),
				logging.Int64("offset", msg.Offset),
				logging.Err(err))
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.errored.Add(1)
			c.logger.Error("Commit failed", logging.Err(err))
			continue
		}
		c.consumed.Add(1)
	}
}

// Consumed returns the number of successfully handled records.
func (c *Consumer) Consumed() int64 { return c.consumed.Load() }

// Close stops the consumer and releases the group membership.
func (c *Consumer) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.reader.Close()
}
