package notification

import (
	"context"
	"time"

	"github.com/medimorph/medimorph/internal/domain/doseevent"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
)

// Metrics observes dispatch outcomes.
type Metrics interface {
	// RecordDispatch counts one delivery attempt outcome: "delivered",
	// "retried", or "degraded".
	RecordDispatch(outcome string)
}

type noopMetrics struct{}

func (noopMetrics) RecordDispatch(string) {}

// DispatcherConfig tunes the outbox drain loop.
type DispatcherConfig struct {
	// PollInterval is how often the outbox is drained when nothing is due.
	PollInterval time.Duration
	// BatchSize caps rows claimed per drain.
	BatchSize int
	// MaxAttempts is the delivery budget per message before it is marked
	// failed and the dose event flagged as delivery-degraded.
	MaxAttempts int
	// BaseBackoff is the delay after the first failure; it doubles per
	// attempt after that.
	BaseBackoff time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
		MaxAttempts:  3,
		BaseBackoff:  30 * time.Second,
	}
}

// Dispatcher drains the outbox and pushes reminders through the channel.
// Delivery is at-least-once: a crash between Publish and MarkDone replays
// the message, so downstream consumers key on event_id.
type Dispatcher struct {
	outbox  OutboxRepository
	channel Channel
	events  doseevent.Repository
	cfg     DispatcherConfig
	metrics Metrics
	logger  logging.Logger
	now     func() time.Time
}

func NewDispatcher(outbox OutboxRepository, channel Channel, events doseevent.Repository, cfg DispatcherConfig, metrics Metrics, logger logging.Logger) (*Dispatcher, error) {
	if outbox == nil || channel == nil || events == nil {
		return nil, errors.InvalidParam("dispatcher requires outbox, channel, and events")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultDispatcherConfig().PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultDispatcherConfig().BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultDispatcherConfig().MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultDispatcherConfig().BaseBackoff
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Dispatcher{
		outbox:  outbox,
		channel: channel,
		events:  events,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.Named("dispatcher"),
		now:     time.Now,
	}, nil
}

// Run drains the outbox until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		d.DrainOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DrainOnce claims one batch of due messages and attempts delivery.  It
// returns the number of messages delivered.
func (d *Dispatcher) DrainOnce(ctx context.Context) int {
	now := d.now()
	msgs, err := d.outbox.ClaimDue(ctx, now, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error("outbox claim failed", logging.Err(err))
		return 0
	}
	delivered := 0
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return delivered
		}
		if d.deliver(ctx, msg) {
			delivered++
		}
	}
	return delivered
}

func (d *Dispatcher) deliver(ctx context.Context, msg *OutboxMessage) bool {
	err := d.channel.Publish(ctx, msg.UserID, msg.Payload)
	if err == nil {
		if err := d.outbox.MarkDone(ctx, msg.ID); err != nil {
			d.logger.Error("mark done failed", logging.Err(err),
				logging.String("outbox_id", string(msg.ID)))
		}
		d.metrics.RecordDispatch("delivered")
		return true
	}

	attempts := msg.Attempts + 1
	if attempts >= d.cfg.MaxAttempts {
		// Out of budget.  The outbox row is parked and the dose event is
		// flagged so the user's feed can surface the gap.
		if ferr := d.outbox.MarkFailed(ctx, msg.ID); ferr != nil {
			d.logger.Error("mark failed failed", logging.Err(ferr),
				logging.String("outbox_id", string(msg.ID)))
		}
		if derr := d.events.MarkDeliveryDegraded(ctx, msg.EventID); derr != nil {
			d.logger.Error("degradation flag failed", logging.Err(derr),
				logging.String("event_id", string(msg.EventID)))
		}
		d.metrics.RecordDispatch("degraded")
		d.logger.Warn("reminder delivery degraded",
			logging.String("event_id", string(msg.EventID)),
			logging.Int("attempts", attempts),
			logging.Err(err))
		return false
	}

	next := d.now().Add(d.backoff(attempts))
	if rerr := d.outbox.Reschedule(ctx, msg.ID, attempts, next); rerr != nil {
		d.logger.Error("reschedule failed", logging.Err(rerr),
			logging.String("outbox_id", string(msg.ID)))
	}
	d.metrics.RecordDispatch("retried")
	d.logger.Warn("reminder delivery failed, will retry",
		logging.String("event_id", string(msg.EventID)),
		logging.Int("attempts", attempts),
		logging.Time("next_attempt_at", next),
		logging.Err(err))
	return false
}

// backoff doubles per attempt: base, 2*base, 4*base, ...
func (d *Dispatcher) backoff(attempts int) time.Duration {
	b := d.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		b *= 2
	}
	return b
}
