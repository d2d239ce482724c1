package kafka

import (
	"context"

	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// Topic names.
const (
	// TopicReminders carries fired-dose notifications, keyed per user so
	// each user's reminders stay ordered on one partition.
	TopicReminders = "medimorph.reminders.v1"

	// TopicRemindersDLQ receives reminder records the downstream pipeline
	// gave up on.
	TopicRemindersDLQ = "medimorph.reminders.dlq"
)

// ReminderChannel publishes reminder payloads to the reminder topic.  It
// implements notification.Channel.
type ReminderChannel struct {
	producer *Producer
	logger   logging.Logger
}

// NewReminderChannel wraps a producer as a notification channel.
func NewReminderChannel(producer *Producer, logger logging.Logger) *ReminderChannel {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ReminderChannel{producer: producer, logger: logger.Named("reminder_channel")}
}

// Publish sends one reminder payload keyed by user.
func (c *ReminderChannel) Publish(ctx context.Context, userID common.UserID, payload []byte) error {
	return c.producer.Publish(ctx, Message{
		Topic: TopicReminders,
		Key:   []byte(userID),
		Value: payload,
		Headers: map[string]string{
			"content-type": "application/json",
		},
	})
}
