package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"github.com/medimorph/medimorph/internal/infrastructure/messaging/kafka"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/internal/notification"
)

// newFeedCommand tails the reminder topic and prints each payload.
func newFeedCommand(cliCtx *CLIContext) *cobra.Command {
	var (
		group string
		raw   bool
	)

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Tail the reminder feed",
		Long:  "Consumes the reminder topic and prints each delivered payload.\nUseful for verifying dispatch during incident debugging.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			consumer, err := kafka.NewConsumer(cliCtx.Config.Kafka, group, kafka.TopicReminders, cliCtx.Logger)
			if err != nil {
				return err
			}
			defer consumer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			err = consumer.Run(ctx, func(_ context.Context, msg kafkago.Message) error {
				if raw {
					fmt.Fprintf(out, "%s\t%s\n", msg.Key, msg.Value)
					return nil
				}
				var payload notification.ReminderPayload
				if err := json.Unmarshal(msg.Value, &payload); err != nil {
					cliCtx.Logger.Warn("Undecodable reminder payload", logging.Err(err))
					fmt.Fprintf(out, "%s\t<undecodable>\n", msg.Key)
					return nil
				}
				fmt.Fprintf(out, "%s\t%s\t%s %s at %s\n",
					payload.UserID, payload.EventID,
					payload.MedicationName, payload.Dosage,
					payload.ScheduledTime.Format("2006-01-02 15:04"))
				return nil
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&group, "group", "medimorph-feed-cli", "consumer group id")
	cmd.Flags().BoolVar(&raw, "raw", false, "print raw payload bytes")
	return cmd
}
