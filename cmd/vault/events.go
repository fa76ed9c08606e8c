package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"github.com/wyfcoding/optionvault/internal/vault/infrastructure/messaging"
	"github.com/wyfcoding/optionvault/pkg/config"
	"github.com/wyfcoding/optionvault/pkg/mq"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Tail vault events from Kafka",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if len(cfg.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is not configured")
		}
		fromStart, _ := cmd.Flags().GetBool("from-beginning")
		offset := kafka.LastOffset
		if fromStart {
			offset = kafka.FirstOffset
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		consumer := mq.NewConsumer(mq.KafkaConfig{Brokers: cfg.Kafka.Brokers}, cfg.Kafka.Topic, offset)
		defer consumer.Close()

		out := cmd.OutOrStdout()
		for {
			msg, err := consumer.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return fmt.Errorf("failed to read event: %w", err)
			}
			var env messaging.EventEnvelope
			if err := msg.UnmarshalPayload(&env); err != nil {
				fmt.Fprintf(out, "offset=%d undecodable: %v\n", msg.Offset, err)
				continue
			}
			fmt.Fprintf(out, "offset=%d epoch=%d %s %s\n", msg.Offset, env.Epoch, env.EventType, env.Payload)
		}
	},
}

func init() {
	eventsCmd.Flags().Bool("from-beginning", false, "read the topic from the first offset")
}
