/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/taxdesk/portal/config"
	"github.com/taxdesk/portal/internal/logging"
	"github.com/taxdesk/portal/internal/mq"
	"github.com/taxdesk/portal/types"
)

// eventsCmd represents the events command.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect processing run events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Log run events from the configured broker until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if cfg.MQ.Backend == config.MQNone {
			return errors.New("MQ_BACKEND is none; nothing to tail")
		}
		logger := logging.New(cfg.LogLevel, cfg.IsDev())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		events, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		defer events.Close()

		logger.WithField("channel", cfg.MQ.Channel).Info("tailing run events")
		err = events.Consume(ctx, func(ctx context.Context, ev types.RunEvent) error {
			logger.WithFields(logrus.Fields{
				"run":      ev.ID,
				"module":   ev.ModuleID,
				"user":     ev.Username,
				"status":   ev.Status,
				"filename": ev.Filename,
				"finished": ev.FinishedAt,
			}).Info(ev.Message)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
