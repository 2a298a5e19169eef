package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/luxmed-hunter/internal/hunter"
	"github.com/example/luxmed-hunter/internal/notify"
)

func newRunCmd() *cobra.Command {
	var (
		intervalSeconds int
		once            bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the appointment hunter (daemon by default, --once for a single pass)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, log, st, err := setup(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			sink, err := notify.FromConfig(cfg.Notifications.Mail, log)
			if err != nil {
				return err
			}

			s := hunter.New(st, sink, log)

			if once {
				return s.RunOnce(ctx)
			}

			interval := cfg.Hunter.IntervalSeconds
			if intervalSeconds > 0 {
				interval = intervalSeconds
			}
			log.Info("starting appointment hunter", "interval_seconds", interval)
			err = s.Run(ctx, time.Duration(interval)*time.Second)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().IntVarP(&intervalSeconds, "delay", "d", 0, "delay between hunts in seconds (overrides config)")
	cmd.Flags().BoolVar(&once, "once", false, "run one hunt pass and exit")
	return cmd
}
