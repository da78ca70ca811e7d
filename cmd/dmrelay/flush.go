package main

import (
	"fmt"
	"time"

	"dmrelay/internal/retry"

	"github.com/spf13/cobra"
)

func flushCmd() *cobra.Command {
	var peer string
	var attempts int

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Replay the offline queue",
		Long: `Attempts to deliver every locally queued message in the order it was
written. Delivery stops at the first message that still cannot be sent;
already-delivered messages are removed from the queue either way. The
whole run is retried with backoff when it halts early.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			total := 0
			backoff := retry.NewBackoff(retry.BackoffConfig{
				InitialDelay: time.Duration(a.cfg.Retry.InitialBackoffMs) * time.Millisecond,
				MaxDelay:     time.Duration(a.cfg.Retry.MaxBackoffMs) * time.Millisecond,
				Multiplier:   2.0,
				MaxAttempts:  attempts,
				Jitter:       true,
			})

			err = backoff.Retry(cmd.Context(), func() error {
				sent, flushErr := a.dispatcher.Flush(cmd.Context(), peer)
				total += sent
				return flushErr
			})

			if err != nil {
				fmt.Printf("Flushed %d message(s); the queue head still cannot be delivered.\n", total)
				return err
			}

			if total == 0 {
				fmt.Println("Queue is empty.")
			} else {
				fmt.Printf("Flushed %d message(s).\n", total)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&peer, "peer", "p", "", "flush only messages for this peer")
	cmd.Flags().IntVar(&attempts, "attempts", 3, "flush rounds before giving up")
	return cmd
}
