package main

import (
	"fmt"

	"dmrelay/internal/dispatch"
	"dmrelay/internal/models"

	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "send <receiver> <content>",
		Short: "Send a direct message",
		Long: `Sends a message to the given receiver, trying every eligible endpoint
candidate in priority order. If the backend is unreachable the message is
queued locally and delivered on the next flush.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var opts []dispatch.SendOption
			if subject != "" {
				opts = append(opts, dispatch.WithSubject(subject))
			}

			msg, err := a.dispatcher.Send(cmd.Context(), args[0], args[1], opts...)
			if err != nil {
				return err
			}

			if msg.Status == models.StatusQueuedOffline {
				fmt.Printf("Backend unreachable; message queued offline as %s\n", msg.ID)
				fmt.Println("Run 'dmrelay flush' once connectivity is restored.")
				return nil
			}

			fmt.Printf("Message delivered (id %s)\n", msg.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "s", "", "optional subject line")
	return cmd
}
