package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func fetchCmd() *cobra.Command {
	var markRead bool

	cmd := &cobra.Command{
		Use:   "fetch <peer>",
		Short: "Fetch the conversation with a peer",
		Long: `Retrieves the message history with the given peer. Locally queued
messages that have not reached the backend yet are included when the
client is in local mode.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			peer := args[0]
			msgs, err := a.dispatcher.FetchMessages(cmd.Context(), peer)
			if err != nil {
				return err
			}

			if len(msgs) == 0 {
				fmt.Println("No messages.")
			}
			for _, m := range msgs {
				marker := ""
				if m.Queued() {
					marker = " [queued offline]"
				}
				timestamp := ""
				if !m.CreatedAt.IsZero() {
					timestamp = m.CreatedAt.Local().Format("2006-01-02 15:04") + " "
				}
				fmt.Printf("%s%s: %s%s\n", timestamp, m.Sender, m.Content, marker)
			}

			if a.session.LocalMode() {
				fmt.Println("\n(local mode: backend unreachable, showing queued messages)")
			}

			if markRead {
				a.dispatcher.MarkRead(cmd.Context(), peer)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&markRead, "mark-read", false, "mark the conversation read after fetching")
	return cmd
}
