package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <peer>",
		Short: "Mark a conversation as read",
		Long: `Tells the backend the conversation with the given peer has been read.
This is best-effort: a failure is logged but never reported as an error,
because a missed read receipt must not interrupt messaging.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			a.dispatcher.MarkRead(cmd.Context(), args[0])
			fmt.Println("Done.")
			return nil
		},
	}
}
