package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newSendCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation> <text>...",
		Short: "Post a single message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := flags.client()
			if err != nil {
				return err
			}
			return c.SendMessage(cmd.Context(), args[0], strings.Join(args[1:], " "))
		},
	}
}
