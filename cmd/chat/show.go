package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/astromechza/chatsync/pkg/viz"
)

func newShowCmd(flags *globalFlags) *cobra.Command {
	var svgPath string

	cmd := &cobra.Command{
		Use:   "show <conversation>",
		Short: "Print the authoritative conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := flags.client()
			if err != nil {
				return err
			}
			conv, err := c.FetchConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), formatConversation(conv, cfg.User))
			if svgPath != "" {
				if err := viz.RenderConversationToSvg(conv, cfg.User, svgPath); err != nil {
					return err
				}
				slog.Info("rendered", "conversation", conv.ID, "path", "file://"+svgPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&svgPath, "dump-svg", "", "also render the conversation to this svg path")
	return cmd
}
