package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/astromechza/chatsync/pkg/api"
	"github.com/astromechza/chatsync/pkg/chat"
	"github.com/astromechza/chatsync/pkg/config"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	server     string
	user       string
	verbose    bool
}

func mainInner() error {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "chat",
		Short:         "Follow and post to chat conversations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if flags.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "an optional yaml config file")
	root.PersistentFlags().StringVar(&flags.server, "server", "", "the chat service base url")
	root.PersistentFlags().StringVarP(&flags.user, "user", "u", "", "the identity to act as")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newFollowCmd(flags),
		newSendCmd(flags),
		newShowCmd(flags),
		newCreateCmd(flags),
	)
	return root.ExecuteContext(context.Background())
}

func (f *globalFlags) load() (config.Client, error) {
	cfg, err := config.LoadClient(f.configPath)
	if err != nil {
		return cfg, err
	}
	if f.server != "" {
		cfg.ServerURL = f.server
	}
	if f.user != "" {
		cfg.User = f.user
	}
	return cfg, cfg.Validate()
}

func (f *globalFlags) client() (*api.Client, config.Client, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, cfg, err
	}
	c, err := api.NewClient(cfg.ServerURL, cfg.User)
	if err != nil {
		return nil, cfg, err
	}
	c.HTTPClient.Timeout = cfg.RequestTimeout
	return c, cfg, nil
}

func formatMessage(m chat.Message, self string) string {
	at := time.UnixMilli(m.Timestamp).Format(time.TimeOnly)
	switch {
	case m.IsSystem():
		return fmt.Sprintf("%s * %s", at, m.Content)
	case m.ID == "":
		return fmt.Sprintf("%s %s: %s (sending)", at, m.Author, m.Content)
	case m.Author == self:
		return fmt.Sprintf("%s me: %s", at, m.Content)
	default:
		return fmt.Sprintf("%s %s: %s", at, m.Author, m.Content)
	}
}

func formatConversation(conv chat.Conversation, self string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s (%d messages)\n", conv.Label(self), len(conv.Messages))
	if conv.Linked != nil {
		if conv.Linked.OrderID != "" {
			fmt.Fprintf(&sb, "    order %s\n", conv.Linked.OrderID)
		} else if conv.Linked.OfferID != "" {
			fmt.Fprintf(&sb, "    offer %s\n", conv.Linked.OfferID)
		}
	}
	for _, m := range conv.Messages {
		sb.WriteString(formatMessage(m, self))
		sb.WriteByte('\n')
	}
	return sb.String()
}
