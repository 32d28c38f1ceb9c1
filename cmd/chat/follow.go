package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/astromechza/chatsync/pkg/chat"
	"github.com/astromechza/chatsync/pkg/session"
	"github.com/astromechza/chatsync/pkg/viz"
)

func newFollowCmd(flags *globalFlags) *cobra.Command {
	var dumpSvg bool

	cmd := &cobra.Command{
		Use:   "follow <conversation>",
		Short: "Print a conversation as it changes and send each line read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			s := session.New(cfg)
			if err := s.SignIn(ctx, cfg.User); err != nil {
				return err
			}
			defer func() {
				if err := s.SignOut(); err != nil {
					slog.Warn("failed to sign out", "err", err)
				}
			}()
			st, err := s.Store()
			if err != nil {
				return err
			}
			v, err := st.Open(args[0])
			if err != nil {
				return err
			}
			defer v.Close()

			out := cmd.OutOrStdout()
			unsubscribe := v.Subscribe(func(conv chat.Conversation) {
				_, _ = fmt.Fprint(out, formatConversation(conv, cfg.User))
			})
			defer unsubscribe()

			<-v.Ready()
			if err := v.Err(); err != nil {
				return fmt.Errorf("failed to load conversation: %w", err)
			}

			// not joined on exit: the scanner may be blocked reading stdin
			go sendLines(ctx, cmd.InOrStdin(), v.Send)

			exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
			signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(exit)
			sig := <-exit
			slog.Info("Signal caught", "sig", sig)
			cancel()

			if dumpSvg {
				if svgPath, err := viz.RenderToTemp(v.Conversation(), cfg.User); err != nil {
					slog.Error("failed to render", "conversation", v.ID(), "err", err)
				} else {
					slog.Info("rendered", "conversation", v.ID(), "path", "file://"+svgPath)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dumpSvg, "dump-svg", false, "render the final conversation to an svg file on exit")
	return cmd
}

func sendLines(ctx context.Context, in io.Reader, send func(context.Context, string) error) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := send(ctx, line); err != nil {
			slog.Error("failed to send", "err", err)
		}
	}
}
