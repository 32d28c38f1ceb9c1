package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/astromechza/chatsync/pkg/chat"
)

func newCreateCmd(flags *globalFlags) *cobra.Command {
	var (
		title        string
		participants []string
		orderID      string
		offerID      string
	)

	cmd := &cobra.Command{
		Use:   "create <conversation>",
		Short: "Create a conversation or replace its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := flags.client()
			if err != nil {
				return err
			}
			conv := chat.Conversation{ID: args[0], Title: title}
			for _, raw := range participants {
				p, err := parseParticipant(raw)
				if err != nil {
					return err
				}
				conv.Participants = append(conv.Participants, p)
			}
			if orderID != "" || offerID != "" {
				conv.Linked = &chat.LinkedResource{OrderID: orderID, OfferID: offerID}
				if err := conv.Linked.Validate(); err != nil {
					return err
				}
			}
			return c.PutConversation(cmd.Context(), conv)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "the conversation title")
	cmd.Flags().StringArrayVarP(&participants, "participant", "p", nil, "a participant as id[:kind[:handle]], repeatable")
	cmd.Flags().StringVar(&orderID, "order", "", "the linked order id")
	cmd.Flags().StringVar(&offerID, "offer", "", "the linked offer id")
	return cmd
}

// parseParticipant reads id[:kind[:handle]]; kind defaults to individual.
func parseParticipant(raw string) (chat.Participant, error) {
	parts := strings.SplitN(raw, ":", 3)
	p := chat.Participant{ID: strings.TrimSpace(parts[0]), Kind: chat.Individual}
	if p.ID == "" {
		return p, fmt.Errorf("participant %q has no id", raw)
	}
	if len(parts) > 1 && parts[1] != "" {
		switch kind := chat.ParticipantKind(parts[1]); kind {
		case chat.Individual, chat.Organization:
			p.Kind = kind
		default:
			return p, fmt.Errorf("participant %q has unknown kind %q", raw, parts[1])
		}
	}
	if len(parts) > 2 {
		p.Handle = parts[2]
	}
	return p, nil
}
