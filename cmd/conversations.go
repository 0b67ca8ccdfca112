package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tutorchat/chat"
	"tutorchat/models"
	"tutorchat/storage"
)

func newConversationsCmd() *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations with unread counts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			nav := storage.NavigationStore{Store: rt.store}
			list := chat.NewConversationList(chat.ListOptions{
				Source:     rt.api,
				Navigation: nav,
				Logger:     rt.logger,
			})
			defer list.Close()

			if err := list.Load(cmd.Context()); err != nil {
				return err
			}
			list.FilterNow(search)

			selected, _, err := nav.LoadSelection()
			if err != nil {
				rt.logger.WithError(err).Warn("could not load last selection")
			}
			printConversations(cmd.OutOrStdout(), list.Visible(), selected)
			return nil
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Only show conversations whose name or email contains this text")
	return cmd
}

func printConversations(out io.Writer, conversations []models.Conversation, selected string) {
	if len(conversations) == 0 {
		fmt.Fprintln(out, "No conversations.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tID\tNAME\tUNREAD\tLAST MESSAGE")
	for _, conv := range conversations {
		marker := ""
		if conv.ParticipantID == selected {
			marker = "*"
		}
		last := conv.LastMessageText
		if !conv.LastMessageTime.IsZero() {
			last = conv.LastMessageTime.Local().Format(time.DateTime) + "  " + last
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", marker, conv.ParticipantID, conv.DisplayName, conv.UnreadCount, last)
	}
	_ = w.Flush()
}
