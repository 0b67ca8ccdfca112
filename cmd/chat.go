package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"tutorchat/attachment"
	"tutorchat/chat"
	"tutorchat/models"
	"tutorchat/network"
	"tutorchat/storage"
)

const chatHelp = `Type a message and press enter to send it.
  /attach <path>   add a file to the pending attachments
  /drop <n>        remove pending attachment n
  /pending         list pending attachments
  /send [caption]  send the pending attachments
  /reconnect       reopen the connection after it gave up
  /quit            leave the chat`

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [conversation-id]",
		Short: "Open a conversation (defaults to the last one opened)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			out := newTranscript(cmd.OutOrStdout(), rt.me)
			list := chat.NewConversationList(chat.ListOptions{
				Source:         rt.api,
				Navigation:     storage.NavigationStore{Store: rt.store},
				SearchDebounce: millis(rt.cfg.SearchDebounceMillis),
				Notifier:       out,
				Logger:         rt.logger,
			})
			defer list.Close()

			session := chat.NewSession(chat.SessionOptions{
				LocalUser:  rt.me,
				Token:      rt.cfg.Token,
				APIBaseURL: rt.cfg.APIBaseURL,
				API:        rt.api,
				Connection: rt.connectionOptions(ctx),
				Encoder:    rt.encoder,
				Summaries:  list,
				ReadDwell:  millis(rt.cfg.ReadDwellMillis),
				Notifier:   out,
				Logger:     rt.logger,
				OnChange:   out.Render,
			})
			defer session.Close()
			list.AttachSession(session)

			if err := list.Load(ctx); err != nil {
				return err
			}
			if err := openConversation(ctx, list, args); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), chatHelp)
			return runChat(ctx, cmd.InOrStdin(), out, session, attachment.NewPendingList(rt.encoder))
		},
	}
}

func openConversation(ctx context.Context, list *chat.ConversationList, args []string) error {
	if len(args) == 1 {
		_, err := list.Select(ctx, args[0])
		return err
	}
	_, restored, err := list.Restore(ctx)
	if err != nil {
		return err
	}
	if !restored {
		return errors.New("no conversation to restore: pass a conversation id (see 'tutorchat conversations')")
	}
	return nil
}

// chatInput is one line typed at the chat prompt.
type chatInput struct {
	command string
	arg     string
}

func parseInput(line string) chatInput {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return chatInput{arg: line}
	}
	command, arg, _ := strings.Cut(trimmed[1:], " ")
	return chatInput{command: strings.ToLower(command), arg: strings.TrimSpace(arg)}
}

func runChat(ctx context.Context, in io.Reader, out *transcript, session *chat.Session, pending *attachment.PendingList) error {
	defer pending.Clear()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		input := parseInput(line)
		switch input.command {
		case "":
			if strings.TrimSpace(input.arg) == "" {
				continue
			}
			if err := session.SendText(ctx, input.arg); err != nil && !errors.Is(err, network.ErrNotConnected) {
				out.Printf("! %v\n", err)
			}
		case "attach":
			file, err := attachment.Stat(input.arg)
			if err != nil {
				out.Printf("! %v\n", err)
				continue
			}
			if _, err := pending.Add(file); err != nil {
				out.Printf("! %v\n", err)
				continue
			}
			out.Printf("+ %s (%d pending)\n", file.Name, pending.Len())
		case "drop":
			n, err := strconv.Atoi(input.arg)
			if err != nil {
				out.Printf("! usage: /drop <n>\n")
				continue
			}
			if err := pending.Remove(n - 1); err != nil {
				out.Printf("! %v\n", err)
			}
		case "pending":
			for i, item := range pending.Items() {
				out.Printf("  %d. %s (%s)\n", i+1, item.File.Name, item.File.MimeType)
			}
		case "send":
			if pending.Len() == 0 {
				out.Printf("! nothing to send\n")
				continue
			}
			if err := session.SendAttachments(ctx, pending.Take(), input.arg); err != nil {
				out.Printf("! %v\n", err)
			}
		case "reconnect":
			if err := session.Reconnect(ctx); err != nil {
				out.Printf("! %v\n", err)
			}
		case "quit", "exit":
			return nil
		case "help":
			out.Printf("%s\n", chatHelp)
		default:
			out.Printf("! unknown command /%s\n", input.command)
		}
	}
}

// transcript prints new messages and notices as the session changes.
type transcript struct {
	mu           sync.Mutex
	out          io.Writer
	me           models.Participant
	conversation string
	printed      int
	state        network.ConnectionState
}

func newTranscript(out io.Writer, me models.Participant) *transcript {
	return &transcript{out: out, me: me}
}

func (t *transcript) Printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

// Render is the session change callback.
func (t *transcript) Render(snap chat.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if snap.Conversation.ParticipantID != t.conversation {
		t.conversation = snap.Conversation.ParticipantID
		t.printed = 0
		t.state = ""
		fmt.Fprintf(t.out, "== %s ==\n", snap.Conversation.Participant().DisplayName())
	}
	if snap.State != "" && snap.State != t.state {
		t.state = snap.State
		fmt.Fprintf(t.out, "-- %s --\n", strings.ToLower(string(snap.State)))
	}
	if len(snap.Messages) < t.printed {
		t.printed = 0
	}
	for _, msg := range snap.Messages[t.printed:] {
		fmt.Fprintln(t.out, t.format(msg))
	}
	t.printed = len(snap.Messages)
}

func (t *transcript) format(msg models.Message) string {
	who := msg.Sender.DisplayName()
	if t.me.Same(msg.Sender) {
		who = "you"
	}
	stamp := msg.SentAt.Local().Format("15:04")
	text := msg.Text
	if msg.Attachment != nil {
		location := msg.Attachment.URL
		if location == "" {
			location = string(msg.Attachment.Kind)
		}
		text = strings.TrimSpace(fmt.Sprintf("%s [%s: %s]", text, msg.Attachment.FileName, location))
	}
	return fmt.Sprintf("[%s] %s: %s", stamp, who, text)
}

// Notify implements chat.Notifier.
func (t *transcript) Notify(n chat.Notice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n.Err != nil {
		fmt.Fprintf(t.out, "! %s: %v\n", n.Message, n.Err)
		return
	}
	fmt.Fprintf(t.out, "! %s\n", n.Message)
}
