package chatcmder

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const chatLongDesc string = `Chat with a running taskvox server.

Each line you type is sent to /text-assist. The assistant answers with one
follow-up question at a time until it has what it needs, then prints the
finished task. Type /reset to start over and /quit to leave.

When stdin is not a terminal, lines are read and answered one by one,
which makes it easy to script a conversation.

Examples:
  taskvox chat
  taskvox chat --server http://localhost:9090 --language es
  printf 'Create an invoice for Harry\n$50\n' | taskvox chat`

const chatShortDesc string = "Chat with a taskvox server"

type chatCommander struct {
	serverURL      string
	conversationID string
	language       string
	plain          bool
}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.serverURL, "server", "http://localhost:8080", "taskvox server URL")
	cmd.Flags().StringVar(&cmder.conversationID, "conversation", "", "Conversation id to continue (default: a new one)")
	cmd.Flags().StringVar(&cmder.language, "language", "en", "Language code sent with each turn")
	cmd.Flags().BoolVar(&cmder.plain, "plain", false, "Use line mode even on a terminal")

	return cmd
}

func (c *chatCommander) run(ctx context.Context, cmd *cobra.Command) error {
	conversationID := c.conversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	s := newSession(c.serverURL, conversationID, c.language)

	in := cmd.InOrStdin()
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}

	if c.plain || !interactive {
		return runLines(ctx, s, in, cmd.OutOrStdout())
	}

	_, err := tea.NewProgram(newModel(ctx, s), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
