package chatcmder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/papercomputeco/taskvox/pkg/conversation"
)

const (
	commandReset = "/reset"
	commandQuit  = "/quit"
)

// runLines answers one input line at a time until EOF or /quit.
func runLines(ctx context.Context, s *session, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "conversation %s\n", s.conversationID)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case commandQuit:
			return nil
		case commandReset:
			if err := s.reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "conversation reset")
			continue
		}

		resp, err := s.assist(ctx, line)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "assistant: %s\n", resp.ReplyText)
		if resp.ReplyKind == conversation.KindFinal && resp.DetailedResponse != resp.ReplyText {
			fmt.Fprintf(out, "\n%s\n\n", resp.DetailedResponse)
		}
	}

	return scanner.Err()
}
