package historycmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/taskvox/cmd/taskvox/sqlitepath"
	"github.com/papercomputeco/taskvox/pkg/logger"
	"github.com/papercomputeco/taskvox/pkg/merkle"
	"github.com/papercomputeco/taskvox/pkg/transcript"
)

const historyLongDesc string = `Show conversation transcripts recorded by a taskvox server.

Without arguments, lists one line per recorded transcript: its head hash,
conversation id, message count and last message. With a hash, prints that
transcript in full.

The database is the server's transcript.sqlite_path. It is found with
--sqlite, then $TASKVOX_TRANSCRIPT_PATH, then ./taskvox.db and
~/.taskvox/taskvox.db.

Examples:
  taskvox history
  taskvox history --conversation c1
  taskvox history 3f2a9c1b...`

const historyShortDesc string = "Show recorded transcripts"

const (
	hashWidth    = 12
	previewWidth = 60
)

type historyCommander struct {
	sqlitePath     string
	conversationID string
}

func NewHistoryCmd() *cobra.Command {
	cmder := &historyCommander{}

	cmd := &cobra.Command{
		Use:   "history [hash]",
		Short: historyShortDesc,
		Long:  historyLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash := ""
			if len(args) == 1 {
				hash = args[0]
			}
			return cmder.run(cmd.Context(), cmd.OutOrStdout(), hash)
		},
	}

	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to the transcript SQLite database")
	cmd.Flags().StringVar(&cmder.conversationID, "conversation", "", "Only list transcripts of this conversation")

	return cmd
}

func (c *historyCommander) run(ctx context.Context, out io.Writer, hash string) error {
	dbPath, err := sqlitepath.ResolveSQLitePath(c.sqlitePath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("could not open transcript database %s: %w", dbPath, err)
	}

	storer, err := merkle.NewSQLiteStorer(dbPath)
	if err != nil {
		return fmt.Errorf("could not open transcript database %s: %w", dbPath, err)
	}
	defer storer.Close()

	if hash != "" {
		return c.show(ctx, out, storer, hash)
	}
	return c.list(ctx, out, storer)
}

func (c *historyCommander) list(ctx context.Context, out io.Writer, storer merkle.Storer) error {
	histories, err := transcript.ListHistories(ctx, storer, c.conversationID)
	if err != nil {
		return err
	}

	if len(histories) == 0 {
		fmt.Fprintln(out, "No transcripts recorded.")
		return nil
	}

	for _, h := range histories {
		last := ""
		if n := len(h.Messages); n > 0 {
			last = h.Messages[n-1].Role + ": " + logger.Truncate(h.Messages[n-1].Content, previewWidth)
		}
		fmt.Fprintf(out, "%s  %s  %d messages  %s\n", shortHash(h.HeadHash), h.ConversationID, h.Depth, last)
	}
	return nil
}

func (c *historyCommander) show(ctx context.Context, out io.Writer, storer merkle.Storer, hash string) error {
	history, err := transcript.BuildHistory(ctx, storer, hash)
	if err != nil {
		var notFound merkle.ErrNotFound
		if errors.As(err, &notFound) {
			return fmt.Errorf("no transcript with head %s", hash)
		}
		return err
	}

	fmt.Fprintf(out, "conversation %s, %d messages, head %s\n\n", history.ConversationID, history.Depth, history.HeadHash)
	for _, msg := range history.Messages {
		fmt.Fprintf(out, "[%s] %s\n\n", msg.Role, msg.Content)
	}
	return nil
}

func shortHash(hash string) string {
	if len(hash) <= hashWidth {
		return hash
	}
	return hash[:hashWidth]
}
