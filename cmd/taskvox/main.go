package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	chatcmder "github.com/papercomputeco/taskvox/cmd/taskvox/chat"
	historycmder "github.com/papercomputeco/taskvox/cmd/taskvox/history"
	mergecmder "github.com/papercomputeco/taskvox/cmd/taskvox/merge"
	mcpcmder "github.com/papercomputeco/taskvox/cmd/taskvox/mcp"
	servecmder "github.com/papercomputeco/taskvox/cmd/taskvox/serve"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const rootLongDesc string = `taskvox is a voice and text assistant that completes tasks like
emails, invoices and reminders by asking one follow-up question at a time.

Run "taskvox serve" to start the HTTP API and "taskvox chat" to talk to it.`

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "taskvox",
		Short:         "Conversational task assistant",
		Long:          rootLongDesc,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		servecmder.NewServeCmd(),
		chatcmder.NewChatCmd(),
		historycmder.NewHistoryCmd(),
		mergecmder.NewMergeCmd(),
		mcpcmder.NewMCPCmd(version),
	)

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
