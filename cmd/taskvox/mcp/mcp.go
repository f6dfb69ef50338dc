package mcpcmder

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/taskvox/pkg/assembly"
	"github.com/papercomputeco/taskvox/pkg/config"
	"github.com/papercomputeco/taskvox/pkg/conversation"
	"github.com/papercomputeco/taskvox/pkg/logger"
)

const mcpLongDesc string = `Serve the taskvox assistant as MCP tools over stdio.

Exposes "assist", which runs one conversation turn and returns the short
and detailed replies, and "reset_conversation". Configuration is loaded
the same way as "taskvox serve". Logs go to stderr.

Examples:
  taskvox mcp --config taskvox.toml`

const mcpShortDesc string = "Serve the assistant as MCP tools"

// AssistInput is the argument of the assist tool.
type AssistInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"id of the conversation to continue, any stable string"`
	Text           string `json:"text" jsonschema:"what the user said"`
}

// ResetInput is the argument of the reset_conversation tool.
type ResetInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"id of the conversation to discard"`
}

// ResetOutput is the result of the reset_conversation tool.
type ResetOutput struct {
	ConversationID string `json:"conversation_id"`
	Reset          bool   `json:"reset"`
}

type mcpCommander struct {
	version    string
	configPath string
	debug      bool
}

func NewMCPCmd(version string) *cobra.Command {
	cmder := &mcpCommander{version: version}

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: mcpShortDesc,
		Long:  mcpLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")

	return cmd
}

func (c *mcpCommander) run(ctx context.Context) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	// stdout carries the protocol
	log := logger.NewStderrLogger(c.debug || cfg.Log.Debug, cfg.Log.Format)
	defer func() { _ = log.Sync() }()

	stack, err := assembly.Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("could not assemble service: %w", err)
	}
	defer stack.Close()

	log.Info("serving MCP over stdio")
	return NewServer(stack.Manager, c.version, log).Run(ctx, &mcp.StdioTransport{})
}

// NewServer returns an MCP server exposing manager as tools.
func NewServer(manager *conversation.Manager, version string, log *zap.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "taskvox", Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name: "assist",
		Description: "Send one user utterance to the task assistant. The assistant asks one " +
			"follow-up question at a time (reply_kind follow_up or queued) until it can produce " +
			"the finished email, invoice or reminder (reply_kind final).",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in AssistInput) (*mcp.CallToolResult, conversation.TurnResult, error) {
		result, err := manager.HandleTurn(ctx, in.ConversationID, in.Text)
		if err != nil {
			log.Warn("assist tool failed", zap.String("conversation_id", in.ConversationID), zap.Error(err))
			return nil, conversation.TurnResult{}, err
		}
		return nil, *result, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reset_conversation",
		Description: "Discard a conversation so the next assist call starts over.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in ResetInput) (*mcp.CallToolResult, ResetOutput, error) {
		if in.ConversationID == "" {
			return nil, ResetOutput{}, conversation.ErrMissingInput
		}
		if err := manager.Reset(ctx, in.ConversationID); err != nil {
			return nil, ResetOutput{}, err
		}
		return nil, ResetOutput{ConversationID: in.ConversationID, Reset: true}, nil
	})

	return server
}
