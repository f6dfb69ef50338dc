// Package server exposes the conversation manager and the speech clients over
// HTTP.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/papercomputeco/taskvox/pkg/conversation"
	"github.com/papercomputeco/taskvox/pkg/gateway"
	"github.com/papercomputeco/taskvox/pkg/llm"
	"github.com/papercomputeco/taskvox/pkg/merkle"
	"github.com/papercomputeco/taskvox/pkg/metrics"
	"github.com/papercomputeco/taskvox/pkg/playback"
	"github.com/papercomputeco/taskvox/pkg/speech"
)

// Dependencies are the components the server routes to. Manager is required.
// A nil Transcriber or Synthesizer disables the voice routes and reply audio;
// a nil Transcripts disables the transcript routes. /playback needs both a
// Transcriber and Playback.
type Dependencies struct {
	Manager     *conversation.Manager
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
	Playback    *playback.Extractor
	Transcripts merkle.Storer
	Collector   *metrics.Collector
}

// Server is the taskvox HTTP API.
type Server struct {
	config      Config
	manager     *conversation.Manager
	transcriber speech.Transcriber
	synthesizer speech.Synthesizer
	playback    *playback.Extractor
	transcripts merkle.Storer
	collector   *metrics.Collector
	logger      *zap.Logger
	app         *fiber.App
}

// New creates a Server and registers its routes.
func New(config Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if deps.Manager == nil {
		return nil, errors.New("server requires a conversation manager")
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		BodyLimit:             config.BodyLimit,
	})
	app.Use(fiberrecover.New())

	s := &Server{
		config:      config,
		manager:     deps.Manager,
		transcriber: deps.Transcriber,
		synthesizer: deps.Synthesizer,
		playback:    deps.Playback,
		transcripts: deps.Transcripts,
		collector:   deps.Collector,
		logger:      logger.With(zap.String("component", "server")),
		app:         app,
	}

	// Assistant endpoints
	app.Post("/text-assist", s.handleTextAssist)
	app.Post("/voice-assist", s.handleVoiceAssist)
	app.Post("/transcribe", s.handleTranscribe)
	app.Post("/speak", s.handleSpeak)
	app.Post("/playback", s.handlePlayback)

	// Conversation state
	app.Get("/conversations/:id", s.handleGetConversation)
	app.Delete("/conversations/:id", s.handleResetConversation)

	// Transcript inspection endpoints
	app.Get("/transcripts", s.handleListTranscripts)
	app.Get("/transcripts/stats", s.handleTranscriptStats)
	app.Get("/transcripts/:hash", s.handleGetTranscript)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})
	if deps.Collector != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Collector.Handler()))
	}

	return s, nil
}

// Run starts the server on the configured listening address.
func (s *Server) Run() error {
	s.logger.Info("starting server",
		zap.String("listen", s.config.ListenAddr),
		zap.Bool("voice", s.transcriber != nil),
		zap.Bool("reply_audio", s.synthesizer != nil),
		zap.Bool("transcripts", s.transcripts != nil),
	)

	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// fail maps an error from the conversation layer to an HTTP response.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	var gwErr *gateway.Error

	switch {
	case errors.Is(err, conversation.ErrMissingInput):
		return s.reject(c, fiber.StatusBadRequest, "conversation_id and user input are required")

	case errors.Is(err, conversation.ErrNotFound):
		return s.reject(c, fiber.StatusNotFound, "conversation not found")

	case errors.As(err, &gwErr):
		s.logger.Error("language model call failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return s.reject(c, fiber.StatusBadGateway, fmt.Sprintf("processing failed: %v", err))

	default:
		s.logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return s.reject(c, fiber.StatusInternalServerError, "internal error")
	}
}

func (s *Server) reject(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(llm.ErrorResponse{Error: message})
}
