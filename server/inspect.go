package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/taskvox/pkg/merkle"
	"github.com/papercomputeco/taskvox/pkg/transcript"
)

func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	state, err := s.manager.State(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(state)
}

// handleResetConversation discards the conversation. Unknown ids succeed too.
func (s *Server) handleResetConversation(c *fiber.Ctx) error {
	if err := s.manager.Reset(c.UserContext(), c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleListTranscripts returns every recorded transcript, one per DAG leaf,
// optionally filtered by ?conversation_id=.
func (s *Server) handleListTranscripts(c *fiber.Ctx) error {
	if s.transcripts == nil {
		return s.transcriptsDisabled(c)
	}

	histories, err := transcript.ListHistories(c.UserContext(), s.transcripts, c.Query("conversation_id"))
	if err != nil {
		s.logger.Error("failed to list transcripts", zap.Error(err))
		return s.reject(c, fiber.StatusInternalServerError, "failed to list transcripts")
	}

	return c.JSON(map[string]any{
		"count":     len(histories),
		"histories": histories,
	})
}

func (s *Server) handleTranscriptStats(c *fiber.Ctx) error {
	if s.transcripts == nil {
		return s.transcriptsDisabled(c)
	}

	stats, err := transcript.ComputeStats(c.UserContext(), s.transcripts)
	if err != nil {
		s.logger.Error("failed to compute transcript stats", zap.Error(err))
		return s.reject(c, fiber.StatusInternalServerError, "failed to compute stats")
	}
	return c.JSON(stats)
}

// handleGetTranscript returns the transcript leading up to a given node, in
// chronological order.
func (s *Server) handleGetTranscript(c *fiber.Ctx) error {
	if s.transcripts == nil {
		return s.transcriptsDisabled(c)
	}

	history, err := transcript.BuildHistory(c.UserContext(), s.transcripts, c.Params("hash"))
	if err != nil {
		var notFound merkle.ErrNotFound
		if errors.As(err, &notFound) {
			return s.reject(c, fiber.StatusNotFound, "node not found")
		}
		s.logger.Error("failed to build transcript", zap.Error(err))
		return s.reject(c, fiber.StatusInternalServerError, "failed to build transcript")
	}
	return c.JSON(history)
}

func (s *Server) transcriptsDisabled(c *fiber.Ctx) error {
	return s.reject(c, fiber.StatusServiceUnavailable, "transcript recording is disabled")
}
