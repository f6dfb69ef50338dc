package server

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/papercomputeco/taskvox/pkg/conversation"
	"github.com/papercomputeco/taskvox/pkg/logger"
	"github.com/papercomputeco/taskvox/pkg/playback"
	"github.com/papercomputeco/taskvox/pkg/speech"
)

const defaultLanguage = "en"

// TextAssistRequest is the body of POST /text-assist.
type TextAssistRequest struct {
	ConversationID string `json:"conversation_id"`
	UserInputText  string `json:"user_input_text"`
	LanguageCode   string `json:"language_code"`
}

// AssistResponse is returned by /text-assist and /voice-assist.
type AssistResponse struct {
	ConversationID   string                 `json:"conversation_id"`
	UserInputText    string                 `json:"user_input_text"`
	ReplyText        string                 `json:"reply_text"`
	DetailedResponse string                 `json:"detailed_response"`
	ReplyKind        conversation.ReplyKind `json:"reply_kind"`
	LanguageCode     string                 `json:"language_code"`

	Intent string `json:"intent,omitempty"`
	Reset  bool   `json:"reset,omitempty"`

	// Transcription is only set by /voice-assist.
	Transcription *speech.Transcription `json:"transcription,omitempty"`

	// Reply audio is the spoken ReplyText. A synthesis failure leaves it
	// empty and sets AudioError instead of failing the turn.
	ReplyAudioBase64 string `json:"reply_audio_base64,omitempty"`
	ReplyAudioFormat string `json:"reply_audio_format,omitempty"`
	AudioError       string `json:"audio_error,omitempty"`
}

// SpeakRequest is the body of POST /speak.
type SpeakRequest struct {
	Text         string `json:"text"`
	LanguageCode string `json:"language_code"`
}

func (s *Server) handleTextAssist(c *fiber.Ctx) error {
	var req TextAssistRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		s.logger.Debug("failed to parse request", zap.Error(err))
		return s.reject(c, fiber.StatusBadRequest, "invalid request body")
	}

	resp, err := s.assist(c, req.ConversationID, req.UserInputText, languageOrDefault(req.LanguageCode))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(resp)
}

func (s *Server) handleVoiceAssist(c *fiber.Ctx) error {
	if s.transcriber == nil {
		return s.reject(c, fiber.StatusServiceUnavailable, "speech recognition is disabled")
	}

	audio, err := formAudio(c)
	if err != nil {
		return s.reject(c, fiber.StatusBadRequest, err.Error())
	}
	conversationID := strings.TrimSpace(c.FormValue("conversation_id"))
	if conversationID == "" {
		return s.reject(c, fiber.StatusBadRequest, "conversation_id is required")
	}
	language := languageOrDefault(c.FormValue("language_code"))

	transcription, err := s.transcriber.Transcribe(c.UserContext(), *audio, language)
	if err != nil {
		s.logger.Error("transcription failed", zap.Error(err))
		return s.reject(c, fiber.StatusBadGateway, fmt.Sprintf("transcription failed: %v", err))
	}

	resp, err := s.assist(c, conversationID, transcription.Text, language)
	if err != nil {
		return s.fail(c, err)
	}
	resp.Transcription = transcription
	return c.JSON(resp)
}

func (s *Server) handleTranscribe(c *fiber.Ctx) error {
	if s.transcriber == nil {
		return s.reject(c, fiber.StatusServiceUnavailable, "speech recognition is disabled")
	}

	audio, err := formAudio(c)
	if err != nil {
		return s.reject(c, fiber.StatusBadRequest, err.Error())
	}

	transcription, err := s.transcriber.Transcribe(c.UserContext(), *audio, c.FormValue("language_code"))
	if err != nil {
		s.logger.Error("transcription failed", zap.Error(err))
		return s.reject(c, fiber.StatusBadGateway, fmt.Sprintf("transcription failed: %v", err))
	}
	return c.JSON(transcription)
}

// handlePlayback transcribes a recording and locates the personal details
// mentioned in it.
func (s *Server) handlePlayback(c *fiber.Ctx) error {
	if s.transcriber == nil || s.playback == nil {
		return s.reject(c, fiber.StatusServiceUnavailable, "speech recognition is disabled")
	}

	audio, err := formAudio(c)
	if err != nil {
		return s.reject(c, fiber.StatusBadRequest, err.Error())
	}

	transcription, err := s.transcriber.Transcribe(c.UserContext(), *audio, c.FormValue("language_code"))
	if err != nil {
		s.logger.Error("transcription failed", zap.Error(err))
		return s.reject(c, fiber.StatusBadGateway, fmt.Sprintf("transcription failed: %v", err))
	}

	people, err := s.playback.Extract(c.UserContext(), transcription)
	if err != nil {
		var parseErr *playback.ParseError
		if errors.As(err, &parseErr) {
			return s.reject(c, fiber.StatusBadGateway, fmt.Sprintf("extraction failed: %s", parseErr.Reason))
		}
		return s.fail(c, err)
	}

	return c.JSON(playback.Result{Transcription: transcription, Data: people})
}

// handleSpeak streams synthesized speech straight from the provider.
func (s *Server) handleSpeak(c *fiber.Ctx) error {
	if s.synthesizer == nil {
		return s.reject(c, fiber.StatusServiceUnavailable, "speech synthesis is disabled")
	}

	var req SpeakRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return s.reject(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return s.reject(c, fiber.StatusBadRequest, "text is required")
	}

	stream, err := s.synthesizer.SynthesizeStream(c.UserContext(), req.Text, languageOrDefault(req.LanguageCode))
	if err != nil {
		s.logger.Error("speech synthesis failed", zap.Error(err))
		return s.reject(c, fiber.StatusBadGateway, fmt.Sprintf("speech synthesis failed: %v", err))
	}

	c.Set("Content-Type", "audio/mpeg")
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer stream.Close()

		n, err := io.Copy(w, stream)
		if err != nil {
			s.logger.Warn("error streaming speech", zap.Int64("bytes", n), zap.Error(err))
			return
		}
		if err := w.Flush(); err != nil {
			s.logger.Debug("client went away", zap.Error(err))
		}
	}))

	return nil
}

// assist runs one turn and attaches the spoken short reply.
func (s *Server) assist(c *fiber.Ctx, conversationID, utterance, language string) (*AssistResponse, error) {
	result, err := s.manager.HandleTurn(c.UserContext(), conversationID, utterance)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("turn handled",
		zap.String("conversation_id", result.ConversationID),
		zap.String("kind", string(result.Kind)),
		zap.String("reply_preview", logger.Truncate(result.ShortReply, 80)),
	)

	resp := &AssistResponse{
		ConversationID:   result.ConversationID,
		UserInputText:    utterance,
		ReplyText:        result.ShortReply,
		DetailedResponse: result.DetailedReply,
		ReplyKind:        result.Kind,
		LanguageCode:     language,
		Intent:           result.Intent,
		Reset:            result.Reset,
	}

	if s.synthesizer == nil || strings.TrimSpace(result.ShortReply) == "" {
		return resp, nil
	}

	audio, err := s.synthesizer.Synthesize(c.UserContext(), result.ShortReply, language)
	if err != nil {
		s.logger.Warn("reply synthesis failed, returning text only",
			zap.String("conversation_id", result.ConversationID),
			zap.Error(err),
		)
		resp.AudioError = err.Error()
		return resp, nil
	}

	resp.ReplyAudioBase64 = base64.StdEncoding.EncodeToString(audio.Data)
	resp.ReplyAudioFormat = audio.Format
	return resp, nil
}

// formAudio reads the "audio" file of a multipart request.
func formAudio(c *fiber.Ctx) (*speech.Audio, error) {
	header, err := c.FormFile("audio")
	if err != nil {
		return nil, errors.New("audio file is required")
	}

	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("audio file is empty")
	}

	return &speech.Audio{
		Data:        data,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	}, nil
}

func languageOrDefault(code string) string {
	if code = strings.TrimSpace(code); code != "" {
		return code
	}
	return defaultLanguage
}
