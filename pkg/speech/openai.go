package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/taskvox/pkg/llm"
	"github.com/papercomputeco/taskvox/pkg/logger"
)

const (
	// DefaultOpenAIBaseURL is used when OpenAIConfig.BaseURL is empty.
	DefaultOpenAIBaseURL = "https://api.openai.com"

	DefaultTranscriptionModel = "whisper-1"
	DefaultSpeechModel        = "tts-1"

	opTranscribe = "transcribe"
	opSynthesize = "synthesize"
)

// OpenAIConfig configures the OpenAI audio endpoints.
type OpenAIConfig struct {
	BaseURL            string
	APIKey             string
	TranscriptionModel string
	SpeechModel        string
	Voices             VoiceSelector
	Timeout            time.Duration
}

// OpenAI implements Transcriber with /v1/audio/transcriptions and Synthesizer
// with /v1/audio/speech.
type OpenAI struct {
	config     OpenAIConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOpenAI creates an OpenAI speech client.
func NewOpenAI(config OpenAIConfig, log *zap.Logger) *OpenAI {
	if config.BaseURL == "" {
		config.BaseURL = DefaultOpenAIBaseURL
	}
	if config.TranscriptionModel == "" {
		config.TranscriptionModel = DefaultTranscriptionModel
	}
	if config.SpeechModel == "" {
		config.SpeechModel = DefaultSpeechModel
	}
	if config.Voices.Voices == nil {
		config.Voices.Voices = DefaultVoices()
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &OpenAI{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     log.With(zap.String("component", "speech"), zap.String("provider", "openai")),
	}
}

// transcriptionResponse is the verbose_json transcription payload.
type transcriptionResponse struct {
	Text     string  `json:"text"`
	Task     string  `json:"task"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Words    []Word  `json:"words"`
}

func (o *OpenAI) Transcribe(ctx context.Context, audio Audio, language string) (*Transcription, error) {
	if len(audio.Data) == 0 {
		return nil, &Error{Provider: "openai", Op: opTranscribe, Err: errors.New("empty audio")}
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	filename := audio.Filename
	if filename == "" {
		filename = "audio.wav"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	contentType := audio.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := form.CreatePart(header)
	if err != nil {
		return nil, o.fail(opTranscribe, 0, fmt.Errorf("create form file: %w", err))
	}
	if _, err := part.Write(audio.Data); err != nil {
		return nil, o.fail(opTranscribe, 0, fmt.Errorf("write form file: %w", err))
	}

	fields := [][2]string{
		{"model", o.config.TranscriptionModel},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "word"},
	}
	if lang := strings.TrimSpace(language); lang != "" {
		primary, _, _ := strings.Cut(lang, "-")
		fields = append(fields, [2]string{"language", strings.ToLower(primary)})
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return nil, o.fail(opTranscribe, 0, fmt.Errorf("write form field: %w", err))
		}
	}
	if err := form.Close(); err != nil {
		return nil, o.fail(opTranscribe, 0, fmt.Errorf("close form: %w", err))
	}

	resp, err := o.do(ctx, "/v1/audio/transcriptions", form.FormDataContentType(), &body)
	if err != nil {
		return nil, o.fail(opTranscribe, 0, err)
	}
	defer resp.Body.Close()

	raw, err := readOK(resp)
	if err != nil {
		return nil, o.fail(opTranscribe, resp.StatusCode, err)
	}

	var decoded transcriptionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, o.fail(opTranscribe, resp.StatusCode, fmt.Errorf("unmarshal response: %w", err))
	}

	words := decoded.Words
	if words == nil {
		words = []Word{}
	}

	o.logger.Debug("transcribed audio",
		zap.Int("audio_bytes", len(audio.Data)),
		zap.String("language", decoded.Language),
		zap.Float64("duration", decoded.Duration),
		zap.String("text_preview", logger.Truncate(decoded.Text, 80)),
	)

	return &Transcription{
		Text:     strings.TrimSpace(decoded.Text),
		Task:     decoded.Task,
		Language: decoded.Language,
		Duration: decoded.Duration,
		Words:    words,
	}, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func (o *OpenAI) Synthesize(ctx context.Context, text, language string) (*SpeechAudio, error) {
	stream, voice, err := o.synthesize(ctx, text, language)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, o.fail(opSynthesize, http.StatusOK, fmt.Errorf("read audio: %w", err))
	}

	o.logger.Debug("synthesized speech",
		zap.String("voice", voice),
		zap.Int("audio_bytes", len(data)),
	)

	return &SpeechAudio{
		Data:        data,
		Format:      "mp3",
		ContentType: "audio/mpeg",
		Voice:       voice,
	}, nil
}

func (o *OpenAI) SynthesizeStream(ctx context.Context, text, language string) (io.ReadCloser, error) {
	stream, _, err := o.synthesize(ctx, text, language)
	return stream, err
}

func (o *OpenAI) synthesize(ctx context.Context, text, language string) (io.ReadCloser, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", &Error{Provider: "openai", Op: opSynthesize, Err: errors.New("empty text")}
	}

	voice := o.config.Voices.VoiceFor(language)
	payload, err := json.Marshal(speechRequest{
		Model:          o.config.SpeechModel,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, "", o.fail(opSynthesize, 0, fmt.Errorf("marshal request: %w", err))
	}

	resp, err := o.do(ctx, "/v1/audio/speech", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, "", o.fail(opSynthesize, 0, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		_, err := readOK(resp)
		return nil, "", o.fail(opSynthesize, resp.StatusCode, err)
	}

	return resp.Body, voice, nil
}

func (o *OpenAI) do(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

func (o *OpenAI) fail(op string, status int, err error) error {
	o.logger.Warn("speech call failed",
		zap.String("op", op),
		zap.Int("status", status),
		zap.Error(err),
	)
	return &Error{Provider: "openai", Op: op, StatusCode: status, Err: err}
}

// readOK reads the body, turning a non-200 response into an error carrying the
// API's message when there is one.
func readOK(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return raw, nil
	}

	var envelope llm.OpenAIErrorBody
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, envelope.Error.Message)
	}
	return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}
