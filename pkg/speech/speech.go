// Package speech turns user audio into text and replies into audio.
package speech

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Audio is an uploaded recording.
type Audio struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Word is one transcribed word with its position in the recording, in seconds.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcription is the text of a recording plus word timestamps.
type Transcription struct {
	Text     string  `json:"text"`
	Task     string  `json:"task,omitempty"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Words    []Word  `json:"words"`
}

// SpeechAudio is synthesized speech.
type SpeechAudio struct {
	Data        []byte
	Format      string
	ContentType string
	Voice       string
}

// Transcriber converts speech to text.
type Transcriber interface {
	// Transcribe returns the text of audio. language is an ISO-639-1 hint and
	// may be empty.
	Transcribe(ctx context.Context, audio Audio, language string) (*Transcription, error)
}

// Synthesizer converts text to speech.
type Synthesizer interface {
	// Synthesize returns the full audio for text in a voice chosen by language.
	Synthesize(ctx context.Context, text, language string) (*SpeechAudio, error)

	// SynthesizeStream returns the audio as it is produced. The caller closes
	// the reader.
	SynthesizeStream(ctx context.Context, text, language string) (io.ReadCloser, error)
}

// DefaultVoice is used for languages without a mapped voice.
const DefaultVoice = "nova"

// DefaultVoices maps language codes to voices.
func DefaultVoices() map[string]string {
	return map[string]string{
		"en": "nova",
		"es": "onyx",
	}
}

// VoiceSelector picks the synthesis voice for a language code.
type VoiceSelector struct {
	Voices   map[string]string
	Fallback string
}

// VoiceFor returns the voice for language, matching on the primary subtag so
// "es-MX" uses the "es" voice.
func (v VoiceSelector) VoiceFor(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if voice, ok := v.Voices[lang]; ok {
		return voice
	}
	if primary, _, ok := strings.Cut(lang, "-"); ok {
		if voice, ok := v.Voices[primary]; ok {
			return voice
		}
	}
	if v.Fallback != "" {
		return v.Fallback
	}
	return DefaultVoice
}

// Error is returned for any failure of a speech provider call.
type Error struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed (status %d): %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
