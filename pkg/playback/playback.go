// Package playback infers personal details from a transcribed recording and
// points each one back at the sentence it was spoken in, so a client can
// replay that part of the audio.
package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/papercomputeco/taskvox/pkg/gateway"
	"github.com/papercomputeco/taskvox/pkg/llm"
	"github.com/papercomputeco/taskvox/pkg/speech"
)

// Sentence is a stretch of the recording, in seconds from its start.
type Sentence struct {
	Value     string  `json:"value"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

type SentenceInfo struct {
	SentenceSpoken Sentence `json:"sentence_spoken"`
}

// Field is one inferred value and where it was said.
type Field[T string | int] struct {
	Value        T            `json:"value"`
	SentenceInfo SentenceInfo `json:"sentence_info"`
}

// Person holds the details mentioned about one person. Details that were
// never mentioned are nil.
type Person struct {
	FirstName      *Field[string] `json:"first_name,omitempty"`
	LastName       *Field[string] `json:"last_name,omitempty"`
	NoOfDependents *Field[int]    `json:"no_of_dependents,omitempty"`
}

// Result is a transcription with the details found in it.
type Result struct {
	Transcription *speech.Transcription `json:"transcription"`
	Data          []Person              `json:"data"`
}

// ParseError reports a judgment that does not match the expected schema.
type ParseError struct {
	Reply  string
	Reason string
}

func (e *ParseError) Error() string {
	return "unexpected personal info reply: " + e.Reason
}

const promptTemplate = `You infer personal data from transcriptions.
Analyze the transcription below and respond with a JSON object of the form
{"data": [{"first_name": F, "last_name": F, "no_of_dependents": F}]}
with one entry per person mentioned. Each F is
{"value": V, "sentence_info": {"sentence_spoken": {"value": "<sentence>", "start_time": <seconds>, "end_time": <seconds>}}}
where V is a string for names and an integer for no_of_dependents. Copy the sentence the value was said in and take its times from the word timestamps. Leave out details that were not mentioned. Use an empty list when nobody is mentioned.

Transcription: {{ json . }}`

var prompt = template.Must(template.New("playback").Funcs(template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}).Parse(promptTemplate))

// Extractor asks the language model for the personal details in a
// transcription.
type Extractor struct {
	gateway gateway.Gateway
	logger  *zap.Logger
}

// NewExtractor creates an Extractor judging through gw.
func NewExtractor(gw gateway.Gateway, log *zap.Logger) *Extractor {
	return &Extractor{
		gateway: gw,
		logger:  log.With(zap.String("component", "playback")),
	}
}

// Extract returns the people described in transcription. Gateway failures are
// returned as they are; a reply that does not fit the schema is a *ParseError.
func (e *Extractor) Extract(ctx context.Context, transcription *speech.Transcription) ([]Person, error) {
	if transcription == nil || strings.TrimSpace(transcription.Text) == "" {
		return []Person{}, nil
	}

	var buf bytes.Buffer
	if err := prompt.Execute(&buf, transcription); err != nil {
		return nil, fmt.Errorf("render playback prompt: %w", err)
	}

	reply, err := e.gateway.Judge(ctx, buf.String())
	if err != nil {
		return nil, err
	}

	people, err := ParsePeople(reply)
	if err != nil {
		e.logger.Warn("discarding personal info reply", zap.Error(err))
		return nil, err
	}

	e.logger.Debug("extracted personal info", zap.Int("people", len(people)))
	return people, nil
}

// ParsePeople decodes a judgment of the form {"data": [...]}, optionally
// inside a code fence. Unknown keys, trailing data and inconsistent sentence
// times are rejected.
func ParsePeople(reply string) ([]Person, error) {
	dec := json.NewDecoder(strings.NewReader(llm.StripCodeFence(reply)))
	dec.DisallowUnknownFields()

	var body struct {
		Data *[]Person `json:"data"`
	}
	if err := dec.Decode(&body); err != nil {
		return nil, &ParseError{Reply: reply, Reason: err.Error()}
	}
	if dec.More() {
		return nil, &ParseError{Reply: reply, Reason: "trailing data after JSON object"}
	}
	if body.Data == nil {
		return nil, &ParseError{Reply: reply, Reason: `missing "data" field`}
	}

	people := *body.Data
	for i, p := range people {
		if err := p.validate(); err != nil {
			return nil, &ParseError{Reply: reply, Reason: fmt.Sprintf("entry %d: %v", i, err)}
		}
	}
	return people, nil
}

func (p Person) validate() error {
	var errs []error
	if p.FirstName != nil {
		errs = append(errs, checkName("first_name", p.FirstName))
	}
	if p.LastName != nil {
		errs = append(errs, checkName("last_name", p.LastName))
	}
	if p.NoOfDependents != nil {
		if p.NoOfDependents.Value < 0 {
			errs = append(errs, errors.New("no_of_dependents must not be negative"))
		}
		errs = append(errs, checkSentence("no_of_dependents", p.NoOfDependents.SentenceInfo.SentenceSpoken))
	}
	return errors.Join(errs...)
}

func checkName(name string, f *Field[string]) error {
	if strings.TrimSpace(f.Value) == "" {
		return fmt.Errorf("%s is empty", name)
	}
	return checkSentence(name, f.SentenceInfo.SentenceSpoken)
}

func checkSentence(name string, s Sentence) error {
	if s.StartTime < 0 || s.EndTime < s.StartTime {
		return fmt.Errorf("%s sentence times %.2f-%.2f are out of order", name, s.StartTime, s.EndTime)
	}
	return nil
}
