// Package assembly wires a taskvox service stack from configuration.
package assembly

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/taskvox/pkg/config"
	"github.com/papercomputeco/taskvox/pkg/conversation"
	"github.com/papercomputeco/taskvox/pkg/gateway"
	"github.com/papercomputeco/taskvox/pkg/merkle"
	"github.com/papercomputeco/taskvox/pkg/metrics"
	"github.com/papercomputeco/taskvox/pkg/playback"
	"github.com/papercomputeco/taskvox/pkg/speech"
	"github.com/papercomputeco/taskvox/pkg/storage/inmemory"
	"github.com/papercomputeco/taskvox/pkg/storage/redis"
	"github.com/papercomputeco/taskvox/pkg/storage/sqlite"
	"github.com/papercomputeco/taskvox/pkg/transcript"
)

// Stack holds every long-lived component of a running taskvox service.
type Stack struct {
	Config    *config.Config
	Collector *metrics.Collector
	Gateway   gateway.Gateway
	Store     conversation.Store
	Locker    conversation.Locker
	Manager   *conversation.Manager

	// Transcripts and Recorder are nil when transcript recording is disabled.
	Transcripts merkle.Storer
	Recorder    *transcript.Recorder

	// Transcriber, Synthesizer and Playback are nil when the speech provider
	// is "none".
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
	Playback    *playback.Extractor

	logger  *zap.Logger
	closers []func() error
}

// Build assembles a Stack from cfg. On error, anything already opened is
// released.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (stack *Stack, err error) {
	s := &Stack{
		Config:    cfg,
		Collector: metrics.NewCollector(),
		logger:    log,
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	s.Gateway = gateway.Instrument(newGateway(cfg, log), s.Collector, log)

	if err := s.openStore(ctx, cfg); err != nil {
		return nil, err
	}

	sink := conversation.LogSink(conversation.NopSink{})
	if cfg.Transcript.Enabled {
		if err := s.openTranscripts(cfg); err != nil {
			return nil, err
		}
		sink = s.Recorder
	}

	if cfg.Speech.Provider == config.ProviderOpenAI {
		client := speech.NewOpenAI(speech.OpenAIConfig{
			BaseURL:            cfg.Speech.BaseURL,
			APIKey:             cfg.Speech.APIKey,
			TranscriptionModel: cfg.Speech.TranscriptionModel,
			SpeechModel:        cfg.Speech.SpeechModel,
			Voices: speech.VoiceSelector{
				Voices:   cfg.Speech.Voices,
				Fallback: cfg.Speech.DefaultVoice,
			},
			Timeout: cfg.Speech.Timeout,
		}, log)
		s.Transcriber = client
		s.Synthesizer = client
		s.Playback = playback.NewExtractor(s.Gateway, log)
	}

	s.Manager, err = conversation.NewManager(conversation.Dependencies{
		Gateway:   s.Gateway,
		Store:     s.Store,
		Locker:    s.Locker,
		Sink:      sink,
		Collector: s.Collector,
	}, cfg.ConversationSettings(), log)
	if err != nil {
		return nil, fmt.Errorf("creating conversation manager: %w", err)
	}

	log.Info("stack assembled",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("speech", cfg.Speech.Provider),
		zap.Bool("transcripts", cfg.Transcript.Enabled),
		zap.String("task_switch", cfg.Conversation.TaskSwitch),
	)

	return s, nil
}

func newGateway(cfg *config.Config, log *zap.Logger) gateway.Gateway {
	if cfg.LLM.Provider == config.ProviderOllama {
		return gateway.NewOllama(gateway.OllamaConfig{
			BaseURL:    cfg.LLMBaseURL(),
			Model:      cfg.LLM.Model,
			JudgeModel: cfg.LLM.JudgeModel,
			Timeout:    cfg.LLM.Timeout,
		}, log)
	}
	return gateway.NewOpenAI(gateway.OpenAIConfig{
		BaseURL:    cfg.LLMBaseURL(),
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		JudgeModel: cfg.LLM.JudgeModel,
		Timeout:    cfg.LLM.Timeout,
	}, log)
}

func (s *Stack) openStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		driver, err := sqlite.NewDriver(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening sqlite store: %w", err)
		}
		s.Store = driver
		s.Locker = conversation.NewKeyedLocker()

	case config.DriverRedis:
		driver, err := redis.NewDriver(ctx, redis.Config{
			Addr:      cfg.Storage.Redis.Addr,
			Password:  cfg.Storage.Redis.Password,
			DB:        cfg.Storage.Redis.DB,
			KeyPrefix: cfg.Storage.Redis.Prefix,
			TTL:       cfg.Storage.Redis.TTL,
		})
		if err != nil {
			return fmt.Errorf("opening redis store: %w", err)
		}
		s.Store = driver
		// Several replicas may share one Redis, so turns lock there too
		s.Locker = redis.NewLocker(driver, cfg.Storage.Redis.LockTTL)

	default:
		s.Store = inmemory.NewDriver()
		s.Locker = conversation.NewKeyedLocker()
	}

	s.closers = append(s.closers, s.Store.Close)
	return nil
}

func (s *Stack) openTranscripts(cfg *config.Config) error {
	if cfg.Transcript.SQLitePath != "" {
		storer, err := merkle.NewSQLiteStorer(cfg.Transcript.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening transcript store: %w", err)
		}
		s.Transcripts = storer
	} else {
		s.Transcripts = merkle.NewMemoryStorer()
	}
	s.closers = append(s.closers, s.Transcripts.Close)

	s.Recorder = transcript.NewRecorder(s.Transcripts, cfg.Transcript.QueueSize, s.Collector, s.logger)
	// The recorder drains into the storer, so it must close first
	s.closers = append(s.closers, s.Recorder.Close)
	return nil
}

// Close releases everything in reverse order of creation. It is safe to call
// more than once.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Reconfigure applies a reloaded configuration. Only the [conversation]
// section takes effect without a restart.
func (s *Stack) Reconfigure(cfg *config.Config) error {
	if err := s.Manager.SetSettings(cfg.ConversationSettings()); err != nil {
		return fmt.Errorf("applying conversation settings: %w", err)
	}
	s.logger.Info("conversation settings reloaded",
		zap.String("task_switch", cfg.Conversation.TaskSwitch),
		zap.Int("max_context_turns", cfg.Conversation.MaxContextTurns),
		zap.Int("max_pending_questions", cfg.Conversation.MaxPendingQuestions),
	)
	return nil
}
