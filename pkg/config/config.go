// Package config loads the taskvox configuration from a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/taskvox/pkg/conversation"
	"github.com/papercomputeco/taskvox/pkg/speech"
)

// Provider and driver names.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"

	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"

	DefaultOllamaBaseURL = "http://localhost:11434"
)

// Config is the complete taskvox configuration.
type Config struct {
	Server       ServerConfig       `toml:"server"`
	LLM          LLMConfig          `toml:"llm"`
	Conversation ConversationConfig `toml:"conversation"`
	Speech       SpeechConfig       `toml:"speech"`
	Storage      StorageConfig      `toml:"storage"`
	Transcript   TranscriptConfig   `toml:"transcript"`
	Log          LogConfig          `toml:"log"`
}

type ServerConfig struct {
	Listen string `toml:"listen"`

	// BodyLimitMB caps request bodies, audio uploads included.
	BodyLimitMB int `toml:"body_limit_mb"`
}

type LLMConfig struct {
	Provider   string        `toml:"provider"`
	BaseURL    string        `toml:"base_url"`
	Model      string        `toml:"model"`
	JudgeModel string        `toml:"judge_model"`
	APIKey     string        `toml:"api_key"`
	Timeout    time.Duration `toml:"timeout"`
}

type ConversationConfig struct {
	SystemPrompt        string `toml:"system_prompt"`
	TaskSwitch          string `toml:"task_switch"`
	MaxContextTurns     int    `toml:"max_context_turns"`
	MaxPendingQuestions int    `toml:"max_pending_questions"`
}

type SpeechConfig struct {
	Provider           string            `toml:"provider"`
	BaseURL            string            `toml:"base_url"`
	APIKey             string            `toml:"api_key"`
	TranscriptionModel string            `toml:"transcription_model"`
	SpeechModel        string            `toml:"speech_model"`
	DefaultVoice       string            `toml:"default_voice"`
	Voices             map[string]string `toml:"voices"`
	Timeout            time.Duration     `toml:"timeout"`
}

type StorageConfig struct {
	Driver     string      `toml:"driver"`
	SQLitePath string      `toml:"sqlite_path"`
	Redis      RedisConfig `toml:"redis"`
}

type RedisConfig struct {
	Addr     string        `toml:"addr"`
	Password string        `toml:"password"`
	DB       int           `toml:"db"`
	Prefix   string        `toml:"prefix"`
	TTL      time.Duration `toml:"ttl"`
	LockTTL  time.Duration `toml:"lock_ttl"`
}

type TranscriptConfig struct {
	Enabled bool `toml:"enabled"`

	// SQLitePath persists the transcript DAG. Empty keeps it in memory.
	SQLitePath string `toml:"sqlite_path"`
	QueueSize  int    `toml:"queue_size"`
}

type LogConfig struct {
	Debug  bool   `toml:"debug"`
	Format string `toml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:      ":8080",
			BodyLimitMB: 25,
		},
		LLM: LLMConfig{
			Provider: ProviderOpenAI,
			Model:    "gpt-4o",
			Timeout:  5 * time.Minute,
		},
		Conversation: ConversationConfig{
			SystemPrompt: conversation.DefaultSystemPrompt,
			TaskSwitch:   string(conversation.TaskSwitchOff),
		},
		Speech: SpeechConfig{
			Provider:           ProviderOpenAI,
			TranscriptionModel: speech.DefaultTranscriptionModel,
			SpeechModel:        speech.DefaultSpeechModel,
			DefaultVoice:       speech.DefaultVoice,
			Voices:             speech.DefaultVoices(),
			Timeout:            2 * time.Minute,
		},
		Storage: StorageConfig{
			Driver: DriverMemory,
		},
		Transcript: TranscriptConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Format: "console",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&c.Server.Listen, "TASKVOX_LISTEN")
	set(&c.LLM.Provider, "TASKVOX_LLM_PROVIDER")
	set(&c.LLM.BaseURL, "TASKVOX_LLM_BASE_URL")
	set(&c.LLM.Model, "TASKVOX_LLM_MODEL")
	set(&c.LLM.JudgeModel, "TASKVOX_LLM_JUDGE_MODEL")
	set(&c.Conversation.TaskSwitch, "TASKVOX_TASK_SWITCH")
	set(&c.Speech.Provider, "TASKVOX_SPEECH_PROVIDER")
	set(&c.Storage.Driver, "TASKVOX_STORAGE_DRIVER")
	set(&c.Storage.SQLitePath, "TASKVOX_SQLITE_PATH")
	set(&c.Storage.Redis.Addr, "TASKVOX_REDIS_ADDR")
	set(&c.Storage.Redis.Password, "TASKVOX_REDIS_PASSWORD")
	set(&c.Transcript.SQLitePath, "TASKVOX_TRANSCRIPT_PATH")
	set(&c.Log.Format, "TASKVOX_LOG_FORMAT")

	// The OpenAI key serves both the chat and audio endpoints
	if key := strings.TrimSpace(getenv("OPENAI_API_KEY")); key != "" {
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = key
		}
		if c.Speech.APIKey == "" {
			c.Speech.APIKey = key
		}
	}

	if v, err := strconv.ParseBool(getenv("TASKVOX_DEBUG")); err == nil {
		c.Log.Debug = v
	}
}

// Validate rejects unknown providers and drivers and missing required values.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if c.Server.BodyLimitMB < 0 {
		errs = append(errs, errors.New("server.body_limit_mb must not be negative"))
	}

	switch c.LLM.Provider {
	case ProviderOllama:
	case ProviderOpenAI:
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("llm.api_key (or OPENAI_API_KEY) is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be %q or %q, got %q", ProviderOllama, ProviderOpenAI, c.LLM.Provider))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}

	if _, err := conversation.ParseTaskSwitchPolicy(c.Conversation.TaskSwitch); err != nil {
		errs = append(errs, fmt.Errorf("conversation.task_switch: %w", err))
	}
	if strings.TrimSpace(c.Conversation.SystemPrompt) == "" {
		errs = append(errs, errors.New("conversation.system_prompt must not be empty"))
	}
	if c.Conversation.MaxContextTurns < 0 || c.Conversation.MaxPendingQuestions < 0 {
		errs = append(errs, errors.New("conversation limits must not be negative"))
	}

	switch c.Speech.Provider {
	case ProviderNone:
	case ProviderOpenAI:
		if c.Speech.APIKey == "" {
			errs = append(errs, errors.New("speech.api_key (or OPENAI_API_KEY) is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("speech.provider must be %q or %q, got %q", ProviderOpenAI, ProviderNone, c.Speech.Provider))
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite driver"))
		}
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required for the redis driver"))
		}
		if c.Storage.Redis.LockTTL < 0 || c.Storage.Redis.TTL < 0 {
			errs = append(errs, errors.New("storage.redis ttl and lock_ttl must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be one of %q, %q, %q, got %q", DriverMemory, DriverSQLite, DriverRedis, c.Storage.Driver))
	}

	if c.Transcript.QueueSize < 0 {
		errs = append(errs, errors.New("transcript.queue_size must not be negative"))
	}

	switch c.Log.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// ConversationSettings converts the [conversation] section for the manager.
func (c *Config) ConversationSettings() conversation.Settings {
	policy, _ := conversation.ParseTaskSwitchPolicy(c.Conversation.TaskSwitch)
	return conversation.Settings{
		SystemPrompt:        c.Conversation.SystemPrompt,
		TaskSwitch:          policy,
		MaxContextTurns:     c.Conversation.MaxContextTurns,
		MaxPendingQuestions: c.Conversation.MaxPendingQuestions,
	}
}

// LLMBaseURL returns the configured base URL or the provider default.
func (c *Config) LLMBaseURL() string {
	if c.LLM.BaseURL != "" {
		return c.LLM.BaseURL
	}
	if c.LLM.Provider == ProviderOllama {
		return DefaultOllamaBaseURL
	}
	return ""
}
