package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/taskvox/pkg/config"
	"github.com/papercomputeco/taskvox/pkg/conversation"
)

func writeConfig(dir, body string) string {
	path := filepath.Join(dir, "taskvox.toml")
	Expect(os.WriteFile(path, []byte(body), 0o600)).To(Succeed())
	return path
}

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

var _ = Describe("Config", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		GinkgoT().Setenv("OPENAI_API_KEY", "sk-env")
	})

	Describe("Default", func() {
		It("needs only an API key to validate", func() {
			cfg := config.Default()
			Expect(cfg.Validate()).To(HaveOccurred())

			cfg.ApplyEnv(env(map[string]string{"OPENAI_API_KEY": "sk-test"}))
			Expect(cfg.Validate()).To(Succeed())
			Expect(cfg.LLM.APIKey).To(Equal("sk-test"))
			Expect(cfg.Speech.APIKey).To(Equal("sk-test"))
		})

		It("keeps task switching off", func() {
			Expect(config.Default().ConversationSettings().TaskSwitch).To(Equal(conversation.TaskSwitchOff))
		})
	})

	Describe("Load", func() {
		It("reads sections over the defaults", func() {
			path := writeConfig(dir, `
[server]
listen = "127.0.0.1:9000"

[llm]
provider = "ollama"
model = "llama3.2"
timeout = "30s"

[conversation]
task_switch = "reset"
max_pending_questions = 3

[storage]
driver = "redis"

[storage.redis]
addr = "localhost:6379"
ttl = "24h"

[speech]
provider = "none"

[speech.voices]
fr = "shimmer"
`)
			cfg, err := config.Load(path)
			Expect(err).NotTo(HaveOccurred())

			Expect(cfg.Server.Listen).To(Equal("127.0.0.1:9000"))
			Expect(cfg.Server.BodyLimitMB).To(Equal(25))
			Expect(cfg.LLM.Provider).To(Equal(config.ProviderOllama))
			Expect(cfg.LLM.Timeout).To(Equal(30 * time.Second))
			Expect(cfg.LLMBaseURL()).To(Equal(config.DefaultOllamaBaseURL))
			Expect(cfg.Storage.Redis.TTL).To(Equal(24 * time.Hour))
			Expect(cfg.Speech.Voices).To(HaveKeyWithValue("fr", "shimmer"))
			Expect(cfg.Conversation.SystemPrompt).To(Equal(conversation.DefaultSystemPrompt))

			settings := cfg.ConversationSettings()
			Expect(settings.TaskSwitch).To(Equal(conversation.TaskSwitchReset))
			Expect(settings.MaxPendingQuestions).To(Equal(3))
		})

		It("rejects unknown keys", func() {
			path := writeConfig(dir, "[llm]\nmodle = \"gpt-4o\"\n")
			_, err := config.Load(path)
			Expect(err).To(MatchError(ContainSubstring("llm.modle")))
		})

		It("rejects malformed TOML", func() {
			path := writeConfig(dir, "[llm\n")
			_, err := config.Load(path)
			Expect(err).To(MatchError(ContainSubstring("parsing config")))
		})

		It("fails on a missing file", func() {
			_, err := config.Load(filepath.Join(dir, "missing.toml"))
			Expect(err).To(HaveOccurred())
		})

		It("lets the environment override the file", func() {
			GinkgoT().Setenv("TASKVOX_LLM_MODEL", "gpt-4o-mini")
			GinkgoT().Setenv("TASKVOX_DEBUG", "true")
			path := writeConfig(dir, "[llm]\nmodel = \"gpt-4o\"\n")

			cfg, err := config.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.LLM.Model).To(Equal("gpt-4o-mini"))
			Expect(cfg.Log.Debug).To(BeTrue())
		})

		It("prefers an explicit key over OPENAI_API_KEY", func() {
			path := writeConfig(dir, "[llm]\napi_key = \"sk-file\"\n")
			cfg, err := config.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.LLM.APIKey).To(Equal("sk-file"))
			Expect(cfg.Speech.APIKey).To(Equal("sk-env"))
		})
	})

	Describe("Validate", func() {
		var cfg *config.Config

		BeforeEach(func() {
			cfg = config.Default()
			cfg.LLM.APIKey = "sk"
			cfg.Speech.APIKey = "sk"
		})

		DescribeTable("rejects invalid values",
			func(mutate func(*config.Config), message string) {
				mutate(cfg)
				Expect(cfg.Validate()).To(MatchError(ContainSubstring(message)))
			},
			Entry("llm provider", func(c *config.Config) { c.LLM.Provider = "anthropic" }, "llm.provider"),
			Entry("task switch", func(c *config.Config) { c.Conversation.TaskSwitch = "sometimes" }, "conversation.task_switch"),
			Entry("empty prompt", func(c *config.Config) { c.Conversation.SystemPrompt = " " }, "system_prompt"),
			Entry("negative limit", func(c *config.Config) { c.Conversation.MaxContextTurns = -1 }, "limits"),
			Entry("speech provider", func(c *config.Config) { c.Speech.Provider = "polly" }, "speech.provider"),
			Entry("storage driver", func(c *config.Config) { c.Storage.Driver = "postgres" }, "storage.driver"),
			Entry("sqlite path", func(c *config.Config) { c.Storage.Driver = config.DriverSQLite }, "sqlite_path"),
			Entry("redis addr", func(c *config.Config) { c.Storage.Driver = config.DriverRedis }, "redis.addr"),
			Entry("negative lock ttl", func(c *config.Config) {
				c.Storage.Driver = config.DriverRedis
				c.Storage.Redis.Addr = "localhost:6379"
				c.Storage.Redis.LockTTL = -time.Second
			}, "lock_ttl"),
			Entry("log format", func(c *config.Config) { c.Log.Format = "xml" }, "log.format"),
		)

		It("does not need an API key for ollama without speech", func() {
			cfg.LLM.APIKey = ""
			cfg.Speech.APIKey = ""
			cfg.LLM.Provider = config.ProviderOllama
			cfg.Speech.Provider = config.ProviderNone
			Expect(cfg.Validate()).To(Succeed())
		})
	})

	Describe("Watch", func() {
		It("delivers valid edits and skips invalid ones", func() {
			path := writeConfig(dir, "[conversation]\nmax_context_turns = 4\n")

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var (
				mu   sync.Mutex
				seen []int
			)
			Expect(config.Watch(ctx, path, zap.NewNop(), func(cfg *config.Config) {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, cfg.Conversation.MaxContextTurns)
			})).To(Succeed())

			latest := func() []int {
				mu.Lock()
				defer mu.Unlock()
				return append([]int(nil), seen...)
			}

			writeConfig(dir, "[conversation]\nmax_context_turns = 8\n")
			Eventually(latest, 5*time.Second, 50*time.Millisecond).Should(ContainElement(8))

			writeConfig(dir, "[conversation]\ntask_switch = \"sometimes\"\n")
			Consistently(latest, 500*time.Millisecond, 50*time.Millisecond).ShouldNot(ContainElement(0))
		})
	})
})
