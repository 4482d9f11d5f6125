package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Models      ModelsConfig      `koanf:"models"`
	Store       StoreConfig       `koanf:"store"`
	Brain       BrainConfig       `koanf:"brain"`
	Scheduler   SchedulerConfig   `koanf:"scheduler"`
	Digest      DigestConfig      `koanf:"digest"`
	Performance PerformanceConfig `koanf:"performance"`
	Knowledge   KnowledgeConfig   `koanf:"knowledge"`
	Platform    PlatformConfig    `koanf:"platform"`
	Adapters    AdaptersConfig    `koanf:"adapters"`
	Daemon      DaemonConfig      `koanf:"daemon"`
}

type ServerConfig struct {
	LogLevel        string `koanf:"log_level"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
	HealthAddr      string `koanf:"health_addr"`
}

type ModelsConfig struct {
	Default             string          `koanf:"default"`
	Fallback            string          `koanf:"fallback"`
	Embedding           string          `koanf:"embedding"`
	MaxFallbackAttempts int             `koanf:"max_fallback_attempts"`
	RequestsPerMinute   int             `koanf:"requests_per_minute"`
	Burst               int             `koanf:"burst"`
	Registry            []ModelRegistry `koanf:"registry"`
}

type ModelRegistry struct {
	Name           string  `koanf:"name"`
	Provider       string  `koanf:"provider"`
	BaseURL        string  `koanf:"base_url"`
	APIKey         string  `koanf:"api_key"`
	MaxTokens      int     `koanf:"max_tokens"`
	Temperature    float64 `koanf:"temperature"`
	RequestTimeout string  `koanf:"request_timeout"`
}

type StoreConfig struct {
	Backend      string `koanf:"backend"`
	DataDir      string `koanf:"data_dir"`
	LockTimeout  string `koanf:"lock_timeout"`
	LockRetry    string `koanf:"lock_retry"`
	LockMaxRetry int    `koanf:"lock_max_retry"`
	InboxSize    int    `koanf:"inbox_size"`
}

type BrainConfig struct {
	DefaultWorkMode     string  `koanf:"default_work_mode"`
	ApprovalTTL         string  `koanf:"approval_ttl"`
	GoalApprovalTTL     string  `koanf:"goal_approval_ttl"`
	HistoryLimit        int     `koanf:"history_limit"`
	EnrichEvery         int     `koanf:"enrich_every"`
	TitleMaxLength      int     `koanf:"title_max_length"`
	TitleAfterMessages  int     `koanf:"title_after_messages"`
	StepFailurePolicy   string  `koanf:"step_failure_policy"`
	StepMaxRetries      int     `koanf:"step_max_retries"`
	StepRetryBackoff    string  `koanf:"step_retry_backoff"`
	DailyTokenLimit     int     `koanf:"daily_token_limit"`
	ArchiveAfter        string  `koanf:"archive_after"`
	GoalMaxFailedPlans  int     `koanf:"goal_max_failed_plans"`
	GoalConfidenceFloor float64 `koanf:"goal_confidence_floor"`
}

type SchedulerConfig struct {
	Spec                string `koanf:"spec"`
	ShutdownTimeout     string `koanf:"shutdown_timeout"`
	DefaultIntervalMins int    `koanf:"default_interval_minutes"`
	DefaultMinPriority  string `koanf:"default_min_priority"`
	MaxTasksPerCycle    int    `koanf:"max_tasks_per_cycle"`
	MaxGoalsPerCycle    int    `koanf:"max_goals_per_cycle"`
}

// DigestConfig schedules the performance digest sent over Telegram.
type DigestConfig struct {
	Enabled bool   `koanf:"enabled"`
	Spec    string `koanf:"spec"`
	Period  string `koanf:"period"`
}

type PerformanceConfig struct {
	MinHoursAfterSend  int     `koanf:"min_hours_after_send"`
	MaxHoursAfterSend  int     `koanf:"max_hours_after_send"`
	BenchmarkTolerance float64 `koanf:"benchmark_tolerance"`
	ContextDays        int     `koanf:"context_days"`
}

type KnowledgeConfig struct {
	VectorEnabled    bool   `koanf:"vector_enabled"`
	VectorPath       string `koanf:"vector_path"`
	ContextLimit     int    `koanf:"context_limit"`
	PerCategoryLimit int    `koanf:"per_category_limit"`
}

// PlatformConfig seeds the in-memory marketing platform.
type PlatformConfig struct {
	Fixture string `koanf:"fixture"`
}

type AdaptersConfig struct {
	Slack    SlackConfig    `koanf:"slack"`
	Telegram TelegramConfig `koanf:"telegram"`
}

type SlackConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Port           int    `koanf:"port"`
	SigningSecret  string `koanf:"signing_secret"`
	BotToken       string `koanf:"bot_token"`
	DefaultChannel string `koanf:"default_channel"`
	UserID         string `koanf:"user_id"`
}

type TelegramConfig struct {
	Enabled        bool    `koanf:"enabled"`
	BotToken       string  `koanf:"bot_token"`
	UpdateTimeout  int     `koanf:"update_timeout"`
	AllowedChatIDs []int64 `koanf:"allowed_chat_ids"`
	UserID         string  `koanf:"user_id"`
	DedupTTL       string  `koanf:"dedup_ttl"`
}

type DaemonConfig struct {
	ShutdownTimeout     string `koanf:"shutdown_timeout"`
	HealthCheckInterval string `koanf:"health_check_interval"`
}

const (
	DefaultServerLogLevel            = "info"
	DefaultServerShutdownTimeout     = "5s"
	DefaultModelDefault              = "gpt-4o-mini"
	DefaultModelFallback             = "claude-3-5-haiku-latest"
	DefaultModelEmbedding            = "text-embedding-3-small"
	DefaultModelMaxFallbackAttempts  = 2
	DefaultModelRequestsPerMinute    = 60
	DefaultModelBurst                = 5
	DefaultModelMaxTokens            = 4000
	DefaultModelTemperature          = 0.7
	DefaultModelRequestTimeout       = "120s"
	DefaultOpenAIBaseURL             = "https://api.openai.com/v1"
	DefaultOllamaBaseURL             = "http://localhost:11434/v1"
	DefaultOllamaAPIKey              = "ollama"
	DefaultStoreBackend              = "file"
	DefaultStoreLockTimeout          = "30s"
	DefaultStoreLockRetry            = "100ms"
	DefaultStoreLockMaxRetry         = 300
	DefaultStoreInboxSize            = 100
	DefaultBrainWorkMode             = "semi_auto"
	DefaultBrainApprovalTTL          = "24h"
	DefaultBrainGoalApprovalTTL      = "48h"
	DefaultBrainHistoryLimit         = 20
	DefaultBrainEnrichEvery          = 5
	DefaultBrainTitleMaxLength       = 80
	DefaultBrainTitleAfterMessages   = 3
	DefaultBrainStepFailurePolicy    = "continue"
	DefaultBrainStepMaxRetries       = 2
	DefaultBrainStepRetryBackoff     = "500ms"
	DefaultBrainDailyTokenLimit      = 100000
	DefaultBrainArchiveAfter         = "720h"
	DefaultBrainGoalMaxFailedPlans   = 3
	DefaultBrainGoalConfidenceFloor  = 0.6
	DefaultSchedulerSpec             = "@every 5m"
	DefaultSchedulerShutdownTimeout  = "30s"
	DefaultSchedulerIntervalMinutes  = 60
	DefaultSchedulerMinPriority      = "high"
	DefaultSchedulerMaxTasksPerCycle = 3
	DefaultSchedulerMaxGoalsPerCycle = 3
	DefaultDigestEnabled             = true
	DefaultDigestSpec                = "0 9 * * 1"
	DefaultDigestPeriod              = "week"
	DefaultPerformanceMinHours       = 24
	DefaultPerformanceMaxHours       = 168
	DefaultPerformanceTolerance      = 0.1
	DefaultPerformanceContextDays    = 30
	DefaultKnowledgeVectorEnabled    = true
	DefaultKnowledgeContextLimit     = 5
	DefaultKnowledgePerCategoryLimit = 3
	DefaultSlackPort                 = 3000
	DefaultTelegramUpdateTimeout     = 60
	DefaultTelegramDedupTTL          = "10m"
	DefaultDaemonShutdownTimeout     = "30s"
	DefaultDaemonHealthCheckInterval = "30s"
	DefaultUserID                    = "default"
	EnvPrefix                        = "BRAIN_"
)

// DefaultDataDir returns ~/.brain, the root for config, store and vectors.
func DefaultDataDir() string {
	return filepath.Join(os.Getenv("HOME"), ".brain")
}

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.log_level":             DefaultServerLogLevel,
		"server.shutdown_timeout":      DefaultServerShutdownTimeout,
		"models.default":               DefaultModelDefault,
		"models.fallback":              DefaultModelFallback,
		"models.embedding":             DefaultModelEmbedding,
		"models.max_fallback_attempts": DefaultModelMaxFallbackAttempts,
		"models.requests_per_minute":   DefaultModelRequestsPerMinute,
		"models.burst":                 DefaultModelBurst,
		"models.registry": []ModelRegistry{
			{Name: DefaultModelDefault, Provider: "openai"},
			{Name: DefaultModelFallback, Provider: "anthropic"},
			{Name: "gemini-2.0-flash", Provider: "gemini"},
			{Name: "local-llama", Provider: "ollama", BaseURL: DefaultOllamaBaseURL},
		},
		"store.backend":                      DefaultStoreBackend,
		"store.data_dir":                     filepath.Join(DefaultDataDir(), "data"),
		"store.lock_timeout":                 DefaultStoreLockTimeout,
		"store.lock_retry":                   DefaultStoreLockRetry,
		"store.lock_max_retry":               DefaultStoreLockMaxRetry,
		"store.inbox_size":                   DefaultStoreInboxSize,
		"brain.default_work_mode":            DefaultBrainWorkMode,
		"brain.approval_ttl":                 DefaultBrainApprovalTTL,
		"brain.goal_approval_ttl":            DefaultBrainGoalApprovalTTL,
		"brain.history_limit":                DefaultBrainHistoryLimit,
		"brain.enrich_every":                 DefaultBrainEnrichEvery,
		"brain.title_max_length":             DefaultBrainTitleMaxLength,
		"brain.title_after_messages":         DefaultBrainTitleAfterMessages,
		"brain.step_failure_policy":          DefaultBrainStepFailurePolicy,
		"brain.step_max_retries":             DefaultBrainStepMaxRetries,
		"brain.step_retry_backoff":           DefaultBrainStepRetryBackoff,
		"brain.daily_token_limit":            DefaultBrainDailyTokenLimit,
		"brain.archive_after":                DefaultBrainArchiveAfter,
		"brain.goal_max_failed_plans":        DefaultBrainGoalMaxFailedPlans,
		"brain.goal_confidence_floor":        DefaultBrainGoalConfidenceFloor,
		"scheduler.spec":                     DefaultSchedulerSpec,
		"scheduler.shutdown_timeout":         DefaultSchedulerShutdownTimeout,
		"scheduler.default_interval_minutes": DefaultSchedulerIntervalMinutes,
		"scheduler.default_min_priority":     DefaultSchedulerMinPriority,
		"scheduler.max_tasks_per_cycle":      DefaultSchedulerMaxTasksPerCycle,
		"scheduler.max_goals_per_cycle":      DefaultSchedulerMaxGoalsPerCycle,
		"digest.enabled":                     DefaultDigestEnabled,
		"digest.spec":                        DefaultDigestSpec,
		"digest.period":                      DefaultDigestPeriod,
		"performance.min_hours_after_send":   DefaultPerformanceMinHours,
		"performance.max_hours_after_send":   DefaultPerformanceMaxHours,
		"performance.benchmark_tolerance":    DefaultPerformanceTolerance,
		"performance.context_days":           DefaultPerformanceContextDays,
		"knowledge.vector_enabled":           DefaultKnowledgeVectorEnabled,
		"knowledge.vector_path":              filepath.Join(DefaultDataDir(), "vectors"),
		"knowledge.context_limit":            DefaultKnowledgeContextLimit,
		"knowledge.per_category_limit":       DefaultKnowledgePerCategoryLimit,
		"adapters.slack.port":                DefaultSlackPort,
		"adapters.slack.user_id":             DefaultUserID,
		"adapters.telegram.update_timeout":   DefaultTelegramUpdateTimeout,
		"adapters.telegram.user_id":          DefaultUserID,
		"adapters.telegram.dedup_ttl":        DefaultTelegramDedupTTL,
		"daemon.shutdown_timeout":            DefaultDaemonShutdownTimeout,
		"daemon.health_check_interval":       DefaultDaemonHealthCheckInterval,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		globalPath := filepath.Join(DefaultDataDir(), "config.yaml")
		if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
			slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
		}
	}

	// BRAIN_BRAIN__DEFAULT_WORK_MODE -> brain.default_work_mode
	k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if cmd != nil {
		if flag := cmd.Flags().Lookup("log-level"); flag != nil && flag.Changed {
			cfg.Server.LogLevel = flag.Value.String()
		}
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	injectAPIKey(&cfg, "openai", os.Getenv("OPENAI_API_KEY"))
	injectAPIKey(&cfg, "anthropic", os.Getenv("ANTHROPIC_API_KEY"))
	injectAPIKey(&cfg, "gemini", os.Getenv("GEMINI_API_KEY"))

	return &cfg, nil
}

func injectAPIKey(cfg *Config, provider, key string) {
	if key == "" {
		return
	}
	for i, m := range cfg.Models.Registry {
		if m.Provider == provider && m.APIKey == "" {
			cfg.Models.Registry[i].APIKey = key
		}
	}
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	for _, field := range []*string{&cfg.Store.DataDir, &cfg.Knowledge.VectorPath, &cfg.Platform.Fixture} {
		expanded, err := ExpandPath(*field)
		if err != nil {
			return err
		}
		if expanded != "" {
			*field = expanded
		}
	}
	return nil
}
