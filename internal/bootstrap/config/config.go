package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"orchestrix/internal/bootstrap/logging"
	"orchestrix/internal/errs"
)

// Config is the fully resolved orchestration configuration.
type Config struct {
	App              AppConfig              `mapstructure:"app"`
	Execution        ExecutionConfig        `mapstructure:"execution"`
	Agents           map[string]AgentConfig `mapstructure:"agents"`
	Tracker          TrackerConfig          `mapstructure:"tracker"`
	Worktree         WorktreeConfig         `mapstructure:"worktree"`
	Notifier         NotifierConfig         `mapstructure:"notifier"`
	Parallel         ParallelConfig         `mapstructure:"parallel"`
	Retry            RetryConfig            `mapstructure:"retry"`
	Testing          TestingConfig          `mapstructure:"testing"`
	AutoApprove      bool                   `mapstructure:"autoApprove"`
	StatusTable      StatusTableConfig      `mapstructure:"statusTable"`
	Logging          LoggingConfig          `mapstructure:"logging"`
	Service          ServiceConfig          `mapstructure:"service"`
	StatusResilience ResilienceConfig       `mapstructure:"statusResilience"`
	Database         DatabaseConfig         `mapstructure:"database"`
	EventBus         EventBusConfig         `mapstructure:"eventBus"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type ExecutionConfig struct {
	BaseURL      string `mapstructure:"baseUrl"`
	Timeout      int    `mapstructure:"timeout"`
	Retries      int    `mapstructure:"retries"`
	PollInterval int    `mapstructure:"pollInterval"`
	WorkflowFile string `mapstructure:"workflowFile"`
}

type ModelRef struct {
	ProviderID string `mapstructure:"providerID"`
	ModelID    string `mapstructure:"modelID"`
}

type AgentConfig struct {
	Model   ModelRef `mapstructure:"model"`
	Agent   string   `mapstructure:"agent"`
	Timeout int      `mapstructure:"timeout"`
}

type TrackerConfig struct {
	Owner                string `mapstructure:"owner"`
	Repo                 string `mapstructure:"repo"`
	RepoPath             string `mapstructure:"repoPath"`
	BaseBranch           string `mapstructure:"baseBranch"`
	LabelPrefix          string `mapstructure:"labelPrefix"`
	CreatePR             bool   `mapstructure:"createPR"`
	AutoMergePR          bool   `mapstructure:"autoMergePR"`
	CloseSubOnCompletion bool   `mapstructure:"closeSubOnCompletion"`
}

type WorktreeConfig struct {
	BasePath            string `mapstructure:"basePath"`
	CleanupOnCompletion bool   `mapstructure:"cleanupOnCompletion"`
	CleanupOnFailure    bool   `mapstructure:"cleanupOnFailure"`
}

type NotifierConfig struct {
	WebhookURL        string   `mapstructure:"webhookUrl"`
	NotificationLevel string   `mapstructure:"notificationLevel"`
	MentionRoles      []string `mapstructure:"mentionRoles"`
}

type ParallelConfig struct {
	MaxConcurrency string `mapstructure:"maxConcurrency"`
}

type RetryConfig struct {
	MaxAttempts       int     `mapstructure:"maxAttempts"`
	BackoffMultiplier float64 `mapstructure:"backoffMultiplier"`
	InitialDelayMs    int     `mapstructure:"initialDelayMs"`
}

type TestingConfig struct {
	ContinueOnFailure bool `mapstructure:"continueOnFailure"`
}

type StatusTableConfig struct {
	UpdateIntervalSeconds  int  `mapstructure:"updateIntervalSeconds"`
	ShowRetryHistory       bool `mapstructure:"showRetryHistory"`
	MaxRetryHistoryEntries int  `mapstructure:"maxRetryHistoryEntries"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	DebugMode   bool   `mapstructure:"debugMode"`
	LogDir      string `mapstructure:"logDir"`
	DebugLogDir string `mapstructure:"debugLogDir"`
}

type ServiceConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Port          int    `mapstructure:"port"`
	Host          string `mapstructure:"host"`
	PollInterval  int    `mapstructure:"pollInterval"`
	QueueLabel    string `mapstructure:"queueLabel"`
	MaxBufferSize int    `mapstructure:"maxBufferSize"`
}

type ResilienceFeatures struct {
	HangRecovery      bool `mapstructure:"hangRecovery"`
	UseOcclientEvents bool `mapstructure:"useOcclientEvents"`
	PollBasedFallback bool `mapstructure:"pollBasedFallback"`
}

type ModelFailoverConfig struct {
	Enabled                 bool              `mapstructure:"enabled"`
	TimeoutThresholdSeconds int               `mapstructure:"timeoutThresholdSeconds"`
	MaxFailoversPerAgent    int               `mapstructure:"maxFailoversPerAgent"`
	FailbackModels          map[string]string `mapstructure:"failbackModels"`
}

type ResilienceConfig struct {
	Features      ResilienceFeatures  `mapstructure:"features"`
	ModelFailover ModelFailoverConfig `mapstructure:"modelFailover"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type EventBusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	NatsURL string `mapstructure:"natsUrl"`
}

// Load reads the orchestration config from configFile (or the default search
// path when empty), migrating a legacy `_comment*`-keyed document in place
// before parsing.
func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	if configFile != "" {
		if err := migrateLegacyDocument(logCtx, configFile); err != nil {
			return Config{}, errs.Wrap(err, "migrate legacy config")
		}
	}

	v := viper.New()
	setDefaults(logCtx, v)

	v.SetEnvPrefix("ORCX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case configFile == "" && errors.As(err, &notFound):
			// Keep default and env-backed config when no file is provided.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		case configFile != "" && os.IsNotExist(err):
			logging.Warn(logCtx, "configured file does not exist, fallback to defaults and env", slog.String("path", configFile))
		default:
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if cfg.Database.DSN == "" {
		return Config{}, errors.New("database.dsn is required")
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("tracker_repo", cfg.Tracker.Owner+"/"+cfg.Tracker.Repo),
	)

	return cfg, nil
}

func setDefaults(ctx context.Context, v *viper.Viper) {
	if ctx == nil {
		return
	}

	v.SetDefault("app.name", "orchestrix")
	v.SetDefault("app.env", "local")

	v.SetDefault("execution.timeout", 300)
	v.SetDefault("execution.retries", 3)
	v.SetDefault("execution.pollInterval", 2000)
	v.SetDefault("execution.workflowFile", "")

	v.SetDefault("tracker.labelPrefix", "")
	v.SetDefault("tracker.createPR", true)
	v.SetDefault("tracker.autoMergePR", false)
	v.SetDefault("tracker.closeSubOnCompletion", false)

	v.SetDefault("worktree.cleanupOnCompletion", false)
	v.SetDefault("worktree.cleanupOnFailure", false)

	v.SetDefault("notifier.notificationLevel", "all-major-events")

	v.SetDefault("parallel.maxConcurrency", "auto")

	v.SetDefault("retry.maxAttempts", 3)
	v.SetDefault("retry.backoffMultiplier", 2.0)
	v.SetDefault("retry.initialDelayMs", 1000)

	v.SetDefault("testing.continueOnFailure", true)

	v.SetDefault("autoApprove", false)

	v.SetDefault("statusTable.updateIntervalSeconds", 60)
	v.SetDefault("statusTable.showRetryHistory", false)
	v.SetDefault("statusTable.maxRetryHistoryEntries", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.debugMode", false)

	v.SetDefault("service.enabled", false)
	v.SetDefault("service.pollInterval", 60000)
	v.SetDefault("service.queueLabel", "queue")
	v.SetDefault("service.maxBufferSize", 10000)

	v.SetDefault("statusResilience.features.hangRecovery", true)
	v.SetDefault("statusResilience.features.useOcclientEvents", true)
	v.SetDefault("statusResilience.features.pollBasedFallback", true)
	v.SetDefault("statusResilience.modelFailover.enabled", true)
	v.SetDefault("statusResilience.modelFailover.maxFailoversPerAgent", 2)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".agents/state/orchestrix.sqlite")

	v.SetDefault("eventBus.enabled", false)
}

// migrateLegacyDocument rewrites a config file carrying top-level
// `_comment*` keys (a document-format convention from an older release)
// into the plain schema Load expects, backing up the original alongside it.
func migrateLegacyDocument(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(err, "read config file")
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return errs.Wrap(err, "parse config file")
	}

	if !hasCommentKeys(doc) {
		return nil
	}

	logging.Warn(ctx, "legacy config document detected, migrating", slog.String("path", path))

	cleaned := stripCommentKeys(doc)

	backupPath := path + ".bak"
	if err := os.WriteFile(backupPath, raw, 0o644); err != nil {
		return errs.Wrap(err, "back up legacy config")
	}

	out, err := yaml.Marshal(cleaned)
	if err != nil {
		return errs.Wrap(err, "marshal migrated config")
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errs.Wrap(err, "write migrated config")
	}

	logging.Info(ctx, "legacy config migrated", slog.String("backup", backupPath))
	return nil
}

func hasCommentKeys(doc map[string]any) bool {
	for k := range doc {
		if strings.HasPrefix(k, "_comment") {
			return true
		}
	}
	return false
}

func stripCommentKeys(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if strings.HasPrefix(k, "_comment") {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = stripCommentKeys(nested)
			continue
		}
		out[k] = v
	}
	return out
}
