package bootstrap

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"orchestrix/internal/bootstrap/config"
	"orchestrix/internal/bootstrap/database"
	"orchestrix/internal/bootstrap/logging"
	"orchestrix/internal/domain/orchestrator"
	"orchestrix/internal/infrastructure/agentexec"
	"orchestrix/internal/infrastructure/aiexec/anthropic"
	"orchestrix/internal/infrastructure/aiexec/subprocess"
	cacheinfra "orchestrix/internal/infrastructure/cache"
	"orchestrix/internal/infrastructure/logstream"
	"orchestrix/internal/infrastructure/notify"
	"orchestrix/internal/infrastructure/orchestration"
	sqliterepo "orchestrix/internal/infrastructure/persistence/sqlite/repository"
	"orchestrix/internal/infrastructure/resilience"
	"orchestrix/internal/infrastructure/sourcepoll"
	"orchestrix/internal/infrastructure/tracker/github"
	"orchestrix/internal/infrastructure/tracker/local"
	"orchestrix/internal/infrastructure/webapi"
	"orchestrix/internal/infrastructure/worktree"
	"orchestrix/internal/ports"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewOutboxRepository,
			fx.As(new(ports.OutboxRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			cacheinfra.NewSQLiteCache,
			fx.As(new(ports.Cache)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewWorktreeRepository,
			fx.As(new(ports.WorktreeStore)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewAgentFailoverRepository,
			fx.As(new(ports.FailoverStore)),
		),
	),
	fx.Provide(provideIssueTracker),
	fx.Provide(provideLogHub),
	fx.Provide(provideNotifierBus),
	fx.Provide(
		fx.Annotate(
			provideNotifier,
			fx.As(new(ports.Notifier)),
		),
	),
	fx.Provide(provideFailoverManager),
	fx.Provide(provideAgentServices),
	fx.Provide(provideAgentDefaults),
	fx.Provide(agentexec.New),
	fx.Provide(provideWorktreeManager),
	fx.Provide(orchestrator.NewQueue),
	fx.Provide(provideOrchestrator),
	fx.Provide(provideSourcePoller),
	fx.Provide(provideWebAPIServer),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

// provideIssueTracker picks the GitHub adapter when a repository is
// configured, falling back to the local sqlite-backed tracker otherwise.
func provideIssueTracker(cfg config.Config, repo ports.OutboxRepository) ports.IssueTracker {
	if strings.TrimSpace(cfg.Tracker.Owner) != "" && strings.TrimSpace(cfg.Tracker.Repo) != "" {
		token := os.Getenv("ORCX_TRACKER_TOKEN")
		return github.New(token, cfg.Tracker.Owner, cfg.Tracker.Repo)
	}
	return local.New(repo)
}

func provideLogHub(cfg config.Config) *logstream.Hub {
	return logstream.New(cfg.Service.MaxBufferSize)
}

// provideNotifierBus dials the optional NATS republish path; nil disables it.
func provideNotifierBus(cfg config.Config, ctx context.Context) notify.Bus {
	if !cfg.EventBus.Enabled || strings.TrimSpace(cfg.EventBus.NatsURL) == "" {
		return nil
	}
	sink, err := logstream.DialNATSSink(cfg.EventBus.NatsURL, "orchestrix.events")
	if err != nil {
		logging.Warn(ctx, "nats event bus unavailable, notifier falls back to webhook-only", slog.Any("err", err))
		return nil
	}
	return notify.NewNATSBus(sink)
}

func provideNotifier(cfg config.Config, bus notify.Bus) *notify.WebhookNotifier {
	level := ports.NotificationLevel(cfg.Notifier.NotificationLevel)
	if level == "" {
		level = ports.LevelAllMajorEvents
	}
	return notify.New(cfg.Notifier.WebhookURL, level, cfg.Notifier.MentionRoles, bus)
}

func provideFailoverManager(store ports.FailoverStore, notifier ports.Notifier, cfg config.Config) *resilience.FailoverManager {
	policy := orchestrator.FailoverPolicy{MaxFailoversPerAgent: cfg.StatusResilience.ModelFailover.MaxFailoversPerAgent}
	failbacks := map[ports.AgentRole]ports.ModelRef{}
	for agent, modelID := range cfg.StatusResilience.ModelFailover.FailbackModels {
		failbacks[ports.AgentRole(agent)] = ports.ModelRef{ModelID: modelID}
	}
	return resilience.NewFailoverManager(store, notifier, policy, failbacks)
}

// provideAgentServices builds one ports.AIExecutionService per configured
// role: the Anthropic adapter when the role names a providerID of
// "anthropic", the subprocess adapter otherwise (the agent field names the
// local executor binary). An optional workflow.toml, resolved from
// cfg.Execution.WorkflowFile, can override a role's binary and timeout
// without touching the shared YAML config.
func provideAgentServices(cfg config.Config, ctx context.Context) map[ports.AgentRole]ports.AIExecutionService {
	profile, err := config.LoadWorkflowProfile(cfg.Execution.WorkflowFile)
	if err != nil {
		logging.Warn(ctx, "workflow profile load failed, using yaml-only executor config", slog.Any("err", err))
	}

	services := make(map[ports.AgentRole]ports.AIExecutionService, len(cfg.Agents))
	for role, agentCfg := range cfg.Agents {
		if agentCfg.Model.ProviderID == "anthropic" {
			services[ports.AgentRole(role)] = anthropic.New(os.Getenv("ORCX_AI_API_KEY"))
			continue
		}
		program := agentCfg.Agent
		if program == "" {
			program = "codex"
		}
		timeoutSeconds := agentCfg.Timeout
		var args []string
		if override, ok := profile.Executors[role]; ok {
			program, timeoutSeconds = override.Apply(program, timeoutSeconds)
			args = override.Args
		}
		services[ports.AgentRole(role)] = subprocess.New(program, args, time.Duration(timeoutSeconds)*time.Second)
	}
	return services
}

func provideAgentDefaults(cfg config.Config) map[ports.AgentRole]ports.ModelRef {
	defaults := make(map[ports.AgentRole]ports.ModelRef, len(cfg.Agents))
	for role, agentCfg := range cfg.Agents {
		defaults[ports.AgentRole(role)] = ports.ModelRef{
			ProviderID: agentCfg.Model.ProviderID,
			ModelID:    agentCfg.Model.ModelID,
		}
	}
	return defaults
}

func provideWorktreeManager(cfg config.Config, store ports.WorktreeStore) (*worktree.Manager, error) {
	repoName := cfg.Tracker.Repo
	if repoName == "" {
		repoName = "orchestrix"
	}
	return worktree.New(cfg.Tracker.RepoPath, cfg.Worktree.BasePath, repoName, store)
}

func provideOrchestrator(
	tracker ports.IssueTracker,
	executor *agentexec.Executor,
	wt *worktree.Manager,
	notifier ports.Notifier,
	cfg config.Config,
) *orchestration.Orchestrator {
	implTimeout := time.Duration(cfg.Execution.Timeout) * time.Second
	return orchestration.New(tracker, executor, wt, notifier, orchestration.Config{
		BaseBranch:            cfg.Tracker.BaseBranch,
		AutoApprove:           cfg.AutoApprove,
		CleanupOnFailure:      cfg.Worktree.CleanupOnFailure,
		ImplementationTimeout: implTimeout,
		TestTimeout:           implTimeout,
	})
}

func provideSourcePoller(tracker ports.IssueTracker, queue *orchestrator.Queue, cfg config.Config) *sourcepoll.Poller {
	interval := time.Duration(cfg.Service.PollInterval) * time.Millisecond
	return sourcepoll.New(tracker, queue, interval)
}

func provideWebAPIServer(queue *orchestrator.Queue, hub *logstream.Hub) *webapi.Server {
	return webapi.New(queue, hub, "")
}
