// Package app wires configuration into a running component stack. It keeps
// construction in one place so the server command and the CLI commands
// build identical stacks.
package app

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"bloompath/internal/classify"
	"bloompath/internal/config"
	"bloompath/internal/db"
	"bloompath/internal/dream"
	"bloompath/internal/events"
	"bloompath/internal/garden"
	"bloompath/internal/migrate"
	"bloompath/internal/processor"
	"bloompath/internal/provider"
	"bloompath/internal/provider/jira"
	"bloompath/internal/provider/linear"
	"bloompath/internal/queue"
)

// App is the assembled component stack.
type App struct {
	Config     *config.Config
	DB         *sql.DB
	Logger     *zap.Logger
	Providers  map[string]provider.IssueProvider
	Classifier *classify.Classifier
	Garden     *garden.Client
	DreamStore *dream.Store
	Dreams     *dream.Engine
	Events     *events.Writer
	Queue      *queue.Queue
	Processor  *processor.Processor
}

// Build opens the workspace database, runs migrations and constructs every
// component from the configuration. The caller owns Close.
func Build(ctx context.Context, workspace string, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	providers := map[string]provider.IssueProvider{}
	if cfg.Providers.Jira.Domain != "" {
		providers["jira"] = jira.New(jira.Config{
			Domain:    cfg.Providers.Jira.Domain,
			Email:     cfg.Providers.Jira.Email,
			APIToken:  cfg.Providers.Jira.APIToken,
			BoardID:   cfg.Providers.Jira.BoardID,
			EpicField: cfg.Providers.Jira.EpicField,
		}, logger.Named("jira"))
	}
	if cfg.Providers.Linear.APIKey != "" || cfg.Providers.Linear.WebhookSecret != "" {
		providers["linear"] = linear.New(linear.Config{
			APIKey:        cfg.Providers.Linear.APIKey,
			WebhookSecret: cfg.Providers.Linear.WebhookSecret,
			TeamID:        cfg.Providers.Linear.TeamID,
		}, logger.Named("linear"))
	}

	g := garden.NewClient(garden.Options{
		BaseURL:       cfg.Garden.BaseURL,
		RetryAttempts: cfg.Garden.RetryAttempts,
		RetryDelay:    time.Duration(cfg.Garden.RetryDelayMS) * time.Millisecond,
		Timeout:       time.Duration(cfg.Garden.TimeoutSeconds) * time.Second,
		Logger:        logger.Named("garden"),
	})

	store := &dream.Store{DB: conn}
	var forecaster dream.Forecaster
	if cfg.Forecast.GeminiAPIKey != "" {
		f, err := dream.NewGeminiForecaster(ctx, cfg.Forecast.GeminiAPIKey, cfg.Forecast.Model,
			time.Duration(cfg.Forecast.TimeoutSeconds)*time.Second, logger.Named("forecast"))
		if err != nil {
			logger.Warn("forecaster unavailable, using deterministic summaries", zap.Error(err))
		} else {
			forecaster = f
		}
	}
	engine := dream.NewEngine(cfg.Dreaming, store, forecaster, logger.Named("dream"))
	writer := &events.Writer{DB: conn}
	proc := processor.New(g, engine, writer, logger.Named("processor"))

	return &App{
		Config:     cfg,
		DB:         conn,
		Logger:     logger,
		Providers:  providers,
		Classifier: classify.New(cfg.Classifier.BlockerStatuses),
		Garden:     g,
		DreamStore: store,
		Dreams:     engine,
		Events:     writer,
		Queue:      queue.New(0, logger.Named("queue")),
		Processor:  proc,
	}, nil
}

// Provider resolves a provider by name, falling back to the configured
// default.
func (a *App) Provider(name string) (provider.IssueProvider, bool) {
	if name == "" {
		name = a.Config.Providers.Default
	}
	p, ok := a.Providers[name]
	return p, ok
}

// StartConsumer begins draining the queue through the processor.
func (a *App) StartConsumer(ctx context.Context) {
	a.Queue.Start(ctx, func(ctx context.Context, item queue.Item) {
		prov, ok := a.Providers[item.Provider]
		if !ok {
			a.Logger.Warn("dropping event for unknown provider", zap.String("provider", item.Provider))
			return
		}
		a.Processor.Process(ctx, item, prov)
	})
}

// Close shuts the queue down, draining the backlog, then closes the
// database.
func (a *App) Close(ctx context.Context) error {
	if err := a.Queue.Shutdown(ctx); err != nil {
		a.Logger.Warn("queue shutdown incomplete", zap.Error(err))
	}
	return a.DB.Close()
}
