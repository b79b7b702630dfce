package main

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/mybrowse/internal/agent"
	"github.com/ShayCichocki/mybrowse/internal/browser"
	"github.com/ShayCichocki/mybrowse/internal/config"
	"github.com/ShayCichocki/mybrowse/internal/events"
	"github.com/ShayCichocki/mybrowse/internal/llm"
	"github.com/ShayCichocki/mybrowse/internal/logging"
	"github.com/ShayCichocki/mybrowse/internal/memory"
	"github.com/ShayCichocki/mybrowse/internal/orchestrator"
	"github.com/ShayCichocki/mybrowse/internal/persona"
	"github.com/ShayCichocki/mybrowse/internal/state"
)

// app holds the process-wide dependencies of one command invocation.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   state.Gateway
	persona *persona.Loader
	bus     *events.Bus

	emitter    *orchestrator.EventEmitter
	eventsDone chan struct{}
}

// loadConfig reads configuration and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// newApp loads config, opens the log, and opens and migrates the store.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{Path: cfg.Log.Path, Level: cfg.Log.Level, Stderr: verbose})
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		logger.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &app{cfg: cfg, logger: logger, store: store}, nil
}

// openStore opens the configured persistence backend.
func openStore(ctx context.Context, cfg *config.Config) (state.Gateway, error) {
	if cfg.Storage.Driver == config.DriverPostgres {
		pg, err := state.OpenPostgres(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	db, err := state.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// connectBus dials NATS when configured. It returns nil without a URL.
func (a *app) connectBus() (*events.Bus, error) {
	if a.bus != nil || a.cfg.Events.NATSURL == "" {
		return a.bus, nil
	}
	bus, err := events.Connect(a.cfg.Events.NATSURL,
		events.WithSubjectPrefix(a.cfg.Events.SubjectPrefix),
		events.WithName("mybrowse-"+Version()),
		events.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	a.bus = bus
	return bus, nil
}

// newSupervisor wires the LLM client, the agents, and the router. Lifecycle
// events always reach the log and also go to every extra publisher.
func (a *app) newSupervisor(publishers ...orchestrator.EventPublisher) (*orchestrator.Supervisor, error) {
	cfg := a.cfg
	apiKey, err := config.GetAPIKey(cfg)
	if err != nil {
		return nil, err
	}
	client, err := llm.NewClient(llm.ClientConfig{
		Model:         cfg.Anthropic.Model,
		MaxTokens:     int64(cfg.Anthropic.MaxTokens),
		APIKey:        apiKey,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	a.persona = persona.NewLoader(cfg.Persona.SoulFile, cfg.Persona.IdentityFile, persona.WithLogger(a.logger))
	engine := browser.NewEngine(browser.EngineConfig{
		Command: cfg.Browser.Command,
		Args:    cfg.Browser.Args,
	}, a.logger)

	registry := agent.NewRegistry()
	registry.MustRegister(
		agent.NewChatAgent(client, a.persona),
		agent.NewMemoryAgent(a.store),
		agent.NewBrowserAgent(engine, agent.BrowserOptions{
			MaxSteps:       cfg.Browser.MaxSteps,
			Headless:       cfg.Browser.Headless,
			ExecutablePath: cfg.Browser.ExecutablePath,
			ScreenshotDir:  cfg.Browser.ScreenshotDir,
			Instructions:   a.persona.BrowserInstruction,
		}),
	)

	opts := []orchestrator.Option{
		orchestrator.WithLogger(a.logger),
		orchestrator.WithAbortGrace(cfg.Supervisor.AbortGrace),
		orchestrator.WithAutosave(cfg.Supervisor.AutosaveMinChars, cfg.Supervisor.AutosaveMaxChars),
		orchestrator.WithMemoryLimit(cfg.Supervisor.MemoryLimit),
		orchestrator.WithHistory(memory.NewHistory(cfg.Supervisor.HistoryLimit, cfg.Supervisor.HistoryMaxChars)),
	}
	opts = append(opts, orchestrator.WithEvents(a.lifecycleLog()))
	for _, p := range publishers {
		opts = append(opts, orchestrator.WithEvents(p))
	}

	return orchestrator.New(orchestrator.RequiredConfig{
		Store:    a.store,
		Registry: registry,
		Router:   agent.NewRouter(registry, client, a.logger),
	}, opts...), nil
}

// lifecycleLog starts the in-process emitter that feeds logLifecycle.
func (a *app) lifecycleLog() *orchestrator.EventEmitter {
	if a.emitter != nil {
		return a.emitter
	}
	a.emitter = orchestrator.NewEventEmitter(lifecycleBuffer, a.logger)
	a.eventsDone = make(chan struct{})
	go func() {
		defer close(a.eventsDone)
		logLifecycle(a.emitter.Events(), a.logger.With("component", "lifecycle"))
	}()
	return a.emitter
}

// Close releases everything the app opened.
func (a *app) Close() {
	if a.emitter != nil {
		a.emitter.Close()
		<-a.eventsDone
	}
	if a.persona != nil {
		a.persona.Close()
	}
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.logger.Warn("close event bus", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "error", err)
	}
	a.logger.Close()
}
