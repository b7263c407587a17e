// Package app wires configuration, logging, the knowledge base, the result
// cache and the diagnosis service for the binaries under cmd/.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/symptom-expert-server/internal/cache"
	"github.com/symptom-expert-server/internal/config"
	"github.com/symptom-expert-server/internal/database"
	"github.com/symptom-expert-server/internal/domain"
	"github.com/symptom-expert-server/internal/kbstore"
	"github.com/symptom-expert-server/internal/knowledge"
	"github.com/symptom-expert-server/internal/logging"
	"github.com/symptom-expert-server/internal/repository"
	"github.com/symptom-expert-server/internal/service"
)

// Options tune bootstrap for a particular binary.
type Options struct {
	ConfigFile string
	// LogToStderr keeps stdout free for protocol frames.
	LogToStderr bool
}

// App holds the long-lived components shared by the HTTP server, the MCP
// server and the CLI.
type App struct {
	Config  *config.Manager
	Logger  *logrus.Logger
	Loader  *knowledge.Loader
	Holder  *knowledge.Holder
	Service *service.DiagnosisService

	cache   *cache.TieredCache
	watcher *knowledge.Watcher
}

// New loads configuration and the knowledge base and builds the service.
func New(ctx context.Context, opts Options) (*App, error) {
	cm, err := config.NewManager(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := cm.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg := cm.GetConfig()
	logCfg := cfg.Logging
	if opts.LogToStderr {
		logCfg.Output = "stderr"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, err
	}

	return NewWithConfig(ctx, cm, logger)
}

// NewWithConfig builds an App from an already loaded configuration.
func NewWithConfig(ctx context.Context, cm *config.Manager, logger *logrus.Logger) (*App, error) {
	cfg := cm.GetConfig()
	loader := knowledge.NewLoader(logger, cfg.KnowledgeBase.DefaultConfidence)

	kb, err := LoadKnowledgeBase(ctx, cfg, loader, logger)
	if err != nil {
		return nil, err
	}
	holder := knowledge.NewHolder(kb)

	a := &App{
		Config: cm,
		Logger: logger,
		Loader: loader,
		Holder: holder,
	}

	var resultCache domain.ResultCache
	if cfg.Cache.Enabled {
		a.cache = cache.Build(cfg.Cache, logger)
		resultCache = a.cache
	}

	a.Service = service.NewDiagnosisService(logger, holder, resultCache, cfg.Inference)

	kbCfg := cfg.KnowledgeBase
	if kbCfg.Source == domain.SourceFile && kbCfg.Watch {
		a.watcher = knowledge.NewWatcher(logger, loader, holder, kbCfg.Path, kbCfg.WatchDebounce)
	}

	logger.WithFields(logrus.Fields{
		"source":      kbCfg.Source,
		"rules":       len(kb.Rules()),
		"fingerprint": kb.Fingerprint(),
		"cache":       cfg.Cache.Enabled,
		"watch":       a.watcher != nil,
	}).Info("Application initialised")

	return a, nil
}

// StartBackground launches the knowledge-base watcher when configured. It
// stops with ctx.
func (a *App) StartBackground(ctx context.Context) {
	if a.watcher == nil {
		return
	}
	go func() {
		if err := a.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.WithError(err).Error("Knowledge base watcher stopped")
		}
	}()
}

// Close releases cache connections.
func (a *App) Close() error {
	if a.cache != nil {
		return a.cache.Close()
	}
	return nil
}

// LoadKnowledgeBase reads the knowledge base from the configured source.
func LoadKnowledgeBase(ctx context.Context, cfg *domain.Config, loader *knowledge.Loader, logger *logrus.Logger) (*domain.KnowledgeBase, error) {
	kbCfg := cfg.KnowledgeBase

	switch kbCfg.Source {
	case "", domain.SourceEmbedded:
		return loader.Default()

	case domain.SourceFile:
		return loader.LoadFile(kbCfg.Path)

	case domain.SourcePostgres:
		repo, err := OpenRepository(ctx, cfg, logger)
		if err != nil {
			return nil, domain.NewLoadError(domain.SourcePostgres+":"+kbCfg.Name, err)
		}
		defer repo.Close()
		return repo.Load(ctx, kbCfg.Name)

	case domain.SourceSQLite:
		store, err := OpenSQLiteStore(cfg, loader, logger)
		if err != nil {
			return nil, domain.NewLoadError(domain.SourceSQLite+":"+kbCfg.Name, err)
		}
		defer store.Close()
		return store.Load(ctx, kbCfg.Name)

	default:
		return nil, domain.NewLoadError(kbCfg.Source, fmt.Errorf("unsupported knowledge base source %q", kbCfg.Source))
	}
}

// OpenRepository connects to PostgreSQL and returns the knowledge-base
// repository. Closing the repository closes the pool.
func OpenRepository(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (*repository.KnowledgeBaseRepository, error) {
	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return repository.NewKnowledgeBaseRepository(db, logger), nil
}

// OpenSQLiteStore opens the offline snapshot store.
func OpenSQLiteStore(cfg *domain.Config, loader *knowledge.Loader, logger *logrus.Logger) (*kbstore.SQLiteStore, error) {
	return kbstore.NewSQLiteStore(cfg.SQLite.Path, loader, logger)
}
