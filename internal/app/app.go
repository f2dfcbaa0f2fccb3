package app

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/handlers"
	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/services/chunker"
	"github.com/ternarybob/regula/internal/services/classifier"
	"github.com/ternarybob/regula/internal/services/conflicts"
	"github.com/ternarybob/regula/internal/services/embeddings"
	"github.com/ternarybob/regula/internal/services/events"
	"github.com/ternarybob/regula/internal/services/ingest"
	"github.com/ternarybob/regula/internal/services/judge"
	"github.com/ternarybob/regula/internal/services/llm"
	"github.com/ternarybob/regula/internal/services/parser"
	"github.com/ternarybob/regula/internal/services/query"
	"github.com/ternarybob/regula/internal/services/rerank"
	"github.com/ternarybob/regula/internal/services/retrieval"
	"github.com/ternarybob/regula/internal/services/vectorindex"
	"github.com/ternarybob/regula/internal/services/verdict"
	storagebadger "github.com/ternarybob/regula/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	VectorIndex    interfaces.VectorIndex
	EventService   interfaces.EventService
	Providers      *llm.Providers

	IngestService interfaces.IngestService
	JudgeService  interfaces.JudgeService
	Sweeper       *ingest.Sweeper

	SourceHandler *handlers.SourceHandler
	JudgeHandler  *handlers.JudgeHandler
	APIHandler    *handlers.APIHandler
	WSHandler     *handlers.WebSocketHandler
}

// New constructs the full dependency graph. Everything is wired here once;
// no component reaches for globals.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	storage, err := storagebadger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	providers, err := llm.NewProviders(config, storage.KeyValueStorage(), logger)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	index := vectorindex.NewBadgerIndex(storage.(*storagebadger.Manager).DB(), logger)
	eventService := events.NewService(logger)
	embedder := embeddings.NewService(providers.Embedding, config, logger)

	ingestService := ingest.NewService(
		storage,
		index,
		parser.NewService(logger),
		classifier.NewService(providers.Generation, logger),
		chunker.NewService(&config.Chunker, logger),
		embedder,
		eventService,
		&config.Ingest,
		logger,
	)

	judgeService := judge.NewService(
		storage.SourceStorage(),
		query.NewExpander(logger),
		retrieval.NewService(index, storage.ChunkStorage(), embedder, &config.Retrieval, logger),
		rerank.NewService(rerank.NewLLMReranker(providers.Generation, logger), &config.Retrieval, &config.Verdict, logger),
		conflicts.NewDetector(providers.Generation, &config.Verdict, logger),
		verdict.NewSynthesizer(providers.Generation, &config.Verdict, logger),
		&config.Retrieval,
		logger,
	)

	sweeper := ingest.NewSweeper(ingestService, storage.SourceStorage(), logger)
	if err := sweeper.Start(&config.Expiry); err != nil {
		providers.Close()
		storage.Close()
		return nil, fmt.Errorf("failed to start expiry sweep: %w", err)
	}

	return &App{
		Config:         config,
		Logger:         logger,
		StorageManager: storage,
		VectorIndex:    index,
		EventService:   eventService,
		Providers:      providers,
		IngestService:  ingestService,
		JudgeService:   judgeService,
		Sweeper:        sweeper,
		SourceHandler:  handlers.NewSourceHandler(ingestService, storage.SourceStorage(), logger),
		JudgeHandler:   handlers.NewJudgeHandler(judgeService, logger),
		APIHandler:     handlers.NewAPIHandler(providers.Generation, storage, logger),
		WSHandler:      handlers.NewWebSocketHandler(eventService, logger),
	}, nil
}

// Close shuts components down in reverse dependency order.
func (a *App) Close() {
	a.Sweeper.Stop()
	a.WSHandler.Close()

	if err := a.EventService.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Event service close failed")
	}
	if err := a.Providers.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Provider close failed")
	}
	if err := a.StorageManager.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Storage close failed")
	}

	a.Logger.Info().Msg("Application stopped")
}
