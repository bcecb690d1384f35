package main

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ada/internal/async"
	"ada/internal/capability"
	"ada/internal/config"
	"ada/internal/errors"
	"ada/internal/instruction"
	"ada/internal/llm"
	"ada/internal/logging"
	"ada/internal/observability"
	"ada/internal/orchestrator"
	"ada/internal/rag"
	"ada/internal/storage"
	"ada/internal/task"
)

// app holds the wired service graph. Built once per command invocation.
type app struct {
	cfg *config.Config
	db  *sql.DB

	client        llm.Client
	registry      *capability.Registry
	tasks         *task.Store
	instructions  *instruction.Store
	conversations *storage.ConversationStore
	cursors       *storage.CursorStore
	ambiguity     *storage.AmbiguityStore
	tenants       *storage.TenantDirectory
	index         *rag.Index
	ingestor      *rag.Ingestor
	orch          *orchestrator.Orchestrator

	mail capability.MailProvider
	cal  capability.CalendarProvider
	crm  capability.CRMProvider
}

func buildApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logging.SetRoot(observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: logOutput(cfg.Logging.Output),
	}))

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:           cfg,
		db:            db,
		tasks:         task.NewStore(db, logging.NewComponentLogger("task")),
		instructions:  instruction.NewStore(db, logging.NewComponentLogger("instruction")),
		conversations: storage.NewConversationStore(db),
		cursors:       storage.NewCursorStore(db),
		ambiguity:     storage.NewAmbiguityStore(db),
		tenants:       storage.NewTenantDirectory(db),
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.index, err = rag.NewIndex(rag.IndexConfig{PersistPath: cfg.Index.PersistPath},
		embedder, logging.NewComponentLogger("rag"))
	if err != nil {
		db.Close()
		return nil, err
	}

	// The fake providers back the dev profile. Production connectors plug in
	// here by satisfying the same provider interfaces.
	a.mail = capability.NewFakeMail()
	a.cal = capability.NewFakeCalendar()
	a.crm = capability.NewFakeCRM()

	a.ingestor = rag.NewIngestor(a.index, a.cursors, a.mail, a.crm,
		logging.NewComponentLogger("ingest"))

	a.client, err = llm.NewOpenAIClient(llm.Config{
		Model:   cfg.LLM.Model,
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.Timeout,
	}, logging.NewComponentLogger("llm"))
	if err != nil {
		db.Close()
		return nil, err
	}

	a.registry = buildRegistry(a)
	a.orch = orchestrator.New(a.client, a.registry, a.tasks, a.instructions,
		a.conversations, a.index, async.NewKeyedMutex(),
		logging.NewComponentLogger("orchestrator"),
		orchestrator.Config{
			TopK:               cfg.Index.TopK,
			HistoryWindow:      cfg.Orchestrator.HistoryWindow,
			HistoryTokenBudget: cfg.Orchestrator.HistoryTokenBudget,
			MaxResumptionTries: cfg.Orchestrator.MaxResumptionTries,
			MaxIterations:      cfg.Orchestrator.MaxIterations,
			MaxWallClock:       cfg.Orchestrator.MaxWallClock,
		})
	return a, nil
}

// buildRegistry assembles every capability, wraps the lot with transient-error
// retry, then adds the delegate on top so specialist sub-loops inherit the
// retry behavior.
func buildRegistry(a *app) *capability.Registry {
	logger := logging.NewComponentLogger("capability")

	base := capability.NewRegistry()
	base.MustRegister(
		capability.NewSearchMail(a.mail),
		capability.NewSendMail(a.mail),
		capability.NewGetCalendarEvents(a.cal),
		capability.NewCreateCalendarEvent(a.cal),
		capability.NewFindAvailableSlots(a.cal),
		capability.NewSearchCRMContacts(a.crm),
		capability.NewCreateCRMContact(a.crm),
		capability.NewGetContactNotes(a.crm),
		capability.NewCreateCRMNote(a.crm),
		capability.NewSemanticQuery(rag.Searcher{Index: a.index}),
		capability.NewCreateWaitingTask(a.tasks),
		capability.NewMarkTaskComplete(a.tasks),
	)

	wrapped := capability.WrapAllWithRetry(base, errors.DefaultRetryConfig(), logger)
	wrapped.MustRegister(orchestrator.NewDelegate(a.client, wrapped, logger))
	return wrapped
}

func buildEmbedder(cfg *config.Config) (capability.EmbeddingProvider, error) {
	if cfg.Embeddings.Fake {
		return capability.NewFakeEmbedder(), nil
	}
	return rag.NewOpenAIEmbedder(rag.EmbedderConfig{
		Model:     cfg.Embeddings.Model,
		APIKey:    cfg.Embeddings.APIKey,
		BaseURL:   cfg.Embeddings.BaseURL,
		CacheSize: cfg.Embeddings.CacheSize,
	})
}

func logOutput(target string) io.Writer {
	switch target {
	case "", "stderr":
		return os.Stderr
	case "stdout":
		return os.Stdout
	default:
		f, err := os.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot open log file %s, falling back to stderr: %v\n", target, err)
			return os.Stderr
		}
		return f
	}
}

func (a *app) close() {
	if a.client != nil {
		a.client.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
