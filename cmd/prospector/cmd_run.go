package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"prospector/internal/dedup"
	"prospector/internal/fetch"
	"prospector/internal/linkfilter"
	"prospector/internal/llm"
	"prospector/internal/orchestrator"
	"prospector/internal/planner"
	"prospector/internal/scoring"
	"prospector/internal/search"
	"prospector/internal/store"
	"prospector/internal/verify"
	"prospector/internal/worker"
)

var runCmd = &cobra.Command{
	Use:   "run <topic>",
	Short: "Run a discovery session for a research topic",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic := strings.Join(args, " ")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		fmt.Printf("Researching: %s\n", topic)
		summary, err := app.Orchestrator.Run(ctx, topic)
		if err != nil {
			return fmt.Errorf("session failed: %w", err)
		}

		fmt.Printf("\nSession %s %s\n", summary.SessionID, statusColor(summary.Status)(summary.Status))
		fmt.Printf("  iterations: %d\n", summary.Iterations)
		fmt.Printf("  entities:   %d (%s %d, %s %d, %s %d)\n",
			summary.EntitiesFound,
			color.GreenString("verified"), summary.Verified,
			color.YellowString("uncertain"), summary.Uncertain,
			color.RedString("rejected"), summary.Rejected)
		fmt.Printf("  cost:       $%.4f\n", summary.TotalCost)
		fmt.Printf("\nInspect with: prospector show %s\n", summary.SessionID)
		return nil
	},
}

// app bundles everything the run command wires up, so teardown stays in
// one place.
type app struct {
	Orchestrator *orchestrator.Orchestrator

	llmClients []*llm.GeminiClient
	store      *store.SQLiteStore
	renderer   *fetch.RodRenderer
}

func (a *app) Close() {
	if a.renderer != nil {
		_ = a.renderer.Close()
	}
	for _, c := range a.llmClients {
		_ = c.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

func buildApp() (*app, error) {
	a := &app{}

	client := func(model string) (*llm.GeminiClient, error) {
		c, err := llm.NewGeminiClient(cfg.LLM.APIKey, model, llm.WithTimeout(cfg.GetLLMTimeout()))
		if err != nil {
			return nil, err
		}
		a.llmClients = append(a.llmClients, c)
		return c, nil
	}

	mainLLM, err := client(cfg.LLM.Model)
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}
	plannerLLM, err := client(cfg.LLM.PlannerModel)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("planner model client: %w", err)
	}
	verifierLLM, err := client(cfg.LLM.VerifierModel)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("verifier model client: %w", err)
	}

	var engines []search.Searcher
	if cfg.Search.PerplexityAPIKey != "" {
		p, perr := search.NewPerplexityClient(cfg.Search.PerplexityAPIKey, cfg.GetSearchTimeout())
		if perr != nil {
			a.Close()
			return nil, perr
		}
		engines = append(engines, p)
	}
	if cfg.Search.TavilyAPIKey != "" {
		t, terr := search.NewTavilyClient(cfg.Search.TavilyAPIKey, cfg.GetSearchTimeout())
		if terr != nil {
			a.Close()
			return nil, terr
		}
		engines = append(engines, t)
	}
	if len(engines) == 0 {
		a.Close()
		return nil, fmt.Errorf("no search engine configured: set PERPLEXITY_API_KEY or TAVILY_API_KEY")
	}

	sessionStore, err := store.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("session store: %w", err)
	}
	a.store = sessionStore

	dedupSQL, err := dedup.NewSQLiteStoreFromDB(sessionStore.DB())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("dedup store: %w", err)
	}
	dedupStore := dedup.NewCachedStore(dedupSQL)

	var renderer fetch.Renderer
	if cfg.Fetch.DynamicFetch {
		a.renderer = fetch.NewRodRenderer()
		renderer = a.renderer
	}
	fetcher := fetch.New(mainLLM, fetch.Options{
		ChunkSize:    cfg.Fetch.ChunkSize,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.GetFetchTimeout(),
		Model:        cfg.LLM.Model,
		Renderer:     renderer,
	})

	runner := worker.NewRunner(worker.Ports{
		Engines: search.NewPicker(time.Now().UnixNano(), engines...),
		Fetcher: fetcher,
		Scorer: scoring.New(mainLLM, scoring.Options{
			Model:       cfg.LLM.Model,
			BatchSize:   cfg.Research.ScorerBatchSize,
			Concurrency: cfg.Research.ScorerConcurrency,
		}),
		Dedup:            dedupStore,
		Store:            sessionStore,
		Filter:           linkfilter.New(cfg.Fetch.BlockedDomains...),
		MaxSearchResults: cfg.Search.MaxResults,
	})

	a.Orchestrator = orchestrator.New(
		planner.New(plannerLLM, cfg.LLM.PlannerModel),
		runner,
		verify.New(verifierLLM, cfg.LLM.VerifierModel, sessionStore),
		sessionStore,
		orchestrator.Options{
			MaxIterations:       cfg.Research.MaxIterations,
			SaturationThreshold: cfg.Research.SaturationThreshold,
		},
	)
	return a, nil
}
