// recon-engine builds knowledge graphs from schema descriptors, generates
// reconciliation rulesets, executes reconciliations against a landing
// database, answers natural-language queries, and runs KPIs.
//
// Usage:
//
//	recon-engine serve
//	recon-engine build-graph -kg NAME [-schemas a,b] [-llm]
//	recon-engine generate-rules -kg NAME -name RULESET [-schemas a,b] [-llm]
//	recon-engine reconcile -request FILE
//	recon-engine nl-query -request FILE
//	recon-engine kpi-execute -request FILE
//
// serve runs migrations, bootstraps the landing registry, and keeps the
// staging-table TTL cleanup running until SIGINT/SIGTERM. The other commands
// run one operation and print its result as JSON. A request FILE of "-"
// reads stdin.
//
// Configuration comes from config.yaml with environment overrides; secrets
// (PGPASSWORD, LANDING_PASSWORD, LLM_API_KEY) are environment-only.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/config"
	"github.com/reconlab/recon-engine/pkg/database"
	"github.com/reconlab/recon-engine/pkg/extract"
	"github.com/reconlab/recon-engine/pkg/graph"
	"github.com/reconlab/recon-engine/pkg/kpi"
	"github.com/reconlab/recon-engine/pkg/landing"
	"github.com/reconlab/recon-engine/pkg/llm"
	"github.com/reconlab/recon-engine/pkg/models"
	"github.com/reconlab/recon-engine/pkg/nlquery"
	"github.com/reconlab/recon-engine/pkg/recon"
	"github.com/reconlab/recon-engine/pkg/rules"
	"github.com/reconlab/recon-engine/pkg/schema"
	"github.com/reconlab/recon-engine/pkg/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "recon-engine: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(Version)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("store", fmt.Sprintf("%s@%s:%d/%s", cfg.Store.User, cfg.Store.Host, cfg.Store.Port, cfg.Store.Database)),
		zap.String("landing", fmt.Sprintf("%s@%s:%d/%s", cfg.Landing.User, cfg.Landing.Host, cfg.Landing.Port, cfg.Landing.Database)),
		zap.String("schema_dir", cfg.SchemaDir),
		zap.Bool("llm_available", cfg.LLM.IsAvailable()))

	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.close()

	switch cmd {
	case "serve":
		return eng.serve(ctx)
	case "build-graph":
		return eng.buildGraph(ctx, args)
	case "generate-rules":
		return eng.generateRules(ctx, args)
	case "reconcile":
		return eng.reconcile(ctx, args)
	case "nl-query":
		return eng.nlQuery(ctx, args)
	case "kpi-execute":
		return eng.kpiExecute(ctx, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// engine wires every service against the two databases.
type engine struct {
	cfg    *config.Config
	logger *zap.Logger

	store     *database.DB
	landingDB *database.DB

	landing   landing.Manager
	loader    schema.Loader
	builder   graph.Builder
	generator rules.Generator
	recon     recon.Executor
	nl        *nlquery.Service
	kpis      *kpi.Service
	queue     *workqueue.Queue
}

func newEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine, error) {
	store, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Store.ConnectionString(),
		MaxConnections: cfg.Store.MaxConnections,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engine store: %w", err)
	}

	// golang-migrate wants database/sql; one short-lived connection is enough.
	migrateDB, err := sql.Open("pgx", cfg.Store.ConnectionString())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open migration connection: %w", err)
	}
	if err := database.RunMigrations(migrateDB, logger); err != nil {
		migrateDB.Close()
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	migrateDB.Close()

	landingDB, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Landing.ConnectionString(),
		MaxConnections: cfg.Landing.MaxConnections,
	}, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to landing database: %w", err)
	}

	mgr := landing.NewManager(landingDB.Pool, cfg.Landing.StagingTTL(), logger)
	if err := mgr.Bootstrap(ctx); err != nil {
		landingDB.Close()
		store.Close()
		return nil, fmt.Errorf("failed to bootstrap landing registry: %w", err)
	}

	client, err := llm.NewFromConfig(&cfg.LLM, logger)
	if err != nil {
		landingDB.Close()
		store.Close()
		return nil, fmt.Errorf("failed to build LLM client: %w", err)
	}
	if client == nil {
		logger.Info("No LLM endpoint configured, running deterministic-only")
	}

	loader := schema.NewDirLoader(cfg.SchemaDir, logger)
	graphs := graph.NewPostgresStore(store, logger)
	builder := graph.NewBuilder(loader, graphs, client,
		models.NewExcludedFieldSet(cfg.ExcludedFields()), cfg.MinConfidence, logger)

	rulesets := rules.NewRepository(store, logger)
	generator := rules.NewGenerator(graphs, rulesets, loader, client, logger)

	extractor := extract.NewExtractor(mgr, cfg.Extract, cfg.Landing.BulkLoadEnabled, logger)
	results := recon.NewRepository(store, logger)
	reconExec := recon.NewExecutor(rulesets, loader, mgr, extractor, results, logger)

	runner := nlquery.NewExecutor(cfg.Extract, logger)
	nl := nlquery.NewService(graphs, client, runner, logger)

	kpis := kpi.NewService(kpi.NewRepository(store, logger), nl, runner, cfg.CacheStalenessDays, logger)

	queue := workqueue.New(workqueue.Options{TaskTimeout: cfg.Extract.QueryTimeout()}, logger)

	return &engine{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		landingDB: landingDB,
		landing:   mgr,
		loader:    loader,
		builder:   builder,
		generator: generator,
		recon:     reconExec,
		nl:        nl,
		kpis:      kpis,
		queue:     queue,
	}, nil
}

func (e *engine) close() {
	e.queue.Cancel()
	e.landingDB.Close()
	e.store.Close()
}

// serve keeps the staging TTL cleanup running until the context is cancelled.
func (e *engine) serve(ctx context.Context) error {
	e.logger.Info("recon-engine started", zap.String("version", e.cfg.Version))

	if dropped, err := e.landing.CleanupExpired(ctx); err != nil {
		e.logger.Error("Staging cleanup failed", zap.Error(err))
	} else if dropped > 0 {
		e.logger.Info("Dropped expired staging tables", zap.Int("count", dropped))
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Shutting down")
			e.queue.Cancel()
			waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return e.queue.Wait(waitCtx)
		case <-ticker.C:
			dropped, err := e.landing.CleanupExpired(ctx)
			if err != nil {
				e.logger.Error("Staging cleanup failed", zap.Error(err))
				continue
			}
			if dropped > 0 {
				e.logger.Info("Dropped expired staging tables", zap.Int("count", dropped))
			}
			stats := e.queue.Stats()
			e.logger.Info("Queue stats",
				zap.Int("depth", stats.Depth),
				zap.Int("running", stats.Running),
				zap.Duration("oldest_waiting", stats.OldestWaiting))
		}
	}
}

func (e *engine) buildGraph(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build-graph", flag.ContinueOnError)
	kgName := fs.String("kg", "", "knowledge graph name")
	schemas := fs.String("schemas", "", "comma-separated schema names (default: every schema in the directory)")
	useLLM := fs.Bool("llm", false, "enhance the graph with the configured LLM")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *kgName == "" {
		return fmt.Errorf("build-graph: -kg is required")
	}

	names := splitList(*schemas)
	if len(names) == 0 {
		all, err := e.loader.List()
		if err != nil {
			return err
		}
		names = all
	}

	var kg *models.KnowledgeGraph
	err := e.runOnQueue(ctx, "build-graph "+*kgName, *useLLM, func(ctx context.Context) error {
		var err error
		kg, err = e.builder.Build(ctx, graph.BuildRequest{
			KGName:      *kgName,
			SchemaNames: names,
			UseLLM:      *useLLM,
		})
		return err
	})
	if err != nil {
		return err
	}
	return printJSON(kg)
}

func (e *engine) generateRules(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate-rules", flag.ContinueOnError)
	kgName := fs.String("kg", "", "knowledge graph name")
	name := fs.String("name", "", "ruleset name")
	schemas := fs.String("schemas", "", "comma-separated schema names restricting generation")
	minConfidence := fs.Float64("min-confidence", e.cfg.MinConfidence, "confidence threshold for generated rules")
	useLLM := fs.Bool("llm", false, "refine rules with the configured LLM")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *kgName == "" || *name == "" {
		return fmt.Errorf("generate-rules: -kg and -name are required")
	}

	var (
		ruleset *models.Ruleset
		stats   *rules.GenerationStats
	)
	err := e.runOnQueue(ctx, "generate-rules "+*name, *useLLM, func(ctx context.Context) error {
		var err error
		ruleset, stats, err = e.generator.Generate(ctx, rules.GenerateRequest{
			KGName:        *kgName,
			RulesetName:   *name,
			Schemas:       splitList(*schemas),
			MinConfidence: *minConfidence,
			UseLLM:        *useLLM,
		})
		return err
	})
	if err != nil {
		return err
	}
	return printJSON(struct {
		Ruleset *models.Ruleset        `json:"ruleset"`
		Stats   *rules.GenerationStats `json:"stats"`
	}{ruleset, stats})
}

func (e *engine) reconcile(ctx context.Context, args []string) error {
	var req recon.ExecuteRequest
	if err := parseRequest("reconcile", args, &req); err != nil {
		return err
	}

	var exec *models.ReconExecution
	err := e.runOnQueue(ctx, "reconcile "+req.RulesetID.String(), false, func(ctx context.Context) error {
		var err error
		exec, err = e.recon.Execute(ctx, req)
		return err
	})
	if err != nil {
		return err
	}
	return printJSON(exec)
}

func (e *engine) nlQuery(ctx context.Context, args []string) error {
	var req struct {
		models.NLQueryRequest
		DB models.DBConfig `json:"db_config"`
	}
	if err := parseRequest("nl-query", args, &req); err != nil {
		return err
	}

	resp, err := e.nl.Run(ctx, req.NLQueryRequest, req.DB)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func (e *engine) kpiExecute(ctx context.Context, args []string) error {
	var req kpi.ExecuteRequest
	if err := parseRequest("kpi-execute", args, &req); err != nil {
		return err
	}

	var exec *models.KPIExecution
	err := e.runOnQueue(ctx, "kpi-execute "+req.KPIID.String(), req.Params.UseLLM, func(ctx context.Context) error {
		var err error
		exec, err = e.kpis.Execute(ctx, req)
		return err
	})
	if err != nil {
		return err
	}
	return printJSON(exec)
}

// runOnQueue runs one operation through the work queue so CLI runs observe
// the same lanes, timeout, and retry policy as background work.
func (e *engine) runOnQueue(ctx context.Context, label string, llmBound bool, fn func(ctx context.Context) error) error {
	task := &workqueue.FuncTask{
		TaskID: uuid.NewString(),
		Label:  label,
		LLM:    llmBound,
		Fn: func(ctx context.Context, _ workqueue.Enqueuer) error {
			return fn(ctx)
		},
	}
	if !e.queue.Enqueue(task) {
		return fmt.Errorf("failed to enqueue %s", label)
	}
	if err := e.queue.Wait(ctx); err != nil {
		return err
	}
	return e.queue.TaskError(task.TaskID)
}

func parseRequest(cmd string, args []string, v any) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	path := fs.String("request", "", "path to a JSON request file, or - for stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("%s: -request is required", cmd)
	}

	var r io.Reader = os.Stdin
	if *path != "-" {
		f, err := os.Open(*path)
		if err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("%s: malformed request: %w", cmd, err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
