// Package recon executes reconciliation rulesets against live databases via
// the landing staging path and computes the RCR/DQCS/REI/IRR KPI set.
package recon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/extract"
	"github.com/reconlab/recon-engine/pkg/landing"
	"github.com/reconlab/recon-engine/pkg/models"
	"github.com/reconlab/recon-engine/pkg/rules"
	"github.com/reconlab/recon-engine/pkg/schema"
)

// ExecuteRequest describes one landing reconciliation run.
type ExecuteRequest struct {
	RulesetID uuid.UUID       `json:"ruleset_id"`
	SourceDB  models.DBConfig `json:"source_db_config"`
	TargetDB  models.DBConfig `json:"target_db_config"`
	// Limit bounds the rows pulled per side; zero pulls everything.
	Limit int `json:"limit"`
	// KeepStaging leaves staging tables behind for post-mortem; TTL cleanup
	// still applies.
	KeepStaging bool `json:"keep_staging"`
	// StoreResults persists the execution row in the result store.
	StoreResults bool `json:"store_in_mongodb"`
	// InactivePredicate is an optional SQL fragment over source alias s that
	// defines inactive rows for the IRR KPI.
	InactivePredicate string `json:"inactive_predicate,omitempty"`
}

// Executor runs a ruleset end to end: plan, extract both sides, index,
// reconcile in a single query, persist.
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) (*models.ReconExecution, error)
}

type executor struct {
	rulesets  rules.Repository
	loader    schema.Loader
	landing   landing.Manager
	extractor extract.Extractor
	results   Repository
	logger    *zap.Logger
	now       func() time.Time
}

// NewExecutor creates a reconciliation Executor.
func NewExecutor(rulesets rules.Repository, loader schema.Loader, mgr landing.Manager, ext extract.Extractor, results Repository, logger *zap.Logger) Executor {
	return &executor{
		rulesets:  rulesets,
		loader:    loader,
		landing:   mgr,
		extractor: ext,
		results:   results,
		logger:    logger.Named("recon"),
		now:       time.Now,
	}
}

var _ Executor = (*executor)(nil)

func (e *executor) Execute(ctx context.Context, req ExecuteRequest) (*models.ReconExecution, error) {
	exec := &models.ReconExecution{
		ExecutionID: uuid.New(),
		RulesetID:   req.RulesetID,
		Status:      models.ExecutionRunning,
		CreatedAt:   e.now(),
	}

	rs, err := e.rulesets.GetByID(ctx, req.RulesetID)
	if err != nil {
		return e.fail(ctx, req, exec, err)
	}

	plan, err := buildPlan(rs, e.loadSchemas(rs.Schemas))
	if err != nil {
		return e.fail(ctx, req, exec, err)
	}
	e.logger.Info("Planned reconciliation",
		zap.String("execution", exec.ExecutionID.String()),
		zap.String("source", plan.SourceSchema+":"+plan.SourceTable),
		zap.String("target", plan.TargetSchema+":"+plan.TargetTable),
		zap.Int("rules", len(plan.Rules)))

	extractStart := e.now()
	if err := e.stageSide(ctx, req, exec, plan, models.StagingRoleSource); err != nil {
		return e.fail(ctx, req, exec, err)
	}
	if err := e.stageSide(ctx, req, exec, plan, models.StagingRoleTarget); err != nil {
		return e.fail(ctx, req, exec, err)
	}
	exec.ExtractMs = e.now().Sub(extractStart).Milliseconds()

	reconStart := e.now()
	reconSQL := buildReconSQL(plan, exec.SourceStagingTable, exec.TargetStagingTable, req.InactivePredicate)
	var rulesMatched, inactiveSource int64
	err = e.landing.Pool().QueryRow(ctx, reconSQL).Scan(
		&exec.MatchedCount, &exec.AvgConfidence, &exec.HighConfidenceCount,
		&exec.UnmatchedSourceCount, &exec.UnmatchedTargetCount,
		&exec.TotalSourceCount, &exec.TotalTargetCount,
		&rulesMatched, &inactiveSource)
	if err != nil {
		return e.fail(ctx, req, exec, fmt.Errorf("reconciliation query failed: %w", err))
	}
	exec.ReconcileMs = e.now().Sub(reconStart).Milliseconds()

	computeKPIs(exec, len(plan.Rules), int(rulesMatched), inactiveSource,
		float64(exec.ExtractMs+exec.ReconcileMs)/1000)
	exec.Status = models.ExecutionSuccess

	if !req.KeepStaging {
		e.dropStaging(ctx, exec)
	}
	if req.StoreResults {
		if err := e.results.Save(ctx, exec); err != nil {
			return e.fail(ctx, req, exec, err)
		}
	}

	e.logger.Info("Reconciliation completed",
		zap.String("execution", exec.ExecutionID.String()),
		zap.Int64("matched", exec.MatchedCount),
		zap.Float64("rcr", exec.RCR.Value),
		zap.String("rcr_status", exec.RCR.Status))
	return exec, nil
}

// stageSide creates, loads, and indexes one side's staging table.
func (e *executor) stageSide(ctx context.Context, req ExecuteRequest, exec *models.ReconExecution, plan *executionPlan, role string) error {
	dbCfg, table, columns, joinColumns := req.SourceDB, plan.SourceTable, plan.SourceColumns, plan.SourceJoinColumns
	if role == models.StagingRoleTarget {
		dbCfg, table, columns, joinColumns = req.TargetDB, plan.TargetTable, plan.TargetColumns, plan.TargetJoinColumns
	}

	staging, err := e.landing.CreateStaging(ctx, exec.ExecutionID.String(), exec.RulesetID.String(), role, columns)
	if err != nil {
		return err
	}
	if role == models.StagingRoleSource {
		exec.SourceStagingTable = staging
	} else {
		exec.TargetStagingTable = staging
	}

	selectSQL := extractSelect(dbCfg.DBType, table, columns, req.Limit)
	if _, err := e.extractor.ExtractToLanding(ctx, dbCfg, selectSQL, staging); err != nil {
		return fmt.Errorf("failed to extract %s side: %w", role, err)
	}
	return e.landing.CreateIndexes(ctx, staging, joinColumns)
}

// fail finalizes a failed run. The status distinguishes timeout and
// cancellation from genuine failure; staging retention follows keep_staging
// even on failure.
func (e *executor) fail(ctx context.Context, req ExecuteRequest, exec *models.ReconExecution, cause error) (*models.ReconExecution, error) {
	exec.Status = statusFor(cause)
	msg := cause.Error()
	exec.ErrorMessage = &msg

	if !req.KeepStaging {
		e.dropStaging(context.WithoutCancel(ctx), exec)
	}
	if req.StoreResults {
		if err := e.results.Save(context.WithoutCancel(ctx), exec); err != nil {
			e.logger.Warn("Failed to persist failed execution",
				zap.String("execution", exec.ExecutionID.String()), zap.Error(err))
		}
	}

	e.logger.Error("Reconciliation failed",
		zap.String("execution", exec.ExecutionID.String()),
		zap.String("status", exec.Status),
		zap.Error(cause))
	return exec, cause
}

func (e *executor) dropStaging(ctx context.Context, exec *models.ReconExecution) {
	for _, table := range []string{exec.SourceStagingTable, exec.TargetStagingTable} {
		if table == "" {
			continue
		}
		if err := e.landing.DropStaging(ctx, table); err != nil {
			e.logger.Warn("Failed to drop staging table",
				zap.String("table", table), zap.Error(err))
		}
	}
}

// loadSchemas resolves descriptors best-effort; a missing descriptor only
// degrades staging DDL to untyped columns.
func (e *executor) loadSchemas(names []string) map[string]*models.Schema {
	out := make(map[string]*models.Schema, len(names))
	for _, name := range names {
		s, err := e.loader.Load(name)
		if err != nil {
			e.logger.Warn("Schema descriptor unavailable for planning",
				zap.String("schema", name), zap.Error(err))
			continue
		}
		out[name] = s
	}
	return out
}

// statusFor maps a failure cause onto the execution status vocabulary.
func statusFor(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.ExecutionTimeout
	case errors.Is(err, context.Canceled):
		return models.ExecutionCancelled
	default:
		return models.ExecutionFailed
	}
}
