package nlquery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/graph"
	"github.com/reconlab/recon-engine/pkg/llm"
	"github.com/reconlab/recon-engine/pkg/models"
)

// Service compiles and executes batches of NL definitions.
type Service struct {
	graphs   graph.Store
	parser   *Parser
	executor *Executor
	logger   *zap.Logger
}

// NewService creates an NL query Service. client may be nil.
func NewService(graphs graph.Store, client llm.ChatClient, executor *Executor, logger *zap.Logger) *Service {
	return &Service{
		graphs:   graphs,
		parser:   NewParser(client, logger),
		executor: executor,
		logger:   logger.Named("nl-service"),
	}
}

// Run compiles and executes every definition independently; one failure does
// not fail the batch.
func (s *Service) Run(ctx context.Context, req models.NLQueryRequest, dbCfg models.DBConfig) (*models.NLQueryResponse, error) {
	kg, err := s.graphs.Get(ctx, req.KGName)
	if err != nil {
		return nil, err
	}

	resp := &models.NLQueryResponse{}
	var confidenceSum float64
	for _, definition := range req.Definitions {
		result := s.runOne(ctx, definition, kg, req, dbCfg)
		resp.Results = append(resp.Results, result)
		resp.TotalRecords += result.RecordCount
		resp.TotalElapsedMs += result.ElapsedMs
		if result.ExecutionStatus == models.ExecutionSuccess {
			resp.SuccessfulCount++
			confidenceSum += result.Confidence
		} else {
			resp.FailedCount++
		}
	}
	if resp.SuccessfulCount > 0 {
		resp.AvgConfidence = confidenceSum / float64(resp.SuccessfulCount)
	}
	return resp, nil
}

// Compile parses and generates without executing; used by the KPI engine
// when it needs SQL it will run itself.
func (s *Service) Compile(ctx context.Context, definition string, kgName, dbType string, limit int, useLLM bool) (*models.QueryIntent, *Generated, error) {
	kg, err := s.graphs.Get(ctx, kgName)
	if err != nil {
		return nil, nil, err
	}
	intent, err := s.parser.Parse(ctx, definition, kg, useLLM)
	if err != nil {
		return nil, nil, err
	}
	if err := ScreenFilters(intent.Filters); err != nil {
		return intent, nil, err
	}
	generated, err := Generate(intent, dbType, limit)
	if err != nil {
		return intent, nil, err
	}
	return intent, generated, nil
}

func (s *Service) runOne(ctx context.Context, definition string, kg *models.KnowledgeGraph, req models.NLQueryRequest, dbCfg models.DBConfig) models.QueryResult {
	result := models.QueryResult{
		Definition:      definition,
		ExecutionStatus: models.ExecutionFailed,
	}

	intent, err := s.parser.Parse(ctx, definition, kg, req.UseLLM)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	result.QueryType = intent.QueryType
	result.Operation = intent.Operation
	result.SourceTable = intent.SourceTable
	result.TargetTable = intent.TargetTable
	result.Confidence = intent.Confidence
	for _, pair := range intent.JoinColumns {
		result.JoinedColumns = append(result.JoinedColumns,
			fmt.Sprintf("%s.%s = %s.%s", pair.SourceTable, pair.SourceColumn, pair.TargetTable, pair.TargetColumn))
	}

	if req.MinConfidence > 0 && intent.Confidence < req.MinConfidence {
		result.ErrorMessage = fmt.Sprintf("confidence %.2f below threshold %.2f", intent.Confidence, req.MinConfidence)
		return result
	}

	// Relationship questions are answered from the graph alone.
	if intent.QueryType == models.QueryTypeRelationship {
		result.ExecutionStatus = models.ExecutionSuccess
		return result
	}

	if err := ScreenFilters(intent.Filters); err != nil {
		result.ErrorMessage = err.Error()
		return result
	}

	generated, err := Generate(intent, req.DBType, req.Limit)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	result.SQL = generated.SQL

	execSQL := generated.SQL
	if enhanced, changed := EnhanceOpsPlanner(generated, req.DBType); changed {
		result.EnhancedSQL = enhanced
		execSQL = enhanced
	}

	count, sample, elapsed, err := s.executor.Run(ctx, dbCfg, execSQL, req.Limit)
	result.ElapsedMs = elapsed
	if err != nil {
		// The planner projection is additive; retry without it when the
		// enhanced statement fails.
		if result.EnhancedSQL != "" && execSQL != generated.SQL {
			s.logger.Warn("Enhanced statement failed, retrying generated SQL",
				zap.String("definition", definition), zap.Error(err))
			count, sample, elapsed, err = s.executor.Run(ctx, dbCfg, generated.SQL, req.Limit)
			result.ElapsedMs += elapsed
		}
		if err != nil {
			result.ErrorMessage = err.Error()
			return result
		}
	}

	result.RecordCount = count
	result.SampleRows = sample
	result.ExecutionStatus = models.ExecutionSuccess
	return result
}
