package operations

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	settlementdomain "github.com/smallbiznis/fxpay/internal/settlement/domain"
)

func (s *Service) CreateSettlementBatch(ctx context.Context, meta Meta, req settlementdomain.CreateBatchRequest) (Result, error) {
	return s.mutate(ctx, meta, epCreateBatch, http.StatusCreated, func(ctx context.Context, _ string) (any, error) {
		req.Actor = meta.Actor
		return s.settlements.CreateBatch(ctx, req)
	})
}

func (s *Service) ProcessSettlement(ctx context.Context, meta Meta, id snowflake.ID) (Result, error) {
	return s.mutate(ctx, meta, epProcessBatch, http.StatusOK, func(ctx context.Context, _ string) (any, error) {
		return s.settlements.Process(ctx, id, meta.Actor)
	})
}

func (s *Service) ReconcileSettlement(ctx context.Context, meta Meta, req settlementdomain.ReconcileRequest) (Result, error) {
	return s.mutate(ctx, meta, epReconcile, http.StatusOK, func(ctx context.Context, _ string) (any, error) {
		if req.ReconciledBy == "" {
			req.ReconciledBy = meta.Actor
		}
		return s.settlements.Reconcile(ctx, req)
	})
}

func (s *Service) GetSettlement(ctx context.Context, meta Meta, id snowflake.ID) (*settlementdomain.Settlement, error) {
	return query(ctx, s, meta, epGetSettlement, func(ctx context.Context) (*settlementdomain.Settlement, error) {
		return s.settlements.Get(ctx, id)
	})
}

func (s *Service) ListSettlements(ctx context.Context, meta Meta, req settlementdomain.ListSettlementRequest) (settlementdomain.ListSettlementResponse, error) {
	return query(ctx, s, meta, epListSettlements, func(ctx context.Context) (settlementdomain.ListSettlementResponse, error) {
		return s.settlements.List(ctx, req)
	})
}

func (s *Service) ReconciliationReport(ctx context.Context, meta Meta, r settlementdomain.DateRange) (settlementdomain.Report, error) {
	return query(ctx, s, meta, epReconReport, func(ctx context.Context) (settlementdomain.Report, error) {
		return s.settlements.ReconciliationReport(ctx, r)
	})
}
