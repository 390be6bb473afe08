package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
)

// AutoLendSubmitter commits a loan record once the minimum fields are known.
// It is a thin wrapper: one invocation, one request, no retry.
type AutoLendSubmitter struct {
	client *Client
	log    *slog.Logger
}

func NewAutoLendSubmitter(client *Client, log *slog.Logger) *AutoLendSubmitter {
	return &AutoLendSubmitter{
		client: client,
		log:    log.With(slog.String("component", "auto-lend")),
	}
}

func (s *AutoLendSubmitter) Submit(ctx context.Context, req LendRequest) error {
	err := s.client.Lend(ctx, req)
	if err != nil {
		s.log.Warn("auto-lend submission failed", slog.String("error", err.Error()))
		return err
	}
	s.log.Info("loan recorded",
		slog.String("borrower", req.BorrowerName),
		slog.Float64("amount", req.Amount))
	return nil
}

// RiskAnalysisRequester requests a lending risk analysis once phone and
// amount are present.
type RiskAnalysisRequester struct {
	client *Client
	log    *slog.Logger
}

func NewRiskAnalysisRequester(client *Client, log *slog.Logger) *RiskAnalysisRequester {
	return &RiskAnalysisRequester{
		client: client,
		log:    log.With(slog.String("component", "risk-analysis")),
	}
}

func (r *RiskAnalysisRequester) Request(ctx context.Context, req AnalysisRequest) (json.RawMessage, error) {
	payload, err := r.client.RequestAnalysis(ctx, req)
	if err != nil {
		r.log.Warn("risk analysis request failed", slog.String("error", err.Error()))
		return nil, err
	}
	r.log.Info("risk analysis received", slog.String("borrower_phone", req.BorrowerPhone))
	return payload, nil
}
