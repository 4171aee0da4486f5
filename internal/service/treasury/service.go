// Package treasury exposes the stake ledger: agent balances, deposits,
// and aggregate statistics. All value movement tied to markets happens
// inside the market engine's transactions; this service only owns the
// edges of the ledger.
package treasury

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/futarchia/foresight/internal/model"
	"github.com/futarchia/foresight/internal/storage"
	"github.com/futarchia/foresight/internal/telemetry"
)

// Service encapsulates treasury operations.
type Service struct {
	db     *storage.DB
	logger *slog.Logger

	deposits metric.Int64Counter
}

// New creates a treasury Service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	meter := telemetry.Meter("foresight/treasury")
	deposits, _ := meter.Int64Counter("foresight.treasury.deposits",
		metric.WithDescription("Deposited amounts"),
	)
	return &Service{db: db, logger: logger, deposits: deposits}
}

// Deposit credits an agent's available balance. Operator-only: value
// enters the system exclusively through this edge.
func (s *Service) Deposit(ctx context.Context, agent string, amount int64) (model.Account, error) {
	if amount <= 0 {
		return model.Account{}, fmt.Errorf("treasury: deposit amount must be positive, got %d", amount)
	}
	acct, err := s.db.Deposit(ctx, agent, amount, time.Now().UTC())
	if err != nil {
		return model.Account{}, err
	}
	s.deposits.Add(ctx, amount)
	s.logger.Info("treasury: deposit", "agent", agent, "amount", amount, "available", acct.Available)
	return acct, nil
}

// Withdraw debits an agent's available balance. Funds locked as bonds or
// escrowed in markets are not withdrawable.
func (s *Service) Withdraw(ctx context.Context, agent string, amount int64) (model.Account, error) {
	if amount <= 0 {
		return model.Account{}, fmt.Errorf("treasury: withdrawal amount must be positive, got %d", amount)
	}
	acct, err := s.db.Withdraw(ctx, agent, amount, time.Now().UTC())
	if err != nil {
		return model.Account{}, err
	}
	s.logger.Info("treasury: withdrawal", "agent", agent, "amount", amount, "available", acct.Available)
	return acct, nil
}

// Account retrieves an agent's balance.
func (s *Service) Account(ctx context.Context, agent string) (model.Account, error) {
	return s.db.GetAccount(ctx, agent)
}

// Stakes lists an agent's stake ledger entries, newest first.
func (s *Service) Stakes(ctx context.Context, agent string, limit, offset int) ([]model.StakeInfo, error) {
	return s.db.ListStakes(ctx, agent, limit, offset)
}

// Stats aggregates system-wide balances for dashboards.
func (s *Service) Stats(ctx context.Context) (model.TreasuryStats, error) {
	return s.db.GetTreasuryStats(ctx)
}
