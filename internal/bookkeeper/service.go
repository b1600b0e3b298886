// Package bookkeeper owns item balances: the Ledger primitives used inside
// other units of work, and the bank operations exposed over HTTP.
package bookkeeper

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Aidin1998/barterex/internal/reservation"
	"github.com/Aidin1998/barterex/internal/store"
	"github.com/Aidin1998/barterex/pkg/metrics"
	"github.com/Aidin1998/barterex/pkg/models"
)

// BookkeeperService defines the bank operations. Each call is its own unit of work.
type BookkeeperService interface {
	Deposit(ctx context.Context, account, world, item string, amount int64) error
	Withdraw(ctx context.Context, account, world, item string, amount int64) error
	Balance(ctx context.Context, account, world, item string) (int64, error)
	Available(ctx context.Context, account, world, item string) (int64, error)
	Balances(ctx context.Context, account, world string) ([]models.Balance, error)
}

// Service implements BookkeeperService
type Service struct {
	logger       *zap.Logger
	store        store.Store
	ledger       Ledger
	reservations reservation.View
}

// NewService creates a new bookkeeper Service
func NewService(logger *zap.Logger, st store.Store) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger, store: st}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidKey):
		return "invalid"
	default:
		return "error"
	}
}

func (s *Service) observe(op string, err error) {
	metrics.LedgerOperations.WithLabelValues(op, outcome(err)).Inc()
}

// Deposit credits amount of item to the account.
func (s *Service) Deposit(ctx context.Context, account, world, item string, amount int64) (err error) {
	defer func() { s.observe("deposit", err) }()

	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		return s.ledger.Credit(ctx, tx, account, world, item, amount)
	})
	if err != nil {
		return err
	}
	s.logger.Info("Deposit",
		zap.String("account", account), zap.String("world", world),
		zap.String("item", item), zap.Int64("amount", amount))
	return nil
}

// Withdraw debits amount of item from the account. Items promised to open
// sell orders cannot be withdrawn.
func (s *Service) Withdraw(ctx context.Context, account, world, item string, amount int64) (err error) {
	defer func() { s.observe("withdraw", err) }()

	if err = checkArgs(account, world, item, amount); err != nil {
		return err
	}
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		available, err := s.reservations.Available(ctx, tx, account, world, item)
		if err != nil {
			return err
		}
		if available < amount {
			return &InsufficientFundsError{Account: account, World: world, Item: item, Available: max(available, 0), Required: amount}
		}
		return s.ledger.Debit(ctx, tx, account, world, item, amount)
	})
	if err != nil {
		return err
	}
	s.logger.Info("Withdraw",
		zap.String("account", account), zap.String("world", world),
		zap.String("item", item), zap.Int64("amount", amount))
	return nil
}

// Balance returns the raw quantity held, reservations included.
func (s *Service) Balance(ctx context.Context, account, world, item string) (int64, error) {
	var out int64
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		v, err := s.ledger.Balance(ctx, tx, account, world, item)
		out = v
		return err
	})
	s.observe("balance", err)
	return out, err
}

// Available returns the quantity not promised to open sell orders.
func (s *Service) Available(ctx context.Context, account, world, item string) (int64, error) {
	var out int64
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		v, err := s.reservations.Available(ctx, tx, account, world, item)
		out = v
		return err
	})
	return out, err
}

// Balances lists every item row of the account in world, ordered by item.
func (s *Service) Balances(ctx context.Context, account, world string) ([]models.Balance, error) {
	var out []models.Balance
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		rows, err := tx.Balances().ListForAccount(ctx, account, world)
		out = rows
		return err
	})
	s.observe("balances", err)
	return out, err
}
