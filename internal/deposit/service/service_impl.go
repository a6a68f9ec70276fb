package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	depositdomain "github.com/smallbiznis/tokenmeter/internal/deposit/domain"
	ledgerdomain "github.com/smallbiznis/tokenmeter/internal/ledger/domain"
	"github.com/smallbiznis/tokenmeter/internal/lock"
	obsmetrics "github.com/smallbiznis/tokenmeter/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	lockTTL         = 30 * time.Second
	maxOrderCodeLen = 128
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Ledger     ledgerdomain.Service
	Locker     *lock.Locker        `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// locker is the slice of *lock.Locker that Confirm needs.
type locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*lock.Lease, error)
}

type Service struct {
	log        *zap.Logger
	ledger     ledgerdomain.Service
	locker     locker
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) depositdomain.Service {
	s := &Service{
		log:        p.Log.Named("deposit.service"),
		ledger:     p.Ledger,
		obsMetrics: p.ObsMetrics,
	}
	if p.Locker != nil {
		s.locker = p.Locker
	}
	return s
}

func (s *Service) Confirm(ctx context.Context, req depositdomain.ConfirmRequest) (depositdomain.ConfirmResult, error) {
	if req.AccountID == 0 {
		return depositdomain.ConfirmResult{}, ledgerdomain.ErrInvalidAccount
	}
	code, err := normalizeOrderCode(req.OrderCode)
	if err != nil {
		return depositdomain.ConfirmResult{}, err
	}
	if req.Tokens == 0 {
		return depositdomain.ConfirmResult{}, depositdomain.ErrInvalidTokens
	}

	reference := depositdomain.ReferencePrefix + code
	release, err := s.acquire(ctx, reference)
	if err != nil {
		return depositdomain.ConfirmResult{}, err
	}
	defer release()

	res, created, err := s.ledger.CreditIfNotExists(ctx, ledgerdomain.CreditRequest{
		AccountID:   req.AccountID,
		Amount:      req.Tokens,
		Description: "deposit " + code,
		ReferenceID: &reference,
	})
	if err != nil {
		return depositdomain.ConfirmResult{}, err
	}

	s.obsMetrics.RecordDeposit(ctx, created)
	s.log.Info("deposit confirmed",
		zap.String("account_id", req.AccountID.String()),
		zap.String("order_code", code),
		zap.Uint64("tokens", req.Tokens),
		zap.Bool("applied", created),
	)

	return depositdomain.ConfirmResult{
		Balance:     res.Balance,
		Transaction: res.Transaction,
		Applied:     created,
	}, nil
}

// acquire collapses concurrent deliveries of one order. Redis being down is
// not fatal; the ledger's unique reference still holds.
func (s *Service) acquire(ctx context.Context, reference string) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}

	lease, err := s.locker.Acquire(ctx, reference, lockTTL)
	switch {
	case errors.Is(err, lock.ErrHeld):
		return noop, depositdomain.ErrDepositInProgress
	case errors.Is(err, lock.ErrNotConfigured):
		return noop, nil
	case err != nil:
		s.log.Warn("deposit lock unavailable", zap.String("reference", reference), zap.Error(err))
		return noop, nil
	}

	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("deposit lock release failed", zap.String("key", lease.Key()), zap.Error(err))
		}
	}, nil
}

func normalizeOrderCode(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if code == "" || len(code) > maxOrderCodeLen {
		return "", depositdomain.ErrInvalidOrderCode
	}
	for _, r := range code {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", depositdomain.ErrInvalidOrderCode
		}
	}
	return code, nil
}
