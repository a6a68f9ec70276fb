package service

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenmeter/internal/clock"
	ledgerdomain "github.com/smallbiznis/tokenmeter/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/tokenmeter/internal/observability/metrics"
	"github.com/smallbiznis/tokenmeter/pkg/db"
	"github.com/smallbiznis/tokenmeter/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      clk,
		obsMetrics: p.ObsMetrics,
	}
}

// mutation computes the entry to append while the account row is locked.
// fresh is false when the entry already existed and nothing was written.
type mutation func(tx *gorm.DB, account ledgerdomain.Account) (entry *ledgerdomain.Transaction, fresh bool, err error)

func (s *Service) OpenAccount(ctx context.Context, accountID snowflake.ID) (ledgerdomain.Account, error) {
	if accountID == 0 {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidAccount
	}

	now := s.clock.Now()
	fresh := ledgerdomain.Account{ID: accountID, CreatedAt: now, UpdatedAt: now}
	if err := insertAccount(s.db.WithContext(ctx), &fresh).Error; err != nil {
		return ledgerdomain.Account{}, err
	}

	var account ledgerdomain.Account
	if err := s.db.WithContext(ctx).Where("id = ?", accountID).Take(&account).Error; err != nil {
		return ledgerdomain.Account{}, err
	}
	return account, nil
}

// insertAccount leaves an existing row untouched. Each dialect renders its
// own form (ON CONFLICT DO NOTHING, ON DUPLICATE KEY UPDATE).
func insertAccount(db *gorm.DB, account *ledgerdomain.Account) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(account)
}

func (s *Service) Credit(ctx context.Context, req ledgerdomain.CreditRequest) (ledgerdomain.Result, error) {
	if req.ReferenceID != nil {
		result, _, err := s.CreditIfNotExists(ctx, req)
		return result, err
	}
	if err := validateAmount(req.AccountID, req.Amount); err != nil {
		return ledgerdomain.Result{}, err
	}

	return s.mutate(ctx, req.AccountID, func(tx *gorm.DB, account ledgerdomain.Account) (*ledgerdomain.Transaction, bool, error) {
		return s.apply(tx, account, ledgerdomain.TransactionKindCredit, int64(req.Amount), req.Description, nil)
	})
}

// CreditIfNotExists credits once per (account, reference). A repeated
// reference returns the original entry with created=false.
func (s *Service) CreditIfNotExists(ctx context.Context, req ledgerdomain.CreditRequest) (ledgerdomain.Result, bool, error) {
	if err := validateAmount(req.AccountID, req.Amount); err != nil {
		return ledgerdomain.Result{}, false, err
	}
	ref, err := normalizeReference(req.ReferenceID)
	if err != nil {
		return ledgerdomain.Result{}, false, err
	}
	if ref == nil {
		return ledgerdomain.Result{}, false, ledgerdomain.ErrInvalidReference
	}

	created := true
	result, err := s.mutate(ctx, req.AccountID, func(tx *gorm.DB, account ledgerdomain.Account) (*ledgerdomain.Transaction, bool, error) {
		existing, found, err := findCredit(tx, account.ID, *ref)
		if err != nil {
			return nil, false, err
		}
		if found {
			created = false
			return &existing, false, nil
		}
		return s.apply(tx, account, ledgerdomain.TransactionKindCredit, int64(req.Amount), req.Description, ref)
	})
	if err != nil && db.IsDuplicateKeyErr(err) {
		existing, found, findErr := findCredit(s.db.WithContext(ctx), req.AccountID, *ref)
		if findErr != nil {
			return ledgerdomain.Result{}, false, findErr
		}
		if !found {
			return ledgerdomain.Result{}, false, err
		}
		balance, balErr := s.Balance(ctx, req.AccountID)
		if balErr != nil {
			return ledgerdomain.Result{}, false, balErr
		}
		return ledgerdomain.Result{Balance: balance, Transaction: existing}, false, nil
	}
	if err != nil {
		return ledgerdomain.Result{}, false, err
	}
	if !created {
		s.log.Info("duplicate credit ignored",
			zap.String("account_id", req.AccountID.String()),
			zap.String("reference_id", *ref),
		)
	}
	return result, created, nil
}

func (s *Service) Debit(ctx context.Context, req ledgerdomain.DebitRequest) (ledgerdomain.Result, error) {
	if err := validateAmount(req.AccountID, req.Amount); err != nil {
		return ledgerdomain.Result{}, err
	}
	ref, err := normalizeReference(req.ReferenceID)
	if err != nil {
		return ledgerdomain.Result{}, err
	}

	return s.mutate(ctx, req.AccountID, func(tx *gorm.DB, account ledgerdomain.Account) (*ledgerdomain.Transaction, bool, error) {
		if account.Balance < int64(req.Amount) {
			return nil, false, &ledgerdomain.InsufficientBalanceError{
				Current:  account.Balance,
				Required: req.Amount,
			}
		}
		return s.apply(tx, account, ledgerdomain.TransactionKindDebit, -int64(req.Amount), req.Description, ref)
	})
}

// Adjust applies a signed administrative correction. It is the only
// mutation allowed to leave the balance negative.
func (s *Service) Adjust(ctx context.Context, req ledgerdomain.AdjustRequest) (ledgerdomain.Result, error) {
	if req.AccountID == 0 {
		return ledgerdomain.Result{}, ledgerdomain.ErrInvalidAccount
	}
	if req.SignedAmount == 0 || req.SignedAmount == math.MinInt64 {
		return ledgerdomain.Result{}, ledgerdomain.ErrInvalidAmount
	}
	ref, err := normalizeReference(req.ReferenceID)
	if err != nil {
		return ledgerdomain.Result{}, err
	}

	result, err := s.mutate(ctx, req.AccountID, func(tx *gorm.DB, account ledgerdomain.Account) (*ledgerdomain.Transaction, bool, error) {
		return s.apply(tx, account, ledgerdomain.TransactionKindAdjustment, req.SignedAmount, req.Description, ref)
	})
	if err != nil {
		return ledgerdomain.Result{}, err
	}
	s.log.Info("ledger adjusted",
		zap.String("account_id", req.AccountID.String()),
		zap.Int64("signed_amount", req.SignedAmount),
		zap.Int64("balance_after", result.Balance),
	)
	return result, nil
}

func (s *Service) Balance(ctx context.Context, accountID snowflake.ID) (int64, error) {
	if accountID == 0 {
		return 0, ledgerdomain.ErrInvalidAccount
	}
	var account ledgerdomain.Account
	err := s.db.WithContext(ctx).Select("id", "balance").Where("id = ?", accountID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ledgerdomain.ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (s *Service) ListTransactions(ctx context.Context, req ledgerdomain.ListTransactionsRequest) (ledgerdomain.ListTransactionsResponse, error) {
	if req.AccountID == 0 {
		return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidAccount
	}
	pageSize := pagination.Size(req.PageSize)

	query := s.db.WithContext(ctx).Where("account_id = ?", req.AccountID)
	if req.Kind != "" {
		switch req.Kind {
		case ledgerdomain.TransactionKindCredit, ledgerdomain.TransactionKindDebit, ledgerdomain.TransactionKindAdjustment:
			query = query.Where("kind = ?", req.Kind)
		default:
			return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidKind
		}
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidPageToken
	}
	if cursor != 0 {
		query = query.Where("id < ?", cursor)
	}

	var rows []ledgerdomain.Transaction
	if err := query.Order("id DESC").Limit(pageSize + 1).Find(&rows).Error; err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}

	rows, info := pagination.Trim(rows, pageSize, func(t ledgerdomain.Transaction) snowflake.ID { return t.ID })
	return ledgerdomain.ListTransactionsResponse{
		Transactions:  rows,
		NextPageToken: info.NextPageToken,
	}, nil
}

// mutate runs fn inside one DB transaction with the account row locked, so
// the balance fn observes cannot change before commit.
func (s *Service) mutate(ctx context.Context, accountID snowflake.ID, fn mutation) (ledgerdomain.Result, error) {
	var (
		result  ledgerdomain.Result
		applied bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := lockAccount(tx, accountID)
		if err != nil {
			return err
		}
		entry, fresh, err := fn(tx, account)
		if err != nil {
			return err
		}
		result = ledgerdomain.Result{Balance: account.Balance}
		if entry != nil {
			result.Transaction = *entry
		}
		if fresh {
			result.Balance = entry.BalanceAfter
			applied = true
		}
		return nil
	})
	if err != nil {
		return ledgerdomain.Result{}, err
	}
	if applied {
		entry := result.Transaction
		s.obsMetrics.RecordLedgerMutation(ctx, string(entry.Kind), entry.Amount)
		s.log.Debug("ledger mutation committed",
			zap.String("account_id", accountID.String()),
			zap.String("kind", string(entry.Kind)),
			zap.Uint64("amount", entry.Amount),
			zap.Int64("balance_after", entry.BalanceAfter),
		)
	}
	return result, nil
}

func lockAccount(tx *gorm.DB, accountID snowflake.ID) (ledgerdomain.Account, error) {
	query := tx.Model(&ledgerdomain.Account{}).Where("id = ?", accountID)
	if !db.IsSQLite(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var account ledgerdomain.Account
	err := query.Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledgerdomain.Account{}, ledgerdomain.ErrAccountNotFound
	}
	if err != nil {
		return ledgerdomain.Account{}, err
	}
	return account, nil
}

func (s *Service) apply(
	tx *gorm.DB,
	account ledgerdomain.Account,
	kind ledgerdomain.TransactionKind,
	signed int64,
	description string,
	ref *string,
) (*ledgerdomain.Transaction, bool, error) {
	if (signed > 0 && account.Balance > math.MaxInt64-signed) ||
		(signed < 0 && account.Balance < math.MinInt64-signed) {
		return nil, false, ledgerdomain.ErrBalanceOverflow
	}

	now := s.clock.Now()
	balanceAfter := account.Balance + signed
	if err := tx.Exec(
		`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
		balanceAfter,
		now,
		account.ID,
	).Error; err != nil {
		return nil, false, err
	}

	entry := ledgerdomain.Transaction{
		ID:           s.genID.Generate(),
		AccountID:    account.ID,
		Kind:         kind,
		Amount:       magnitude(signed),
		SignedAmount: signed,
		BalanceAfter: balanceAfter,
		Description:  strings.TrimSpace(description),
		ReferenceID:  ref,
		CreatedAt:    now,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, false, err
	}
	return &entry, true, nil
}

func findCredit(tx *gorm.DB, accountID snowflake.ID, ref string) (ledgerdomain.Transaction, bool, error) {
	var existing ledgerdomain.Transaction
	err := tx.Where("account_id = ? AND kind = ? AND reference_id = ?", accountID, ledgerdomain.TransactionKindCredit, ref).
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledgerdomain.Transaction{}, false, nil
	}
	if err != nil {
		return ledgerdomain.Transaction{}, false, err
	}
	return existing, true, nil
}

func validateAmount(accountID snowflake.ID, amount uint64) error {
	if accountID == 0 {
		return ledgerdomain.ErrInvalidAccount
	}
	if amount == 0 || amount > math.MaxInt64 {
		return ledgerdomain.ErrInvalidAmount
	}
	return nil
}

func normalizeReference(ref *string) (*string, error) {
	if ref == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*ref)
	if trimmed == "" || len(trimmed) > 255 {
		return nil, ledgerdomain.ErrInvalidReference
	}
	return &trimmed, nil
}

func magnitude(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}
