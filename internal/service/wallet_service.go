package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/freshplate/wallet-service/internal/apperr"
	"github.com/freshplate/wallet-service/internal/config"
	"github.com/freshplate/wallet-service/internal/model"
	"github.com/freshplate/wallet-service/internal/repo"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
	maxNoteLen       = 200

	defaultCreditNote = "Wallet credit issued by admin"
)

// Actor identifies the authenticated admin performing a mutation.
type Actor struct {
	UserID uint64
	Email  string
}

// CreditResult is returned by IssueCredit.
type CreditResult struct {
	UserID        uint64    `json:"userId"`
	Amount        int64     `json:"amount"`
	Note          string    `json:"note"`
	WalletBalance int64     `json:"walletBalance"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ListQuery narrows ListTransactions. Limit is clamped to [1,200] with
// a default of 50; Cursor is an exclusive upper bound on entry ID.
type ListQuery struct {
	UserID *uint64
	Limit  int
	Cursor *uint64
}

// LedgerPage is one page of ledger entries, newest first. NextCursor is
// the ID of the last entry, nil once the page comes back empty.
type LedgerPage struct {
	Items      []model.LedgerEntry `json:"items"`
	NextCursor *uint64             `json:"nextCursor"`
}

// WalletService glues wallet business logic and the repository.
type WalletService struct {
	repo      repo.RepositoryInterface
	log       *zap.SugaredLogger
	currency  string
	maxCredit int64
}

// NewWalletService returns WalletService.
func NewWalletService(r repo.RepositoryInterface, wcfg config.WalletConfig, logger *zap.SugaredLogger) *WalletService {
	maxCredit := wcfg.MaxCreditAmount
	if maxCredit <= 0 {
		maxCredit = 1_000_000
	}
	currency := wcfg.Currency
	if currency == "" {
		currency = "USD"
	}
	return &WalletService{repo: r, log: logger, currency: currency, maxCredit: maxCredit}
}

// Summary computes aggregate statistics over all users' balances,
// served from the Redis cache when fresh. The average is taken over
// users holding a positive balance only.
func (s *WalletService) Summary(ctx context.Context) (*model.WalletSummary, error) {
	if cached, err := s.repo.GetCachedSummary(ctx); err == nil {
		return cached, nil
	}

	agg, err := s.repo.WalletAggregate(ctx)
	if err != nil {
		return nil, err
	}
	sum := &model.WalletSummary{
		TotalUsers:         agg.TotalUsers,
		UsersWithBalance:   agg.UsersWithBalance,
		TotalWalletBalance: agg.TotalBalance,
		MaxWalletBalance:   agg.MaxBalance,
	}
	if agg.UsersWithBalance > 0 {
		avg := decimal.NewFromInt(agg.TotalBalance).
			DivRound(decimal.NewFromInt(agg.UsersWithBalance), 2)
		sum.AvgWalletBalance, _ = avg.Float64()
	}

	if err := s.repo.CacheSummary(ctx, sum); err != nil {
		s.log.Warnf("cache summary: %v", err)
	}
	return sum, nil
}

// IssueCredit atomically increases a user's balance and appends the
// matching ledger row. Both writes commit together or not at all.
// rawAmount is rounded to the nearest whole unit before validation.
func (s *WalletService) IssueCredit(ctx context.Context, userID uint64, rawAmount float64, note string, actor Actor) (*CreditResult, error) {
	if userID == 0 {
		return nil, apperr.Validationf("invalid user id")
	}
	if math.IsNaN(rawAmount) || math.IsInf(rawAmount, 0) {
		return nil, apperr.Validationf("amount must be a finite number")
	}
	amount := int64(math.Round(rawAmount))
	if amount <= 0 {
		return nil, apperr.Validationf("amount must be positive")
	}
	if amount > s.maxCredit {
		return nil, apperr.Validationf("amount exceeds maximum of %d", s.maxCredit)
	}
	note = strings.TrimSpace(note)
	if note == "" {
		note = defaultCreditNote
	}
	if runes := []rune(note); len(runes) > maxNoteLen {
		note = string(runes[:maxNoteLen])
	}

	var result *CreditResult
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := s.repo.GetUserForUpdate(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFoundf("user %d not found", userID)
			}
			return err
		}

		before := u.WalletBalance
		after := before + amount
		if after < 0 {
			after = 0
		}
		if err := s.repo.AddToBalance(ctx, tx, userID, after-before); err != nil {
			return err
		}

		t := &model.WalletTransaction{
			UserID:          userID,
			Type:            model.TxTypeCredit,
			Amount:          amount,
			Currency:        s.currency,
			Reason:          model.ReasonAdminAdjustment,
			Description:     note,
			BalanceBefore:   before,
			BalanceAfter:    after,
			CreatedBy:       actor.Email,
			CreatedByUserID: actor.UserID,
		}
		if err := s.repo.CreateTransaction(ctx, tx, t); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"user_id": userID,
			"amount":  amount,
			"balance": after,
			"reason":  model.ReasonAdminAdjustment,
		})
		evt := &model.OutboxEvent{
			Aggregate:   "User",
			AggregateID: userID,
			EventType:   model.EventWalletCredited,
			Payload:     string(payload),
		}
		if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
			return err
		}

		result = &CreditResult{
			UserID:        userID,
			Amount:        amount,
			Note:          note,
			WalletBalance: after,
			CreatedAt:     t.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.InvalidateSummary(ctx); err != nil {
		s.log.Warnf("invalidate summary cache: %v", err)
	}
	s.log.Infow("wallet credit issued",
		"user_id", result.UserID, "amount", result.Amount, "balance", result.WalletBalance,
		"actor_id", actor.UserID)
	return result, nil
}

// ListTransactions reads one ledger page, newest first by ID.
func (s *WalletService) ListTransactions(ctx context.Context, q ListQuery) (*LedgerPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	rows, err := s.repo.ListTransactions(ctx, repo.ListTransactionsQuery{
		UserID: q.UserID,
		Cursor: q.Cursor,
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}

	page := &LedgerPage{Items: rows}
	if len(rows) > 0 {
		last := rows[len(rows)-1].ID
		page.NextCursor = &last
	}
	if page.Items == nil {
		page.Items = []model.LedgerEntry{}
	}
	return page, nil
}

// Repo exposes underlying repository (unit tests helper).
func (s *WalletService) Repo() repo.RepositoryInterface {
	return s.repo
}
