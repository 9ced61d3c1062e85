package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/freshplate/wallet-service/internal/apperr"
	"github.com/freshplate/wallet-service/internal/config"
	"github.com/freshplate/wallet-service/internal/logger"
	"github.com/freshplate/wallet-service/internal/model"
	"github.com/freshplate/wallet-service/internal/repo"
)

func newTestService(t *testing.T) (*WalletService, *gorm.DB, redismock.ClientMock, context.Context) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection so concurrent transactions queue instead of
	// fighting over the in-memory database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.WalletTransaction{}, &model.OutboxEvent{}))

	rdb, mock := redismock.NewClientMock()
	log, err := logger.NewLogger()
	require.NoError(t, err)

	repository := repo.NewRepository(db, rdb, &kafka.Writer{}, log)
	svc := NewWalletService(repository, config.WalletConfig{Currency: "USD", MaxCreditAmount: 1_000_000}, log)
	return svc, db, mock, context.Background()
}

func seedUser(t *testing.T, db *gorm.DB, id uint64, balance int64) {
	t.Helper()
	u := &model.User{
		ID:            id,
		Email:         fmt.Sprintf("user%d@freshplate.test", id),
		Name:          fmt.Sprintf("User %d", id),
		Role:          model.RoleCustomer,
		WalletBalance: balance,
	}
	require.NoError(t, db.Create(u).Error)
}

var testActor = Actor{UserID: 99, Email: "admin@freshplate.test"}

func TestIssueCredit_Succeeds(t *testing.T) {
	svc, db, _, ctx := newTestService(t)
	seedUser(t, db, 1, 40)

	res, err := svc.IssueCredit(ctx, 1, 60, "loyalty bonus", testActor)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.UserID)
	assert.Equal(t, int64(60), res.Amount)
	assert.Equal(t, int64(100), res.WalletBalance)
	assert.Equal(t, "loyalty bonus", res.Note)
	assert.False(t, res.CreatedAt.IsZero())

	var u model.User
	require.NoError(t, db.First(&u, 1).Error)
	assert.Equal(t, int64(100), u.WalletBalance)

	var rows []model.WalletTransaction
	require.NoError(t, db.Where("user_id = ?", 1).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, model.TxTypeCredit, rows[0].Type)
	assert.Equal(t, model.ReasonAdminAdjustment, rows[0].Reason)
	assert.Equal(t, int64(60), rows[0].Amount)
	assert.Equal(t, int64(40), rows[0].BalanceBefore)
	assert.Equal(t, int64(100), rows[0].BalanceAfter)
	assert.Equal(t, "USD", rows[0].Currency)
	assert.Equal(t, testActor.Email, rows[0].CreatedBy)
	assert.Equal(t, testActor.UserID, rows[0].CreatedByUserID)
}

func TestIssueCredit_WritesOutboxEvent(t *testing.T) {
	svc, db, _, ctx := newTestService(t)
	seedUser(t, db, 1, 0)

	_, err := svc.IssueCredit(ctx, 1, 100, "", testActor)
	require.NoError(t, err)

	var evts []model.OutboxEvent
	require.NoError(t, db.Find(&evts).Error)
	require.Len(t, evts, 1)
	assert.Equal(t, model.EventWalletCredited, evts[0].EventType)
	assert.Equal(t, uint64(1), evts[0].AggregateID)
	assert.False(t, evts[0].Processed)
	assert.Contains(t, evts[0].Payload, `"amount":100`)
}

func TestIssueCredit_RejectsBadAmounts(t *testing.T) {
	svc, db, _, ctx := newTestService(t)
	seedUser(t, db, 1, 40)

	for _, amount := range []float64{0, -5, 0.4, math.NaN(), math.Inf(1), 1_000_001} {
		_, err := svc.IssueCredit(ctx, 1, amount, "", testActor)
		var ve *apperr.ValidationError
		assert.ErrorAs(t, err, &ve, "amount %v", amount)
	}

	var u model.User
	require.NoError(t, db.First(&u, 1).Error)
	assert.Equal(t, int64(40), u.WalletBalance)

	var count int64
	require.NoError(t, db.Model(&model.WalletTransaction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIssueCredit_RoundsAmount(t *testing.T) {
	svc, db, _, ctx := newTestService(t)
	seedUser(t, db, 1, 0)

	res, err := svc.IssueCredit(ctx, 1, 99.6, "", testActor)
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Amount)

	var u model.User
	require.NoError(t, db.First(&u, 1).Error)
	assert.Equal(t, int64(100), u.WalletBalance)
}

func TestIssueCredit_UnknownUser(t *testing.T) {
	svc, db, _, ctx := newTestService(t)

	_, err := svc.IssueCredit(ctx, 42, 100, "", testActor)
	var nfe *apperr.NotFoundError
	assert.ErrorAs(t, err, &nfe)

	var count int64
	require.NoError(t, db.Model(&model.WalletTransaction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIssueCredit_TruncatesNote(t *testing.T) {
	svc, db, _, ctx := newTestService(t)
	seedUser(t, db, 1, 0)

	res, err := svc.IssueCredit(ctx, 1, 10, strings.Repeat("x", 250), testActor)
	require.NoError(t, err)
	assert.Len(t, res.Note, 200)

	var row model.WalletTransaction
	require.NoError(t, db.Where("user_id = ?", 1).First(&row).Error)
	assert.Len(t, row.Description, 200)
}

func TestIssueCredit_DefaultNote(t *testing.T) {
	svc, _, _, ctx := newTestService(t)
	svcDB := svc.Repo().DB(ctx)
	require.NoError(t, svcDB.Create(&model.User{ID: 1, Email: "a@b.test", Name: "A"}).Error)

	res, err := svc.IssueCredit(ctx, 1, 10, "   ", testActor)
	require.NoError(t, err)
	assert.Equal(t, defaultCreditNote, res.Note)
}

func TestIssueCredit_Concurrent(t *testing.T) {
	svc, db, _, ctx := newTestService(t)
	seedUser(t, db, 1, 0)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.IssueCredit(ctx, 1, 100, "", testActor)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var u model.User
	require.NoError(t, db.First(&u, 1).Error)
	assert.Equal(t, int64(200), u.WalletBalance)

	var rows []model.WalletTransaction
	require.NoError(t, db.Where("user_id = ?", 1).Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	// before/after pairs must chain in some serial order, never both
	// starting from the same balance
	assert.Equal(t, int64(0), rows[0].BalanceBefore)
	assert.Equal(t, int64(100), rows[0].BalanceAfter)
	assert.Equal(t, int64(100), rows[1].BalanceBefore)
	assert.Equal(t, int64(200), rows[1].BalanceAfter)
}

func TestSummary(t *testing.T) {
	svc, db, _, ctx := newTestService(t)
	for i, bal := range []int64{0, 50, 0, 150} {
		seedUser(t, db, uint64(i+1), bal)
	}

	sum, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), sum.TotalUsers)
	assert.Equal(t, int64(2), sum.UsersWithBalance)
	assert.Equal(t, int64(200), sum.TotalWalletBalance)
	assert.Equal(t, float64(100), sum.AvgWalletBalance)
	assert.Equal(t, int64(150), sum.MaxWalletBalance)
}

func TestSummary_NoUsers(t *testing.T) {
	svc, _, _, ctx := newTestService(t)

	sum, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.TotalUsers)
	assert.Zero(t, sum.UsersWithBalance)
	assert.Zero(t, sum.TotalWalletBalance)
	assert.Zero(t, sum.AvgWalletBalance)
	assert.Zero(t, sum.MaxWalletBalance)
}

func TestSummary_CacheHit(t *testing.T) {
	svc, db, mock, ctx := newTestService(t)
	seedUser(t, db, 1, 999)

	mock.ExpectGet("wallet:summary").SetVal(
		`{"totalUsers":7,"usersWithBalance":3,"totalWalletBalance":300,"avgWalletBalance":100,"maxWalletBalance":200}`)

	sum, err := svc.Summary(ctx)
	require.NoError(t, err)
	// served from cache, not from the seeded table
	assert.Equal(t, int64(7), sum.TotalUsers)
	assert.Equal(t, int64(300), sum.TotalWalletBalance)
}

func TestListTransactions_Pagination(t *testing.T) {
	svc, db, _, ctx := newTestService(t)
	seedUser(t, db, 1, 0)
	for i := 0; i < 5; i++ {
		_, err := svc.IssueCredit(ctx, 1, 10, fmt.Sprintf("credit %d", i), testActor)
		require.NoError(t, err)
	}

	var seen []uint64
	var cursor *uint64
	for {
		page, err := svc.ListTransactions(ctx, ListQuery{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		if len(page.Items) == 0 {
			assert.Nil(t, page.NextCursor)
			break
		}
		for _, it := range page.Items {
			seen = append(seen, it.ID)
			assert.Equal(t, "user1@freshplate.test", it.UserEmail)
			assert.Equal(t, "User 1", it.UserName)
		}
		require.NotNil(t, page.NextCursor)
		cursor = page.NextCursor
	}

	// newest first, no overlap, no gap
	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i], seen[i-1])
	}
}

func TestListTransactions_UserFilter(t *testing.T) {
	svc, db, _, ctx := newTestService(t)
	seedUser(t, db, 1, 0)
	seedUser(t, db, 2, 0)
	_, err := svc.IssueCredit(ctx, 1, 10, "", testActor)
	require.NoError(t, err)
	_, err = svc.IssueCredit(ctx, 2, 20, "", testActor)
	require.NoError(t, err)

	uid := uint64(2)
	page, err := svc.ListTransactions(ctx, ListQuery{UserID: &uid})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, uint64(2), page.Items[0].UserID)
	assert.Equal(t, int64(20), page.Items[0].Amount)
}

func TestListTransactions_EmptyLedger(t *testing.T) {
	svc, _, _, ctx := newTestService(t)

	page, err := svc.ListTransactions(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Nil(t, page.NextCursor)
}
