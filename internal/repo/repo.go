package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/freshplate/wallet-service/internal/model"
)

const (
	summaryCacheKey = "wallet:summary"
	summaryCacheTTL = 60 * time.Second
)

// ListTransactionsQuery narrows the paginated ledger read. Cursor is an
// exclusive upper bound on transaction ID.
type ListTransactionsQuery struct {
	UserID *uint64
	Cursor *uint64
	Limit  int
}

// RepositoryInterface restricts repo methods so the service can be
// tested against a narrow surface.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	GetUserForUpdate(ctx context.Context, tx *gorm.DB, userID uint64) (*model.User, error)
	AddToBalance(ctx context.Context, tx *gorm.DB, userID uint64, delta int64) error
	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.WalletTransaction) error
	ListTransactions(ctx context.Context, q ListTransactionsQuery) ([]model.LedgerEntry, error)
	WalletAggregate(ctx context.Context) (*WalletAggregate, error)
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	CacheSummary(ctx context.Context, s *model.WalletSummary) error
	GetCachedSummary(ctx context.Context) (*model.WalletSummary, error)
	InvalidateSummary(ctx context.Context) error
}

// WalletAggregate is the raw aggregation row over the users table.
type WalletAggregate struct {
	TotalUsers       int64
	UsersWithBalance int64
	TotalBalance     int64
	MaxBalance       int64
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// GetUserForUpdate locks the user row for the duration of the
// surrounding transaction, serializing balance changes per user.
func (r *Repository) GetUserForUpdate(ctx context.Context, tx *gorm.DB, userID uint64) (*model.User, error) {
	var u model.User
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", userID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// AddToBalance applies a signed delta via a SQL expression so the
// stored balance is never computed from a stale application-side read.
func (r *Repository) AddToBalance(ctx context.Context, tx *gorm.DB, userID uint64, delta int64) error {
	res := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"wallet_balance": gorm.Expr("wallet_balance + ?", delta),
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateTransaction appends a ledger row.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.WalletTransaction) error {
	return tx.WithContext(ctx).Create(t).Error
}

// ListTransactions reads one ledger page, newest first by ID, with the
// owning user's email and name joined in.
func (r *Repository) ListTransactions(ctx context.Context, q ListTransactionsQuery) ([]model.LedgerEntry, error) {
	query := r.db.WithContext(ctx).
		Table("wallet_transactions AS t").
		Select("t.id, t.user_id, t.type, t.amount, t.currency, t.reason, t.description, " +
			"t.balance_before, t.balance_after, t.created_by, t.created_by_user_id, t.created_at, " +
			"u.email AS user_email, u.name AS user_name").
		Joins("LEFT JOIN users u ON u.id = t.user_id").
		Order("t.id DESC").
		Limit(q.Limit)
	if q.UserID != nil {
		query = query.Where("t.user_id = ?", *q.UserID)
	}
	if q.Cursor != nil {
		query = query.Where("t.id < ?", *q.Cursor)
	}
	var rows []model.LedgerEntry
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// WalletAggregate runs the summary aggregation in a single statement.
func (r *Repository) WalletAggregate(ctx context.Context) (*WalletAggregate, error) {
	var agg WalletAggregate
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS total_users,
		        COALESCE(SUM(CASE WHEN wallet_balance > 0 THEN 1 ELSE 0 END), 0) AS users_with_balance,
		        COALESCE(SUM(wallet_balance), 0) AS total_balance,
		        COALESCE(MAX(wallet_balance), 0) AS max_balance
		 FROM users`).Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = false").Order("id").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka, keyed by aggregate so one user's events
// stay ordered within a partition.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s-%d", evt.Aggregate, evt.AggregateID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheSummary stores the computed summary in Redis with a short TTL.
func (r *Repository) CacheSummary(ctx context.Context, s *model.WalletSummary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, summaryCacheKey, data, summaryCacheTTL).Err()
}

// GetCachedSummary reads the cached summary; any Redis error is a miss.
func (r *Repository) GetCachedSummary(ctx context.Context) (*model.WalletSummary, error) {
	data, err := r.rdb.Get(ctx, summaryCacheKey).Bytes()
	if err != nil {
		return nil, err
	}
	var s model.WalletSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// InvalidateSummary drops the cached summary after a balance change.
func (r *Repository) InvalidateSummary(ctx context.Context) error {
	return r.rdb.Del(ctx, summaryCacheKey).Err()
}
