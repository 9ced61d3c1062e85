package model

import "time"

const (
	TxTypeCredit = "CREDIT"
	TxTypeDebit  = "DEBIT"

	ReasonAdminAdjustment = "ADMIN_ADJUSTMENT"
)

// WalletTransaction is one immutable ledger row: a balance change with
// its before/after snapshot. Rows are inserted in the same database
// transaction as the balance update and never modified afterwards.
// ID is monotonic and doubles as the pagination cursor.
type WalletTransaction struct {
	ID              uint64  `gorm:"primaryKey"`
	UserID          uint64  `gorm:"not null;index"`
	Type            string  `gorm:"size:16;not null"`
	Amount          int64   `gorm:"not null"`
	Currency        string  `gorm:"size:8;not null"`
	Reason          string  `gorm:"size:64;not null"`
	Description     string  `gorm:"size:200;not null"`
	BalanceBefore   int64   `gorm:"not null"`
	BalanceAfter    int64   `gorm:"not null"`
	CreatedBy       string  `gorm:"size:255"`
	CreatedByUserID uint64
	Metadata        *string   `gorm:"type:jsonb"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

// LedgerEntry is a WalletTransaction joined with the owning user's
// minimal profile, as returned by the paginated ledger read.
type LedgerEntry struct {
	ID              uint64    `json:"id"`
	UserID          uint64    `json:"userId"`
	Type            string    `json:"type"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Reason          string    `json:"reason"`
	Description     string    `json:"description"`
	BalanceBefore   int64     `json:"balanceBefore"`
	BalanceAfter    int64     `json:"balanceAfter"`
	CreatedBy       string    `json:"createdBy"`
	CreatedByUserID uint64    `json:"createdByUserId"`
	CreatedAt       time.Time `json:"createdAt"`
	UserEmail       string    `json:"userEmail"`
	UserName        string    `json:"userName"`
}

// WalletSummary aggregates all users' balances. AvgWalletBalance is
// averaged over users holding a positive balance only.
type WalletSummary struct {
	TotalUsers         int64   `json:"totalUsers"`
	UsersWithBalance   int64   `json:"usersWithBalance"`
	TotalWalletBalance int64   `json:"totalWalletBalance"`
	AvgWalletBalance   float64 `json:"avgWalletBalance"`
	MaxWalletBalance   int64   `json:"maxWalletBalance"`
}
