package model

import "time"

const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

// User is the platform account row. Only the wallet fields are owned by
// this service; profile fields are written by the account service.
// WalletBalance is in currency minor units and never goes negative.
type User struct {
	ID            uint64    `gorm:"primaryKey"`
	Email         string    `gorm:"size:255;uniqueIndex;not null"`
	Name          string    `gorm:"size:255;not null"`
	Role          string    `gorm:"size:32;not null;default:'customer'"`
	WalletBalance int64     `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (User) TableName() string { return "users" }
