package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperadmin = "superadmin"
)

// User is owned by the account system; the billing core only references it
// and maintains the cached credit balance.
type User struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email            string    `gorm:"not null;size:255;uniqueIndex" json:"email"`
	Role             string    `gorm:"size:20;default:'user'" json:"role"`
	StripeCustomerID string    `gorm:"size:255;index" json:"-"`
	// Cached running total, maintained in the same transaction as each ledger
	// entry. The authoritative balance is the sum over ledger_entries.
	CreditBalance int64          `gorm:"not null;default:0" json:"credit_balance"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.Role == RoleSuperadmin
}
