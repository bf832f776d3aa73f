package models

import (
	"time"

	"github.com/google/uuid"
)

// Customer is the read-only projection of the identity service's user row.
type Customer struct {
	ID              uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Name            string     `gorm:"column:name;not null"`
	Email           string     `gorm:"column:email;not null"`
	Phone           *string    `gorm:"column:phone"`
	PhoneVerifiedAt *time.Time `gorm:"column:phone_verified_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// HasVerifiedPhone reports whether checkout may proceed for the customer.
func (c Customer) HasVerifiedPhone() bool {
	return c.Phone != nil && *c.Phone != "" && c.PhoneVerifiedAt != nil
}
