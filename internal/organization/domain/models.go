// Package domain contains persistence models for tenants.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Organization represents a tenant.
type Organization struct {
	ID                 snowflake.ID  `gorm:"primaryKey" json:"id"`
	Name               string        `gorm:"type:text;not null" json:"name"`
	OwnerEmail         string        `gorm:"type:text;column:owner_email" json:"owner_email"`
	ReferredByID       *snowflake.ID `gorm:"column:referred_by_id;index" json:"referred_by_id,omitempty"`
	ReferredByDealerID *snowflake.ID `gorm:"column:referred_by_dealer_id;index" json:"referred_by_dealer_id,omitempty"`
	CreatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }
