package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User represents an account whose mailbox is scanned and whose deletion
// requests are tracked. OAuth tokens are stored by the auth layer; the core
// only reads them to build per-user mail clients.
type User struct {
	ID    uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	Email string    `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`

	AccessToken  string `json:"-" gorm:"type:text"`
	RefreshToken string `json:"-" gorm:"type:text"`

	LastScanAt *time.Time `json:"last_scan_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

// BeforeCreate assigns a UUID primary key when one is not set
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
