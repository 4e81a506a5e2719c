package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActivityType categorizes audit log entries.
type ActivityType string

const (
	ActivityRequestCreated   ActivityType = "request_created"
	ActivityRequestSent      ActivityType = "request_sent"
	ActivityResponseReceived ActivityType = "response_received"
	ActivityResponseScanned  ActivityType = "response_scanned"
	ActivityError            ActivityType = "error"
	ActivityWarning          ActivityType = "warning"
	ActivityInfo             ActivityType = "info"
)

// ActivityLog is an append-only audit record of user-visible pipeline events
type ActivityLog struct {
	ID     uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	UserID uuid.UUID `json:"user_id" gorm:"type:char(36);not null;index"`

	ActivityType ActivityType `json:"activity_type" gorm:"type:varchar(32);not null;index"`
	Message      string       `json:"message" gorm:"type:varchar(1024);not null"`
	Details      string       `json:"details" gorm:"type:text"`

	BrokerID          *uuid.UUID `json:"broker_id" gorm:"type:char(36);index"`
	DeletionRequestID *uuid.UUID `json:"deletion_request_id" gorm:"type:char(36);index"`
	ResponseID        *uuid.UUID `json:"response_id" gorm:"type:char(36);index"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName specifies the table name for ActivityLog
func (ActivityLog) TableName() string {
	return "activity_logs"
}

// BeforeCreate assigns a UUID primary key when one is not set
func (a *ActivityLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
