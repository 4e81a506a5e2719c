package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestStatus is the lifecycle state of a deletion request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusSent      RequestStatus = "sent"
	StatusConfirmed RequestStatus = "confirmed"
	StatusRejected  RequestStatus = "rejected"
)

// ParseRequestStatus validates a status string and returns the typed value.
func ParseRequestStatus(s string) (RequestStatus, error) {
	switch RequestStatus(s) {
	case StatusPending, StatusSent, StatusConfirmed, StatusRejected:
		return RequestStatus(s), nil
	}
	return "", fmt.Errorf("invalid request status: %q", s)
}

// IsTerminal reports whether the status allows no further automatic transitions.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusRejected
}

// Request sources
const (
	SourceManual         = "manual"
	SourceAutoDiscovered = "auto_discovered"
)

// DeletionRequest represents a tracked data-deletion request sent to a broker
type DeletionRequest struct {
	ID       uuid.UUID     `json:"id" gorm:"type:char(36);primaryKey"`
	UserID   uuid.UUID     `json:"user_id" gorm:"type:char(36);not null;index"`
	BrokerID uuid.UUID     `json:"broker_id" gorm:"type:char(36);not null;index"`
	Status   RequestStatus `json:"status" gorm:"type:varchar(20);not null;default:pending"`
	Source   string        `json:"source" gorm:"type:varchar(20);not null;default:manual"`

	GeneratedEmailSubject string `json:"generated_email_subject" gorm:"type:varchar(512)"`
	GeneratedEmailBody    string `json:"generated_email_body" gorm:"type:text"`

	SentAt      *time.Time `json:"sent_at"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
	RejectedAt  *time.Time `json:"rejected_at"`

	GmailSentMessageID string `json:"gmail_sent_message_id" gorm:"type:varchar(255);index"`
	GmailThreadID      string `json:"gmail_thread_id" gorm:"type:varchar(255);index"`

	LastSendError string     `json:"last_send_error" gorm:"type:text"`
	SendAttempts  int        `json:"send_attempts" gorm:"not null;default:0"`
	NextRetryAt   *time.Time `json:"next_retry_at"`

	Notes string `json:"notes" gorm:"type:text"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`

	// Relationship
	Responses []BrokerResponse `json:"responses,omitempty" gorm:"foreignKey:DeletionRequestID"`
}

// TableName specifies the table name for DeletionRequest
func (DeletionRequest) TableName() string {
	return "deletion_requests"
}

// BeforeCreate assigns a UUID primary key when one is not set
func (r *DeletionRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
