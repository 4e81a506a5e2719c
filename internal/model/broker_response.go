package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ResponseType classifies a broker reply to a deletion request.
type ResponseType string

const (
	ResponseConfirmation   ResponseType = "confirmation"
	ResponseRejection      ResponseType = "rejection"
	ResponseAcknowledgment ResponseType = "acknowledgment"
	ResponseRequestInfo    ResponseType = "request_info"
	ResponseUnknown        ResponseType = "unknown"
)

// Matching strategies, recorded on the response that was matched.
const (
	MatchedByThreadID      = "thread_id"
	MatchedBySubjectSender = "subject_sender"
	MatchedByDomainTime    = "domain_time"
)

// BrokerResponse represents an inbound broker email tied to a deletion request
type BrokerResponse struct {
	ID                uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	UserID            uuid.UUID  `json:"user_id" gorm:"type:char(36);not null;index"`
	DeletionRequestID *uuid.UUID `json:"deletion_request_id" gorm:"type:char(36);index"`

	GmailMessageID string `json:"gmail_message_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	GmailThreadID  string `json:"gmail_thread_id" gorm:"type:varchar(255);index"`

	SenderEmail  string     `json:"sender_email" gorm:"type:varchar(512);not null"`
	Subject      string     `json:"subject" gorm:"type:varchar(1024)"`
	BodyText     string     `json:"body_text" gorm:"type:text"`
	ReceivedDate *time.Time `json:"received_date"`

	ResponseType    ResponseType `json:"response_type" gorm:"type:varchar(20);not null;default:unknown"`
	ConfidenceScore float64      `json:"confidence_score"`
	MatchedBy       string       `json:"matched_by" gorm:"type:varchar(32)"`

	IsProcessed bool       `json:"is_processed" gorm:"not null;default:false"`
	ProcessedAt *time.Time `json:"processed_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for BrokerResponse
func (BrokerResponse) TableName() string {
	return "broker_responses"
}

// BeforeCreate assigns a UUID primary key when one is not set
func (r *BrokerResponse) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
