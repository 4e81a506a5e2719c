package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Scan job types
const (
	JobTypeResponseScan = "response_scan"
	JobTypeDailyFanOut  = "daily_fanout"
)

// Scan job statuses
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// ScanJob records the outcome of a background scan job, including retries.
type ScanJob struct {
	ID      uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	UserID  *uuid.UUID `json:"user_id" gorm:"type:char(36);index"`
	JobType string     `json:"job_type" gorm:"type:varchar(32);not null;index"`
	Status  string     `json:"status" gorm:"type:varchar(20);not null;default:queued"`

	Attempts  int    `json:"attempts" gorm:"not null;default:0"`
	LastError string `json:"last_error" gorm:"type:text"`

	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for ScanJob
func (ScanJob) TableName() string {
	return "scan_jobs"
}

// BeforeCreate assigns a UUID primary key when one is not set
func (j *ScanJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}
