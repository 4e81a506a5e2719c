// Package activity writes the user-facing audit trail. Logging is
// fire-and-forget: a failed write is reported at warn level and never
// propagated, so the audit sink cannot abort the pipeline.
package activity

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"optout-sentry-go/internal/model"
)

// Related carries optional entity references attached to a log entry.
type Related struct {
	BrokerID          *uuid.UUID
	DeletionRequestID *uuid.UUID
	ResponseID        *uuid.UUID
}

// Logger records audit events for users.
type Logger struct {
	db *gorm.DB
}

// NewLogger creates an activity logger backed by the given database.
func NewLogger(db *gorm.DB) *Logger {
	return &Logger{db: db}
}

// LogActivity appends an audit entry. Failures are swallowed after a warning.
func (l *Logger) LogActivity(userID uuid.UUID, activityType model.ActivityType, message, details string, related Related) {
	entry := model.ActivityLog{
		UserID:            userID,
		ActivityType:      activityType,
		Message:           message,
		Details:           details,
		BrokerID:          related.BrokerID,
		DeletionRequestID: related.DeletionRequestID,
		ResponseID:        related.ResponseID,
	}
	if err := l.db.Create(&entry).Error; err != nil {
		logrus.Warnf("Failed to write activity log for user %s: %v", userID, err)
	}
}

// UserActivities returns recent audit entries for a user, newest first.
func (l *Logger) UserActivities(userID uuid.UUID, limit int) ([]model.ActivityLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []model.ActivityLog
	err := l.db.
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
