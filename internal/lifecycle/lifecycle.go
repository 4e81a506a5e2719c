// Package lifecycle drives the deletion-request state machine: creation with
// duplicate detection, the send path with quota-aware exponential backoff,
// classification-driven transitions, and manual status overrides.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"optout-sentry-go/internal/activity"
	"optout-sentry-go/internal/apperr"
	"optout-sentry-go/internal/mail"
	"optout-sentry-go/internal/model"
	"optout-sentry-go/internal/templates"
)

const (
	// repeatWarningWindow is how recently a terminal request must have been
	// created for a new one to draw a "may not be necessary" warning.
	repeatWarningWindow = 30 * 24 * time.Hour

	// maxBackoff caps the quota backoff delay.
	maxBackoff = 3600 * time.Second

	// defaultRetryBase is used when the provider suggests no retry interval.
	defaultRetryBase = 60

	// backoffExponentCap bounds the doubling so the delay formula stays in
	// integer range regardless of attempt count.
	backoffExponentCap = 5

	// DefaultConfidenceThreshold gates automatic status transitions from
	// classification results.
	DefaultConfidenceThreshold = 0.6
)

// Service owns deletion-request state transitions.
type Service struct {
	db        *gorm.DB
	sender    mail.Sender
	audit     *activity.Logger
	threshold float64
}

// NewService creates a lifecycle service. threshold <= 0 selects the default
// confidence threshold.
func NewService(db *gorm.DB, sender mail.Sender, audit *activity.Logger, threshold float64) *Service {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &Service{db: db, sender: sender, audit: audit, threshold: threshold}
}

// WithTx returns a Service bound to the given transaction.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{db: tx, sender: s.sender, audit: s.audit, threshold: s.threshold}
}

// CreateRequest creates a PENDING deletion request for (user, broker). An
// active PENDING/SENT request for the pair is a conflict. A terminal request
// created within the last 30 days does not block creation but produces a
// non-fatal warning string.
func (s *Service) CreateRequest(user *model.User, broker *model.DataBroker, framework, source string) (*model.DeletionRequest, string, error) {
	var existing model.DeletionRequest
	err := s.db.
		Where("user_id = ? AND broker_id = ?", user.ID, broker.ID).
		Order("created_at DESC").
		First(&existing).Error

	warning := ""
	switch {
	case err == nil:
		if existing.Status == model.StatusPending || existing.Status == model.StatusSent {
			return nil, "", apperr.Conflict("deletion request already in progress for %s", broker.Name)
		}
		if since := time.Since(existing.CreatedAt); since < repeatWarningWindow {
			days := int(since.Hours() / 24)
			warning = fmt.Sprintf(
				"You requested deletion from %s %d day(s) ago. Submitting a new request now may not be necessary.",
				broker.Name, days)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		// First request for this pair.
	default:
		return nil, "", fmt.Errorf("failed to look up existing request: %w", err)
	}

	if source == "" {
		source = model.SourceManual
	}

	subject, body := templates.Generate(user.Email, broker.Name, framework)

	request := model.DeletionRequest{
		UserID:                user.ID,
		BrokerID:              broker.ID,
		Status:                model.StatusPending,
		Source:                source,
		GeneratedEmailSubject: subject,
		GeneratedEmailBody:    body,
	}
	if err := s.db.Create(&request).Error; err != nil {
		return nil, "", fmt.Errorf("failed to create deletion request: %w", err)
	}

	s.audit.LogActivity(user.ID, model.ActivityRequestCreated,
		fmt.Sprintf("Deletion request created for %s", broker.Name), "",
		activity.Related{BrokerID: &broker.ID, DeletionRequestID: &request.ID})

	return &request, warning, nil
}

// GetRequest returns a deletion request by id.
func (s *Service) GetRequest(id uuid.UUID) (*model.DeletionRequest, error) {
	var request model.DeletionRequest
	if err := s.db.First(&request, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return &request, nil
}

// ListUserRequests returns a user's deletion requests, newest first.
func (s *Service) ListUserRequests(userID uuid.UUID) ([]model.DeletionRequest, error) {
	var requests []model.DeletionRequest
	err := s.db.
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	return requests, nil
}

// DeleteRequest soft-deletes a request. Deleted requests are excluded from
// active lookups and are never resurrected by later scans.
func (s *Service) DeleteRequest(id uuid.UUID) error {
	result := s.db.Delete(&model.DeletionRequest{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete request: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// SendRequestEmail sends the generated email for a PENDING request. The
// attempt counter is incremented before the send so backoff grows even when
// the provider keeps failing. Outcomes:
//
//   - success: request moves to SENT with the provider's message and thread
//     ids; error and retry fields are cleared.
//   - permission failure: error recorded, PermissionError returned, request
//     stays PENDING; the backoff mechanism never retries these.
//   - quota failure: next_retry_at set to now + min(3600s, base*2^min(n,5)),
//     audit entry written, QuotaExceededError returned, request stays PENDING.
//   - anything else: error recorded and returned, request stays PENDING.
func (s *Service) SendRequestEmail(ctx context.Context, requestID uuid.UUID) (*model.DeletionRequest, error) {
	request, err := s.GetRequest(requestID)
	if err != nil {
		return nil, err
	}

	if request.Status != model.StatusPending {
		return nil, apperr.Validation("cannot send request with status %q", request.Status)
	}

	if request.NextRetryAt != nil && request.NextRetryAt.After(time.Now()) {
		return nil, &apperr.RetryLaterError{RetryAt: *request.NextRetryAt}
	}

	var user model.User
	if err := s.db.First(&user, "id = ?", request.UserID).Error; err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	var broker model.DataBroker
	if err := s.db.First(&broker, "id = ?", request.BrokerID).Error; err != nil {
		return nil, fmt.Errorf("failed to load broker: %w", err)
	}

	if broker.PrivacyEmail == "" {
		return nil, apperr.Validation("broker %s has no privacy email configured", broker.Name)
	}

	request.SendAttempts++

	messageID, threadID, sendErr := s.sender.SendMessage(ctx, &user,
		broker.PrivacyEmail, request.GeneratedEmailSubject, request.GeneratedEmailBody)

	if sendErr == nil {
		now := time.Now()
		request.Status = model.StatusSent
		request.SentAt = &now
		request.GmailSentMessageID = messageID
		request.GmailThreadID = threadID
		request.LastSendError = ""
		request.NextRetryAt = nil
		if err := s.db.Save(request).Error; err != nil {
			return nil, fmt.Errorf("failed to persist sent request: %w", err)
		}

		s.audit.LogActivity(user.ID, model.ActivityRequestSent,
			fmt.Sprintf("Deletion request sent to %s", broker.Name), "",
			activity.Related{BrokerID: &broker.ID, DeletionRequestID: &request.ID})

		logrus.Infof("Deletion request %s sent to %s", request.ID, broker.PrivacyEmail)
		return request, nil
	}

	return nil, s.handleSendFailure(request, &broker, sendErr)
}

// handleSendFailure records the failure and translates it into the caller's
// error taxonomy. The request stays PENDING in every branch.
func (s *Service) handleSendFailure(request *model.DeletionRequest, broker *model.DataBroker, sendErr error) error {
	var permErr *apperr.PermissionError
	if errors.As(sendErr, &permErr) {
		request.LastSendError = permErr.Error()
		if err := s.db.Save(request).Error; err != nil {
			logrus.Errorf("Failed to record send error on request %s: %v", request.ID, err)
		}
		return &apperr.PermissionError{
			Msg: "insufficient permissions, re-authorize with the mail send scope",
		}
	}

	var quotaErr *apperr.QuotaExceededError
	if errors.As(sendErr, &quotaErr) {
		base := quotaErr.RetryAfter
		if base <= 0 {
			base = defaultRetryBase
		}

		exponent := request.SendAttempts
		if exponent > backoffExponentCap {
			exponent = backoffExponentCap
		}
		delay := time.Duration(base) * time.Second << exponent
		if delay > maxBackoff {
			delay = maxBackoff
		}

		retryAt := time.Now().Add(delay)
		request.NextRetryAt = &retryAt
		request.LastSendError = fmt.Sprintf(
			"Rate limited by mail provider. Next retry at %s.", retryAt.UTC().Format(time.RFC3339))
		if err := s.db.Save(request).Error; err != nil {
			logrus.Errorf("Failed to record quota backoff on request %s: %v", request.ID, err)
		}

		s.audit.LogActivity(request.UserID, model.ActivityWarning,
			fmt.Sprintf("Mail quota limit while sending request to %s", broker.Name),
			request.LastSendError,
			activity.Related{BrokerID: &broker.ID, DeletionRequestID: &request.ID})

		logrus.Warnf("Quota backoff on request %s: attempt %d, retry in %s",
			request.ID, request.SendAttempts, delay)

		return &apperr.QuotaExceededError{
			Msg:        "mail quota exceeded, try again later",
			RetryAfter: int(delay.Seconds()),
		}
	}

	request.LastSendError = sendErr.Error()
	if err := s.db.Save(request).Error; err != nil {
		logrus.Errorf("Failed to record send error on request %s: %v", request.ID, err)
	}
	return fmt.Errorf("failed to send email: %w", sendErr)
}

// ApplyClassification moves a SENT request to CONFIRMED or REJECTED when the
// classification confidence clears the threshold. Terminal requests are never
// transitioned automatically; it reports whether a transition happened.
func (s *Service) ApplyClassification(requestID uuid.UUID, responseType model.ResponseType, confidence float64) (bool, error) {
	if confidence < s.threshold {
		return false, nil
	}

	request, err := s.GetRequest(requestID)
	if err != nil {
		return false, err
	}
	if request.Status != model.StatusSent {
		return false, nil
	}

	now := time.Now()
	switch responseType {
	case model.ResponseConfirmation:
		request.Status = model.StatusConfirmed
		request.ConfirmedAt = &now
	case model.ResponseRejection:
		request.Status = model.StatusRejected
		request.RejectedAt = &now
	default:
		return false, nil
	}

	if err := s.db.Save(request).Error; err != nil {
		return false, fmt.Errorf("failed to persist status transition: %w", err)
	}

	logrus.Infof("Request %s transitioned to %s (confidence %.2f)", request.ID, request.Status, confidence)
	return true, nil
}

// UpdateStatus applies a manual operator override, unconstrained by the
// automatic state machine. Timestamps are stamped per target status.
func (s *Service) UpdateStatus(requestID uuid.UUID, status string, notes string) (*model.DeletionRequest, error) {
	parsed, err := model.ParseRequestStatus(status)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}

	request, err := s.GetRequest(requestID)
	if err != nil {
		return nil, err
	}

	request.Status = parsed
	if notes != "" {
		request.Notes = notes
	}

	now := time.Now()
	switch parsed {
	case model.StatusSent:
		request.SentAt = &now
	case model.StatusConfirmed:
		request.ConfirmedAt = &now
	case model.StatusRejected:
		request.RejectedAt = &now
	}

	if err := s.db.Save(request).Error; err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	return request, nil
}
