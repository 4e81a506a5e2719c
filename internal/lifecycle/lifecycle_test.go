package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"optout-sentry-go/internal/activity"
	"optout-sentry-go/internal/apperr"
	"optout-sentry-go/internal/model"
)

type stubSender struct {
	err    error
	calls  int
	lastTo string
}

func (s *stubSender) SendMessage(_ context.Context, _ *model.User, to, _, _ string) (string, string, error) {
	s.calls++
	s.lastTo = to
	if s.err != nil {
		return "", "", s.err
	}
	return "sent-msg-1", "sent-thread-1", nil
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.User{}, &model.DataBroker{}, &model.DeletionRequest{},
		&model.BrokerResponse{}, &model.ActivityLog{},
	))
	return db
}

func testService(t *testing.T, db *gorm.DB, sender *stubSender) *Service {
	t.Helper()
	return NewService(db, sender, activity.NewLogger(db), 0)
}

func seedUserAndBroker(t *testing.T, db *gorm.DB) (*model.User, *model.DataBroker) {
	t.Helper()
	user := &model.User{Email: "alice@example.com"}
	require.NoError(t, db.Create(user).Error)

	broker := &model.DataBroker{
		Name:         "Acme Data",
		Domains:      model.StringList{"acmedata.com"},
		PrivacyEmail: "privacy@acmedata.com",
	}
	require.NoError(t, db.Create(broker).Error)
	return user, broker
}

func TestCreateRequest(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, &stubSender{})
	user, broker := seedUserAndBroker(t, db)

	request, warning, err := svc.CreateRequest(user, broker, "gdpr", "")
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Equal(t, model.StatusPending, request.Status)
	assert.Equal(t, model.SourceManual, request.Source)
	assert.NotEmpty(t, request.GeneratedEmailSubject)
	assert.Contains(t, request.GeneratedEmailBody, broker.Name)
	assert.Contains(t, request.GeneratedEmailBody, user.Email)
}

func TestCreateRequestConflictsWithActiveRequest(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, &stubSender{})
	user, broker := seedUserAndBroker(t, db)

	_, _, err := svc.CreateRequest(user, broker, "gdpr", "")
	require.NoError(t, err)

	_, _, err = svc.CreateRequest(user, broker, "gdpr", "")
	assert.True(t, apperr.IsConflict(err))
}

func TestCreateRequestWarnsAfterRecentTerminal(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, &stubSender{})
	user, broker := seedUserAndBroker(t, db)

	previous := &model.DeletionRequest{
		UserID:   user.ID,
		BrokerID: broker.ID,
		Status:   model.StatusConfirmed,
	}
	require.NoError(t, db.Create(previous).Error)
	require.NoError(t, db.Model(previous).
		Update("created_at", time.Now().Add(-10*24*time.Hour)).Error)

	request, warning, err := svc.CreateRequest(user, broker, "gdpr", "")
	require.NoError(t, err)
	assert.NotNil(t, request)
	assert.Contains(t, warning, broker.Name)
	assert.Contains(t, warning, "10 day(s) ago")
}

func TestCreateRequestNoWarningAfterOldTerminal(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, &stubSender{})
	user, broker := seedUserAndBroker(t, db)

	previous := &model.DeletionRequest{
		UserID:   user.ID,
		BrokerID: broker.ID,
		Status:   model.StatusRejected,
	}
	require.NoError(t, db.Create(previous).Error)
	require.NoError(t, db.Model(previous).
		Update("created_at", time.Now().Add(-45*24*time.Hour)).Error)

	_, warning, err := svc.CreateRequest(user, broker, "gdpr", "")
	require.NoError(t, err)
	assert.Empty(t, warning)
}

func TestSendRequestEmailSuccess(t *testing.T) {
	db := testDB(t)
	sender := &stubSender{}
	svc := testService(t, db, sender)
	user, broker := seedUserAndBroker(t, db)

	request, _, err := svc.CreateRequest(user, broker, "gdpr", "")
	require.NoError(t, err)

	sent, err := svc.SendRequestEmail(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, sent.Status)
	assert.NotNil(t, sent.SentAt)
	assert.Equal(t, "sent-msg-1", sent.GmailSentMessageID)
	assert.Equal(t, "sent-thread-1", sent.GmailThreadID)
	assert.Equal(t, 1, sent.SendAttempts)
	assert.Equal(t, broker.PrivacyEmail, sender.lastTo)
}

func TestSendRequestEmailRejectsNonPending(t *testing.T) {
	db := testDB(t)
	sender := &stubSender{}
	svc := testService(t, db, sender)
	user, broker := seedUserAndBroker(t, db)

	request, _, err := svc.CreateRequest(user, broker, "gdpr", "")
	require.NoError(t, err)

	_, err = svc.SendRequestEmail(context.Background(), request.ID)
	require.NoError(t, err)

	_, err = svc.SendRequestEmail(context.Background(), request.ID)
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, 1, sender.calls)
}

func TestSendRequestEmailQuotaBackoff(t *testing.T) {
	db := testDB(t)
	sender := &stubSender{err: &apperr.QuotaExceededError{Msg: "rate limited", RetryAfter: 60}}
	svc := testService(t, db, sender)
	user, broker := seedUserAndBroker(t, db)

	request, _, err := svc.CreateRequest(user, broker, "gdpr", "")
	require.NoError(t, err)

	_, err = svc.SendRequestEmail(context.Background(), request.ID)
	require.True(t, apperr.IsQuotaExceeded(err))

	var quotaErr *apperr.QuotaExceededError
	require.True(t, errors.As(err, &quotaErr))
	assert.Equal(t, 120, quotaErr.RetryAfter)

	stored, err := svc.GetRequest(request.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
	assert.Equal(t, 1, stored.SendAttempts)
	require.NotNil(t, stored.NextRetryAt)
	assert.True(t, stored.NextRetryAt.After(time.Now()))
	assert.Contains(t, stored.LastSendError, "Rate limited")

	// A retry before the backoff expires is refused without calling the sender.
	_, err = svc.SendRequestEmail(context.Background(), request.ID)
	assert.True(t, apperr.IsRetryLater(err))
	assert.Equal(t, 1, sender.calls)
}

func TestSendRequestEmailQuotaBackoffGrowsAndCaps(t *testing.T) {
	db := testDB(t)
	sender := &stubSender{err: &apperr.QuotaExceededError{Msg: "rate limited", RetryAfter: 60}}
	svc := testService(t, db, sender)
	user, broker := seedUserAndBroker(t, db)

	request, _, err := svc.CreateRequest(user, broker, "gdpr", "")
	require.NoError(t, err)

	var delays []int
	for i := 0; i < 7; i++ {
		// Clear the pending backoff so each attempt reaches the sender.
		require.NoError(t, db.Model(&model.DeletionRequest{}).
			Where("id = ?", request.ID).
			Update("next_retry_at", nil).Error)

		_, err = svc.SendRequestEmail(context.Background(), request.ID)
		var quotaErr *apperr.QuotaExceededError
		require.True(t, errors.As(err, &quotaErr))
		delays = append(delays, quotaErr.RetryAfter)
	}

	// Doubling stops once the exponent cap is reached.
	assert.Equal(t, []int{120, 240, 480, 960, 1920, 1920, 1920}, delays)
}

func TestSendRequestEmailPermissionFailure(t *testing.T) {
	db := testDB(t)
	sender := &stubSender{err: &apperr.PermissionError{Msg: "insufficient scopes"}}
	svc := testService(t, db, sender)
	user, broker := seedUserAndBroker(t, db)

	request, _, err := svc.CreateRequest(user, broker, "gdpr", "")
	require.NoError(t, err)

	_, err = svc.SendRequestEmail(context.Background(), request.ID)
	assert.True(t, apperr.IsPermission(err))

	stored, err := svc.GetRequest(request.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
	assert.NotEmpty(t, stored.LastSendError)
	assert.Nil(t, stored.NextRetryAt)
}

func TestApplyClassificationConfirms(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, &stubSender{})
	user, broker := seedUserAndBroker(t, db)

	request, _, err := svc.CreateRequest(user, broker, "gdpr", "")
	require.NoError(t, err)
	_, err = svc.SendRequestEmail(context.Background(), request.ID)
	require.NoError(t, err)

	transitioned, err := svc.ApplyClassification(request.ID, model.ResponseConfirmation, 0.9)
	require.NoError(t, err)
	assert.True(t, transitioned)

	stored, err := svc.GetRequest(request.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, stored.Status)
	assert.NotNil(t, stored.ConfirmedAt)
}

func TestApplyClassificationBelowThreshold(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, &stubSender{})
	user, broker := seedUserAndBroker(t, db)

	request, _, err := svc.CreateRequest(user, broker, "gdpr", "")
	require.NoError(t, err)
	_, err = svc.SendRequestEmail(context.Background(), request.ID)
	require.NoError(t, err)

	transitioned, err := svc.ApplyClassification(request.ID, model.ResponseRejection, 0.5)
	require.NoError(t, err)
	assert.False(t, transitioned)

	stored, err := svc.GetRequest(request.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, stored.Status)
}

func TestApplyClassificationIgnoresNonTerminalTypes(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, &stubSender{})
	user, broker := seedUserAndBroker(t, db)

	request, _, err := svc.CreateRequest(user, broker, "gdpr", "")
	require.NoError(t, err)
	_, err = svc.SendRequestEmail(context.Background(), request.ID)
	require.NoError(t, err)

	transitioned, err := svc.ApplyClassification(request.ID, model.ResponseAcknowledgment, 0.95)
	require.NoError(t, err)
	assert.False(t, transitioned)
}

func TestApplyClassificationNeverReversesTerminal(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, &stubSender{})
	user, broker := seedUserAndBroker(t, db)

	request, _, err := svc.CreateRequest(user, broker, "gdpr", "")
	require.NoError(t, err)
	_, err = svc.SendRequestEmail(context.Background(), request.ID)
	require.NoError(t, err)

	_, err = svc.ApplyClassification(request.ID, model.ResponseConfirmation, 0.9)
	require.NoError(t, err)

	transitioned, err := svc.ApplyClassification(request.ID, model.ResponseRejection, 0.99)
	require.NoError(t, err)
	assert.False(t, transitioned)

	stored, err := svc.GetRequest(request.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, stored.Status)
}

func TestUpdateStatusManualOverride(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, &stubSender{})
	user, broker := seedUserAndBroker(t, db)

	request, _, err := svc.CreateRequest(user, broker, "gdpr", "")
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(request.ID, "confirmed", "confirmed over the phone")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, updated.Status)
	assert.NotNil(t, updated.ConfirmedAt)
	assert.Equal(t, "confirmed over the phone", updated.Notes)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, &stubSender{})
	user, broker := seedUserAndBroker(t, db)

	request, _, err := svc.CreateRequest(user, broker, "gdpr", "")
	require.NoError(t, err)

	_, err = svc.UpdateStatus(request.ID, "bogus", "")
	assert.True(t, apperr.IsValidation(err))
}

func TestDeleteRequestSoftDeletes(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, &stubSender{})
	user, broker := seedUserAndBroker(t, db)

	request, _, err := svc.CreateRequest(user, broker, "gdpr", "")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRequest(request.ID))

	_, err = svc.GetRequest(request.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.ErrorIs(t, svc.DeleteRequest(request.ID), apperr.ErrNotFound)

	// The row survives as a soft-deleted record.
	var count int64
	require.NoError(t, db.Unscoped().Model(&model.DeletionRequest{}).
		Where("id = ?", request.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
