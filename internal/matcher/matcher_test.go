package matcher

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"optout-sentry-go/internal/brokers"
	"optout-sentry-go/internal/model"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.User{}, &model.DataBroker{}, &model.DeletionRequest{}, &model.BrokerResponse{},
	))
	return db
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

func seedSentRequest(t *testing.T, db *gorm.DB, user *model.User, broker *model.DataBroker, sentAgo time.Duration, threadID string) *model.DeletionRequest {
	t.Helper()
	sentAt := time.Now().Add(-sentAgo)
	request := &model.DeletionRequest{
		UserID:        user.ID,
		BrokerID:      broker.ID,
		Status:        model.StatusSent,
		SentAt:        &sentAt,
		GmailThreadID: threadID,
	}
	require.NoError(t, db.Create(request).Error)
	return request
}

func TestMatchByThreadID(t *testing.T) {
	db := testDB(t)
	user, broker := seedUserAndBroker(t, db)
	request := seedSentRequest(t, db, user, broker, 5*24*time.Hour, "thread-42")

	m := New(db, brokers.NewDirectory(db))
	response := &model.BrokerResponse{
		UserID:        user.ID,
		GmailThreadID: "thread-42",
		SenderEmail:   "noreply@somewhere-else.com",
		Subject:       "completely unrelated subject",
	}

	id, matchedBy, err := m.Match(response)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, request.ID, *id)
	assert.Equal(t, model.MatchedByThreadID, matchedBy)
}

func TestMatchBySubjectAndSender(t *testing.T) {
	db := testDB(t)
	user, broker := seedUserAndBroker(t, db)
	request := seedSentRequest(t, db, user, broker, 10*24*time.Hour, "")

	m := New(db, brokers.NewDirectory(db))
	response := &model.BrokerResponse{
		UserID:      user.ID,
		SenderEmail: "Privacy Team <privacy@acmedata.com>",
		Subject:     "Re: Data Deletion Request",
	}

	id, matchedBy, err := m.Match(response)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, request.ID, *id)
	assert.Equal(t, model.MatchedBySubjectSender, matchedBy)
}

func TestMatchSubjectWithoutReplyIndicatorFallsToDomainTime(t *testing.T) {
	db := testDB(t)
	user, broker := seedUserAndBroker(t, db)
	request := seedSentRequest(t, db, user, broker, 10*24*time.Hour, "")

	m := New(db, brokers.NewDirectory(db))
	response := &model.BrokerResponse{
		UserID:      user.ID,
		SenderEmail: "support@acmedata.com",
		Subject:     "Your account",
	}

	id, matchedBy, err := m.Match(response)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, request.ID, *id)
	assert.Equal(t, model.MatchedByDomainTime, matchedBy)
}

func TestMatchByDomainTimeExcludesAlreadyMatched(t *testing.T) {
	db := testDB(t)
	user, broker := seedUserAndBroker(t, db)

	taken := seedSentRequest(t, db, user, broker, 3*24*time.Hour, "")
	open := seedSentRequest(t, db, user, broker, 8*24*time.Hour, "")

	// Attach an earlier response to the newer request.
	existing := &model.BrokerResponse{
		UserID:            user.ID,
		DeletionRequestID: &taken.ID,
		GmailMessageID:    "msg-existing",
		SenderEmail:       "support@acmedata.com",
		MatchedBy:         model.MatchedByDomainTime,
	}
	require.NoError(t, db.Create(existing).Error)

	m := New(db, brokers.NewDirectory(db))
	response := &model.BrokerResponse{
		UserID:      user.ID,
		SenderEmail: "support@acmedata.com",
		Subject:     "hello",
	}

	id, matchedBy, err := m.Match(response)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, open.ID, *id)
	assert.Equal(t, model.MatchedByDomainTime, matchedBy)
}

func TestMatchThreadIDBeatsLaterTiers(t *testing.T) {
	db := testDB(t)
	user, broker := seedUserAndBroker(t, db)

	threaded := seedSentRequest(t, db, user, broker, 20*24*time.Hour, "thread-7")
	seedSentRequest(t, db, user, broker, 1*24*time.Hour, "")

	m := New(db, brokers.NewDirectory(db))
	response := &model.BrokerResponse{
		UserID:        user.ID,
		GmailThreadID: "thread-7",
		SenderEmail:   "privacy@acmedata.com",
		Subject:       "Re: Data Deletion Request",
	}

	id, matchedBy, err := m.Match(response)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, threaded.ID, *id)
	assert.Equal(t, model.MatchedByThreadID, matchedBy)
}

func TestMatchUnknownSenderDomain(t *testing.T) {
	db := testDB(t)
	user, broker := seedUserAndBroker(t, db)
	seedSentRequest(t, db, user, broker, 5*24*time.Hour, "")

	m := New(db, brokers.NewDirectory(db))
	response := &model.BrokerResponse{
		UserID:      user.ID,
		SenderEmail: "noreply@unrelated.io",
		Subject:     "Re: Data Deletion Request",
	}

	id, matchedBy, err := m.Match(response)
	require.NoError(t, err)
	assert.Nil(t, id)
	assert.Empty(t, matchedBy)
}

func TestMatchOutsideSentWindow(t *testing.T) {
	db := testDB(t)
	user, broker := seedUserAndBroker(t, db)
	seedSentRequest(t, db, user, broker, 120*24*time.Hour, "")

	m := New(db, brokers.NewDirectory(db))
	response := &model.BrokerResponse{
		UserID:      user.ID,
		SenderEmail: "privacy@acmedata.com",
		Subject:     "Re: Data Deletion Request",
	}

	id, _, err := m.Match(response)
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestMatchOtherUsersRequestsAreInvisible(t *testing.T) {
	db := testDB(t)
	user, broker := seedUserAndBroker(t, db)
	seedSentRequest(t, db, user, broker, 5*24*time.Hour, "thread-9")

	other := &model.User{Email: "bob@example.com"}
	require.NoError(t, db.Create(other).Error)

	m := New(db, brokers.NewDirectory(db))
	response := &model.BrokerResponse{
		UserID:        other.ID,
		GmailThreadID: "thread-9",
		SenderEmail:   "privacy@acmedata.com",
		Subject:       "Re: Data Deletion Request",
	}

	id, _, err := m.Match(response)
	require.NoError(t, err)
	assert.Nil(t, id)
}
