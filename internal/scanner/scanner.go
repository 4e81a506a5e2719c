// Package scanner runs the per-user mailbox scans. The response scan pulls
// inbound mail from broker domains, classifies each message, matches it to a
// deletion request, and applies the resulting status transition. The inbox
// discovery scan finds known brokers mailing the user and opens deletion
// requests for them. A failure on one message is logged and skipped; the scan
// continues with the next message.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"optout-sentry-go/internal/activity"
	"optout-sentry-go/internal/brokers"
	"optout-sentry-go/internal/classifier"
	"optout-sentry-go/internal/lifecycle"
	"optout-sentry-go/internal/mail"
	"optout-sentry-go/internal/matcher"
	"optout-sentry-go/internal/metrics"
	"optout-sentry-go/internal/model"
)

// maxBodyLength bounds how much body text is stored per response.
const maxBodyLength = 5000

// Summary reports the outcome of one response scan.
type Summary struct {
	MessagesListed    int `json:"messages_listed"`
	ResponsesCreated  int `json:"responses_created"`
	RequestsUpdated   int `json:"requests_updated"`
	ThreadsBackfilled int `json:"threads_backfilled"`
	Skipped           int `json:"skipped"`
}

// Config holds scan tunables.
type Config struct {
	DaysBack    int   `mapstructure:"days_back"`
	MaxMessages int64 `mapstructure:"max_messages"`
}

// Scanner runs response scans for users.
type Scanner struct {
	db        *gorm.DB
	reader    mail.Reader
	clf       classifier.Classifier
	directory *brokers.Directory
	lifecycle *lifecycle.Service
	audit     *activity.Logger
	metrics   *metrics.Metrics
	config    Config
}

// New creates a Scanner.
func New(db *gorm.DB, reader mail.Reader, clf classifier.Classifier, directory *brokers.Directory,
	lc *lifecycle.Service, audit *activity.Logger, m *metrics.Metrics, config Config) *Scanner {
	if config.DaysBack <= 0 {
		config.DaysBack = 7
	}
	if config.MaxMessages <= 0 {
		config.MaxMessages = 50
	}
	return &Scanner{
		db:        db,
		reader:    reader,
		clf:       clf,
		directory: directory,
		lifecycle: lc,
		audit:     audit,
		metrics:   m,
		config:    config,
	}
}

// ScanResponses scans one user's mailbox for broker replies to their SENT
// deletion requests.
func (s *Scanner) ScanResponses(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	start := time.Now()
	s.metrics.ScanCount.Inc()
	summary := &Summary{}

	var user model.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}

	var sentRequests []model.DeletionRequest
	err := s.db.
		Where("user_id = ? AND status = ?", userID, model.StatusSent).
		Find(&sentRequests).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sent requests: %w", err)
	}
	if len(sentRequests) == 0 {
		logrus.Debugf("User %s has no sent deletion requests, nothing to scan", userID)
		return summary, nil
	}

	// Reconcile once per batch before matching so tier 1 sees every thread id
	// we can know about.
	summary.ThreadsBackfilled = s.reconcileThreadIDs(ctx, &user, sentRequests)

	domains, err := s.brokerDomains(sentRequests)
	if err != nil {
		return nil, err
	}
	if len(domains) == 0 {
		logrus.Warnf("User %s has sent requests but no broker domains resolved", userID)
		return summary, nil
	}

	query := s.buildQuery(domains, sentRequests)
	refs, err := s.reader.ListMessages(ctx, &user, query, s.config.MaxMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	summary.MessagesListed = len(refs)

	for _, ref := range refs {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		created, updated, err := s.processMessage(ctx, &user, ref)
		if err != nil {
			// Partial-failure tolerance: one bad message must not sink the scan.
			logrus.Errorf("Failed to process message %s for user %s: %v", ref.ID, userID, err)
			summary.Skipped++
			continue
		}
		if created {
			summary.ResponsesCreated++
		}
		if updated {
			summary.RequestsUpdated++
		}
	}

	now := time.Now()
	user.LastScanAt = &now
	if err := s.db.Save(&user).Error; err != nil {
		logrus.Warnf("Failed to update last scan time for user %s: %v", userID, err)
	}

	s.metrics.ScanDuration.Observe(time.Since(start).Seconds())
	s.audit.LogActivity(userID, model.ActivityResponseScanned,
		fmt.Sprintf("Response scan completed: %d responses, %d requests updated",
			summary.ResponsesCreated, summary.RequestsUpdated), "", activity.Related{})

	logrus.Infof("Response scan for user %s: listed=%d created=%d updated=%d backfilled=%d skipped=%d",
		userID, summary.MessagesListed, summary.ResponsesCreated, summary.RequestsUpdated,
		summary.ThreadsBackfilled, summary.Skipped)
	return summary, nil
}

// DiscoverySummary reports the outcome of one inbox discovery scan.
type DiscoverySummary struct {
	MessagesListed  int `json:"messages_listed"`
	BrokersDetected int `json:"brokers_detected"`
	RequestsCreated int `json:"requests_created"`
	Skipped         int `json:"skipped"`
}

// ScanInbox scans the user's recent inbox mail for senders whose domain
// resolves to a known broker and creates a PENDING auto-discovered deletion
// request per broker the user has never had a request with. Brokers with any
// prior request are left alone, soft-deleted ones included, so a deleted
// request is never resurrected.
func (s *Scanner) ScanInbox(ctx context.Context, userID uuid.UUID) (*DiscoverySummary, error) {
	summary := &DiscoverySummary{}

	var user model.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}

	after := time.Now().AddDate(0, 0, -s.config.DaysBack)
	query := fmt.Sprintf("after:%s in:inbox", after.Format("2006/01/02"))
	refs, err := s.reader.ListMessages(ctx, &user, query, s.config.MaxMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	summary.MessagesListed = len(refs)

	seen := make(map[uuid.UUID]bool)
	for _, ref := range refs {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		msg, err := s.reader.GetMessage(ctx, &user, ref.ID)
		if err != nil {
			logrus.Errorf("Failed to fetch message %s for user %s: %v", ref.ID, userID, err)
			summary.Skipped++
			continue
		}

		broker, err := s.directory.ResolveDomain(mail.ExtractDomain(msg.From))
		if err != nil {
			logrus.Errorf("Failed to resolve sender of message %s: %v", ref.ID, err)
			summary.Skipped++
			continue
		}
		if broker == nil || seen[broker.ID] {
			continue
		}
		seen[broker.ID] = true
		summary.BrokersDetected++

		var prior int64
		err = s.db.Unscoped().Model(&model.DeletionRequest{}).
			Where("user_id = ? AND broker_id = ?", userID, broker.ID).
			Count(&prior).Error
		if err != nil {
			return summary, fmt.Errorf("failed to check prior requests for broker %s: %w", broker.Name, err)
		}
		if prior > 0 {
			continue
		}

		if _, _, err := s.lifecycle.CreateRequest(&user, broker, "", model.SourceAutoDiscovered); err != nil {
			logrus.Errorf("Failed to create discovered request for broker %s: %v", broker.Name, err)
			summary.Skipped++
			continue
		}
		summary.RequestsCreated++
	}

	s.audit.LogActivity(userID, model.ActivityInfo,
		fmt.Sprintf("Inbox scan detected %d broker(s), created %d deletion request(s)",
			summary.BrokersDetected, summary.RequestsCreated), "", activity.Related{})

	logrus.Infof("Inbox scan for user %s: listed=%d detected=%d created=%d skipped=%d",
		userID, summary.MessagesListed, summary.BrokersDetected, summary.RequestsCreated, summary.Skipped)
	return summary, nil
}

// processMessage ingests a single inbound message: dedupe on the provider
// message id, classify, then match and persist inside one transaction so two
// concurrent scans cannot attach different responses to the same unmatched
// request through tier 3.
func (s *Scanner) processMessage(ctx context.Context, user *model.User, ref mail.Ref) (created, updated bool, err error) {
	var existing model.BrokerResponse
	lookupErr := s.db.Where("gmail_message_id = ?", ref.ID).First(&existing).Error
	if lookupErr == nil {
		return false, false, nil
	}
	if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return false, false, fmt.Errorf("failed to check for existing response: %w", lookupErr)
	}

	msg, err := s.reader.GetMessage(ctx, user, ref.ID)
	if err != nil {
		return false, false, fmt.Errorf("failed to fetch message: %w", err)
	}

	// IMAP listings cannot filter by sender, so non-broker mail surfaces here.
	domain := mail.ExtractDomain(msg.From)
	broker, err := s.directory.ResolveDomain(domain)
	if err != nil {
		return false, false, fmt.Errorf("failed to resolve sender domain: %w", err)
	}
	if broker == nil {
		logrus.Debugf("Ignoring message %s from non-broker domain %q", ref.ID, domain)
		return false, false, nil
	}

	responseType, confidence := s.clf.Classify(msg.Subject, msg.Body)
	s.metrics.ResponsesClassified.WithLabelValues(string(responseType)).Inc()

	body := msg.Body
	if len(body) > maxBodyLength {
		body = body[:maxBodyLength]
	}

	response := model.BrokerResponse{
		UserID:          user.ID,
		GmailMessageID:  msg.ID,
		GmailThreadID:   msg.ThreadID,
		SenderEmail:     msg.From,
		Subject:         msg.Subject,
		BodyText:        body,
		ReceivedDate:    msg.Date,
		ResponseType:    responseType,
		ConfidenceScore: confidence,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		m := matcher.New(tx, s.directory.WithTx(tx))
		requestID, matchedBy, err := m.Match(&response)
		if err != nil {
			return err
		}

		if requestID != nil {
			response.DeletionRequestID = requestID
			response.MatchedBy = matchedBy
			s.metrics.MatchCount.WithLabelValues(matchedBy).Inc()
		}

		now := time.Now()
		response.IsProcessed = true
		response.ProcessedAt = &now
		if err := tx.Create(&response).Error; err != nil {
			return fmt.Errorf("failed to persist response: %w", err)
		}

		if requestID != nil {
			transitioned, err := s.lifecycle.WithTx(tx).ApplyClassification(*requestID, responseType, confidence)
			if err != nil {
				return err
			}
			updated = transitioned
		}
		return nil
	})
	if err != nil {
		return false, false, err
	}

	if response.DeletionRequestID != nil {
		s.audit.LogActivity(user.ID, model.ActivityResponseReceived,
			fmt.Sprintf("Broker response received (%s)", responseType),
			fmt.Sprintf("matched_by=%s confidence=%.2f", response.MatchedBy, confidence),
			activity.Related{DeletionRequestID: response.DeletionRequestID, ResponseID: &response.ID})
	}
	return true, updated, nil
}

// reconcileThreadIDs backfills missing thread ids on requests whose sent
// message id is known, so the thread tier can match replies to requests sent
// before thread tracking existed. Operates on the batch snapshot it is given.
func (s *Scanner) reconcileThreadIDs(ctx context.Context, user *model.User, requests []model.DeletionRequest) int {
	backfilled := 0
	for i := range requests {
		req := &requests[i]
		if req.GmailThreadID != "" || req.GmailSentMessageID == "" {
			continue
		}

		msg, err := s.reader.GetMessage(ctx, user, req.GmailSentMessageID)
		if err != nil {
			logrus.Warnf("Thread backfill: failed to fetch sent message %s: %v", req.GmailSentMessageID, err)
			continue
		}
		if msg.ThreadID == "" {
			continue
		}

		err = s.db.Model(&model.DeletionRequest{}).
			Where("id = ?", req.ID).
			Update("gmail_thread_id", msg.ThreadID).Error
		if err != nil {
			logrus.Warnf("Thread backfill: failed to update request %s: %v", req.ID, err)
			continue
		}
		req.GmailThreadID = msg.ThreadID
		backfilled++
	}
	return backfilled
}

// brokerDomains collects the registered domains of every broker the user has
// a SENT request with.
func (s *Scanner) brokerDomains(requests []model.DeletionRequest) ([]string, error) {
	seen := make(map[uuid.UUID]bool)
	var domains []string
	for _, req := range requests {
		if seen[req.BrokerID] {
			continue
		}
		seen[req.BrokerID] = true

		broker, err := s.directory.GetBroker(req.BrokerID)
		if err != nil {
			logrus.Warnf("Failed to load broker %s: %v", req.BrokerID, err)
			continue
		}
		domains = append(domains, broker.Domains...)
	}
	return domains, nil
}

// buildQuery assembles the provider search query: mail from any broker
// domain, received after the oldest outstanding send.
func (s *Scanner) buildQuery(domains []string, requests []model.DeletionRequest) string {
	var oldest *time.Time
	for i := range requests {
		if requests[i].SentAt == nil {
			continue
		}
		if oldest == nil || requests[i].SentAt.Before(*oldest) {
			oldest = requests[i].SentAt
		}
	}

	after := time.Now().AddDate(0, 0, -s.config.DaysBack)
	if oldest != nil {
		after = *oldest
	}

	parts := make([]string, 0, len(domains))
	for _, domain := range domains {
		parts = append(parts, "from:@"+domain)
	}
	return fmt.Sprintf("(%s) after:%s in:inbox", strings.Join(parts, " OR "), after.Format("2006/01/02"))
}
