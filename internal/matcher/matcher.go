// Package matcher associates a classified broker response with the deletion
// request it answers, using a three-tier heuristic cascade. The first tier
// that produces a match wins; later tiers are not consulted.
package matcher

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"optout-sentry-go/internal/brokers"
	"optout-sentry-go/internal/mail"
	"optout-sentry-go/internal/model"
)

// sentWindow bounds how far back tiers 2 and 3 look for a SENT request.
const sentWindow = 90 * 24 * time.Hour

// replyIndicators are subject substrings that suggest an email is a reply to
// a deletion request. Used by tier 2 only.
var replyIndicators = []string{
	"re:", "deletion", "data", "privacy", "opt-out", "unsubscribe", "gdpr", "ccpa",
}

// Matcher runs the matching cascade against the database it is bound to.
// Bind it to a transaction (see New with a tx handle) when the match decision
// and the response write must be atomic.
type Matcher struct {
	db        *gorm.DB
	directory *brokers.Directory
}

// New creates a Matcher over the given database handle.
func New(db *gorm.DB, directory *brokers.Directory) *Matcher {
	return &Matcher{db: db, directory: directory}
}

// Match finds the deletion request a response belongs to. It returns the
// request id and the strategy that matched, or (nil, "") when no tier
// produced a match.
func (m *Matcher) Match(response *model.BrokerResponse) (*uuid.UUID, string, error) {
	if response.GmailThreadID != "" {
		req, err := m.matchByThreadID(response)
		if err != nil {
			return nil, "", err
		}
		if req != nil {
			return &req.ID, model.MatchedByThreadID, nil
		}
	}

	req, err := m.matchBySubjectAndSender(response)
	if err != nil {
		return nil, "", err
	}
	if req != nil {
		return &req.ID, model.MatchedBySubjectSender, nil
	}

	req, err = m.matchByDomainAndTime(response)
	if err != nil {
		return nil, "", err
	}
	if req != nil {
		return &req.ID, model.MatchedByDomainTime, nil
	}

	return nil, "", nil
}

// matchByThreadID is tier 1: the mail provider groups replies with the
// message they answer, so an exact thread match is the strongest signal.
func (m *Matcher) matchByThreadID(response *model.BrokerResponse) (*model.DeletionRequest, error) {
	var request model.DeletionRequest
	err := m.db.
		Where("user_id = ? AND gmail_thread_id = ? AND gmail_thread_id <> ''",
			response.UserID, response.GmailThreadID).
		First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("thread match query failed: %w", err)
	}
	return &request, nil
}

// matchBySubjectAndSender is tier 2: the sender's domain must resolve to a
// known broker and the subject must look like a reply to a deletion request.
// Picks the most recently sent matching request inside the 90-day window.
func (m *Matcher) matchBySubjectAndSender(response *model.BrokerResponse) (*model.DeletionRequest, error) {
	broker, err := m.resolveSender(response)
	if err != nil || broker == nil {
		return nil, err
	}

	subject := strings.ToLower(response.Subject)
	indicated := false
	for _, kw := range replyIndicators {
		if strings.Contains(subject, kw) {
			indicated = true
			break
		}
	}
	if !indicated {
		return nil, nil
	}

	var request model.DeletionRequest
	err = m.db.
		Where("user_id = ? AND broker_id = ? AND status = ? AND sent_at >= ?",
			response.UserID, broker.ID, model.StatusSent, time.Now().Add(-sentWindow)).
		Order("sent_at DESC").
		First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("subject/sender match query failed: %w", err)
	}
	return &request, nil
}

// matchByDomainAndTime is tier 3: same domain and window checks as tier 2
// without the subject requirement, but a request that already has any
// response attached is excluded so a second incoming reply cannot steal it.
func (m *Matcher) matchByDomainAndTime(response *model.BrokerResponse) (*model.DeletionRequest, error) {
	broker, err := m.resolveSender(response)
	if err != nil || broker == nil {
		return nil, err
	}

	matched := m.db.Model(&model.BrokerResponse{}).
		Select("deletion_request_id").
		Where("deletion_request_id IS NOT NULL")

	var request model.DeletionRequest
	err = m.db.
		Where("user_id = ? AND broker_id = ? AND status = ? AND sent_at >= ?",
			response.UserID, broker.ID, model.StatusSent, time.Now().Add(-sentWindow)).
		Where("id NOT IN (?)", matched).
		Order("sent_at DESC").
		First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("domain/time match query failed: %w", err)
	}
	return &request, nil
}

// resolveSender maps the response's sender header to a known broker, or nil
// when the domain is not registered to any broker.
func (m *Matcher) resolveSender(response *model.BrokerResponse) (*model.DataBroker, error) {
	domain := mail.ExtractDomain(response.SenderEmail)
	if domain == "" {
		return nil, nil
	}
	return m.directory.ResolveDomain(domain)
}
