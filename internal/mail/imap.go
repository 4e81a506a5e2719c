package mail

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"optout-sentry-go/internal/model"
)

// IMAPConfig holds connection settings for an IMAP mailbox.
type IMAPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	// LookbackDays bounds the search window used for listing.
	LookbackDays int `mapstructure:"lookback_days"`
}

// IMAPReader implements Reader against a single IMAP mailbox. It serves
// self-hosted deployments where all scanned mail lands in one account; the
// per-user argument is ignored. Sending stays on the Gmail implementation.
type IMAPReader struct {
	client   *client.Client
	lookback time.Duration
}

// NewIMAPReader connects and logs in to the configured IMAP server.
func NewIMAPReader(config *IMAPConfig) (*IMAPReader, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", config.Host, config.Port), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(config.User, config.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	lookback := time.Duration(config.LookbackDays) * 24 * time.Hour
	if lookback <= 0 {
		lookback = 90 * 24 * time.Hour
	}

	return &IMAPReader{client: c, lookback: lookback}, nil
}

// ListMessages searches INBOX for messages within the lookback window. The
// Gmail query string does not apply to IMAP and is ignored; the scanner
// filters by sender domain after fetching.
func (r *IMAPReader) ListMessages(ctx context.Context, _ *model.User, _ string, max int64) ([]Ref, error) {
	if _, err := r.client.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = time.Now().Add(-r.lookback)

	uids, err := r.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	if max > 0 && int64(len(uids)) > max {
		// Keep the most recent portion; UIDs ascend with arrival order.
		uids = uids[int64(len(uids))-max:]
	}

	refs := make([]Ref, 0, len(uids))
	for _, uid := range uids {
		refs = append(refs, Ref{ID: strconv.FormatUint(uint64(uid), 10)})
	}
	return refs, nil
}

// GetMessage fetches a single message by UID and parses its envelope and body.
func (r *IMAPReader) GetMessage(ctx context.Context, _ *model.User, id string) (*Message, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid IMAP message id %q: %w", id, err)
	}

	if _, err := r.client.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- r.client.UidFetch(seqset, items, messages)
	}()

	var fetched *imap.Message
	for msg := range messages {
		fetched = msg
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message %s: %w", id, err)
	}
	if fetched == nil {
		return nil, fmt.Errorf("message %s not found", id)
	}

	out := &Message{
		ID:      id,
		Headers: make(map[string]string),
	}

	if fetched.Envelope != nil {
		out.Subject = fetched.Envelope.Subject
		if len(fetched.Envelope.From) > 0 {
			out.From = fetched.Envelope.From[0].Address()
		}
		for _, addr := range fetched.Envelope.To {
			out.To = append(out.To, addr.Address())
		}
		if !fetched.Envelope.Date.IsZero() {
			date := fetched.Envelope.Date
			out.Date = &date
		}
	}

	if err := parseIMAPBody(fetched, section, out); err != nil {
		logrus.Warnf("Failed to parse IMAP message body: %v", err)
	}
	return out, nil
}

// parseIMAPBody extracts text and HTML bodies from a fetched message
func parseIMAPBody(msg *imap.Message, section *imap.BodySectionName, out *Message) error {
	r := msg.GetBody(section)
	if r == nil {
		return fmt.Errorf("message has no body section")
	}

	entity, err := message.Read(r)
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read part: %w", err)
			}

			content, err := io.ReadAll(part.Body)
			if err != nil {
				return fmt.Errorf("failed to read part body: %w", err)
			}

			contentType := part.Header.Get("Content-Type")
			if strings.Contains(contentType, "text/plain") && out.Body == "" {
				out.Body = string(content)
			} else if strings.Contains(contentType, "text/html") && out.HTMLBody == "" {
				out.HTMLBody = string(content)
			}
		}
		return nil
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}

	contentType := entity.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		out.HTMLBody = string(content)
	} else {
		out.Body = string(content)
	}
	return nil
}

// Close logs out of the IMAP server.
func (r *IMAPReader) Close() error {
	return r.client.Logout()
}
