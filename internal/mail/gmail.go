package mail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	netmail "net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"optout-sentry-go/internal/apperr"
	"optout-sentry-go/internal/model"
)

// GmailConfig holds the OAuth2 application credentials used to build
// per-user Gmail clients.
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// GmailClient implements Reader and Sender against the Gmail API using each
// user's stored OAuth tokens.
type GmailClient struct {
	oauth *oauth2.Config
}

// NewGmailClient creates a Gmail-backed mail client.
func NewGmailClient(config *GmailConfig) *GmailClient {
	return &GmailClient{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Scopes:       []string{gmail.GmailReadonlyScope, gmail.GmailSendScope},
			Endpoint:     google.Endpoint,
		},
	}
}

// service builds a Gmail service authorized as the given user.
func (c *GmailClient) service(ctx context.Context, user *model.User) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  user.AccessToken,
		RefreshToken: user.RefreshToken,
	}
	service, err := gmail.NewService(ctx, option.WithTokenSource(c.oauth.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return service, nil
}

// ListMessages returns references to the user's messages matching the Gmail
// search query.
func (c *GmailClient) ListMessages(ctx context.Context, user *model.User, query string, max int64) ([]Ref, error) {
	service, err := c.service(ctx, user)
	if err != nil {
		return nil, err
	}

	response, err := service.Users.Messages.List("me").Q(query).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, translateGmailError(err)
	}

	refs := make([]Ref, 0, len(response.Messages))
	for _, msg := range response.Messages {
		refs = append(refs, Ref{ID: msg.Id, ThreadID: msg.ThreadId})
	}
	return refs, nil
}

// GetMessage fetches a message in full and parses headers and bodies.
func (c *GmailClient) GetMessage(ctx context.Context, user *model.User, id string) (*Message, error) {
	service, err := c.service(ctx, user)
	if err != nil {
		return nil, err
	}

	msg, err := service.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, translateGmailError(err)
	}
	return parseGmailMessage(msg), nil
}

// SendMessage sends an email as the user and returns Gmail's message and
// thread identifiers.
func (c *GmailClient) SendMessage(ctx context.Context, user *model.User, to, subject, body string) (string, string, error) {
	service, err := c.service(ctx, user)
	if err != nil {
		return "", "", err
	}

	raw := buildRawMessage(user.Email, to, subject, body)
	message := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(raw)),
	}

	sent, err := service.Users.Messages.Send("me", message).Context(ctx).Do()
	if err != nil {
		return "", "", translateGmailError(err)
	}

	logrus.Infof("Sent message %s (thread %s) to %s", sent.Id, sent.ThreadId, to)
	return sent.Id, sent.ThreadId, nil
}

// buildRawMessage assembles an RFC 822 message for the Gmail send endpoint.
func buildRawMessage(from, to, subject, body string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("From: %s\r\n", from))
	b.WriteString(fmt.Sprintf("To: %s\r\n", to))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 7bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

// parseGmailMessage converts a Gmail API message into a Message
func parseGmailMessage(msg *gmail.Message) *Message {
	out := &Message{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Headers:  make(map[string]string),
	}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			out.Headers[strings.ToLower(header.Name)] = header.Value

			switch header.Name {
			case "Subject":
				out.Subject = header.Value
			case "From":
				out.From = header.Value
			case "To":
				out.To = strings.Split(header.Value, ",")
			case "Date":
				if parsed, err := netmail.ParseDate(header.Value); err == nil {
					out.Date = &parsed
				}
			}
		}
		parseGmailBody(msg.Payload, out)
	}

	return out
}

// parseGmailBody recursively walks message parts collecting text bodies
func parseGmailBody(part *gmail.MessagePart, out *Message) {
	if part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			// Gmail sometimes omits padding; retry with the raw encoding.
			data, err = base64.RawURLEncoding.DecodeString(part.Body.Data)
		}
		if err == nil {
			switch part.MimeType {
			case "text/plain":
				if out.Body == "" {
					out.Body = string(data)
				}
			case "text/html":
				if out.HTMLBody == "" {
					out.HTMLBody = string(data)
				}
			}
		} else {
			logrus.Warnf("Failed to decode message part: %v", err)
		}
	}

	for _, sub := range part.Parts {
		parseGmailBody(sub, out)
	}
}

// translateGmailError maps Gmail API failures onto the pipeline's error
// taxonomy so the send path can distinguish quota, permission, and fatal
// conditions.
func translateGmailError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}

	switch gerr.Code {
	case http.StatusUnauthorized:
		return &apperr.PermissionError{Msg: "mail authorization expired, re-authorization required"}
	case http.StatusForbidden:
		if hasQuotaReason(gerr) {
			return &apperr.QuotaExceededError{
				Msg:        fmt.Sprintf("mail quota exceeded: %s", gerr.Message),
				RetryAfter: retryAfterSeconds(gerr),
			}
		}
		return &apperr.PermissionError{Msg: fmt.Sprintf("missing mail permission: %s", gerr.Message)}
	case http.StatusTooManyRequests:
		return &apperr.QuotaExceededError{
			Msg:        fmt.Sprintf("mail rate limited: %s", gerr.Message),
			RetryAfter: retryAfterSeconds(gerr),
		}
	}
	return err
}

// hasQuotaReason reports whether a 403 is a quota condition rather than a
// scope problem.
func hasQuotaReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded", "dailyLimitExceeded":
			return true
		}
	}
	return false
}

// retryAfterSeconds reads the provider's suggested wait, 0 when absent.
func retryAfterSeconds(gerr *googleapi.Error) int {
	value := gerr.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return seconds
}
