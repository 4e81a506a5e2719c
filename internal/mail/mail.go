// Package mail abstracts the mailbox the pipeline reads broker replies from
// and the account it sends deletion requests with. Reading and sending are
// separate interfaces so deployments can mix implementations.
package mail

import (
	"context"
	"regexp"
	"strings"
	"time"

	"optout-sentry-go/internal/model"
)

// Ref is a lightweight reference to a message in the mailbox.
type Ref struct {
	ID       string
	ThreadID string
}

// Message is a fetched email with parsed headers and bodies.
type Message struct {
	ID       string
	ThreadID string
	From     string
	To       []string
	Subject  string
	Date     *time.Time
	Body     string
	HTMLBody string
	Headers  map[string]string
}

// Reader lists and fetches messages from a user's mailbox.
type Reader interface {
	ListMessages(ctx context.Context, user *model.User, query string, max int64) ([]Ref, error)
	GetMessage(ctx context.Context, user *model.User, id string) (*Message, error)
}

// Sender sends a message on behalf of a user and returns the provider's
// message and thread identifiers. Implementations surface
// apperr.PermissionError and apperr.QuotaExceededError for the corresponding
// provider failures.
type Sender interface {
	SendMessage(ctx context.Context, user *model.User, to, subject, body string) (messageID, threadID string, err error)
}

var addressPattern = regexp.MustCompile(`[\w.+-]+@[\w.-]+`)

// ExtractAddress pulls the bare address out of a From header that may carry a
// display name, e.g. `"Privacy Team" <privacy@example.com>`.
func ExtractAddress(header string) string {
	if m := addressPattern.FindString(header); m != "" {
		return m
	}
	return strings.TrimSpace(header)
}

// ExtractDomain returns the lower-cased domain of a sender header, or the
// empty string when no address is present.
func ExtractDomain(header string) string {
	addr := ExtractAddress(header)
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(addr[at+1:]))
}
