// Package classifier labels inbound broker emails with a response category
// and a confidence score using keyword matching. The Classifier interface
// lets an AI-backed implementation be substituted behind the same contract.
package classifier

import (
	"math"
	"regexp"
	"strings"

	"optout-sentry-go/internal/model"
)

// Classifier turns an email's subject and body into a response category and
// a confidence score in [0, 1]. Implementations must be pure and deterministic.
type Classifier interface {
	Classify(subject, body string) (model.ResponseType, float64)
}

// categoryOrder is the fixed enumeration order. It decides ties: when two
// categories have equal keyword counts, the earlier one wins.
var categoryOrder = []model.ResponseType{
	model.ResponseConfirmation,
	model.ResponseRejection,
	model.ResponseAcknowledgment,
	model.ResponseRequestInfo,
}

var confirmationKeywords = []string{
	"deleted", "removed", "erasure complete", "data erased",
	"successfully deleted", "removed from our database",
	"removed from our system", "no longer in our records",
	"deletion complete", "account closed", "account deleted",
	"unsubscribed", "removed from our list", "opt-out confirmed",
	"request completed", "successfully processed your request to delete",
}

var rejectionKeywords = []string{
	"unable to delete", "cannot delete", "denied", "rejected",
	"no record found", "no records found", "could not find",
	"we do not have", "not in our system", "not in our database",
	"unable to locate", "cannot verify", "insufficient information",
	"cannot process", "unable to fulfill", "request denied",
}

var acknowledgmentKeywords = []string{
	"acknowledged", "acknowledge", "received your request", "processing your request",
	"reviewing your request", "working on your request",
	"will process", "will review", "in progress",
	"under review", "being processed", "ticket created",
	"case number", "reference number", "request number",
	"acknowledge receipt", "received and will", "thank you for contacting",
}

var requestInfoKeywords = []string{
	"need more information", "need additional information",
	"verify your identity", "confirm your identity",
	"additional details", "provide more details",
	"please provide", "require verification",
	"identity verification", "verify that you are",
	"confirm that you", "need to verify", "unable to verify",
}

var categoryKeywords = map[model.ResponseType][]string{
	model.ResponseConfirmation:   confirmationKeywords,
	model.ResponseRejection:      rejectionKeywords,
	model.ResponseAcknowledgment: acknowledgmentKeywords,
	model.ResponseRequestInfo:    requestInfoKeywords,
}

// categoryPatterns hold one alternation per category so each text position
// counts at most once, even where keywords overlap ("deleted" inside
// "successfully deleted").
var categoryPatterns = buildCategoryPatterns()

func buildCategoryPatterns() map[model.ResponseType]*regexp.Regexp {
	patterns := make(map[model.ResponseType]*regexp.Regexp, len(categoryKeywords))
	for category, keywords := range categoryKeywords {
		quoted := make([]string, len(keywords))
		for i, kw := range keywords {
			quoted[i] = regexp.QuoteMeta(kw)
		}
		patterns[category] = regexp.MustCompile(strings.Join(quoted, "|"))
	}
	return patterns
}

// KeywordClassifier is the default Classifier, built on fixed keyword tables.
type KeywordClassifier struct{}

// NewKeywordClassifier creates the keyword-based classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify counts keyword occurrences per category over the lower-cased
// subject and body. The category with the most matches wins; confidence is
// scaled by match density and boosted when the winning category's keywords
// also appear in the subject line alone.
func (c *KeywordClassifier) Classify(subject, body string) (model.ResponseType, float64) {
	text := strings.ToLower(strings.TrimSpace(strings.Join(nonEmpty(subject, body), " ")))
	if text == "" {
		return model.ResponseUnknown, 0.0
	}

	counts := make(map[model.ResponseType]int, len(categoryOrder))
	for _, category := range categoryOrder {
		counts[category] = countMatches(text, categoryPatterns[category])
	}

	detected := model.ResponseUnknown
	maxMatches := 0
	for _, category := range categoryOrder {
		if counts[category] > maxMatches {
			maxMatches = counts[category]
			detected = category
		}
	}

	if maxMatches == 0 {
		return model.ResponseUnknown, 0.0
	}

	words := len(strings.Fields(text))
	denom := math.Max(float64(words)/10, 1)
	confidence := math.Min(0.4+0.3*(float64(maxMatches)/denom), 1.0)

	// Matches in the subject line alone are considered more reliable.
	if subject != "" && categoryPatterns[detected].MatchString(strings.ToLower(subject)) {
		confidence = math.Min(confidence+0.15, 1.0)
	}

	return detected, math.Round(confidence*100) / 100
}

// countMatches counts non-overlapping keyword matches in text.
func countMatches(text string, pattern *regexp.Regexp) int {
	return len(pattern.FindAllStringIndex(text, -1))
}

func nonEmpty(parts ...string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// caseNumberPatterns match the usual case/ticket/reference formats brokers use.
var caseNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)case\s*#?\s*([A-Z0-9-]+)`),
	regexp.MustCompile(`(?i)ticket\s*#?\s*([A-Z0-9-]+)`),
	regexp.MustCompile(`(?i)reference\s*#?\s*([A-Z0-9-]+)`),
	regexp.MustCompile(`(?i)request\s*#?\s*([A-Z0-9-]+)`),
	regexp.MustCompile(`#\s*([A-Z0-9-]{6,})`),
}

// ExtractCaseNumber pulls a case/ticket/reference number out of text,
// returning the empty string when none is found.
func ExtractCaseNumber(text string) string {
	if text == "" {
		return ""
	}
	for _, pattern := range caseNumberPatterns {
		if m := pattern.FindStringSubmatch(text); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}
