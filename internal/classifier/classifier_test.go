package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"optout-sentry-go/internal/model"
)

func TestClassifyEmptyInput(t *testing.T) {
	c := NewKeywordClassifier()

	rt, conf := c.Classify("", "")
	assert.Equal(t, model.ResponseUnknown, rt)
	assert.Equal(t, 0.0, conf)
}

func TestClassifyNoKeywordMatches(t *testing.T) {
	c := NewKeywordClassifier()

	rt, conf := c.Classify("Weekly newsletter", "Here is what happened this week in tech.")
	assert.Equal(t, model.ResponseUnknown, rt)
	assert.Equal(t, 0.0, conf)
}

func TestClassifyConfirmation(t *testing.T) {
	c := NewKeywordClassifier()

	rt, conf := c.Classify(
		"Re: Data Deletion",
		"Your data has been successfully deleted from our systems.",
	)
	assert.Equal(t, model.ResponseConfirmation, rt)
	assert.GreaterOrEqual(t, conf, 0.55)
}

func TestClassifyRejection(t *testing.T) {
	c := NewKeywordClassifier()

	rt, conf := c.Classify(
		"Your request",
		"We were unable to locate any record matching your details. No records found.",
	)
	assert.Equal(t, model.ResponseRejection, rt)
	assert.Greater(t, conf, 0.0)
}

func TestClassifyAcknowledgment(t *testing.T) {
	c := NewKeywordClassifier()

	rt, _ := c.Classify(
		"We received your request",
		"Your request is being processed. Ticket created with case number ABC-123.",
	)
	assert.Equal(t, model.ResponseAcknowledgment, rt)
}

func TestClassifyRequestInfo(t *testing.T) {
	c := NewKeywordClassifier()

	rt, _ := c.Classify(
		"Action required",
		"To proceed we need to verify your identity. Please provide additional details.",
	)
	assert.Equal(t, model.ResponseRequestInfo, rt)
}

func TestClassifyTieBreakPrefersConfirmation(t *testing.T) {
	c := NewKeywordClassifier()

	// One confirmation keyword and one rejection keyword: the earlier
	// category in the enumeration order must win.
	rt, _ := c.Classify("", "deleted denied")
	assert.Equal(t, model.ResponseConfirmation, rt)
}

func TestClassifyCountsOverlappingKeywordsOnce(t *testing.T) {
	c := NewKeywordClassifier()

	// "request denied" must score one rejection match, not two via the
	// embedded "denied", so the two acknowledgment matches win here.
	rt, _ := c.Classify("",
		"Unfortunately your request denied. We received your request and it is now under review.")
	assert.Equal(t, model.ResponseAcknowledgment, rt)
}

func TestClassifyDeterministic(t *testing.T) {
	c := NewKeywordClassifier()

	subject := "Re: Privacy request"
	body := "Your account deleted. We removed your profile and unsubscribed you."

	firstType, firstConf := c.Classify(subject, body)
	for i := 0; i < 10; i++ {
		rt, conf := c.Classify(subject, body)
		assert.Equal(t, firstType, rt)
		assert.Equal(t, firstConf, conf)
	}
}

func TestClassifyConfidenceBounds(t *testing.T) {
	c := NewKeywordClassifier()

	cases := []struct {
		subject string
		body    string
	}{
		{"", ""},
		{"deleted", "deleted deleted deleted deleted deleted deleted deleted"},
		{"Re: Data Deletion", "Your data has been successfully deleted."},
		{"hello", "just checking in"},
		{"denied", "request denied rejected cannot process unable to fulfill"},
	}

	for _, tc := range cases {
		_, conf := c.Classify(tc.subject, tc.body)
		assert.GreaterOrEqual(t, conf, 0.0)
		assert.LessOrEqual(t, conf, 1.0)
	}
}

func TestClassifySubjectBoost(t *testing.T) {
	c := NewKeywordClassifier()

	body := "We have removed your information. " +
		"This message is long enough that match density alone stays below the cap " +
		"because the body keeps going with plenty of unrelated filler words here."

	_, withoutBoost := c.Classify("Hello", body)
	_, withBoost := c.Classify("Account deleted", body)
	assert.Greater(t, withBoost, withoutBoost)
}

func TestExtractCaseNumber(t *testing.T) {
	assert.Equal(t, "ABC-123", ExtractCaseNumber("Your case #ABC-123 is open"))
	assert.Equal(t, "789", ExtractCaseNumber("ticket # 789"))
	assert.Equal(t, "REF-42", ExtractCaseNumber("reference REF-42"))
	assert.Equal(t, "", ExtractCaseNumber("no identifiers here"))
	assert.Equal(t, "", ExtractCaseNumber(""))
}
