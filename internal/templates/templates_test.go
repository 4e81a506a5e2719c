package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateGDPR(t *testing.T) {
	subject, body := Generate("alice@example.com", "Acme Data", "gdpr")

	assert.Equal(t, "Data Deletion Request under GDPR", subject)
	assert.Contains(t, body, "Acme Data Privacy Team")
	assert.Contains(t, body, "Article 17 of the GDPR")
	assert.Contains(t, body, "alice@example.com")
	assert.NotContains(t, body, "{{")
}

func TestGenerateCCPA(t *testing.T) {
	subject, body := Generate("alice@example.com", "Acme Data", "CCPA")

	assert.Equal(t, "Data Deletion Request under CCPA", subject)
	assert.Contains(t, body, "Under the CCPA")
	assert.NotContains(t, body, "GDPR")
}

func TestGenerateUnknownFrameworkFallsBack(t *testing.T) {
	subject, body := Generate("alice@example.com", "Acme Data", "pipeda")

	assert.Equal(t, "Data Deletion Request under GDPR/CCPA", subject)
	assert.Contains(t, body, "GDPR and the CCPA")
}

func TestGenerateEmptyFrameworkFallsBack(t *testing.T) {
	subject, _ := Generate("alice@example.com", "Acme Data", "")
	assert.Equal(t, "Data Deletion Request under GDPR/CCPA", subject)
}
