package brokers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"optout-sentry-go/internal/apperr"
	"optout-sentry-go/internal/model"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.DataBroker{}))
	return db
}

func TestResolveDomain(t *testing.T) {
	db := testDB(t)
	broker := &model.DataBroker{
		Name:    "Acme Data",
		Domains: model.StringList{"acmedata.com", "acme-mail.net"},
	}
	require.NoError(t, db.Create(broker).Error)

	directory := NewDirectory(db)

	tests := []struct {
		name   string
		domain string
		found  bool
	}{
		{"exact match", "acmedata.com", true},
		{"secondary domain", "acme-mail.net", true},
		{"subdomain", "mail.acmedata.com", true},
		{"case insensitive", "AcmeData.COM", true},
		{"suffix without dot boundary", "notacmedata.com", false},
		{"unknown", "other.org", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := directory.ResolveDomain(tt.domain)
			require.NoError(t, err)
			if tt.found {
				require.NotNil(t, resolved)
				assert.Equal(t, broker.ID, resolved.ID)
			} else {
				assert.Nil(t, resolved)
			}
		})
	}
}

func TestGetBrokerNotFound(t *testing.T) {
	db := testDB(t)
	directory := NewDirectory(db)

	broker := &model.DataBroker{Name: "Acme Data"}
	require.NoError(t, db.Create(broker).Error)

	found, err := directory.GetBroker(broker.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Data", found.Name)

	_, err = directory.GetBroker(uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLoadFromJSON(t *testing.T) {
	db := testDB(t)
	directory := NewDirectory(db)

	seed := `{
		"brokers": [
			{"name": "Acme Data", "domains": ["AcmeData.com"], "privacy_email": "privacy@acmedata.com", "category": "people-search"},
			{"name": "DataVault", "domains": ["datavault.io"], "privacy_email": "privacy@datavault.io"}
		]
	}`
	path := filepath.Join(t.TempDir(), "brokers.json")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	created, err := directory.LoadFromJSON(path)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	resolved, err := directory.ResolveDomain("acmedata.com")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "privacy@acmedata.com", resolved.PrivacyEmail)

	// Reloading updates in place instead of duplicating.
	updated := `{
		"brokers": [
			{"name": "Acme Data", "domains": ["acmedata.com", "acme-mail.net"], "privacy_email": "dpo@acmedata.com"}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	created, err = directory.LoadFromJSON(path)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	brokerList, err := directory.ListBrokers()
	require.NoError(t, err)
	assert.Len(t, brokerList, 2)

	resolved, err = directory.ResolveDomain("acme-mail.net")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "dpo@acmedata.com", resolved.PrivacyEmail)
}

func TestLoadFromJSONMissingFile(t *testing.T) {
	db := testDB(t)
	directory := NewDirectory(db)

	_, err := directory.LoadFromJSON(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
