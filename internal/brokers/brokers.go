// Package brokers maintains the directory of known data brokers and resolves
// sender domains to broker records.
package brokers

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"optout-sentry-go/internal/apperr"
	"optout-sentry-go/internal/model"
)

// Directory looks up data brokers by id or by the domains they operate.
type Directory struct {
	db *gorm.DB
}

// NewDirectory creates a broker directory backed by the given database.
func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// WithTx returns a Directory bound to the given transaction.
func (d *Directory) WithTx(tx *gorm.DB) *Directory {
	return &Directory{db: tx}
}

// GetBroker returns the broker with the given id.
func (d *Directory) GetBroker(id uuid.UUID) (*model.DataBroker, error) {
	var broker model.DataBroker
	if err := d.db.First(&broker, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get broker: %w", err)
	}
	return &broker, nil
}

// ResolveDomain finds the broker that owns the given domain. A broker owns a
// domain when it equals a registered domain or is a subdomain of one
// (mail.example.com resolves to a broker registered for example.com).
// Returns (nil, nil) when no broker matches.
func (d *Directory) ResolveDomain(domain string) (*model.DataBroker, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil, nil
	}

	var brokers []model.DataBroker
	if err := d.db.Find(&brokers).Error; err != nil {
		return nil, fmt.Errorf("failed to list brokers: %w", err)
	}

	for i := range brokers {
		for _, registered := range brokers[i].Domains {
			registered = strings.ToLower(strings.TrimSpace(registered))
			if registered == "" {
				continue
			}
			if domain == registered || strings.HasSuffix(domain, "."+registered) {
				return &brokers[i], nil
			}
		}
	}
	return nil, nil
}

// ListBrokers returns all known brokers ordered by name.
func (d *Directory) ListBrokers() ([]model.DataBroker, error) {
	var brokers []model.DataBroker
	if err := d.db.Order("name").Find(&brokers).Error; err != nil {
		return nil, fmt.Errorf("failed to list brokers: %w", err)
	}
	return brokers, nil
}

// brokerSeed is the on-disk format of the bundled broker list.
type brokerSeed struct {
	Brokers []struct {
		Name         string   `json:"name"`
		Domains      []string `json:"domains"`
		PrivacyEmail string   `json:"privacy_email"`
		OptOutURL    string   `json:"opt_out_url"`
		Category     string   `json:"category"`
	} `json:"brokers"`
}

// LoadFromJSON seeds or updates the broker table from a JSON file and
// returns the number of newly created brokers.
func (d *Directory) LoadFromJSON(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read broker file: %w", err)
	}

	var seed brokerSeed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return 0, fmt.Errorf("failed to parse broker file: %w", err)
	}

	created := 0
	for _, b := range seed.Brokers {
		domains := make(model.StringList, 0, len(b.Domains))
		for _, dom := range b.Domains {
			dom = strings.ToLower(strings.TrimSpace(dom))
			if dom != "" {
				domains = append(domains, dom)
			}
		}

		var existing model.DataBroker
		err := d.db.Where("name = ?", b.Name).First(&existing).Error
		switch {
		case err == nil:
			existing.Domains = domains
			existing.PrivacyEmail = b.PrivacyEmail
			existing.OptOutURL = b.OptOutURL
			existing.Category = b.Category
			if err := d.db.Save(&existing).Error; err != nil {
				return created, fmt.Errorf("failed to update broker %s: %w", b.Name, err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			broker := model.DataBroker{
				Name:         b.Name,
				Domains:      domains,
				PrivacyEmail: b.PrivacyEmail,
				OptOutURL:    b.OptOutURL,
				Category:     b.Category,
			}
			if err := d.db.Create(&broker).Error; err != nil {
				return created, fmt.Errorf("failed to create broker %s: %w", b.Name, err)
			}
			created++
		default:
			return created, fmt.Errorf("failed to look up broker %s: %w", b.Name, err)
		}
	}
	return created, nil
}
