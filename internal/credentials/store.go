// Package credentials persists Fitbit OAuth tokens keyed by Fitbit user id and
// resolves them from any local identity linked to that account.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/food-log-nexus/internal/db/models"
	"github.com/pysugar/food-log-nexus/internal/logging"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no credential is linked to a local identity.
var ErrNotFound = errors.New("credential not found")

// TokenPayload is the token data returned by the Fitbit token endpoint.
type TokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       string `json:"user_id,omitempty"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

// Record is the credential state of one Fitbit account.
type Record struct {
	AccessToken       string
	RefreshToken      string
	ExpiresAt         time.Time
	ExternalAccountID string
	LocalIdentities   []string
}

// Expired reports whether the access token can no longer be used at now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store is the gorm-backed credential gateway.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a Store on an already-migrated database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// FindByLocalIdentity returns the record whose identity set contains id.
// If id is linked to more than one account, the most recently updated wins.
func (s *Store) FindByLocalIdentity(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	var cred models.FitbitCredential
	err := s.db.WithContext(ctx).
		Joins("JOIN credential_identities ON credential_identities.external_account_id = fitbit_credentials.external_account_id").
		Where("credential_identities.local_identity = ?", id).
		Order("fitbit_credentials.updated_at DESC").
		Preload("LocalIdentities", orderedIdentities).
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logging.Printf(ctx, "📦 No credential linked to local identity %s", id)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find credential for %s: %w", id, err)
	}
	return toRecord(cred), nil
}

// Upsert stores tokens for externalAccountID and links localIdentity to it.
// Token columns are overwritten, the identity set only grows, and an empty
// refresh token keeps the stored one. Both writes share one transaction and
// rely on ON CONFLICT so concurrent callers cannot lose each other's links.
func (s *Store) Upsert(ctx context.Context, localIdentity, externalAccountID string, payload TokenPayload) (*Record, error) {
	if externalAccountID == "" {
		return nil, errors.New("upsert credential: external account id is required")
	}

	expiresAt := s.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	cred := models.FitbitCredential{
		ExternalAccountID: externalAccountID,
		AccessToken:       payload.AccessToken,
		RefreshToken:      payload.RefreshToken,
		ExpiresAt:         expiresAt.UnixMilli(),
	}

	updates := []string{"access_token", "expires_at", "updated_at"}
	if payload.RefreshToken != "" {
		updates = append(updates, "refresh_token")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_account_id"}},
			DoUpdates: clause.AssignmentColumns(updates),
		}).Create(&cred).Error; err != nil {
			return fmt.Errorf("merge tokens: %w", err)
		}

		if localIdentity == "" {
			return nil
		}
		link := models.CredentialIdentity{
			LocalIdentity:     localIdentity,
			ExternalAccountID: externalAccountID,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
			return fmt.Errorf("link identity: %w", err)
		}
		return nil
	})
	if err != nil {
		logging.Printf(ctx, "❌ Failed to save tokens for %s (Fitbit user %s): %v", localIdentity, externalAccountID, err)
		return nil, fmt.Errorf("upsert credential %s: %w", externalAccountID, err)
	}

	logging.Printf(ctx, "📦 Saved tokens for local identity %s (Fitbit user %s, expires %s)",
		localIdentity, externalAccountID, expiresAt.Format(time.RFC3339))
	return s.findByExternalAccountID(ctx, externalAccountID)
}

func (s *Store) findByExternalAccountID(ctx context.Context, externalAccountID string) (*Record, error) {
	var cred models.FitbitCredential
	err := s.db.WithContext(ctx).
		Preload("LocalIdentities", orderedIdentities).
		First(&cred, "external_account_id = ?", externalAccountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load credential %s: %w", externalAccountID, err)
	}
	return toRecord(cred), nil
}

func orderedIdentities(db *gorm.DB) *gorm.DB {
	return db.Order("created_at, local_identity")
}

func toRecord(cred models.FitbitCredential) *Record {
	ids := make([]string, 0, len(cred.LocalIdentities))
	for _, link := range cred.LocalIdentities {
		ids = append(ids, link.LocalIdentity)
	}
	return &Record{
		AccessToken:       cred.AccessToken,
		RefreshToken:      cred.RefreshToken,
		ExpiresAt:         time.UnixMilli(cred.ExpiresAt),
		ExternalAccountID: cred.ExternalAccountID,
		LocalIdentities:   ids,
	}
}
