package models

import "time"

// FitbitCredential stores OAuth tokens for one Fitbit account.
// ExternalAccountID is the Fitbit user id and the storage key.
type FitbitCredential struct {
	ExternalAccountID string `gorm:"primaryKey"`
	AccessToken       string `gorm:"type:text"`
	RefreshToken      string `gorm:"type:text"`
	ExpiresAt         int64  // epoch milliseconds
	LocalIdentities   []CredentialIdentity `gorm:"foreignKey:ExternalAccountID;references:ExternalAccountID"`
	CreatedAt         time.Time
	UpdatedAt         time.Time `gorm:"index"`
}

// CredentialIdentity links a local identity to a Fitbit account.
// Rows are only ever added, so an account's identity set never shrinks.
type CredentialIdentity struct {
	LocalIdentity     string `gorm:"primaryKey"`
	ExternalAccountID string `gorm:"primaryKey;index"`
	CreatedAt         time.Time
}
