// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// ReferralRewardPoints is the fixed amount credited to a referrer per successful referral.
const ReferralRewardPoints int64 = 100

// Tokens collects an issued session token and its expiry.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time
}

// User represents a registered account. PasswordHash is opaque to everything but internal/crypto.
type User struct {
	ID           uuid.UUID // PK
	Email        string    // unique
	Username     string    // unique
	PasswordHash string    // encoded argon2id credential
	ReferralCode string    // unique, immutable once assigned
	CreatedAt    time.Time
}

// PublicUser is the projection returned to callers after registration and login.
type PublicUser struct {
	ID           uuid.UUID
	Username     string
	Email        string
	ReferralCode string
}

// Public strips credentials from the user.
func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, Email: u.Email, ReferralCode: u.ReferralCode}
}

// ReferralStatus is the attribution state of a referral. Transitions only pending -> successful.
type ReferralStatus string

const (
	ReferralPending    ReferralStatus = "pending"
	ReferralSuccessful ReferralStatus = "successful"
)

// Referral links a referrer to a user who registered with the referrer's code.
type Referral struct {
	ID             uuid.UUID
	ReferrerID     uuid.UUID
	ReferredUserID uuid.UUID
	Status         ReferralStatus
	DateReferred   time.Time

	// Populated by listing queries only.
	ReferredUsername string
	ReferredEmail    string
}

// Reward is an append-only point grant.
type Reward struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Amount      int64
	Description string
	ReferralID  uuid.NullUUID // set for referral rewards; unique when valid
	CreatedAt   time.Time
}

// Grant describes a reward to append.
type Grant struct {
	UserID      uuid.UUID
	Amount      int64
	Description string
	ReferralID  uuid.NullUUID
}

// RewardSummary is a user's rewards newest first with their sum.
type RewardSummary struct {
	Total   int64
	Rewards []Reward
}

// Registration is a validated registration request with an already hashed password.
type Registration struct {
	Email        string
	Username     string
	PasswordHash string
	ReferralCode string // optional code of the referrer
}
