// Package convert maps domain models to the JSON shapes served over HTTP.
package convert

import (
	"time"

	"github.com/and161185/refkeeper/internal/model"
)

// --- users ---

// RegisterResponse is returned by POST /register.
type RegisterResponse struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	ReferralCode string `json:"referralCode"`
	Message      string `json:"message"`
}

// ToRegisterResponse projects a created user.
func ToRegisterResponse(u model.PublicUser, message string) RegisterResponse {
	return RegisterResponse{
		ID:           u.ID.String(),
		Username:     u.Username,
		Email:        u.Email,
		ReferralCode: u.ReferralCode,
		Message:      message,
	}
}

// LoginResponse is returned by POST /login.
type LoginResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// ToLoginResponse projects an authenticated user.
func ToLoginResponse(u model.User) LoginResponse {
	return LoginResponse{ID: u.ID.String(), Username: u.Username, Email: u.Email}
}

// --- referrals ---

// Referral is one item of GET /referrals.
type Referral struct {
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	DateReferred time.Time `json:"date_referred"`
	Status       string    `json:"status"`
}

// ToReferrals projects a referral listing. The result is never nil.
func ToReferrals(in []model.Referral) []Referral {
	out := make([]Referral, 0, len(in))
	for _, r := range in {
		out = append(out, Referral{
			Username:     r.ReferredUsername,
			Email:        r.ReferredEmail,
			DateReferred: r.DateReferred.UTC(),
			Status:       string(r.Status),
		})
	}
	return out
}

// ReferralStats is returned by GET /referral-stats.
type ReferralStats struct {
	SuccessfulReferrals int64 `json:"successful_referrals"`
}

// --- rewards ---

// Reward is one item of GET /rewards.
type Reward struct {
	ID          string    `json:"id"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Rewards is returned by GET /rewards.
type Rewards struct {
	TotalRewards int64    `json:"totalRewards"`
	Rewards      []Reward `json:"rewards"`
}

// ToRewards projects a reward summary.
func ToRewards(s model.RewardSummary) Rewards {
	out := Rewards{TotalRewards: s.Total, Rewards: make([]Reward, 0, len(s.Rewards))}
	for _, rw := range s.Rewards {
		out.Rewards = append(out.Rewards, Reward{
			ID:          rw.ID.String(),
			Amount:      rw.Amount,
			Description: rw.Description,
			CreatedAt:   rw.CreatedAt.UTC(),
		})
	}
	return out
}

// --- generic ---

// Message is the uniform body of status responses and errors.
type Message struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
