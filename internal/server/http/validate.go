package httpserver

import (
	"errors"
	"unicode"

	"github.com/and161185/refkeeper/internal/errs"
	"github.com/go-playground/validator/v10"
)

type registerRequest struct {
	Email        string `json:"email" binding:"required,email,max=254"`
	Username     string `json:"username" binding:"required,min=3,max=50"`
	Password     string `json:"password" binding:"required,min=8,max=128"`
	ReferralCode string `json:"referral_code" binding:"max=64"`
}

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

type forgotRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8,max=128"`
}

// fieldMessages keys are "<StructField>.<tag>".
var fieldMessages = map[string]string{
	"Email.required":       "Invalid email format",
	"Email.email":          "Invalid email format",
	"Email.max":            "Invalid email format",
	"Username.required":    "Username must be at least 3 characters",
	"Username.min":         "Username must be at least 3 characters",
	"Username.max":         "Username must be at most 50 characters",
	"Password.required":    "Password required",
	"Password.min":         "Password must be at least 8 characters",
	"Password.max":         "Password must be at most 128 characters",
	"ReferralCode.max":     "Invalid referral code",
	"Identifier.required":  "Email or username required",
	"Token.required":       "Token required",
	"NewPassword.required": "Password must be at least 8 characters",
	"NewPassword.min":      "Password must be at least 8 characters",
	"NewPassword.max":      "Password must be at most 128 characters",
}

// bindError turns a gin binding failure into errs.ErrValidation with a readable reason.
func bindError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		if msg, ok := fieldMessages[fe.StructField()+"."+fe.Tag()]; ok {
			return errs.Validation(msg)
		}
		return errs.Validation("Invalid " + fe.Field())
	}
	return errs.Validation(msgMalformedRequest)
}

// checkPasswordStrength requires an upper case letter, a lower case letter and a digit.
func checkPasswordStrength(pw string) error {
	var upper, lower, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return errs.Validation("Password must contain uppercase, lowercase, and number")
	}
	return nil
}
