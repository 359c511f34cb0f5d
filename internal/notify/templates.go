package notify

import "fmt"

const welcomeSubject = "Welcome to our platform!"

// Welcome is the standard registration email.
func Welcome(to, username string) Message {
	return Message{
		To:      to,
		Subject: welcomeSubject,
		Body:    fmt.Sprintf("Hi %s,\n\nWelcome to our platform! Get started by setting up your profile.", username),
	}
}

// ReferralWelcome is the registration email for a referred user.
func ReferralWelcome(to, username, referrer string) Message {
	return Message{
		To:      to,
		Subject: welcomeSubject,
		Body: fmt.Sprintf("Hi %s,\n\nWelcome to our platform! You were referred by user %s.\n\nGet started by setting up your profile.",
			username, referrer),
	}
}

// PasswordReset carries a reset link.
func PasswordReset(to, link string) Message {
	return Message{
		To:      to,
		Subject: "Password Reset",
		Body:    fmt.Sprintf("Click here to reset your password: %s", link),
	}
}
