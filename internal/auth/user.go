package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is the identity behind the cached credential.
type User struct {
	Username     string
	Organization string
	EmailDomain  string
	ExpiresAt    time.Time
	// Credential is the raw bearer value sent to the job service.
	Credential string
	// Token is nil for opaque credentials.
	Token *jwt.Token
}

func (u User) Expired(now time.Time) bool {
	return !u.ExpiresAt.IsZero() && !now.Before(u.ExpiresAt)
}

// DisplayName is what renderers show for the signed in user.
func (u User) DisplayName() string {
	if u.Username == "" {
		return "unknown user"
	}
	if u.Organization == "" {
		return u.Username
	}
	return u.Username + " (" + u.Organization + ")"
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}
