package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoIdentity        = errors.New("not signed in")
	ErrExpired           = errors.New("credential expired")
	ErrInvalidCredential = errors.New("invalid credential")
)

// Parse builds a User from a bearer credential. JWT claims are read without
// verifying the signature: the job service is the one verifying them. Opaque
// credentials are accepted as is.
func Parse(credential string) (User, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(credential), "Bearer "))
	if credential == "" {
		return User{}, ErrInvalidCredential
	}
	if strings.Count(credential, ".") != 2 {
		return User{Credential: credential}, nil
	}

	claims := jwt.MapClaims{}
	token, _, err := jwt.NewParser().ParseUnverified(credential, claims)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	u := User{
		Credential: credential,
		Token:      token,
		Username:   claim(claims, "preferred_username", "username", "email", "sub"),
	}
	email := claim(claims, "email")
	u.EmailDomain = emailDomain(email)
	u.Organization = claim(claims, "org_id", "organization")
	if u.Organization == "" {
		u.Organization = u.EmailDomain
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if exp != nil {
		u.ExpiresAt = exp.Time
	}
	return u, nil
}

func claim(claims jwt.MapClaims, names ...string) string {
	for _, n := range names {
		if v, ok := claims[n].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
