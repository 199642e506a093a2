// Package auth manages the OAuth credential used by the Google Drive backend:
// interactive authorization, silent renewal before expiry, persistence in the
// local metadata table and invalidation.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// DefaultLifetime is assumed when neither the provider nor the token itself
// reports an expiry.
const DefaultLifetime = 3600 * time.Second

// Credential is the persisted authorization state.
type Credential struct {
	AccessToken string `json:"accessToken"`
	// RefreshToken is the existing session used for silent renewal.
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenType    string    `json:"tokenType,omitempty"`
	Expiry       time.Time `json:"expiry"`
}

// Authorized reports whether the credential carries an access token.
func (c Credential) Authorized() bool {
	return c.AccessToken != ""
}

// CanRenew reports whether a silent renewal can be attempted.
func (c Credential) CanRenew() bool {
	return c.RefreshToken != ""
}

// Expired reports whether the access token is past its expiry at now.
func (c Credential) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && !now.Before(c.Expiry)
}

// fromToken converts a provider token, computing the expiry as the provider
// reported expiry, else the JWT exp claim, else now + DefaultLifetime.
// previous supplies the refresh token when the provider did not rotate it.
func fromToken(tok *oauth2.Token, previous Credential, now time.Time) Credential {
	c := Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if c.RefreshToken == "" {
		c.RefreshToken = previous.RefreshToken
	}
	if c.Expiry.IsZero() && tok.ExpiresIn > 0 {
		c.Expiry = now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	if c.Expiry.IsZero() {
		if exp, ok := jwtExpiry(tok.AccessToken); ok {
			c.Expiry = exp
		}
	}
	if c.Expiry.IsZero() {
		c.Expiry = now.Add(DefaultLifetime)
	}
	return c
}

// jwtExpiry reads the exp claim without verifying the signature; the value
// is only used to schedule renewal.
func jwtExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
