// Package credentials supplies the Bitquery bearer token and reports diagnostics about it
// without ever validating the token.
package credentials

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/polydash/ingestion/pkg/utils"
)

const EnvOAuthToken = "BITQUERY_OAUTH_TOKEN"

// Provider holds a static bearer token.
type Provider struct {
	token string
}

func New(token string) *Provider {
	return &Provider{token: strings.TrimSpace(token)}
}

// FromEnv reads BITQUERY_OAUTH_TOKEN.
func FromEnv() *Provider {
	return New(utils.Env(EnvOAuthToken, ""))
}

func (p *Provider) Token() string { return p.token }

// Diagnostics describes the configured token for the debug endpoint.
type Diagnostics struct {
	HasOAuthToken bool       `json:"hasOAuthToken"`
	TokenLength   int        `json:"tokenLength"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Expired       bool       `json:"expired,omitempty"`
}

// Diagnostics reports presence and length. When the token happens to be a JWT its exp claim
// is read without verifying the signature.
func (p *Provider) Diagnostics(now time.Time) Diagnostics {
	d := Diagnostics{HasOAuthToken: p.token != "", TokenLength: len(p.token)}
	if !d.HasOAuthToken {
		return d
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(p.token, claims); err != nil {
		return d
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return d
	}
	at := exp.Time.UTC()
	d.ExpiresAt = &at
	d.Expired = now.After(at)
	return d
}
