package twilio

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/acme/softdialer/internal/config"
)

// TokenIssuer mints softphone access tokens carrying a voice grant.
type TokenIssuer struct {
	accountSID   string
	apiKeySID    string
	apiKeySecret []byte
	appSID       string
	ttl          time.Duration
	now          func() time.Time
}

type incomingGrant struct {
	Allow bool `json:"allow"`
}

type outgoingGrant struct {
	ApplicationSID string `json:"application_sid"`
}

type voiceGrant struct {
	Incoming incomingGrant `json:"incoming"`
	Outgoing outgoingGrant `json:"outgoing"`
}

type grants struct {
	Identity string     `json:"identity"`
	Voice    voiceGrant `json:"voice"`
}

// AccessClaims is the claim set of a provider access token.
type AccessClaims struct {
	Grants grants `json:"grants"`
	jwt.RegisteredClaims
}

// NewTokenIssuer builds an issuer from the API key configured for the account.
func NewTokenIssuer(cfg config.TelephonyConfig, ttl time.Duration) (*TokenIssuer, error) {
	if cfg.AccountSID == "" || cfg.APIKeySID == "" || cfg.APIKeySecret == "" {
		return nil, errors.New("twilio: account sid, api key sid and api key secret are required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{
		accountSID:   cfg.AccountSID,
		apiKeySID:    cfg.APIKeySID,
		apiKeySecret: []byte(cfg.APIKeySecret),
		appSID:       cfg.TwimlAppSID,
		ttl:          ttl,
		now:          time.Now,
	}, nil
}

// Issue returns a signed token for the softphone identity.
func (t *TokenIssuer) Issue(identity string) (string, time.Time, error) {
	if identity == "" {
		return "", time.Time{}, errors.New("twilio: identity is required")
	}
	now := t.now()
	expiresAt := now.Add(t.ttl)

	claims := AccessClaims{
		Grants: grants{
			Identity: identity,
			Voice: voiceGrant{
				Incoming: incomingGrant{Allow: true},
				Outgoing: outgoingGrant{ApplicationSID: t.appSID},
			},
		},
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        t.apiKeySID + "-" + uuid.NewString(),
			Issuer:    t.apiKeySID,
			Subject:   t.accountSID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["cty"] = "twilio-fpa;v=1"
	signed, err := token.SignedString(t.apiKeySecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("twilio: sign token: %w", err)
	}
	return signed, expiresAt, nil
}
