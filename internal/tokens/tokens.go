// Package tokens mints LiveKit-compatible access tokens for the development
// credential endpoint.
package tokens

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"concierge-widget/internal/observability/metrics"
)

var (
	ErrMissingKeys     = errors.New("livekit api key/secret required")
	ErrMissingIdentity = errors.New("identity required")
)

const DefaultTTL = time.Hour

// VideoGrant is the room permission block of a LiveKit token.
type VideoGrant struct {
	Room         string `json:"room,omitempty"`
	RoomJoin     bool   `json:"roomJoin,omitempty"`
	CanPublish   bool   `json:"canPublish,omitempty"`
	CanSubscribe bool   `json:"canSubscribe,omitempty"`
}

// Claims are the JWT claims LiveKit reads.
type Claims struct {
	jwt.RegisteredClaims
	Name  string      `json:"name,omitempty"`
	Video *VideoGrant `json:"video,omitempty"`
}

// Issuer signs tokens for one room.
type Issuer struct {
	apiKey    string
	apiSecret string
	room      string
	ttl       time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewIssuer creates an Issuer. A non-positive ttl means DefaultTTL.
func NewIssuer(apiKey, apiSecret, room string, ttl time.Duration, m *metrics.Metrics) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Issuer{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		room:      room,
		ttl:       ttl,
		metrics:   m,
		now:       time.Now,
	}
}

// Room returns the room tokens grant access to.
func (i *Issuer) Room() string {
	return i.room
}

// Issue returns a signed token letting identity join the room, publish its
// microphone and subscribe to the agent.
func (i *Issuer) Issue(identity string) (string, error) {
	token, err := i.issue(identity)
	i.metrics.RecordTokenIssued(err)
	return token, err
}

func (i *Issuer) issue(identity string) (string, error) {
	if i.apiKey == "" || i.apiSecret == "" {
		return "", ErrMissingKeys
	}
	if identity == "" {
		return "", ErrMissingIdentity
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate jti: %w", err)
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        hex.EncodeToString(b),
			Issuer:    i.apiKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name: identity,
		Video: &VideoGrant{
			Room:         i.room,
			RoomJoin:     true,
			CanPublish:   true,
			CanSubscribe: true,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.apiSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token signed by this issuer.
func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(i.apiSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.apiKey),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
