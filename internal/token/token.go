// Package token issues and verifies the signed, single-use, time-bounded
// tokens used by subscription confirmation and unsubscribe links.
package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/bxtxh/seiji-watch-sub000/internal/ports"
)

// Token actions.
const (
	ActionConfirm     = "confirm"
	ActionUnsubscribe = "unsubscribe"
)

var (
	ErrInvalid = errors.New("token invalid")
	ErrExpired = errors.New("token expired")
	ErrUsed    = errors.New("token already used")
)

// Claims are the verified contents of a token.
type Claims struct {
	Action       string
	SubscriberID string
	TopicID      string
	Nonce        string
	ExpiresAt    time.Time
}

// Signer creates and verifies HMAC-SHA256 signed tokens. Single use is
// enforced through the token store's nonce ledger.
type Signer struct {
	key   []byte
	ttl   time.Duration
	clk   clock.Clock
	store ports.TokenStore
}

// NewSigner builds a signer with the given secret and token lifetime.
func NewSigner(key string, ttl time.Duration, clk clock.Clock, store ports.TokenStore) *Signer {
	return &Signer{key: []byte(key), ttl: ttl, clk: clk, store: store}
}

// Issue creates a signed token binding an action to a subscriber and topic.
func (s *Signer) Issue(action, subscriberID, topicID string) (string, error) {
	if len(s.key) == 0 {
		return "", fmt.Errorf("token signing key not configured")
	}

	expires := s.clk.Now().Add(s.ttl).Unix()
	payload := strings.Join([]string{
		action, subscriberID, topicID, strconv.FormatInt(expires, 10), uuid.NewString(),
	}, "|")

	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + s.sign(payload), nil
}

// Verify checks the signature, action, expiry and single-use nonce, and
// returns the token claims.
func (s *Signer) Verify(ctx context.Context, raw, wantAction string) (Claims, error) {
	encoded, mac, ok := strings.Cut(raw, ".")
	if !ok {
		return Claims{}, ErrInvalid
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Claims{}, ErrInvalid
	}
	payload := string(payloadBytes)

	if !hmac.Equal([]byte(s.sign(payload)), []byte(mac)) {
		return Claims{}, ErrInvalid
	}

	parts := strings.Split(payload, "|")
	if len(parts) != 5 {
		return Claims{}, ErrInvalid
	}
	expires, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Claims{}, ErrInvalid
	}

	claims := Claims{
		Action:       parts[0],
		SubscriberID: parts[1],
		TopicID:      parts[2],
		Nonce:        parts[4],
		ExpiresAt:    time.Unix(expires, 0),
	}

	if claims.Action != wantAction {
		return Claims{}, ErrInvalid
	}
	if s.clk.Now().After(claims.ExpiresAt) {
		return Claims{}, ErrExpired
	}

	fresh, err := s.store.ConsumeNonce(ctx, claims.Nonce)
	if err != nil {
		return Claims{}, fmt.Errorf("consume token nonce: %w", err)
	}
	if !fresh {
		return Claims{}, ErrUsed
	}

	return claims, nil
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
