// Package oauthstate encodes the opaque OAuth state parameter: base64url JSON
// carrying the owner, a CSRF nonce and the issue time.
//
// The state alone proves nothing. The browser that started the flow keeps the
// issued value in a signed session cookie, and Verify compares the two.
package oauthstate

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pscheid92/creatorsync/internal/domain"
)

// DefaultMaxAge bounds how long a consent round trip may take.
const DefaultMaxAge = time.Hour

type State struct {
	OwnerID  string `json:"ownerId"`
	Nonce    string `json:"nonce"`
	IssuedAt int64  `json:"ts"` // unix milliseconds
}

// Encode builds a fresh state for ownerID.
func Encode(ownerID string, now time.Time) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate state nonce: %w", err)
	}

	payload, err := json.Marshal(State{
		OwnerID:  ownerID,
		Nonce:    hex.EncodeToString(nonce),
		IssuedAt: now.UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// Decode parses raw and rejects states without an owner or older than maxAge.
// A maxAge of zero disables the age check.
func Decode(raw string, now time.Time, maxAge time.Duration) (*State, error) {
	payload, err := decodeBase64(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}

	var s State
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}
	if s.OwnerID == "" {
		return nil, fmt.Errorf("%w: missing owner", domain.ErrInvalidState)
	}

	if maxAge > 0 {
		issued := time.UnixMilli(s.IssuedAt)
		if now.Sub(issued) > maxAge || issued.After(now.Add(time.Minute)) {
			return nil, fmt.Errorf("%w: expired", domain.ErrInvalidState)
		}
	}

	return &s, nil
}

// Verify accepts raw only when it is the state issued to this browser and it
// names the owner completing the flow.
func Verify(raw, issued, ownerID string, now time.Time, maxAge time.Duration) (*State, error) {
	if issued == "" {
		return nil, fmt.Errorf("%w: no state issued to this session", domain.ErrInvalidState)
	}
	if subtle.ConstantTimeCompare([]byte(raw), []byte(issued)) != 1 {
		return nil, fmt.Errorf("%w: state does not match session", domain.ErrInvalidState)
	}

	s, err := Decode(raw, now, maxAge)
	if err != nil {
		return nil, err
	}
	if ownerID == "" || subtle.ConstantTimeCompare([]byte(s.OwnerID), []byte(ownerID)) != 1 {
		return nil, fmt.Errorf("%w: owner does not match session", domain.ErrInvalidState)
	}

	return s, nil
}

// FromURL extracts the state parameter from an authorization URL.
func FromURL(authURL string) (string, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse authorization url: %w", err)
	}
	state := u.Query().Get("state")
	if state == "" {
		return "", fmt.Errorf("authorization url carries no state")
	}
	return state, nil
}

// decodeBase64 accepts padded and unpadded, standard and URL alphabets.
func decodeBase64(raw string) ([]byte, error) {
	raw = strings.TrimRight(raw, "=")
	if strings.ContainsAny(raw, "+/") {
		return base64.RawStdEncoding.DecodeString(raw)
	}
	return base64.RawURLEncoding.DecodeString(raw)
}
