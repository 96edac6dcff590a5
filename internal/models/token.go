package models

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TokenPayloadVersion is the current wire version of the scannable token payload.
const TokenPayloadVersion = 1

var (
	// ErrMalformedPayload indicates the presented token could not be decoded.
	ErrMalformedPayload = errors.New("malformed token payload")
	// ErrUnsupportedPayloadVersion indicates a payload produced by an unknown encoder version.
	ErrUnsupportedPayloadVersion = errors.New("unsupported token payload version")
)

// RotatedToken is one emission of a session's rotating token.
type RotatedToken struct {
	SessionID   string    `json:"session_id"`
	BaseToken   string    `json:"base_token"`
	Sequence    uint64    `json:"sequence"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	SecureValue string    `json:"secure_value"`
	Nonce       string    `json:"nonce"`
}

// Expired reports whether now is past the token's expiry (grace included).
func (t *RotatedToken) Expired(now time.Time) bool {
	return t == nil || now.After(t.ExpiresAt)
}

// Payload returns the typed record handed to the rendering collaborator and scanned by clients.
func (t *RotatedToken) Payload() TokenPayload {
	return TokenPayload{
		Version:     TokenPayloadVersion,
		SessionID:   t.SessionID,
		BaseToken:   t.BaseToken,
		Sequence:    t.Sequence,
		IssuedAt:    t.IssuedAt.Unix(),
		SecureValue: t.SecureValue,
		ExpiresAt:   t.ExpiresAt.Unix(),
	}
}

// TokenPayload is the versioned record encoded into the visual token.
type TokenPayload struct {
	Version     int    `json:"v"`
	SessionID   string `json:"sid"`
	BaseToken   string `json:"base"`
	Sequence    uint64 `json:"seq"`
	IssuedAt    int64  `json:"iat"`
	SecureValue string `json:"sv"`
	ExpiresAt   int64  `json:"exp"`
}

// Encode renders the payload as "v<version>.<base64url(json)>".
func (p TokenPayload) Encode() (string, error) {
	if p.Version == 0 {
		p.Version = TokenPayloadVersion
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode token payload: %w", err)
	}
	return fmt.Sprintf("v%d.%s", p.Version, base64.RawURLEncoding.EncodeToString(raw)), nil
}

// DecodeTokenPayload parses a presented token string.
func DecodeTokenPayload(raw string) (*TokenPayload, error) {
	raw = strings.TrimSpace(raw)
	prefix, body, ok := strings.Cut(raw, ".")
	if !ok || body == "" {
		return nil, ErrMalformedPayload
	}
	if prefix != fmt.Sprintf("v%d", TokenPayloadVersion) {
		if strings.HasPrefix(prefix, "v") {
			return nil, ErrUnsupportedPayloadVersion
		}
		return nil, ErrMalformedPayload
	}
	decoded, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, ErrMalformedPayload
	}
	var payload TokenPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, ErrMalformedPayload
	}
	if payload.Version != TokenPayloadVersion {
		return nil, ErrUnsupportedPayloadVersion
	}
	if payload.SessionID == "" || payload.SecureValue == "" {
		return nil, ErrMalformedPayload
	}
	return &payload, nil
}
