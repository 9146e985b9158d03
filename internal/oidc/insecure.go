package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMalformedIDToken = errors.New("oidc: malformed id token")
	ErrIDTokenExpired   = errors.New("oidc: id token expired")
	ErrAudience         = errors.New("oidc: id token audience mismatch")
)

// payload is the decoded claim set of an unverified ID token.
type payload json.RawMessage

func (p payload) Claims(v interface{}) error { return json.Unmarshal(p, v) }

// InsecureVerifier decodes ID tokens WITHOUT checking signatures, for local
// and integration setups behind ALLOW_INSECURE_TOKEN. It still rejects tokens
// without a subject, past their exp, or issued to another client.
type InsecureVerifier struct {
	ClientID string
	Now      func() time.Time
}

func NewInsecureVerifier(clientID string) *InsecureVerifier {
	return &InsecureVerifier{ClientID: clientID, Now: time.Now}
}

func (v *InsecureVerifier) Verify(ctx context.Context, raw string) (IDToken, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedIDToken
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedIDToken, err)
	}
	var std struct {
		Sub string          `json:"sub"`
		Exp *float64        `json:"exp"`
		Aud json.RawMessage `json:"aud"`
	}
	if err := json.Unmarshal(data, &std); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedIDToken, err)
	}
	if std.Sub == "" {
		return nil, fmt.Errorf("%w: no sub", ErrMalformedIDToken)
	}
	if std.Exp != nil && !v.Now().Before(time.Unix(int64(*std.Exp), 0)) {
		return nil, ErrIDTokenExpired
	}
	if v.ClientID != "" && len(std.Aud) > 0 && !audienceHas(std.Aud, v.ClientID) {
		return nil, ErrAudience
	}
	return payload(data), nil
}

// audienceHas accepts aud as a single string or an array of strings.
func audienceHas(raw json.RawMessage, clientID string) bool {
	var one string
	if json.Unmarshal(raw, &one) == nil {
		return one == clientID
	}
	var many []string
	if json.Unmarshal(raw, &many) != nil {
		return false
	}
	for _, a := range many {
		if a == clientID {
			return true
		}
	}
	return false
}
