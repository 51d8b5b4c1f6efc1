// Package auth resolves the calling tenant and role from bearer tokens.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Roles recognised by the API.
const (
	RoleAdmin      = "admin"
	RoleDispatcher = "dispatcher"
	RoleViewer     = "viewer"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpired      = errors.New("token expired")
)

// Verifier validates tokens and extracts tenant/role claims.
// Supports modes: dev (token is "tenant:role", no verification) and hmac (HS256 JWT).
type Verifier struct {
	Mode        string
	HMACSecret  []byte
	TenantClaim string
	RoleClaim   string
	now         func() time.Time
}

type Principal struct {
	Tenant string
	Role   string
}

func NewVerifier(mode, secret string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{Mode: mode, HMACSecret: []byte(secret), TenantClaim: "tenant", RoleClaim: "role", now: time.Now}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	if v.Mode == "dev" {
		parts := strings.Split(token, ":")
		if len(parts) >= 2 && parts[0] != "" {
			return Principal{Tenant: parts[0], Role: strings.ToLower(parts[1])}, nil
		}
		return Principal{}, errors.New("invalid dev token; expected tenant:role")
	}
	if v.Mode != "hmac" {
		return Principal{}, errors.New("unsupported auth mode " + v.Mode)
	}
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, ErrInvalidToken
	}
	headerJSON, err := b64urlDecode(segs[0])
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	payloadJSON, err := b64urlDecode(segs[1])
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	sig, err := b64urlDecode(segs[2])
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &hdr); err != nil || hdr.Alg != "HS256" {
		return Principal{}, errors.New("unsupported alg for hmac")
	}
	if !hmac.Equal(v.sign(segs[0]+"."+segs[1]), sig) {
		return Principal{}, errors.New("bad signature")
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Principal{}, ErrInvalidToken
	}
	if exp, ok := claims["exp"].(float64); ok && v.now().Unix() >= int64(exp) {
		return Principal{}, ErrExpired
	}
	tenant, _ := claims[v.TenantClaim].(string)
	role, _ := claims[v.RoleClaim].(string)
	if tenant == "" {
		return Principal{}, errors.New("missing tenant claim")
	}
	if role == "" {
		role = RoleViewer
	}
	return Principal{Tenant: tenant, Role: strings.ToLower(role)}, nil
}

// Sign issues an HS256 token for claims; used by tooling and tests.
func (v *Verifier) Sign(claims map[string]any) (string, error) {
	hdr := b64urlEncode([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	in := hdr + "." + b64urlEncode(body)
	return in + "." + b64urlEncode(v.sign(in)), nil
}

func (v *Verifier) sign(input string) []byte {
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(input))
	return mac.Sum(nil)
}

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
func b64urlEncode(b []byte) string          { return base64.RawURLEncoding.EncodeToString(b) }
