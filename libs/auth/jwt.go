package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the access-token payload issued by the identity provider.
// ProfileID is the patient, clinic or doctor row id; it falls back to the subject.
// ClinicID is set for clinic staff and doctors.
type Claims struct {
	Role      string `json:"role"`
	ProfileID string `json:"profile_id,omitempty"`
	ClinicID  string `json:"clinic_id,omitempty"`
	jwt.RegisteredClaims
}

type VerifierConfig struct {
	HS256Secret  string
	RSAPublicKey *rsa.PublicKey
	JWKS         *JWKSClient
	Issuer       string
	Leeway       time.Duration
}

// Verifier checks HS256 tokens against a shared secret and RS256 tokens against a
// static key or a JWKS endpoint, whichever is configured.
type Verifier struct {
	cfg    VerifierConfig
	parser *jwt.Parser
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	var methods []string
	if cfg.HS256Secret != "" {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if cfg.RSAPublicKey != nil || cfg.JWKS != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	if len(methods) == 0 {
		return nil, errors.New("auth: no verification key configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &Verifier{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

func (v *Verifier) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(raw, claims, v.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

func (v *Verifier) keyFunc(t *jwt.Token) (any, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		return []byte(v.cfg.HS256Secret), nil
	case *jwt.SigningMethodRSA:
		if v.cfg.JWKS != nil {
			kid, _ := t.Header["kid"].(string)
			if kid != "" {
				return v.cfg.JWKS.Get(kid)
			}
		}
		if v.cfg.RSAPublicKey != nil {
			return v.cfg.RSAPublicKey, nil
		}
		return nil, ErrKeyNotFound
	default:
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
}

// ParseRSAPublicKey accepts a PEM block with literal "\n" escapes, as stored in env vars.
func ParseRSAPublicKey(pemText string) (*rsa.PublicKey, error) {
	pemText = strings.ReplaceAll(pemText, `\n`, "\n")
	return jwt.ParseRSAPublicKeyFromPEM([]byte(pemText))
}
