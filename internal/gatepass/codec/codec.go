// Package codec derives the security code and the signed QR token bound to
// a gate pass.  Both are pure functions of the pass and the deployment
// secret, so a pass can be re-verified without storing anything extra.
package codec

import (
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

// CodeLength is the number of characters in a security code.
const CodeLength = 8

// DefaultTokenTTL is how long a signed token stays valid after issuance.
const DefaultTokenTTL = 24 * time.Hour

const issuer = "gatepass"

// HKDF info strings.  Changing either invalidates every code or token
// already handed out.
var (
	hkdfInfoSecurityCode = []byte("gatepass.security-code.v1")
	hkdfInfoTokenSigning = []byte("gatepass.qr-token.v1")
)

// Domain tag prefixed to the pass id before keyed hashing.
var codeDomain = []byte("gatepass.code.v1:")

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

var ErrEmptySecret = errors.New("codec secret is required")

type Config struct {
	// Secret is the deployment master secret.  Both subkeys derive from it.
	Secret string

	// TokenTTL defaults to DefaultTokenTTL.
	TokenTTL time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

type Codec struct {
	codeKey []byte
	signKey []byte
	ttl     time.Duration
	now     func() time.Time
}

func New(cfg Config) (*Codec, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, ErrEmptySecret
	}
	codeKey, err := deriveKey([]byte(cfg.Secret), hkdfInfoSecurityCode)
	if err != nil {
		return nil, err
	}
	signKey, err := deriveKey([]byte(cfg.Secret), hkdfInfoTokenSigning)
	if err != nil {
		return nil, err
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Codec{codeKey: codeKey, signKey: signKey, ttl: ttl, now: now}, nil
}

// SecurityCode returns the short uppercase code bound to passID.
func (c *Codec) SecurityCode(passID string) string {
	return securityCode(c.codeKey, passID)
}

// DeriveSecurityCode is the stateless form of Codec.SecurityCode.
func DeriveSecurityCode(passID, secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrEmptySecret
	}
	key, err := deriveKey([]byte(secret), hkdfInfoSecurityCode)
	if err != nil {
		return "", err
	}
	return securityCode(key, passID), nil
}

// TokenFields is the pass data carried inside a signed token.  Times are
// carried at one-second precision.
type TokenFields struct {
	PassID      string
	StudentID   string
	Category    types.Category
	DepartureAt time.Time
	ReturnAt    time.Time
	Status      types.Status
	Code        string
}

type tokenClaims struct {
	StudentID string           `json:"sid"`
	Category  types.Category   `json:"cat"`
	Departure *jwt.NumericDate `json:"dep"`
	Return    *jwt.NumericDate `json:"ret"`
	Status    types.Status     `json:"st"`
	Code      string           `json:"code"`
	jwt.RegisteredClaims
}

// BuildToken signs f into a token valid from issuedAt for the codec's TTL.
func (c *Codec) BuildToken(f TokenFields, issuedAt time.Time) (string, error) {
	if strings.TrimSpace(f.PassID) == "" {
		return "", errors.New("BuildToken: pass id is required")
	}
	claims := tokenClaims{
		StudentID: f.StudentID,
		Category:  f.Category,
		Departure: jwt.NewNumericDate(f.DepartureAt),
		Return:    jwt.NewNumericDate(f.ReturnAt),
		Status:    f.Status,
		Code:      f.Code,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   f.PassID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(c.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signKey)
	if err != nil {
		return "", fmt.Errorf("BuildToken sign: %w", err)
	}
	return signed, nil
}

// FailureReason explains why a token did not verify.
type FailureReason string

const (
	ReasonMalformed    FailureReason = "malformed"
	ReasonBadSignature FailureReason = "bad_signature"
	ReasonExpired      FailureReason = "expired"
	ReasonCodeMismatch FailureReason = "code_mismatch"
)

// Result is the outcome of VerifyToken.  Expired and forged tokens are
// ordinary results, not errors.
type Result struct {
	Valid     bool
	Reason    FailureReason
	Fields    TokenFields
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// VerifyToken checks the signature and expiry of token and re-derives the
// security code from the pass id it names.
func (c *Codec) VerifyToken(token string) Result {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims,
		func(*jwt.Token) (any, error) { return c.signKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	switch {
	case err == nil && parsed.Valid:
	case errors.Is(err, jwt.ErrTokenExpired):
		return Result{Reason: ReasonExpired}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return Result{Reason: ReasonBadSignature}
	default:
		return Result{Reason: ReasonMalformed}
	}

	fields := TokenFields{
		PassID:    claims.Subject,
		StudentID: claims.StudentID,
		Category:  claims.Category,
		Status:    claims.Status,
		Code:      claims.Code,
	}
	if claims.Departure != nil {
		fields.DepartureAt = claims.Departure.UTC()
	}
	if claims.Return != nil {
		fields.ReturnAt = claims.Return.UTC()
	}
	if fields.PassID == "" || fields.Code != c.SecurityCode(fields.PassID) {
		return Result{Reason: ReasonCodeMismatch}
	}

	res := Result{Valid: true, Fields: fields}
	if claims.IssuedAt != nil {
		res.IssuedAt = claims.IssuedAt.UTC()
	}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.UTC()
	}
	return res
}

// LooksLikeToken reports whether s has the three-segment shape of a
// signed token.  It says nothing about validity.
func LooksLikeToken(s string) bool {
	return strings.Count(strings.TrimSpace(s), ".") == 2
}

func securityCode(key []byte, passID string) string {
	hasher, err := blake3.NewKeyed(key)
	if err != nil {
		// Keys come from deriveKey and are always 32 bytes.
		panic("codec: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(codeDomain)
	hasher.Write([]byte(passID))
	return codeEncoding.EncodeToString(hasher.Sum(nil))[:CodeLength]
}

func deriveKey(secret, info []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, info)
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return key, nil
}
