package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenMalformed = errors.New("invalid token format")
	ErrTokenSignature = errors.New("invalid token signature")
	ErrTokenExpired   = errors.New("token expired")
)

// SignedObject is the metadata embedded in a download token.
type SignedObject struct {
	ResourceID string
	Path       string
	ExpiresAt  time.Time
}

// SignedURLSigner creates and validates HMAC-signed download tokens.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a signed token referencing the resource and its stored path.
func (s *SignedURLSigner) Generate(resourceID, relPath string) (string, time.Time, error) {
	if resourceID == "" || relPath == "" {
		return "", time.Time{}, fmt.Errorf("resource id and path required")
	}
	if strings.Contains(resourceID, ".") {
		return "", time.Time{}, fmt.Errorf("resource id must not contain '.'")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedPath := base64.RawURLEncoding.EncodeToString([]byte(relPath))
	token := strings.Join([]string{resourceID, ts, encodedPath, s.sign(resourceID, ts, encodedPath)}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the embedded metadata.
// When allowExpired is true the expiry check is skipped (used by cleanup routines).
func (s *SignedURLSigner) Parse(token string, allowExpired bool) (*SignedObject, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return nil, ErrTokenMalformed
	}
	resourceID, ts, encodedPath, signature := parts[0], parts[1], parts[2], parts[3]

	rawPath, err := base64.RawURLEncoding.DecodeString(encodedPath)
	if err != nil {
		return nil, fmt.Errorf("%w: decode path: %v", ErrTokenMalformed, err)
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timestamp", ErrTokenMalformed)
	}

	expected := s.sign(resourceID, ts, encodedPath)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, ErrTokenSignature
	}
	expiresAt := time.Unix(expUnix, 0)
	if !allowExpired && !s.now().Before(expiresAt) {
		return nil, ErrTokenExpired
	}
	return &SignedObject{ResourceID: resourceID, Path: string(rawPath), ExpiresAt: expiresAt}, nil
}

func (s *SignedURLSigner) sign(resourceID, ts, encodedPath string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(resourceID + "|" + ts + "|" + encodedPath))
	return hex.EncodeToString(mac.Sum(nil))
}
