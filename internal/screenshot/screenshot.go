// Package screenshot issues single-use tokens (C14) bound to
// (poll_id, creator_id, expires_at) for internal renderer access to
// authenticated dashboard content without replaying OAuth. Tokens are
// opaque random strings; HKDF derives the per-token MAC key from a single
// service secret so no per-token key material needs to be stored.
package screenshot

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/pollbot/pollbot/internal/cache"
	"github.com/pollbot/pollbot/internal/pollerr"
)

// minEntropyBytes gives >=256 bits of randomness for each issued token.
const minEntropyBytes = 32

const gracePeriod = 2 * time.Minute

// Claims is what a token is bound to.
type Claims struct {
	PollID    int64
	CreatorID string
	ExpiresAt time.Time
}

// Service issues and validates screenshot tokens against a cache.Store
// (which itself degrades to in-process storage, so this package never
// needs its own fallback logic).
type Service struct {
	store  cache.Store
	secret []byte

	// mu serializes Validate's read-check-mark sequence within this process.
	mu sync.Mutex
}

// New builds a Service. secret is the service-wide HKDF input key material;
// it should be a stable, securely generated value loaded from config
// (ScreenConfig.SigningKeyHex in internal/config, hex-decoded by main).
func New(store cache.Store, secret []byte) *Service {
	return &Service{store: store, secret: secret}
}

type tokenRecord struct {
	claims Claims
	mac    []byte
	used   bool
}

// Issue mints a new token for claims, storing its bound record in the cache
// with a TTL matching claims.ExpiresAt.
func (s *Service) Issue(ctx context.Context, claims Claims) (string, error) {
	raw := make([]byte, minEntropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", pollerr.Wrap(pollerr.KindUnexpected, err, "failed to generate token entropy")
	}
	token := base64.RawURLEncoding.EncodeToString(raw) + ":" + uuid.NewString()

	mac, err := s.deriveMAC(token, claims)
	if err != nil {
		return "", err
	}

	rec := tokenRecord{claims: claims, mac: mac}
	ttl := time.Until(claims.ExpiresAt)
	if ttl <= 0 {
		return "", pollerr.New(pollerr.KindValidation, "expires_at must be in the future")
	}
	if err := s.store.Set(ctx, cacheKey(token), encodeRecord(rec), ttl); err != nil {
		return "", pollerr.Wrap(pollerr.KindTransport, err, "failed to persist screenshot token")
	}
	return token, nil
}

// Validate atomically checks and consumes token: a successful validation
// marks it used immediately so a second call fails, then schedules the
// record's deletion after gracePeriod for audit logging rather than
// deleting it outright.
func (s *Service) Validate(ctx context.Context, token string) (Claims, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok, err := s.store.Get(ctx, cacheKey(token))
	if err != nil {
		return Claims{}, pollerr.Wrap(pollerr.KindTransport, err, "")
	}
	if !ok {
		return Claims{}, pollerr.New(pollerr.KindNotFound, "token not found or expired")
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return Claims{}, pollerr.Wrap(pollerr.KindDataIntegrity, err, "")
	}
	if rec.used {
		return Claims{}, pollerr.New(pollerr.KindPermission, "token already used")
	}
	expectedMAC, err := s.deriveMAC(token, rec.claims)
	if err != nil {
		return Claims{}, err
	}
	if !hmac.Equal(expectedMAC, rec.mac) {
		return Claims{}, pollerr.New(pollerr.KindPermission, "token signature mismatch")
	}
	if time.Now().After(rec.claims.ExpiresAt) {
		return Claims{}, pollerr.New(pollerr.KindNotFound, "token expired")
	}

	rec.used = true
	_ = s.store.Set(ctx, cacheKey(token), encodeRecord(rec), gracePeriod)
	return rec.claims, nil
}

// deriveMAC computes an HKDF-derived, per-token HMAC over the token and its
// claims, binding the token to exactly the (poll_id, creator_id,
// expires_at) it was issued for.
func (s *Service) deriveMAC(token string, claims Claims) ([]byte, error) {
	info := fmt.Sprintf("pollbot-screenshot:%s:%d:%s:%d", token, claims.PollID, claims.CreatorID, claims.ExpiresAt.Unix())
	kdf := hkdf.New(sha256.New, s.secret, nil, []byte(info))
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, pollerr.Wrap(pollerr.KindUnexpected, err, "failed to derive token key")
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(info))
	return mac.Sum(nil), nil
}

func cacheKey(token string) string {
	return "screenshot_token:" + token
}

// encodeRecord/decodeRecord is a small fixed-layout serialization rather
// than encoding/gob or JSON, since the record is internal-only and never
// crosses a process boundary except through the cache.
func encodeRecord(rec tokenRecord) []byte {
	creatorBytes := []byte(rec.claims.CreatorID)
	buf := make([]byte, 0, 8+8+1+len(rec.mac)+2+len(creatorBytes))
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], uint64(rec.claims.PollID))
	buf = append(buf, scratch[:]...)
	binary.BigEndian.PutUint64(scratch[:], uint64(rec.claims.ExpiresAt.Unix()))
	buf = append(buf, scratch[:]...)
	used := byte(0)
	if rec.used {
		used = 1
	}
	buf = append(buf, used)
	buf = append(buf, byte(len(rec.mac)))
	buf = append(buf, rec.mac...)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(creatorBytes)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, creatorBytes...)
	return buf
}

func decodeRecord(buf []byte) (tokenRecord, error) {
	if len(buf) < 8+8+1+1 {
		return tokenRecord{}, fmt.Errorf("screenshot token record too short")
	}
	pollID := int64(binary.BigEndian.Uint64(buf[0:8]))
	expires := time.Unix(int64(binary.BigEndian.Uint64(buf[8:16])), 0)
	used := buf[16] == 1
	macLen := int(buf[17])
	pos := 18
	if len(buf) < pos+macLen+2 {
		return tokenRecord{}, fmt.Errorf("screenshot token record truncated")
	}
	mac := buf[pos : pos+macLen]
	pos += macLen
	creatorLen := int(binary.BigEndian.Uint16(buf[pos : pos+2]))
	pos += 2
	if len(buf) < pos+creatorLen {
		return tokenRecord{}, fmt.Errorf("screenshot token record truncated creator id")
	}
	creatorID := string(buf[pos : pos+creatorLen])
	return tokenRecord{
		claims: Claims{PollID: pollID, CreatorID: creatorID, ExpiresAt: expires},
		mac:    append([]byte(nil), mac...),
		used:   used,
	}, nil
}
