// Package credential turns passwords and bearer tokens into stored digests.
//
// Passwords are hashed with a salted, memory-hard KDF (argon2id). Accounts
// created before the key rotation still carry bcrypt digests; those are
// checked through Legacy and re-hashed under Current after a successful login.
// Tokens are high-entropy already, so they use a fast deterministic digest that
// can be looked up by equality.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Scheme hashes secrets and verifies them against stored digests.
type Scheme interface {
	Hash(secret string) (string, error)
	Verify(digest, secret string) bool
}

// Argon2Params tunes the argon2id scheme.
type Argon2Params struct {
	Memory  uint32 // KiB
	Time    uint32
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultArgon2Params follows the RFC 9106 second recommended option.
var DefaultArgon2Params = Argon2Params{
	Memory:  64 * 1024,
	Time:    3,
	Threads: 4,
	KeyLen:  32,
	SaltLen: 16,
}

var errMalformedDigest = errors.New("malformed argon2id digest")

// Current returns the scheme new digests are written with.
func Current() Scheme {
	return NewArgon2id(DefaultArgon2Params)
}

// Legacy returns the scheme used before the rotation to argon2id.
func Legacy() Scheme {
	return bcryptScheme{cost: bcrypt.DefaultCost}
}

// NewArgon2id builds an argon2id scheme with explicit parameters.
func NewArgon2id(p Argon2Params) Scheme {
	return argon2idScheme{params: p}
}

type argon2idScheme struct {
	params Argon2Params
}

func (s argon2idScheme) Hash(secret string) (string, error) {
	salt := make([]byte, s.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, s.params.Time, s.params.Memory, s.params.Threads, s.params.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		s.params.Memory, s.params.Time, s.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify re-derives the key with the parameters recorded in digest, so digests
// written under older parameters keep verifying.
func (s argon2idScheme) Verify(digest, secret string) bool {
	p, salt, key, err := parseArgon2id(digest)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(secret), salt, p.Time, p.Memory, p.Threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(got, key) == 1
}

func parseArgon2id(digest string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, errMalformedDigest
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, errMalformedDigest
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return p, nil, nil, errMalformedDigest
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, errMalformedDigest
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, errMalformedDigest
	}
	return p, salt, key, nil
}

type bcryptScheme struct {
	cost int
}

func (s bcryptScheme) Hash(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}

func (s bcryptScheme) Verify(digest, secret string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)) == nil
}

// TokenDigest is the stored form of a session or action token.
func TokenDigest(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// TokenLength is the length of generated bearer and action tokens.
const TokenLength = 48

// RandomToken returns n characters drawn uniformly from [A-Za-z0-9].
func RandomToken(n int) (string, error) {
	max := big.NewInt(int64(len(tokenAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b.WriteByte(tokenAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
