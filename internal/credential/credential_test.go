package credential

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var fastArgon = Argon2Params{Memory: 1024, Time: 1, Threads: 1, KeyLen: 16, SaltLen: 8}

func TestArgon2idRoundTrip(t *testing.T) {
	s := NewArgon2id(fastArgon)

	tests := []string{"Passw0rd!", "", "пароль_123", strings.Repeat("x", 300)}
	for _, secret := range tests {
		digest, err := s.Hash(secret)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(digest, "$argon2id$v=19$m=1024,t=1,p=1$"))
		require.True(t, s.Verify(digest, secret))
		require.False(t, s.Verify(digest, secret+"?"))
	}
}

func TestArgon2idVerifiesOlderParameters(t *testing.T) {
	digest, err := NewArgon2id(fastArgon).Hash("Passw0rd!")
	require.NoError(t, err)

	// A scheme configured differently still honours the parameters in the digest.
	require.True(t, NewArgon2id(Argon2Params{Memory: 2048, Time: 2, Threads: 2, KeyLen: 32, SaltLen: 16}).Verify(digest, "Passw0rd!"))
}

func TestArgon2idRejectsMalformed(t *testing.T) {
	s := NewArgon2id(fastArgon)
	for _, digest := range []string{
		"",
		"plain",
		"$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$",
	} {
		require.False(t, s.Verify(digest, "secret"), digest)
	}
}

func TestSchemesDoNotCrossVerify(t *testing.T) {
	legacy := bcryptScheme{cost: bcrypt.MinCost}
	current := NewArgon2id(fastArgon)

	legacyDigest, err := legacy.Hash("Passw0rd!")
	require.NoError(t, err)
	currentDigest, err := current.Hash("Passw0rd!")
	require.NoError(t, err)

	require.NotEqual(t, legacyDigest, currentDigest)
	require.True(t, legacy.Verify(legacyDigest, "Passw0rd!"))
	require.True(t, current.Verify(currentDigest, "Passw0rd!"))
	require.False(t, current.Verify(legacyDigest, "Passw0rd!"))
	require.False(t, legacy.Verify(currentDigest, "Passw0rd!"))
	require.False(t, legacy.Verify("", "Passw0rd!"))
}

func TestTokenDigestDeterministic(t *testing.T) {
	a := TokenDigest("abc")
	require.Equal(t, a, TokenDigest("abc"))
	require.NotEqual(t, a, TokenDigest("abd"))
	require.Len(t, a, 64)
}

func TestRandomToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := RandomToken(TokenLength)
		require.NoError(t, err)
		require.Len(t, tok, TokenLength)
		for _, c := range tok {
			require.True(t, strings.ContainsRune(tokenAlphabet, c), "unexpected rune %q", c)
		}
		require.False(t, seen[tok])
		seen[tok] = true
	}
}
