package auth

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSignatureKnownVector(t *testing.T) {
	// RFC 4231 style vector for HMAC-SHA256.
	sig := CreateSignature("key", "The quick brown fox jumps over the lazy dog")
	assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", sig)
}

func TestCreateSignatureDeterministic(t *testing.T) {
	a := CreateSignature("secret", "POST\n/apps/1/events\nauth_key=k&auth_timestamp=1&auth_version=1.0")
	b := CreateSignature("secret", "POST\n/apps/1/events\nauth_key=k&auth_timestamp=1&auth_version=1.0")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.Equal(t, strings.ToLower(a), a)
}

func TestCheckSignature(t *testing.T) {
	body := "GET\n/apps/1/channels\nauth_key=k&auth_timestamp=42&auth_version=1.0"
	sig := CreateSignature("secret", body)

	require.NoError(t, CheckSignature(sig, "secret", body))

	err := CheckSignature(sig, "wrong-secret", body)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	// Valid hex, wrong MAC.
	err = CheckSignature(strings.Repeat("0", 64), "secret", body)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	// Not hex at all.
	err = CheckSignature("zz"+sig[2:], "secret", body)
	assert.ErrorIs(t, err, ErrSignatureMalformed)
}

func TestCreateBodyMD5(t *testing.T) {
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", CreateBodyMD5([]byte("hello")))
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", CreateBodyMD5(nil))
}

func TestCreateChannelAuth(t *testing.T) {
	toSign := "1234567890123456.6543210987654321:private-room"
	got := CreateChannelAuth("app-key", "app-secret", toSign)

	parts := strings.SplitN(got, ":", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, "app-key", parts[0])
	assert.Equal(t, CreateSignature("app-secret", toSign), parts[1])
}

func TestGenerateSocketID(t *testing.T) {
	shape := regexp.MustCompile(`^\d{16}\.\d{16}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateSocketID()
		assert.Regexp(t, shape, id)
		seen[id] = true
	}
	// 100 draws from a ~10^32 space must not collide.
	assert.Len(t, seen, 100)
}
