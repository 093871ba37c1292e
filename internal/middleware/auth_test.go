package middleware

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger, _ := logrustest.NewNullLogger()
	return logger
}

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("s3cret")
	token, err := GenerateToken(secret, "ops", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Operator)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, tokenIssuer, claims.Issuer)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	secret := []byte("s3cret")
	token, err := GenerateToken(secret, "ops", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(secret, token)
	assert.Error(t, err)
}

func TestGenerateTokenNeedsSecret(t *testing.T) {
	_, err := GenerateToken(nil, "ops", time.Hour)
	assert.Error(t, err)
}

func TestAllowedIPMatching(t *testing.T) {
	l := NewLocalhostOnly(testLogger(), []string{"10.0.0.0/8", "192.168.1.7", "not-a-cidr/99"})

	assert.True(t, l.isAllowedIP("127.0.0.1"))
	assert.True(t, l.isAllowedIP("::1"))
	assert.True(t, l.isAllowedIP("10.20.30.40"))
	assert.True(t, l.isAllowedIP("192.168.1.7"))
	assert.False(t, l.isAllowedIP("192.168.1.8"))
	assert.False(t, l.isAllowedIP("8.8.8.8"))
}
