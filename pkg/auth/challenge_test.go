package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeVerify(t *testing.T) {
	table := NewChallengeTable(time.Minute)
	ch := table.Create("call-1", "alice@myserver", "secret", "myserver", "REGISTER")
	require.NotNil(t, ch)

	creds := &Credentials{
		Username: "alice@myserver",
		Realm:    "myserver",
		Nonce:    ch.Nonce,
		Response: Compute("alice@myserver", "secret", "myserver", "REGISTER", ch.Nonce),
	}
	assert.True(t, table.Verify("call-1", creds, "secret", "myserver", "REGISTER"))
}

func TestChallengeVerifyRejects(t *testing.T) {
	table := NewChallengeTable(time.Minute)
	ch := table.Create("call-1", "alice@myserver", "secret", "myserver", "REGISTER")

	wrongNonce := &Credentials{
		Username: "alice@myserver",
		Nonce:    "other-nonce",
		Response: Compute("alice@myserver", "secret", "myserver", "REGISTER", "other-nonce"),
	}
	assert.False(t, table.Verify("call-1", wrongNonce, "secret", "myserver", "REGISTER"))

	wrongPassword := &Credentials{
		Username: "alice@myserver",
		Nonce:    ch.Nonce,
		Response: Compute("alice@myserver", "guess", "myserver", "REGISTER", ch.Nonce),
	}
	assert.False(t, table.Verify("call-1", wrongPassword, "secret", "myserver", "REGISTER"))

	assert.False(t, table.Verify("no-such-call", wrongPassword, "secret", "myserver", "REGISTER"))
}

func TestChallengeExpiry(t *testing.T) {
	table := NewChallengeTable(time.Minute)
	ch := table.Create("call-1", "alice@myserver", "secret", "myserver", "REGISTER")
	ch.CreatedAt = time.Now().Add(-2 * time.Minute)

	assert.Nil(t, table.Get("call-1"))
}

func TestChallengeDropAndSweep(t *testing.T) {
	table := NewChallengeTable(time.Minute)
	table.Create("call-1", "a", "p", "r", "REGISTER")
	table.Drop("call-1")
	assert.Nil(t, table.Get("call-1"))

	stale := table.Create("call-2", "a", "p", "r", "REGISTER")
	stale.CreatedAt = time.Now().Add(-2 * time.Minute)
	table.Create("call-3", "a", "p", "r", "REGISTER")
	assert.Equal(t, 1, table.Sweep())
	assert.NotNil(t, table.Get("call-3"))
}
