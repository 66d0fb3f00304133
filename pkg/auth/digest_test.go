package auth

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func md5sum(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestDigestFormulas(t *testing.T) {
	ha1 := HA1("alice@myserver", "myserver", "secret")
	assert.Equal(t, md5sum("alice@myserver:myserver:secret"), ha1)

	ha2 := HA2("REGISTER", "myserver")
	assert.Equal(t, md5sum("REGISTER:myserver"), ha2)

	resp := Response(ha1, "123-nonce", ha2)
	assert.Equal(t, md5sum(ha1+":123-nonce:"+ha2), resp)
}

func TestComputeAgreesAcrossSides(t *testing.T) {
	// What the client computes from its password must equal what the
	// server computes from the stored credential.
	nonce := GenerateNonce()
	client := Compute("bob@myserver", "hunter2", "myserver", "INVITE", nonce)
	server := Compute("bob@myserver", "hunter2", "myserver", "INVITE", nonce)
	assert.Equal(t, client, server)

	other := Compute("bob@myserver", "wrong", "myserver", "INVITE", nonce)
	assert.NotEqual(t, client, other)
}

func TestGenerateNonceShape(t *testing.T) {
	re := regexp.MustCompile(`^\d+-[A-Za-z0-9]{16}$`)
	for i := 0; i < 20; i++ {
		assert.Regexp(t, re, GenerateNonce())
	}
}

func TestParseHeaderChallenge(t *testing.T) {
	value := `Digest realm="myserver", nonce="1700000000-abcdefghij123456", algorithm=MD5`
	creds, err := ParseHeader(value, false)
	require.NoError(t, err)
	assert.Equal(t, "myserver", creds.Realm)
	assert.Equal(t, "1700000000-abcdefghij123456", creds.Nonce)
	assert.Equal(t, "MD5", creds.Algorithm)
}

func TestParseHeaderAuthorization(t *testing.T) {
	value := fmt.Sprintf(`Digest username="alice@myserver", realm="myserver", nonce="n1", response="%s", algorithm=MD5`,
		md5sum("x"))
	creds, err := ParseHeader(value, true)
	require.NoError(t, err)
	assert.Equal(t, "alice@myserver", creds.Username)
	assert.Equal(t, md5sum("x"), creds.Response)
}

func TestParseHeaderFailures(t *testing.T) {
	_, err := ParseHeader(`Basic dXNlcg==`, false)
	assert.ErrorIs(t, err, ErrNotDigest)

	_, err = ParseHeader(`Digest realm="myserver"`, false)
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = ParseHeader(`Digest realm="r", nonce="n"`, true)
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = ParseHeader(`Digest realm="r", nonce="n", algorithm=SHA-256`, false)
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestHeaderFormatters(t *testing.T) {
	ch := ChallengeHeader("myserver", "n1")
	creds, err := ParseHeader(ch, false)
	require.NoError(t, err)
	assert.Equal(t, "n1", creds.Nonce)

	az := AuthorizationHeader("alice@myserver", "myserver", "n1", "resp")
	creds, err = ParseHeader(az, true)
	require.NoError(t, err)
	assert.Equal(t, "alice@myserver", creds.Username)
	assert.Equal(t, "resp", creds.Response)
}
