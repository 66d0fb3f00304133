// Package auth implements the MD5 digest scheme used on REGISTER and
// INVITE: HA1 = MD5(username:realm:password), HA2 = MD5(method:realm),
// response = MD5(HA1:nonce:HA2).
package auth

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"
)

var (
	ErrNotDigest        = errors.New("auth: header is not a digest credential")
	ErrMissingField     = errors.New("auth: digest credential missing required field")
	ErrUnknownAlgorithm = errors.New("auth: only MD5 is supported")
)

const nonceRandomLen = 16

var nonceAlphabet = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HA1 hashes the long-term credential.
func HA1(username, realm, password string) string {
	return md5Hex(fmt.Sprintf("%s:%s:%s", username, realm, password))
}

// HA2 hashes the method binding.
func HA2(method, realm string) string {
	return md5Hex(fmt.Sprintf("%s:%s", method, realm))
}

// Response combines the two halves under the challenge nonce.
func Response(ha1, nonce, ha2 string) string {
	return md5Hex(fmt.Sprintf("%s:%s:%s", ha1, nonce, ha2))
}

// Compute derives the full digest response from the raw credential.
func Compute(username, password, realm, method, nonce string) string {
	return Response(HA1(username, realm, password), nonce, HA2(method, realm))
}

// GenerateNonce returns "<unix-seconds>-<16 alphanumeric chars>".
func GenerateNonce() string {
	random := make([]byte, nonceRandomLen)
	for i := range random {
		random[i] = nonceAlphabet[rand.Intn(len(nonceAlphabet))]
	}
	return fmt.Sprintf("%d-%s", time.Now().Unix(), random)
}

// Credentials is a parsed Authorization / WWW-Authenticate digest header.
type Credentials struct {
	Username  string
	Realm     string
	Nonce     string
	Response  string
	Algorithm string
}

var digestParam = regexp.MustCompile(`(\w+)=("[^"]*"|[^,]+)`)

// ParseHeader parses a `Digest key="value", ...` header value. Realm and
// nonce are always required; requireResponse additionally demands username
// and response, the shape a claimant must send.
func ParseHeader(value string, requireResponse bool) (*Credentials, error) {
	if !strings.HasPrefix(strings.ToLower(value), "digest ") {
		return nil, ErrNotDigest
	}
	c := &Credentials{}
	for _, m := range digestParam.FindAllStringSubmatch(value[len("digest "):], -1) {
		v := strings.Trim(strings.TrimSpace(m[2]), `"`)
		switch strings.ToLower(m[1]) {
		case "username":
			c.Username = v
		case "realm":
			c.Realm = v
		case "nonce":
			c.Nonce = v
		case "response":
			c.Response = v
		case "algorithm":
			c.Algorithm = v
		}
	}
	if c.Realm == "" || c.Nonce == "" {
		return nil, ErrMissingField
	}
	if requireResponse && (c.Username == "" || c.Response == "") {
		return nil, ErrMissingField
	}
	if c.Algorithm != "" && !strings.EqualFold(c.Algorithm, "md5") {
		return nil, ErrUnknownAlgorithm
	}
	return c, nil
}

// ChallengeHeader formats the WWW-Authenticate value the server sends.
func ChallengeHeader(realm, nonce string) string {
	return fmt.Sprintf(`Digest realm="%s", nonce="%s", algorithm=MD5`, realm, nonce)
}

// AuthorizationHeader formats the Authorization value a client answers with.
func AuthorizationHeader(username, realm, nonce, response string) string {
	return fmt.Sprintf(`Digest username="%s", realm="%s", nonce="%s", response="%s", algorithm=MD5`,
		username, realm, nonce, response)
}
