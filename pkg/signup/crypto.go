package signup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	rsaKeyBits = 2048
	aesKeyLen  = 32
)

var ErrBadPublicKey = errors.New("signup: peer key is not an RSA public key")

// GenerateKeyPair creates the server's RSA-2048 identity for one process
// lifetime. Signup sessions are short so the key is never persisted.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("signup: generate rsa key: %w", err)
	}
	return key, nil
}

// MarshalPublicKey encodes the public half as PEM for the wire.
func MarshalPublicKey(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("signup: marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePublicKey decodes a PEM public key frame.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("signup: no PEM block in key frame")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signup: parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, ErrBadPublicKey
	}
	return rsaPub, nil
}

// WrapSessionKey generates a fresh AES-256 key and returns it alongside
// its RSA-OAEP(SHA-256) wrapping for transport.
func WrapSessionKey(pub *rsa.PublicKey) (key, wrapped []byte, err error) {
	key = make([]byte, aesKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, fmt.Errorf("signup: generate session key: %w", err)
	}
	wrapped, err = rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("signup: wrap session key: %w", err)
	}
	return key, wrapped, nil
}

// UnwrapSessionKey recovers the client's AES key from its OAEP wrapping.
func UnwrapSessionKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("signup: unwrap session key: %w", err)
	}
	if len(key) != aesKeyLen {
		return nil, errors.New("signup: session key has wrong length")
	}
	return key, nil
}

// Session encrypts and decrypts frames with the negotiated AES-GCM key.
// Frame layout: nonce || ciphertext (the GCM tag rides at the tail of the
// ciphertext).
type Session struct {
	aead cipher.AEAD
}

func NewSession(key []byte) (*Session, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("signup: aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("signup: gcm mode: %w", err)
	}
	return &Session{aead: aead}, nil
}

// Seal encrypts one plaintext frame.
func (s *Session) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("signup: generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts one frame produced by Seal.
func (s *Session) Open(frame []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(frame) < ns {
		return nil, errors.New("signup: frame shorter than nonce")
	}
	plaintext, err := s.aead.Open(nil, frame[:ns], frame[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("signup: decrypt frame: %w", err)
	}
	return plaintext, nil
}
