package models

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/rohanthewiz/serr"
	"golang.org/x/crypto/pbkdf2"
)

// Encryptor protects sensitive values before they leave the device.
// The identity (the signed-in user id) is mixed into the key so a payload
// only decrypts for the account that produced it.
type Encryptor interface {
	Encrypt(plaintext, identity string) (*EncryptedPayload, error)
	Decrypt(payload, identity string) (string, error)
	IsEncrypted(payload string) bool
}

// EncryptedPayload is the serialized form of an encrypted value.
// All binary fields are base64 (standard encoding).
type EncryptedPayload struct {
	Marker     int    `json:"__enc"`
	Ciphertext string `json:"ciphertext"`
	Salt       string `json:"salt"`
	IV         string `json:"iv"`
}

const encryptedMarker = 1

// String serializes the payload as stored locally.
func (p *EncryptedPayload) String() string {
	out := *p
	out.Marker = encryptedMarker
	b, _ := json.Marshal(out)
	return string(b)
}

// ParseEncryptedPayload reads a serialized payload. ok is false for anything
// that is not one, including plain JSON that happens to parse.
func ParseEncryptedPayload(s string) (*EncryptedPayload, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.Contains(s, `"__enc"`) {
		return nil, false
	}
	var p EncryptedPayload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, false
	}
	if p.Marker != encryptedMarker || p.Ciphertext == "" || p.IV == "" || p.Salt == "" {
		return nil, false
	}
	return &p, true
}

// Key derivation parameters.
const (
	keyDerivationIterations = 100_000
	saltSize                = 16
	aesKeySize              = 32 // AES-256
	minSecretLength         = 16
)

// AESEncryptor implements Encryptor with AES-256-GCM.
// Each call derives a fresh key with PBKDF2-SHA256 over secret || identity
// and a random salt, and uses a random nonce.
type AESEncryptor struct {
	secret []byte
}

// NewAESEncryptor builds an encryptor from the device secret.
func NewAESEncryptor(secret string) (*AESEncryptor, error) {
	if len(secret) < minSecretLength {
		return nil, serr.New("encryption secret must be at least 16 characters")
	}
	return &AESEncryptor{secret: []byte(secret)}, nil
}

func (e *AESEncryptor) deriveKey(identity string, salt []byte) []byte {
	material := make([]byte, 0, len(e.secret)+len(identity))
	material = append(material, e.secret...)
	material = append(material, identity...)
	return pbkdf2.Key(material, salt, keyDerivationIterations, aesKeySize, sha256.New)
}

func (e *AESEncryptor) gcm(identity string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.deriveKey(identity, salt))
	if err != nil {
		return nil, serr.Wrap(err, "failed to create AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, serr.Wrap(err, "failed to create GCM mode")
	}
	return gcm, nil
}

// Encrypt seals plaintext for identity.
func (e *AESEncryptor) Encrypt(plaintext, identity string) (*EncryptedPayload, error) {
	if identity == "" {
		return nil, serr.New("cannot encrypt without a user identity")
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, serr.Wrap(err, "failed to generate salt")
	}

	gcm, err := e.gcm(identity, salt)
	if err != nil {
		return nil, err
	}

	// GCM standard nonce size is 12 bytes
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, serr.Wrap(err, "failed to generate random nonce")
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	return &EncryptedPayload{
		Marker:     encryptedMarker,
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		IV:         base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Decrypt opens a serialized payload. A wrong identity or a tampered payload
// fails GCM authentication.
func (e *AESEncryptor) Decrypt(payload, identity string) (string, error) {
	p, ok := ParseEncryptedPayload(payload)
	if !ok {
		return "", serr.New("value is not an encrypted payload")
	}

	sealed, err := base64.StdEncoding.DecodeString(p.Ciphertext)
	if err != nil {
		return "", serr.Wrap(err, "failed to decode ciphertext from base64")
	}
	salt, err := base64.StdEncoding.DecodeString(p.Salt)
	if err != nil {
		return "", serr.Wrap(err, "failed to decode salt from base64")
	}
	nonce, err := base64.StdEncoding.DecodeString(p.IV)
	if err != nil {
		return "", serr.Wrap(err, "failed to decode IV from base64")
	}

	gcm, err := e.gcm(identity, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", serr.New("invalid IV length")
	}

	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", serr.Wrap(err, "decryption failed: ciphertext may be corrupted or tampered")
	}
	return string(plain), nil
}

// IsEncrypted reports whether payload is a serialized EncryptedPayload.
func (e *AESEncryptor) IsEncrypted(payload string) bool {
	_, ok := ParseEncryptedPayload(payload)
	return ok
}
