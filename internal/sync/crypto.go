package sync

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/membank/membank/internal/memerr"
)

// envelopeVersion guards against reading documents written by a future
// format.
const envelopeVersion = 1

// Argon2id parameters, per the RFC 9106 low-memory recommendation.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	saltSize     = 16
)

// envelope is the on-disk shape of an encrypted document. A fresh salt
// and nonce are drawn for every write, so two exports of identical
// payloads never share ciphertext.
type envelope struct {
	FormatVersion int    `json:"format_version"`
	Salt          []byte `json:"salt"`
	Nonce         []byte `json:"nonce"`
	Payload       []byte `json:"payload"`
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}

// Seal encrypts plaintext under a passphrase-derived key.
func Seal(passphrase string, plaintext []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: sync key not configured", memerr.ErrValidation)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	env := envelope{
		FormatVersion: envelopeVersion,
		Salt:          salt,
		Nonce:         nonce,
		Payload:       aead.Seal(nil, nonce, plaintext, nil),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Open decrypts a sealed document. A wrong passphrase, a truncated file,
// and a tampered payload are indistinguishable here; all surface as
// ErrDecryption.
func Open(passphrase string, data []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: sync key not configured", memerr.ErrValidation)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope", memerr.ErrDecryption)
	}
	if env.FormatVersion != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", memerr.ErrDecryption, env.FormatVersion)
	}
	if len(env.Salt) != saltSize || len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: malformed envelope", memerr.ErrDecryption)
	}

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, env.Salt))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, env.Nonce, env.Payload, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wrong key or corrupted document", memerr.ErrDecryption)
	}
	return plaintext, nil
}
