package merchants

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

const (
	sealPlain byte = 0x00
	sealGCMv1 byte = 0x01
)

// Sealer encrypts access tokens before they reach the database.
// Format: 0x01 | nonce | ciphertext[GCM], or 0x00 | plaintext without a key.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives an AES-256 key from secret via SHA-256. An empty secret
// yields a pass-through sealer (dev only; config rejects it in prod).
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return &Sealer{}, nil
	}
	h := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(h[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: gcm}, nil
}

func (s *Sealer) Seal(plain string) ([]byte, error) {
	if plain == "" {
		return nil, nil
	}
	if s == nil || s.aead == nil {
		return append([]byte{sealPlain}, plain...), nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := s.aead.Seal(nil, nonce, []byte(plain), nil)
	out := make([]byte, 1+len(nonce)+len(ct))
	out[0] = sealGCMv1
	copy(out[1:1+len(nonce)], nonce)
	copy(out[1+len(nonce):], ct)
	return out, nil
}

func (s *Sealer) Open(blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", nil
	}
	switch blob[0] {
	case sealPlain:
		return string(blob[1:]), nil
	case sealGCMv1:
		if s == nil || s.aead == nil {
			return "", errors.New("sealed token but no encryption key configured")
		}
		ns := s.aead.NonceSize()
		if len(blob) < 1+ns {
			return "", errors.New("short nonce")
		}
		plain, err := s.aead.Open(nil, blob[1:1+ns], blob[1+ns:], nil)
		if err != nil {
			return "", fmt.Errorf("open token: %w", err)
		}
		return string(plain), nil
	default:
		return "", fmt.Errorf("unsupported token blob version %#x", blob[0])
	}
}
