// Package credential は外部プラットフォームのセッショントークンの暗号化と復号を提供する。
//
// 暗号文の形式は "iv:authTag:ciphertext"（いずれもbase64）で、
// 鍵はbase64エンコードされた32バイトのAES-256鍵。
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	keyLength = 32
	ivLength  = 16
	tagLength = 16
)

// ErrInvalidFormat は暗号文の形式が不正であることを示す。
var ErrInvalidFormat = errors.New("invalid encrypted data format")

// Cipher はAES-256-GCMによるトークンの暗号化・復号を行う。
type Cipher struct {
	key []byte
}

// NewCipher はbase64エンコードされた鍵からCipherを生成する。
func NewCipher(base64Key string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(base64Key))
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}
	if len(key) != keyLength {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keyLength, len(key))
	}
	return &Cipher{key: key}, nil
}

// Encrypt は平文を "iv:authTag:ciphertext" 形式で暗号化する。
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}
	gcm, err := c.gcm(ivLength)
	if err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagLength], sealed[len(sealed)-tagLength:]

	enc := base64.StdEncoding
	return enc.EncodeToString(iv) + ":" + enc.EncodeToString(tag) + ":" + enc.EncodeToString(ct), nil
}

// Decrypt は "iv:authTag:ciphertext" 形式の暗号文を復号する。
func (c *Cipher) Decrypt(encrypted string) (string, error) {
	parts := strings.Split(strings.TrimSpace(encrypted), ":")
	if len(parts) != 3 {
		return "", ErrInvalidFormat
	}

	enc := base64.StdEncoding
	iv, err := enc.DecodeString(parts[0])
	if err != nil || len(iv) == 0 {
		return "", fmt.Errorf("%w: iv", ErrInvalidFormat)
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil || len(tag) != tagLength {
		return "", fmt.Errorf("%w: auth tag", ErrInvalidFormat)
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext", ErrInvalidFormat)
	}

	gcm, err := c.gcm(len(iv))
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt token: %w", err)
	}
	return string(plaintext), nil
}

func (c *Cipher) gcm(nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
