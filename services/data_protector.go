package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/m-barthelemy/notifyd/models"
)

var errCiphertextTooShort = errors.New("ciphertext too short")

// DataProtector encrypts sensitive values (push subscription keys) before they reach the DB.
type DataProtector struct {
	key []byte
}

// NewDataProtector creates an instance of DataProtector using ENCRYPTIONKEY
func NewDataProtector(config *models.Config) *DataProtector {
	return &DataProtector{key: []byte(config.EncryptionKey)}
}

func (d *DataProtector) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(d.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt returns the hex encoded AES-GCM ciphertext of plaintext, prefixed with its nonce.
func (d *DataProtector) Encrypt(plaintext string) (string, error) {
	aesGCM, err := d.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// The nonce is the prefix of the sealed data.
	ciphertext := aesGCM.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), nil
}

func (d *DataProtector) Decrypt(encrypted string) (string, error) {
	enc, err := hex.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}

	aesGCM, err := d.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := aesGCM.NonceSize()
	if len(enc) < nonceSize {
		return "", errCiphertextTooShort
	}
	nonce, ciphertext := enc[:nonceSize], enc[nonceSize:]

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// EncryptJSON marshals v and encrypts the result.
func (d *DataProtector) EncryptJSON(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return d.Encrypt(string(raw))
}

// DecryptJSON decrypts encrypted and unmarshals it into v.
func (d *DataProtector) DecryptJSON(encrypted string, v interface{}) error {
	raw, err := d.Decrypt(encrypted)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}
