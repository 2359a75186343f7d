package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/argon2"
)

// ErrDecrypt is returned when a blob cannot be decrypted. A wrong passphrase
// and corrupted data are indistinguishable at this layer, so the diagnostic
// is deliberately generic.
var ErrDecrypt = errors.New("decryption failed: wrong passphrase or corrupted archive")

// Blob layout: magic | salt | nonce | ciphertext. The salt and nonce are
// random per blob, making the archive fully self-contained.
var blobMagic = []byte("SBK1")

const (
	saltSize = 16

	// argon2id parameters: 64 MiB, 3 passes, 4 lanes, 256-bit key.
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// seal encrypts plaintext with a key derived from passphrase using argon2id
// and AES-256-GCM.
func seal(plaintext, passphrase []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.Wrap(err, "generating salt")
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "generating nonce")
	}

	blob := make([]byte, 0, len(blobMagic)+saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	blob = append(blob, blobMagic...)
	blob = append(blob, salt...)
	blob = append(blob, nonce...)

	return gcm.Seal(blob, nonce, plaintext, nil), nil
}

// open decrypts a blob produced by seal. Any authentication failure maps to
// ErrDecrypt.
func open(blob, passphrase []byte) ([]byte, error) {
	if len(blob) < len(blobMagic)+saltSize || !bytes.HasPrefix(blob, blobMagic) {
		return nil, ErrDecrypt
	}

	rest := blob[len(blobMagic):]
	salt := rest[:saltSize]
	rest = rest[saltSize:]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	if len(rest) < gcm.NonceSize() {
		return nil, ErrDecrypt
	}

	nonce := rest[:gcm.NonceSize()]
	ciphertext := rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}

	return plaintext, nil
}

func newGCM(passphrase, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "creating cipher")
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "creating GCM")
	}

	return gcm, nil
}
