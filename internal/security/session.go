// Package security implements the room-scoped SessionCrypto layer: a
// password-derived key protects control frames and file-stream chunks
// with authenticated encryption and a replay-defense TTL.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480000
	keyLen           = 32 // 16 bytes AES-128 signing... split below
	// tokenTTL bounds how old a decrypted token may be. Frames older than
	// this are treated as replay attempts and rejected.
	tokenTTL = 300 * time.Second
)

var defaultSalt = []byte("lan_chat_default_salt")

// ErrCryptoFailure is the single opaque error surfaced for any decryption
// problem: wrong password, tampered ciphertext, or an expired token. The
// caller must not be able to distinguish these cases from the error alone.
var ErrCryptoFailure = errors.New("crypto: decryption failed or token expired")

// SessionCrypto derives a room key from a password and room name and
// provides authenticated encrypt/decrypt of byte payloads. It is
// functionally equivalent to Fernet: AES-128-CBC for confidentiality,
// HMAC-SHA256 for authentication, and an embedded issue timestamp used to
// enforce tokenTTL on decrypt.
//
// When password is empty the session is unencrypted and both methods are
// identity transforms.
type SessionCrypto struct {
	IsEncrypted bool

	signKey    [16]byte
	encryptKey [16]byte
	now        func() time.Time
}

// New derives a SessionCrypto for the given password and room name. The
// room name feeds the PBKDF2 salt so a ciphertext produced in one room can
// never be decrypted in another, even with the same password.
func New(password, roomName string) *SessionCrypto {
	sc := &SessionCrypto{
		IsEncrypted: password != "",
		now:         time.Now,
	}
	if !sc.IsEncrypted {
		return sc
	}

	salt := defaultSalt
	if roomName != "" {
		sum := sha256.Sum256([]byte(roomName))
		salt = sum[:]
	}

	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLen*2, sha256.New)
	copy(sc.signKey[:], derived[:16])
	copy(sc.encryptKey[:], derived[16:32])
	return sc
}

// Encrypt returns data unchanged for an unencrypted session, or a
// self-contained authenticated token otherwise. Token layout:
//
//	version(1) || timestamp(8, big-endian unix seconds) || iv(16) || ciphertext || hmac(32)
//
// the whole thing base64 URL-safe encoded, matching the Fernet token shape.
func (s *SessionCrypto) Encrypt(data []byte) ([]byte, error) {
	if !s.IsEncrypted {
		return data, nil
	}

	block, err := aes.NewCipher(s.encryptKey[:])
	if err != nil {
		return nil, err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}

	padded := pkcs7Pad(data, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	header := make([]byte, 9)
	header[0] = 0x80
	binary.BigEndian.PutUint64(header[1:], uint64(s.now().Unix()))

	body := make([]byte, 0, len(header)+len(iv)+len(ciphertext))
	body = append(body, header...)
	body = append(body, iv...)
	body = append(body, ciphertext...)

	mac := hmac.New(sha256.New, s.signKey[:])
	mac.Write(body)
	tag := mac.Sum(nil)

	token := append(body, tag...)
	out := make([]byte, base64.URLEncoding.EncodedLen(len(token)))
	base64.URLEncoding.Encode(out, token)
	return out, nil
}

// Decrypt reverses Encrypt, rejecting any token older than tokenTTL or
// failing authentication with a single opaque ErrCryptoFailure — the
// caller cannot distinguish "wrong password" from "expired" from
// "tampered", by design.
func (s *SessionCrypto) Decrypt(data []byte) ([]byte, error) {
	if !s.IsEncrypted {
		return data, nil
	}

	token := make([]byte, base64.URLEncoding.DecodedLen(len(data)))
	n, err := base64.URLEncoding.Decode(token, data)
	if err != nil {
		return nil, ErrCryptoFailure
	}
	token = token[:n]

	if len(token) < 9+aes.BlockSize+sha256.Size {
		return nil, ErrCryptoFailure
	}

	body, tag := token[:len(token)-sha256.Size], token[len(token)-sha256.Size:]

	mac := hmac.New(sha256.New, s.signKey[:])
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), tag) {
		return nil, ErrCryptoFailure
	}

	version := body[0]
	issued := int64(binary.BigEndian.Uint64(body[1:9]))
	if version != 0x80 {
		return nil, ErrCryptoFailure
	}
	if age := s.now().Unix() - issued; age < 0 || time.Duration(age)*time.Second > tokenTTL {
		return nil, ErrCryptoFailure
	}

	iv := body[9 : 9+aes.BlockSize]
	ciphertext := body[9+aes.BlockSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrCryptoFailure
	}

	block, err := aes.NewCipher(s.encryptKey[:])
	if err != nil {
		return nil, ErrCryptoFailure
	}
	plainPadded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plainPadded, ciphertext)

	plain, err := pkcs7Unpad(plainPadded, aes.BlockSize)
	if err != nil {
		return nil, ErrCryptoFailure
	}
	return plain, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("security: invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("security: invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("security: invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
