package usm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"encoding/binary"
	"fmt"
)

// ErrCipherUnpad is returned when ciphertext length/alignment is invalid
// for the selected block cipher (e.g. DES ciphertext not a multiple of 8).
type ErrCipherUnpad struct {
	Proto PrivProtocol
	Len   int
}

func (e *ErrCipherUnpad) Error() string {
	return fmt.Sprintf("usm: ciphertext length %d invalid for protocol %d", e.Len, e.Proto)
}

// BuildDESIV XORs the 8-byte pre-IV (the 8 bytes of the extended key that
// follow its key bytes: 8 key bytes for DES, 24 for 3DES) with the 8-byte
// privacy salt, per
// RFC 3414 §8.1.1.1.
func BuildDESIV(preIV, salt []byte) ([]byte, error) {
	if len(preIV) != 8 || len(salt) != 8 {
		return nil, fmt.Errorf("usm: DES IV inputs must be 8 bytes each")
	}
	iv := make([]byte, 8)
	for i := range iv {
		iv[i] = preIV[i] ^ salt[i]
	}
	return iv, nil
}

// BuildAESIV constructs engineBoots(4) || engineTime(4) || salt(8) per
// RFC 3826 §3.1.2.1.
func BuildAESIV(engineBoots, engineTime uint32, salt []byte) ([]byte, error) {
	if len(salt) != 8 {
		return nil, fmt.Errorf("usm: AES salt must be 8 bytes")
	}
	iv := make([]byte, 16)
	binary.BigEndian.PutUint32(iv[0:4], engineBoots)
	binary.BigEndian.PutUint32(iv[4:8], engineTime)
	copy(iv[8:], salt)
	return iv, nil
}

// NewSalt returns 8 random bytes suitable as privacyParameters for an
// outbound message; the v3 Inform→Response path uses it to encrypt each
// response under a fresh salt.
func NewSalt(rand func([]byte) (int, error)) ([]byte, error) {
	salt := make([]byte, 8)
	if _, err := rand(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// Decrypt decrypts ciphertext using priv's cipher/mode with the given
// (already-extended) key and IV, returning the plaintext.
func Decrypt(priv PrivProtocol, key, iv, ciphertext []byte) ([]byte, error) {
	spec, ok := privTable[priv]
	if !ok || priv == NoPriv {
		return nil, fmt.Errorf("usm: unsupported privacy protocol %d", priv)
	}
	switch spec.Mode {
	case modeDESCBC:
		return decryptCBC(priv, desKeyBytes(priv, key), iv, ciphertext, newDESBlock)
	case modeAESCFB:
		return decryptCFB(key, iv, ciphertext)
	default:
		return nil, fmt.Errorf("usm: unknown cipher mode")
	}
}

// desKeyBytes returns the leading key-material bytes of an extended DES/3DES
// key, excluding the trailing pre-IV bytes (8 for DES, 24 key bytes for
// 3DES out of its 32-byte extended key).
func desKeyBytes(priv PrivProtocol, key []byte) []byte {
	if priv == TDES {
		return key[:24]
	}
	return key[:8]
}

// Encrypt encrypts plaintext using priv's cipher/mode with the given
// (already-extended) key and IV. It is the inverse of Decrypt (property 4:
// Encrypt∘Decrypt is the identity) and is used to encrypt synthesized v3
// Responses.
func Encrypt(priv PrivProtocol, key, iv, plaintext []byte) ([]byte, error) {
	spec, ok := privTable[priv]
	if !ok || priv == NoPriv {
		return nil, fmt.Errorf("usm: unsupported privacy protocol %d", priv)
	}
	switch spec.Mode {
	case modeDESCBC:
		return encryptCBC(priv, desKeyBytes(priv, key), iv, plaintext, newDESBlock)
	case modeAESCFB:
		return encryptCFB(key, iv, plaintext)
	default:
		return nil, fmt.Errorf("usm: unknown cipher mode")
	}
}

func newDESBlock(priv PrivProtocol, key []byte) (cipher.Block, error) {
	if priv == TDES {
		return des.NewTripleDESCipher(key)
	}
	return des.NewCipher(key)
}

func decryptCBC(priv PrivProtocol, key, iv, ciphertext []byte, newBlock func(PrivProtocol, []byte) (cipher.Block, error)) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%des.BlockSize != 0 {
		return nil, &ErrCipherUnpad{Proto: priv, Len: len(ciphertext)}
	}
	block, err := newBlock(priv, key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

func encryptCBC(priv PrivProtocol, key, iv, plaintext []byte, newBlock func(PrivProtocol, []byte) (cipher.Block, error)) ([]byte, error) {
	padded := plaintext
	if rem := len(padded) % des.BlockSize; rem != 0 {
		padded = append(append([]byte(nil), padded...), make([]byte, des.BlockSize-rem)...)
	}
	block, err := newBlock(priv, key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

func decryptCFB(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aesBlock(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(out, ciphertext)
	return out, nil
}

func encryptCFB(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aesBlock(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(out, plaintext)
	return out, nil
}

func aesBlock(key []byte) (cipher.Block, error) {
	return aes.NewCipher(key)
}
