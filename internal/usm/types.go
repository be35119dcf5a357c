// Package usm implements the SNMPv3 User-based Security Model (RFC 3414),
// its AES privacy extensions (RFC 3826) and SHA-2 authentication extensions
// (RFC 7860): password localization, key extension, HMAC integrity
// verification, and payload encryption/decryption.
package usm

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
)

// AuthProtocol identifies the authentication hash in use.
type AuthProtocol int

const (
	NoAuth AuthProtocol = iota
	MD5
	SHA1
	SHA224
	SHA256
	SHA384
	SHA512
)

// ExtMethod identifies how a derived key is stretched to a cipher's
// required length when the localized key is shorter than that length.
type ExtMethod int

const (
	ExtNone ExtMethod = iota
	ExtReeder
	ExtBlumenthal
)

// authSpec is the per-hash table driving localization, HMAC truncation,
// and extension, kept as data per the "data, not control flow" guidance:
// new hash types are added by extending this table, never by adding a
// parallel branch elsewhere.
type authSpec struct {
	New       func() hash.Hash
	HashLen   int // raw hash/MAC output length
	TruncLen  int // authenticationParameters length (HMAC truncation)
	KeyLen    int // localized key length
}

var authTable = map[AuthProtocol]authSpec{
	MD5:    {New: md5.New, HashLen: 16, TruncLen: 12, KeyLen: 16},
	SHA1:   {New: sha1.New, HashLen: 20, TruncLen: 12, KeyLen: 20},
	SHA224: {New: sha256.New224, HashLen: 28, TruncLen: 16, KeyLen: 28},
	SHA256: {New: sha256.New, HashLen: 32, TruncLen: 24, KeyLen: 32},
	SHA384: {New: sha512.New384, HashLen: 48, TruncLen: 32, KeyLen: 48},
	SHA512: {New: sha512.New, HashLen: 64, TruncLen: 48, KeyLen: 64},
}

// PrivProtocol identifies the privacy cipher in use.
type PrivProtocol int

const (
	NoPriv PrivProtocol = iota
	DES
	TDES
	AES128
	AES192
	AES256
	AES192C
	AES256C
)

// privSpec drives key length, block/IV size, and key-extension method.
type privSpec struct {
	KeyLen    int
	BlockLen  int
	Extension ExtMethod
	Mode      cipherMode
}

type cipherMode int

const (
	modeDESCBC cipherMode = iota
	modeAESCFB
)

var privTable = map[PrivProtocol]privSpec{
	DES:     {KeyLen: 16, BlockLen: 8, Extension: ExtReeder, Mode: modeDESCBC}, // 16B localized key: 8B key + 8B pre-IV
	TDES:    {KeyLen: 32, BlockLen: 8, Extension: ExtReeder, Mode: modeDESCBC}, // 24B key + 8B pre-IV
	AES128:  {KeyLen: 16, BlockLen: 16, Extension: ExtReeder, Mode: modeAESCFB},
	AES192:  {KeyLen: 24, BlockLen: 16, Extension: ExtBlumenthal, Mode: modeAESCFB},
	AES256:  {KeyLen: 32, BlockLen: 16, Extension: ExtBlumenthal, Mode: modeAESCFB},
	AES192C: {KeyLen: 24, BlockLen: 16, Extension: ExtReeder, Mode: modeAESCFB},
	AES256C: {KeyLen: 32, BlockLen: 16, Extension: ExtReeder, Mode: modeAESCFB},
}

// SecurityParameters is the decoded/encoded USM security parameters
// carried in a v3 message (RFC 3414 §2.4).
type SecurityParameters struct {
	AuthoritativeEngineID   []byte
	AuthoritativeEngineBoots uint32
	AuthoritativeEngineTime  uint32
	UserName                 []byte
	AuthenticationParameters []byte
	PrivacyParameters        []byte
}

// Copy returns a deep copy, used when zero-filling AuthenticationParameters
// for the HMAC-over-zeroed-auth-field computation without mutating the
// caller's original message.
func (p SecurityParameters) Copy() SecurityParameters {
	cp := p
	cp.AuthoritativeEngineID = append([]byte(nil), p.AuthoritativeEngineID...)
	cp.UserName = append([]byte(nil), p.UserName...)
	cp.AuthenticationParameters = append([]byte(nil), p.AuthenticationParameters...)
	cp.PrivacyParameters = append([]byte(nil), p.PrivacyParameters...)
	return cp
}
