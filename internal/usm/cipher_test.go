package usm

import (
	"bytes"
	"testing"
)

func TestBuildDESIV(t *testing.T) {
	preIV := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	salt := []byte{0xff, 0xff, 0, 0, 0xaa, 0x55, 1, 1}
	iv, err := BuildDESIV(preIV, salt)
	if err != nil {
		t.Fatalf("BuildDESIV: %v", err)
	}
	want := []byte{1 ^ 0xff, 2 ^ 0xff, 3, 4, 5 ^ 0xaa, 6 ^ 0x55, 7 ^ 1, 8 ^ 1}
	if !bytes.Equal(iv, want) {
		t.Errorf("BuildDESIV = %x, want %x", iv, want)
	}
}

func TestBuildAESIV(t *testing.T) {
	salt := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	iv, err := BuildAESIV(0x00000001, 0x00000002, salt)
	if err != nil {
		t.Fatalf("BuildAESIV: %v", err)
	}
	want := append([]byte{0, 0, 0, 1, 0, 0, 0, 2}, salt...)
	if !bytes.Equal(iv, want) {
		t.Errorf("BuildAESIV = %x, want %x", iv, want)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	engineID := []byte("engine-id-bytes")
	authKey, err := Localize(SHA1, []byte("privkey12"), engineID)
	if err != nil {
		t.Fatalf("Localize: %v", err)
	}

	plaintext := []byte("this is a scoped pdu payload of arbitrary length!!")

	for priv, spec := range privTable {
		key, err := ExtendPrivKey(SHA1, priv, authKey, engineID)
		if err != nil {
			t.Fatalf("ExtendPrivKey(%v): %v", priv, err)
		}

		var iv []byte
		switch priv {
		case DES, TDES:
			preIV := key[8:16]
			if priv == TDES {
				preIV = key[24:32]
			}
			iv, err = BuildDESIV(preIV, []byte{1, 2, 3, 4, 5, 6, 7, 8})
		default:
			iv, err = BuildAESIV(1, 2, []byte{1, 2, 3, 4, 5, 6, 7, 8})
		}
		if err != nil {
			t.Fatalf("build IV for %v: %v", priv, err)
		}

		ciphertext, err := Encrypt(priv, key, iv, plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%v): %v", priv, err)
		}

		got, err := Decrypt(priv, key, iv, ciphertext)
		if err != nil {
			t.Fatalf("Decrypt(%v): %v", priv, err)
		}

		if spec.Mode == modeDESCBC {
			// DES/3DES zero-pad to the block size; compare the recovered
			// plaintext's meaningful prefix.
			if !bytes.Equal(got[:len(plaintext)], plaintext) {
				t.Errorf("Decrypt(%v) round trip = %q, want prefix %q", priv, got, plaintext)
			}
		} else if !bytes.Equal(got, plaintext) {
			t.Errorf("Decrypt(%v) round trip = %q, want %q", priv, got, plaintext)
		}
	}
}

func TestDecryptDESUnalignedLength(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 8)
	_, err := Decrypt(DES, key, iv, []byte{1, 2, 3})
	if err == nil {
		t.Fatalf("expected error for unaligned DES ciphertext")
	}
	if _, ok := err.(*ErrCipherUnpad); !ok {
		t.Errorf("error type = %T, want *ErrCipherUnpad", err)
	}
}

func TestDecryptTamperedCiphertextDiffers(t *testing.T) {
	engineID := []byte("engine-id-bytes")
	authKey, err := Localize(SHA1, []byte("privkey12"), engineID)
	if err != nil {
		t.Fatalf("Localize: %v", err)
	}
	key, err := ExtendPrivKey(SHA1, AES128, authKey, engineID)
	if err != nil {
		t.Fatalf("ExtendPrivKey: %v", err)
	}
	iv, err := BuildAESIV(1, 2, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err != nil {
		t.Fatalf("BuildAESIV: %v", err)
	}
	plaintext := []byte("0123456789abcdef")
	ciphertext, err := Encrypt(AES128, key, iv, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0xff
	got, err := Decrypt(AES128, key, iv, tampered)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if bytes.Equal(got, plaintext) {
		t.Fatalf("tampered ciphertext decrypted to the original plaintext")
	}
}
