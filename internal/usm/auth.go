package usm

import (
	"crypto/hmac"
	"crypto/subtle"
	"fmt"
)

const localizationFillLen = 1048576 // RFC 3414 §2.6: password tiled to exactly 1,048,576 bytes

// Localize derives Kul = H(Ku || engineID || Ku) where Ku = H(password
// tiled to exactly 1,048,576 bytes). The tiling is buffered in 64-byte
// chunks for speed but produces a result bitwise-identical to the
// byte-by-byte definition.
func Localize(proto AuthProtocol, password, engineID []byte) ([]byte, error) {
	spec, ok := authTable[proto]
	if !ok || proto == NoAuth {
		return nil, fmt.Errorf("usm: localize: unsupported auth protocol %d", proto)
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("usm: localize: empty password")
	}

	h := spec.New()
	var chunk [64]byte
	remaining := localizationFillLen
	pwPos := 0
	for remaining > 0 {
		n := 64
		if remaining < 64 {
			n = remaining
		}
		for i := 0; i < n; i++ {
			chunk[i] = password[pwPos%len(password)]
			pwPos++
		}
		h.Write(chunk[:n])
		remaining -= n
	}
	ku := h.Sum(nil)

	h2 := spec.New()
	h2.Write(ku)
	h2.Write(engineID)
	h2.Write(ku)
	return h2.Sum(nil), nil
}

// extendKey appends extension blocks (Reeder re-localizes the previous
// block; Blumenthal hashes it once) until the accumulated key reaches
// targetLen, then truncates to targetLen.
func extendKey(proto AuthProtocol, method ExtMethod, localized, engineID []byte, targetLen int) ([]byte, error) {
	if len(localized) >= targetLen {
		return localized[:targetLen], nil
	}
	if method == ExtNone {
		return nil, fmt.Errorf("usm: key too short (%d) for target length %d with no extension method", len(localized), targetLen)
	}
	spec, ok := authTable[proto]
	if !ok || proto == NoAuth {
		return nil, fmt.Errorf("usm: extendKey: unsupported auth protocol %d", proto)
	}

	out := append([]byte(nil), localized...)
	prev := localized
	for len(out) < targetLen {
		switch method {
		case ExtReeder:
			// Reeder extension (RFC 3414 draft erratum used by several vendors):
			// re-run full password localization treating the previous block as
			// the "password" input.
			next, err := Localize(proto, prev, engineID)
			if err != nil {
				return nil, err
			}
			prev = next
		case ExtBlumenthal:
			h := spec.New()
			h.Write(prev)
			prev = h.Sum(nil)
		default:
			return nil, fmt.Errorf("usm: unknown extension method %d", method)
		}
		out = append(out, prev...)
	}
	return out[:targetLen], nil
}

// ExtendKeyReeder stretches a localized key to targetLen using the Reeder
// method: DES, 3DES, AES-128, AES-192C, AES-256C.
func ExtendKeyReeder(proto AuthProtocol, localized, engineID []byte, targetLen int) ([]byte, error) {
	return extendKey(proto, ExtReeder, localized, engineID, targetLen)
}

// ExtendKeyBlumenthal stretches a localized key to targetLen using the
// Blumenthal method: AES-192, AES-256.
func ExtendKeyBlumenthal(proto AuthProtocol, localized []byte, targetLen int) ([]byte, error) {
	return extendKey(proto, ExtBlumenthal, localized, nil, targetLen)
}

// ExtendPrivKey stretches a localized privacy key (the privacy passphrase
// localized with the auth hash) to the key length required
// by priv, dispatching to the extension method named in the cipher table —
// a pure data lookup, never a per-cipher branch.
func ExtendPrivKey(authProto AuthProtocol, priv PrivProtocol, localized, engineID []byte) ([]byte, error) {
	spec, ok := privTable[priv]
	if !ok || priv == NoPriv {
		return nil, fmt.Errorf("usm: unsupported privacy protocol %d", priv)
	}
	return extendKey(authProto, spec.Extension, localized, engineID, spec.KeyLen)
}

// TruncLen returns the authenticationParameters length for proto.
func TruncLen(proto AuthProtocol) (int, error) {
	spec, ok := authTable[proto]
	if !ok || proto == NoAuth {
		return 0, fmt.Errorf("usm: unsupported auth protocol %d", proto)
	}
	return spec.TruncLen, nil
}

// ComputeHMAC returns HMAC(authKey, message) truncated to proto's
// authenticationParameters length.
func ComputeHMAC(proto AuthProtocol, authKey, message []byte) ([]byte, error) {
	spec, ok := authTable[proto]
	if !ok || proto == NoAuth {
		return nil, fmt.Errorf("usm: unsupported auth protocol %d", proto)
	}
	mac := hmac.New(spec.New, authKey)
	mac.Write(message)
	sum := mac.Sum(nil)
	return sum[:spec.TruncLen], nil
}

// VerifyHMAC reports whether want equals ComputeHMAC(proto, authKey,
// message), using a constant-time comparison so that a mismatch can't be
// distinguished by timing (RFC 3414 §3.2 step 6's intent; see also
// testable property 3).
func VerifyHMAC(proto AuthProtocol, authKey, message, want []byte) (bool, error) {
	spec, ok := authTable[proto]
	if !ok || proto == NoAuth {
		return false, fmt.Errorf("usm: unsupported auth protocol %d", proto)
	}
	if len(want) != spec.TruncLen {
		return false, fmt.Errorf("usm: authenticationParameters length %d, want %d", len(want), spec.TruncLen)
	}
	got, err := ComputeHMAC(proto, authKey, message)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
