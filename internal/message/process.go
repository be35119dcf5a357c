package message

import (
	"crypto/rand"
	"time"

	"github.com/snmpworks/trapd/internal/ber"
	"github.com/snmpworks/trapd/internal/cache"
	"github.com/snmpworks/trapd/internal/pdu"
	"github.com/snmpworks/trapd/internal/usm"
)

// Caches bundles the two process-wide caches ProcessV3 consumes.
type Caches struct {
	Key    *cache.KeyCache
	Engine *cache.EngineCache
}

// ProcessV3 runs the USM state machine of spec §4.1 against m: level gate,
// authentication, timeliness, privacy, in that order. On success m's
// ScopedData is replaced with the decrypted Cleartext PDU (if privacy was
// applied); on any failure the message is left unmodified from the
// caller's point of view (no partial mutation is observable) and an error
// with a stable Kind is returned.
func ProcessV3(m *V3Message, user User, caches *Caches, now time.Time) error {
	_, privFlag, authFlag := m.Flags()
	level := m.Level()

	if level < user.MinimumSecurityLevel() {
		return errf(InvalidSecurityLevel, "level %d below configured minimum %d", level, user.MinimumSecurityLevel())
	}
	if privFlag && !authFlag {
		return errf(InvalidSecurityLevel, "privacy flag set without authentication flag")
	}

	engineID := m.SecurityParameters.AuthoritativeEngineID

	if authFlag {
		if user.NoAuth || len(user.AuthPassphrase) == 0 {
			return errf(AuthenticationFailure, "message requires authentication but user has none configured")
		}

		truncLen, err := usm.TruncLen(user.AuthType)
		if err != nil {
			return errf(AuthenticationError, "%w", err)
		}
		if len(m.SecurityParameters.AuthenticationParameters) != truncLen {
			return errf(AuthenticationError, "authenticationParameters length %d want %d", len(m.SecurityParameters.AuthenticationParameters), truncLen)
		}

		zeroed, err := zeroedAuthMessage(m.wholeMessage)
		if err != nil {
			return errf(USMParamDecodeError, "zero auth params: %w", err)
		}

		authKey, err := caches.Key.Localize(user.AuthType, user.AuthPassphrase, engineID)
		if err != nil {
			return errf(AuthenticationError, "%w", err)
		}

		ok, err := usm.VerifyHMAC(user.AuthType, authKey, zeroed, m.SecurityParameters.AuthenticationParameters)
		if err != nil {
			return errf(AuthenticationError, "%w", err)
		}
		if !ok {
			return errf(AuthenticationFailure, "HMAC mismatch")
		}

		if !user.SkipTimelinessChecks {
			if err := checkTimeliness(caches.Engine, engineID, m.SecurityParameters.AuthoritativeEngineBoots, m.SecurityParameters.AuthoritativeEngineTime, now); err != nil {
				return err
			}
		}
	}

	if privFlag {
		if !user.RequirePrivacy && user.PrivacyProtocol == usm.NoPriv {
			return errf(AuthenticationFailure, "message requires privacy but user has none configured")
		}
		if m.ScopedData.Encrypted == nil {
			return errf(DecryptionFailure, "privacy flag set but scoped data already cleartext")
		}

		privLocalKey, err := caches.Key.Localize(user.AuthType, user.PrivacyPassphrase, engineID)
		if err != nil {
			return errf(DecryptionFailure, "%w", err)
		}
		privKey, err := usm.ExtendPrivKey(user.AuthType, user.PrivacyProtocol, privLocalKey, engineID)
		if err != nil {
			return errf(DecryptionFailure, "%w", err)
		}

		iv, err := buildIV(user.PrivacyProtocol, privKey, m.SecurityParameters)
		if err != nil {
			return errf(DecryptionFailure, "%w", err)
		}

		plaintext, err := usm.Decrypt(user.PrivacyProtocol, privKey, iv, m.ScopedData.Encrypted)
		if err != nil {
			if _, ok := err.(*usm.ErrCipherUnpad); ok {
				return errf(CipherDESUnpadError, "%w", err)
			}
			return errf(DecryptionFailure, "%w", err)
		}

		scoped, err := pdu.DecodeScopedPDU(plaintext)
		if err != nil {
			return errf(DecryptionFailure, "decode decrypted scoped pdu: %w", err)
		}
		m.ScopedData = ScopedData{Cleartext: &scoped}
	}

	if m.ScopedData.Cleartext != nil && m.ScopedData.Cleartext.PDU.Type == pdu.InformRequest {
		if resp, err := buildV3Response(m, user, caches); err == nil {
			m.Response = resp
		}
	}

	return nil
}

// buildV3Response synthesizes the Response PDU for a v3 InformRequest
// (spec §4.1's Inform→Response synthesis, extended to v3 per §3's
// V3Message.responseBytes): the inner PDU is cloned with errorStatus and
// errorIndex zeroed and re-tagged, then the outer v3 envelope is rebuilt
// with the same msgID/engineID/engineBoots/engineTime/userName, freshly
// authenticated and (if the inbound message was encrypted) freshly
// encrypted under a new privacy salt — reusing the inbound salt would
// reuse a CFB keystream against different plaintext.
func buildV3Response(m *V3Message, user User, caches *Caches) ([]byte, error) {
	respPDU := pdu.InformToResponse(m.ScopedData.Cleartext.PDU)
	scoped := pdu.ScopedPDU{
		ContextEngineID: m.ScopedData.Cleartext.ContextEngineID,
		ContextName:     m.ScopedData.Cleartext.ContextName,
		PDU:             respPDU,
	}
	plaintext, err := scoped.Encode()
	if err != nil {
		return nil, errf(USMParamEncodeError, "encode v3 response scoped pdu: %w", err)
	}

	_, privFlag, authFlag := m.Flags()
	sp := m.SecurityParameters.Copy()

	scopedContent := plaintext
	scopedEncrypted := false
	if privFlag {
		privLocalKey, err := caches.Key.Localize(user.AuthType, user.PrivacyPassphrase, sp.AuthoritativeEngineID)
		if err != nil {
			return nil, errf(DecryptionFailure, "%w", err)
		}
		privKey, err := usm.ExtendPrivKey(user.AuthType, user.PrivacyProtocol, privLocalKey, sp.AuthoritativeEngineID)
		if err != nil {
			return nil, errf(DecryptionFailure, "%w", err)
		}
		salt, err := usm.NewSalt(rand.Read)
		if err != nil {
			return nil, errf(DecryptionFailure, "%w", err)
		}
		sp.PrivacyParameters = salt
		iv, err := buildIV(user.PrivacyProtocol, privKey, sp)
		if err != nil {
			return nil, errf(DecryptionFailure, "%w", err)
		}
		ciphertext, err := usm.Encrypt(user.PrivacyProtocol, privKey, iv, plaintext)
		if err != nil {
			return nil, errf(DecryptionFailure, "%w", err)
		}
		scopedContent = ciphertext
		scopedEncrypted = true
	}

	if authFlag {
		truncLen, err := usm.TruncLen(user.AuthType)
		if err != nil {
			return nil, errf(AuthenticationError, "%w", err)
		}
		sp.AuthenticationParameters = make([]byte, truncLen)
		unsigned := encodeV3Message(m.MsgID, m.MsgMaxSize, authFlag, privFlag, sp, scopedContent, scopedEncrypted)

		authKey, err := caches.Key.Localize(user.AuthType, user.AuthPassphrase, sp.AuthoritativeEngineID)
		if err != nil {
			return nil, errf(AuthenticationError, "%w", err)
		}
		mac, err := usm.ComputeHMAC(user.AuthType, authKey, unsigned)
		if err != nil {
			return nil, errf(AuthenticationError, "%w", err)
		}
		sp.AuthenticationParameters = mac
	} else {
		sp.AuthenticationParameters = nil
	}

	return encodeV3Message(m.MsgID, m.MsgMaxSize, authFlag, privFlag, sp, scopedContent, scopedEncrypted), nil
}

// encodeV3Message builds the full BER encoding of a v3 message (RFC 3412
// §6). The reportable bit is never set on outgoing messages: a Response
// never itself demands a Response. When scopedEncrypted is false,
// scopedContent is already a complete SEQUENCE TLV (the plaintext
// ScopedPDU encoding) and is spliced in as-is; otherwise it is wrapped as
// an OCTET STRING.
func encodeV3Message(msgID int32, msgMaxSize int64, authFlag, privFlag bool, sp usm.SecurityParameters, scopedContent []byte, scopedEncrypted bool) []byte {
	flags := byte(0)
	if authFlag {
		flags |= 0x01
	}
	if privFlag {
		flags |= 0x02
	}

	gd := &ber.Builder{}
	gd.Integer(int64(msgID))
	gd.Integer(msgMaxSize)
	gd.OctetString([]byte{flags})
	gd.Integer(3)

	inner := &ber.Builder{}
	inner.Integer(int64(VersionV3))
	inner.Sequence(gd)
	inner.OctetString(sp.Encode())
	if scopedEncrypted {
		inner.OctetString(scopedContent)
	} else {
		inner.Raw(scopedContent)
	}

	outer := &ber.Builder{}
	outer.Sequence(inner)
	return outer.Bytes()
}

func buildIV(proto usm.PrivProtocol, key []byte, sp usm.SecurityParameters) ([]byte, error) {
	switch proto {
	case usm.DES, usm.TDES:
		preIV := key[8:16]
		if proto == usm.TDES {
			preIV = key[24:32]
		}
		return usm.BuildDESIV(preIV, sp.PrivacyParameters)
	default:
		return usm.BuildAESIV(sp.AuthoritativeEngineBoots, sp.AuthoritativeEngineTime, sp.PrivacyParameters)
	}
}

// checkTimeliness implements RFC 3414 §3.2 step 7 exactly as tabulated in
// spec §4.2.
func checkTimeliness(engines *cache.EngineCache, engineID []byte, rBoots, rTime uint32, now time.Time) error {
	const maxBoots = 1<<31 - 1
	if rBoots >= maxBoots {
		return errf(NotInTimeWindowError, "engineBoots at maximum (%d)", rBoots)
	}

	state, ok := engines.Get(engineID)
	if !ok {
		engines.Update(engineID, rBoots, rTime, now)
		return nil
	}

	if rBoots < state.Boots {
		return errf(NotInTimeWindowError, "rBoots %d < local %d", rBoots, state.Boots)
	}

	if rBoots == state.Boots {
		delta := now.Sub(state.ObservedWall).Seconds()
		expected := float64(state.Time) + delta
		diff := float64(rTime) - expected
		if diff < 0 {
			diff = -diff
		}
		if diff > 150 {
			return errf(NotInTimeWindowError, "engineTime outside 150s window (diff %.0fs)", diff)
		}
		engines.Update(engineID, rBoots, rTime, now)
		return nil
	}

	// rBoots > state.Boots: accept and overwrite.
	engines.Update(engineID, rBoots, rTime, now)
	return nil
}
