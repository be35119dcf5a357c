package message

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/snmpworks/trapd/internal/ber"
	"github.com/snmpworks/trapd/internal/pdu"
	"github.com/snmpworks/trapd/internal/usm"
)

func buildV1Raw(t *testing.T, community []byte, trap pdu.TrapPDU) []byte {
	t.Helper()
	inner := &ber.Builder{}
	inner.Integer(int64(VersionV1))
	inner.OctetString(community)
	trap.Encode(inner)
	outer := &ber.Builder{}
	outer.Sequence(inner)
	return outer.Bytes()
}

func buildV2CRaw(t *testing.T, community []byte, p pdu.PDU) []byte {
	t.Helper()
	inner := &ber.Builder{}
	inner.Integer(int64(VersionV2C))
	inner.OctetString(community)
	if err := p.Encode(inner); err != nil {
		t.Fatalf("encode pdu: %v", err)
	}
	outer := &ber.Builder{}
	outer.Sequence(inner)
	return outer.Bytes()
}

// buildV3Raw constructs a full v3 message using the package's own
// encodeV3Message/buildIV helpers, so the test fixtures are built the same
// way ProcessV3's response synthesis builds outgoing messages.
func buildV3Raw(t *testing.T, msgID int32, maxSize int64, authFlag, privFlag bool, sp usm.SecurityParameters, user User, scoped pdu.ScopedPDU) []byte {
	t.Helper()
	plaintext, err := scoped.Encode()
	if err != nil {
		t.Fatalf("encode scoped pdu: %v", err)
	}

	scopedContent := plaintext
	scopedEncrypted := false
	if privFlag {
		privLocalKey, err := usm.Localize(user.AuthType, user.PrivacyPassphrase, sp.AuthoritativeEngineID)
		if err != nil {
			t.Fatalf("Localize: %v", err)
		}
		privKey, err := usm.ExtendPrivKey(user.AuthType, user.PrivacyProtocol, privLocalKey, sp.AuthoritativeEngineID)
		if err != nil {
			t.Fatalf("ExtendPrivKey: %v", err)
		}
		iv, err := buildIV(user.PrivacyProtocol, privKey, sp)
		if err != nil {
			t.Fatalf("buildIV: %v", err)
		}
		ciphertext, err := usm.Encrypt(user.PrivacyProtocol, privKey, iv, plaintext)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		scopedContent = ciphertext
		scopedEncrypted = true
	}

	if authFlag {
		truncLen, err := usm.TruncLen(user.AuthType)
		if err != nil {
			t.Fatalf("TruncLen: %v", err)
		}
		sp.AuthenticationParameters = make([]byte, truncLen)
		unsigned := encodeV3Message(msgID, maxSize, authFlag, privFlag, sp, scopedContent, scopedEncrypted)
		authKey, err := usm.Localize(user.AuthType, user.AuthPassphrase, sp.AuthoritativeEngineID)
		if err != nil {
			t.Fatalf("Localize: %v", err)
		}
		mac, err := usm.ComputeHMAC(user.AuthType, authKey, unsigned)
		if err != nil {
			t.Fatalf("ComputeHMAC: %v", err)
		}
		sp.AuthenticationParameters = mac
	}

	return encodeV3Message(msgID, maxSize, authFlag, privFlag, sp, scopedContent, scopedEncrypted)
}

func TestDecodeMessageV1(t *testing.T) {
	trap := pdu.TrapPDU{
		Enterprise:   []uint32{1, 3, 6, 1, 4, 1, 8072},
		AgentAddr:    [4]byte{10, 0, 0, 1},
		GenericTrap:  6,
		SpecificTrap: 1,
		Timestamp:    42,
		VarBinds: []pdu.VarBind{
			{Name: []uint32{1, 3, 6, 1, 2, 1, 1, 3, 0}, Value: pdu.Value{Kind: pdu.KindTimeTicks, UInt: 42}},
		},
	}
	raw := buildV1Raw(t, []byte("public"), trap)
	msg, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.V1 == nil {
		t.Fatalf("expected V1 message, got %+v", msg)
	}
	if string(msg.V1.Community) != "public" {
		t.Errorf("community = %q, want public", msg.V1.Community)
	}
	if diff := cmp.Diff(trap, msg.V1.PDU); diff != "" {
		t.Errorf("trap pdu mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeMessageV2CGetResponseNoSynthesis(t *testing.T) {
	p := pdu.PDU{Type: pdu.GetResponse, RequestID: 1, VarBinds: []pdu.VarBind{
		{Name: []uint32{1, 3, 6}, Value: pdu.Value{Kind: pdu.KindNull}},
	}}
	raw := buildV2CRaw(t, []byte("public"), p)
	msg, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.V2 == nil {
		t.Fatalf("expected V2 message")
	}
	if msg.V2.Response != nil {
		t.Errorf("GetResponse should not synthesize a Response")
	}
}

// TestDecodeMessageV2CInformSynthesis matches the scenario: community
// "public", requestID 0x12345678, a single sysUpTime.0 TimeTicks varbind.
func TestDecodeMessageV2CInformSynthesis(t *testing.T) {
	inform := pdu.PDU{
		Type:      pdu.InformRequest,
		RequestID: 0x12345678,
		VarBinds: []pdu.VarBind{
			{Name: []uint32{1, 3, 6, 1, 2, 1, 1, 3, 0}, Value: pdu.Value{Kind: pdu.KindTimeTicks, UInt: 42}},
		},
	}
	raw := buildV2CRaw(t, []byte("public"), inform)
	msg, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.V2 == nil {
		t.Fatalf("expected V2 message")
	}
	if msg.V2.Response == nil {
		t.Fatalf("expected synthesized Response for an InformRequest")
	}

	respMsg, err := DecodeMessage(msg.V2.Response)
	if err != nil {
		t.Fatalf("decode synthesized response: %v", err)
	}
	if respMsg.V2 == nil {
		t.Fatalf("synthesized response did not decode as v2c")
	}
	if string(respMsg.V2.Community) != "public" {
		t.Errorf("response community = %q, want public", respMsg.V2.Community)
	}
	if respMsg.V2.PDU.Type != pdu.GetResponse {
		t.Errorf("response PDU type = %v, want GetResponse", respMsg.V2.PDU.Type)
	}
	if respMsg.V2.PDU.RequestID != inform.RequestID {
		t.Errorf("response requestID = %v, want %v", respMsg.V2.PDU.RequestID, inform.RequestID)
	}
	if diff := cmp.Diff(inform.VarBinds, respMsg.V2.PDU.VarBinds); diff != "" {
		t.Errorf("response varbinds changed (-want +got):\n%s", diff)
	}
}

func TestDecodeMessageV3Cleartext(t *testing.T) {
	sp := usm.SecurityParameters{
		AuthoritativeEngineID:   []byte("engine-id-bytes"),
		AuthoritativeEngineBoots: 1,
		AuthoritativeEngineTime:  100,
		UserName:                 []byte("noauthuser"),
	}
	scoped := pdu.ScopedPDU{
		ContextEngineID: sp.AuthoritativeEngineID,
		ContextName:     []byte(""),
		PDU: pdu.PDU{
			Type:      pdu.InformRequest,
			RequestID: 5,
			VarBinds: []pdu.VarBind{
				{Name: []uint32{1, 3, 6, 1, 2, 1, 1, 3, 0}, Value: pdu.Value{Kind: pdu.KindTimeTicks, UInt: 7}},
			},
		},
	}
	user := User{Name: []byte("noauthuser"), NoAuth: true}
	raw := buildV3Raw(t, 1, 65507, false, false, sp, user, scoped)

	msg, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.V3 == nil {
		t.Fatalf("expected V3 message")
	}
	if msg.V3.ScopedData.Cleartext == nil {
		t.Fatalf("expected cleartext scoped pdu")
	}
	if diff := cmp.Diff(scoped, *msg.V3.ScopedData.Cleartext, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("scoped pdu mismatch (-want +got):\n%s", diff)
	}
	if string(msg.V3.SecurityParameters.UserName) != "noauthuser" {
		t.Errorf("userName = %q, want noauthuser", msg.V3.SecurityParameters.UserName)
	}
}

func TestDecodeMessageUnknownVersion(t *testing.T) {
	inner := &ber.Builder{}
	inner.Integer(99)
	inner.OctetString([]byte("public"))
	outer := &ber.Builder{}
	outer.Sequence(inner)

	_, err := DecodeMessage(outer.Bytes())
	if err == nil {
		t.Fatalf("expected error for unknown version")
	}
	kind, ok := KindOf(err)
	if !ok || kind != UnknownSNMPVersion {
		t.Errorf("KindOf = %v, %v, want UnknownSNMPVersion", kind, ok)
	}
}
