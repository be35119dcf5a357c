// Package message implements the version-demultiplexed SNMP message
// handler: BER decode of the outer v1/v2c/v3 envelopes, the v3 USM
// processing state machine, and Inform→Response synthesis.
package message

import (
	"github.com/snmpworks/trapd/internal/ber"
	"github.com/snmpworks/trapd/internal/pdu"
	"github.com/snmpworks/trapd/internal/usm"
)

// Version is the outer SNMP version field.
type Version int

const (
	VersionV1  Version = 0
	VersionV2C Version = 1
	VersionV3  Version = 3
)

// V1Message is a decoded SNMPv1 message (RFC 1157 §4).
type V1Message struct {
	Community []byte
	PDU       pdu.TrapPDU
}

// V2CMessage is a decoded SNMPv2c message. Response is populated only when
// PDU was an InformRequest.
type V2CMessage struct {
	Community []byte
	PDU       pdu.PDU
	Response  []byte
}

// ScopedData is the v3 message's inner payload: either still encrypted
// (Encrypted populated) or already in the clear (Cleartext populated).
type ScopedData struct {
	Encrypted []byte
	Cleartext *pdu.ScopedPDU
}

// V3Message is a decoded SNMPv3 message (RFC 3412 §6, RFC 3414 §2.4).
type V3Message struct {
	MsgID              int32
	MsgMaxSize         int64
	MsgFlags           byte
	SecurityParameters usm.SecurityParameters
	ScopedData         ScopedData
	Response           []byte
	wholeMessage       []byte // the encoded outer message as received, for HMAC recomputation
}

// Message is the closed sum of decoded message variants.
type Message struct {
	V1 *V1Message
	V2 *V2CMessage
	V3 *V3Message
}

// DecodeMessage peeks the outer SEQUENCE's version INTEGER and dispatches
// to the matching per-version decoder.
func DecodeMessage(raw []byte) (Message, error) {
	c := ber.NewCursor(raw)
	outer, err := c.ExpectSequence()
	if err != nil {
		return Message{}, errf(ASNDecodeError, "outer message: %w", err)
	}
	ver, err := outer.ExpectInteger()
	if err != nil {
		return Message{}, errf(ASNDecodeError, "version: %w", err)
	}

	switch Version(ver) {
	case VersionV1:
		v1, err := decodeV1(outer)
		if err != nil {
			return Message{}, err
		}
		return Message{V1: v1}, nil
	case VersionV2C:
		v2, err := decodeV2C(outer)
		if err != nil {
			return Message{}, err
		}
		return Message{V2: v2}, nil
	case VersionV3:
		v3, err := decodeV3(raw, outer)
		if err != nil {
			return Message{}, err
		}
		return Message{V3: v3}, nil
	default:
		return Message{}, errf(UnknownSNMPVersion, "version %d", ver)
	}
}

func decodeV1(outer *ber.Cursor) (*V1Message, error) {
	community, err := outer.ExpectOctetString()
	if err != nil {
		return nil, errf(ASNDecodeError, "v1 community: %w", err)
	}
	trap, err := pdu.DecodeTrapPDU(outer)
	if err != nil {
		return nil, errf(ASNDecodeError, "v1 trap pdu: %w", err)
	}
	return &V1Message{Community: community, PDU: trap}, nil
}

func decodeV2C(outer *ber.Cursor) (*V2CMessage, error) {
	community, err := outer.ExpectOctetString()
	if err != nil {
		return nil, errf(ASNDecodeError, "v2c community: %w", err)
	}
	p, err := pdu.DecodePDU(outer)
	if err != nil {
		return nil, errf(ASNDecodeError, "v2c pdu: %w", err)
	}
	m := &V2CMessage{Community: community, PDU: p}
	if p.Type == pdu.InformRequest {
		resp, err := synthesizeV2CResponse(community, p)
		if err != nil {
			return nil, err
		}
		m.Response = resp
	}
	return m, nil
}

// synthesizeV2CResponse clones p into a Response, zeroing errorStatus and
// errorIndex, and re-encodes the outer v2c message with the same
// community and requestID (testable property 1).
func synthesizeV2CResponse(community []byte, p pdu.PDU) ([]byte, error) {
	response := pdu.InformToResponse(p)
	inner := &ber.Builder{}
	inner.Integer(int64(VersionV2C))
	inner.OctetString(community)
	if err := response.Encode(inner); err != nil {
		return nil, errf(USMParamEncodeError, "encode v2c response: %w", err)
	}
	outer := &ber.Builder{}
	outer.Sequence(inner)
	return outer.Bytes(), nil
}

func decodeV3(raw []byte, outer *ber.Cursor) (*V3Message, error) {
	// msgID / msgMaxSize / msgFlags / msgSecurityModel, the "global data" sequence
	globalField, err := outer.Next()
	if err != nil || globalField.Tag != ber.TagSequence {
		return nil, errf(ASNDecodeError, "v3 global data: %w", err)
	}
	gd := ber.NewCursor(globalField.Content)
	msgID, err := gd.ExpectInteger()
	if err != nil {
		return nil, errf(ASNDecodeError, "v3 msgID: %w", err)
	}
	msgMaxSize, err := gd.ExpectInteger()
	if err != nil {
		return nil, errf(ASNDecodeError, "v3 msgMaxSize: %w", err)
	}
	flagsBytes, err := gd.ExpectOctetString()
	if err != nil {
		return nil, errf(ASNDecodeError, "v3 msgFlags: %w", err)
	}
	if len(flagsBytes) != 1 {
		return nil, errf(InvalidV3Flags, "msgFlags length %d", len(flagsBytes))
	}
	secModel, err := gd.ExpectInteger()
	if err != nil {
		return nil, errf(ASNDecodeError, "v3 msgSecurityModel: %w", err)
	}
	if secModel != 3 {
		return nil, errf(ASNDecodeError, "v3 msgSecurityModel %d != USM", secModel)
	}

	secParamsField, err := outer.Next()
	if err != nil || secParamsField.Tag != ber.TagOctetString {
		return nil, errf(USMParamDecodeError, "v3 security parameters envelope: %w", err)
	}
	secParams, err := usm.DecodeSecurityParameters(secParamsField.Content)
	if err != nil {
		return nil, errf(USMParamDecodeError, "%w", err)
	}

	scopedField, err := outer.Next()
	if err != nil {
		return nil, errf(ASNDecodeError, "v3 scoped pdu: %w", err)
	}

	m := &V3Message{
		MsgID:              int32(msgID),
		MsgMaxSize:         msgMaxSize,
		MsgFlags:           flagsBytes[0],
		SecurityParameters: secParams,
		wholeMessage:       raw,
	}

	switch scopedField.Tag {
	case ber.TagOctetString:
		m.ScopedData = ScopedData{Encrypted: scopedField.Content}
	case ber.TagSequence:
		sp, err := pdu.DecodeScopedPDU(encodeSequence(scopedField.Content))
		if err != nil {
			return nil, errf(ASNDecodeError, "v3 cleartext scoped pdu: %w", err)
		}
		m.ScopedData = ScopedData{Cleartext: &sp}
	default:
		return nil, errf(ASNDecodeError, "v3 scoped pdu: unexpected tag 0x%02x", byte(scopedField.Tag))
	}

	return m, nil
}

func encodeSequence(content []byte) []byte {
	b := &ber.Builder{}
	b.TLV(ber.TagSequence, content)
	return b.Bytes()
}

// Flags returns the decoded reportable/priv/auth bits of MsgFlags.
func (m *V3Message) Flags() (reportable, priv, auth bool) {
	return m.MsgFlags&0x04 != 0, m.MsgFlags&0x02 != 0, m.MsgFlags&0x01 != 0
}

// Level computes the security level implied by MsgFlags.
func (m *V3Message) Level() SecurityLevel {
	_, priv, auth := m.Flags()
	level := 0
	if auth {
		level |= 1
	}
	if priv {
		level |= 2
	}
	return SecurityLevel(level)
}
