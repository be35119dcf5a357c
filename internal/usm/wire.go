package usm

import (
	"fmt"

	"github.com/snmpworks/trapd/internal/ber"
)

// Encode returns the BER SEQUENCE of the USM security parameters (RFC 3414
// §2.4). It does not add the surrounding OCTET STRING that
// msgSecurityParameters carries it in; the caller wraps it.
func (p SecurityParameters) Encode() []byte {
	inner := &ber.Builder{}
	inner.OctetString(p.AuthoritativeEngineID)
	inner.UInteger(uint64(p.AuthoritativeEngineBoots))
	inner.UInteger(uint64(p.AuthoritativeEngineTime))
	inner.OctetString(p.UserName)
	inner.OctetString(p.AuthenticationParameters)
	inner.OctetString(p.PrivacyParameters)
	seq := &ber.Builder{}
	seq.Sequence(inner)
	return seq.Bytes()
}

// DecodeSecurityParameters decodes the SEQUENCE content produced by Encode
// (the caller has already unwrapped the surrounding OCTET STRING).
func DecodeSecurityParameters(buf []byte) (SecurityParameters, error) {
	c := ber.NewCursor(buf)
	seq, err := c.ExpectSequence()
	if err != nil {
		return SecurityParameters{}, fmt.Errorf("usm: security parameters: %w", err)
	}
	engineID, err := seq.ExpectOctetString()
	if err != nil {
		return SecurityParameters{}, fmt.Errorf("usm: authoritativeEngineID: %w", err)
	}
	boots, err := seq.ExpectUInteger()
	if err != nil {
		return SecurityParameters{}, fmt.Errorf("usm: authoritativeEngineBoots: %w", err)
	}
	engTime, err := seq.ExpectUInteger()
	if err != nil {
		return SecurityParameters{}, fmt.Errorf("usm: authoritativeEngineTime: %w", err)
	}
	userName, err := seq.ExpectOctetString()
	if err != nil {
		return SecurityParameters{}, fmt.Errorf("usm: userName: %w", err)
	}
	authParams, err := seq.ExpectOctetString()
	if err != nil {
		return SecurityParameters{}, fmt.Errorf("usm: authenticationParameters: %w", err)
	}
	privParams, err := seq.ExpectOctetString()
	if err != nil {
		return SecurityParameters{}, fmt.Errorf("usm: privacyParameters: %w", err)
	}
	return SecurityParameters{
		AuthoritativeEngineID:    engineID,
		AuthoritativeEngineBoots: uint32(boots),
		AuthoritativeEngineTime:  uint32(engTime),
		UserName:                 userName,
		AuthenticationParameters: authParams,
		PrivacyParameters:        privParams,
	}, nil
}

// ZeroedAuthParams returns a copy of p with AuthenticationParameters
// replaced by a same-length all-zero octet string, as required before
// computing the HMAC over the whole message (RFC 3414 §3.2 step 6/7).
func (p SecurityParameters) ZeroedAuthParams() SecurityParameters {
	cp := p.Copy()
	cp.AuthenticationParameters = make([]byte, len(p.AuthenticationParameters))
	return cp
}
