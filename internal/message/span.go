package message

import "github.com/snmpworks/trapd/internal/ber"

// spanCursor walks TLVs while tracking each field's absolute offset within
// the original backing buffer, so the authentication step can zero the
// authenticationParameters bytes in place rather than re-encoding the
// message — re-encoding risks producing a BER form that differs from the
// sender's (different length forms, etc.) and would break bit-exact HMAC
// verification against real agents.
type spanCursor struct {
	buf []byte // the full message this cursor's offsets are relative to
	abs int    // absolute offset into buf of the next byte to read
}

func newSpanCursor(buf []byte, abs int) *spanCursor {
	return &spanCursor{buf: buf, abs: abs}
}

// next parses the TLV at the cursor's current position and returns the
// field along with the absolute offset of its content within buf.
func (s *spanCursor) next() (ber.RawField, int, error) {
	f, err := ber.ParseRawField(s.buf[s.abs:])
	if err != nil {
		return ber.RawField{}, 0, err
	}
	contentAbs := s.abs + (f.Wire - len(f.Content))
	s.abs += f.Wire
	return f, contentAbs, nil
}

// descend returns a spanCursor over f's content, anchored at contentAbs.
func descend(buf []byte, contentAbs int) *spanCursor {
	return newSpanCursor(buf, contentAbs)
}

// authParamsSpan locates the absolute byte range of the
// authenticationParameters OCTET STRING content within a raw v3 message.
func authParamsSpan(raw []byte) (start, length int, err error) {
	top := newSpanCursor(raw, 0)
	outerField, outerContentAbs, err := top.next() // outer SEQUENCE
	if err != nil {
		return 0, 0, err
	}
	_ = outerField
	body := descend(raw, outerContentAbs)

	if _, _, err := body.next(); err != nil { // version INTEGER
		return 0, 0, err
	}
	if _, _, err := body.next(); err != nil { // msgGlobalData SEQUENCE
		return 0, 0, err
	}
	secParamsField, secParamsContentAbs, err := body.next() // msgSecurityParameters OCTET STRING
	if err != nil {
		return 0, 0, err
	}
	_ = secParamsField

	spSeq := descend(raw, secParamsContentAbs)
	spSeqField, spSeqContentAbs, err := spSeq.next() // USM SEQUENCE
	if err != nil {
		return 0, 0, err
	}
	_ = spSeqField

	fields := descend(raw, spSeqContentAbs)
	if _, _, err := fields.next(); err != nil { // authoritativeEngineID
		return 0, 0, err
	}
	if _, _, err := fields.next(); err != nil { // authoritativeEngineBoots
		return 0, 0, err
	}
	if _, _, err := fields.next(); err != nil { // authoritativeEngineTime
		return 0, 0, err
	}
	if _, _, err := fields.next(); err != nil { // userName
		return 0, 0, err
	}
	authField, authContentAbs, err := fields.next() // authenticationParameters
	if err != nil {
		return 0, 0, err
	}
	return authContentAbs, len(authField.Content), nil
}

// zeroedAuthMessage returns a copy of raw with its authenticationParameters
// bytes overwritten with zeros, leaving every length prefix in the message
// unchanged (the replacement is always the same length as the original).
func zeroedAuthMessage(raw []byte) ([]byte, error) {
	start, length, err := authParamsSpan(raw)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), raw...)
	for i := start; i < start+length; i++ {
		out[i] = 0
	}
	return out, nil
}
