// Package pdu implements the SNMP PDU and variable-binding data model
// shared by v1, v2c, and v3 messages, and its BER codec.
package pdu

import (
	"fmt"

	"github.com/snmpworks/trapd/internal/ber"
)

// Type identifies a PDU's operation, carried as the outer context tag.
type Type int

const (
	GetRequest Type = iota
	GetNextRequest
	GetResponse
	SetRequest
	Trap // v1 Trap-PDU, distinct shape from the rest
	GetBulkRequest
	InformRequest
	TrapV2
	Report
)

func typeToTag(t Type) (ber.Tag, error) {
	switch t {
	case GetRequest:
		return ber.TagGetRequest, nil
	case GetNextRequest:
		return ber.TagGetNextRequest, nil
	case GetResponse:
		return ber.TagGetResponse, nil
	case SetRequest:
		return ber.TagSetRequest, nil
	case Trap:
		return ber.TagTrapV1, nil
	case GetBulkRequest:
		return ber.TagGetBulkRequest, nil
	case InformRequest:
		return ber.TagInformRequest, nil
	case TrapV2:
		return ber.TagTrapV2, nil
	case Report:
		return ber.TagReport, nil
	default:
		return 0, fmt.Errorf("pdu: unknown type %d", t)
	}
}

func tagToType(tag ber.Tag) (Type, bool) {
	switch tag {
	case ber.TagGetRequest:
		return GetRequest, true
	case ber.TagGetNextRequest:
		return GetNextRequest, true
	case ber.TagGetResponse:
		return GetResponse, true
	case ber.TagSetRequest:
		return SetRequest, true
	case ber.TagTrapV1:
		return Trap, true
	case ber.TagGetBulkRequest:
		return GetBulkRequest, true
	case ber.TagInformRequest:
		return InformRequest, true
	case ber.TagTrapV2:
		return TrapV2, true
	case ber.TagReport:
		return Report, true
	default:
		return 0, false
	}
}

// ValueKind is the ASN.1/SMI type tag of a variable binding's value.
type ValueKind int

const (
	KindInteger ValueKind = iota
	KindOctetString
	KindNull
	KindObjectIdentifier
	KindIPAddress
	KindCounter32
	KindGauge32
	KindTimeTicks
	KindOpaque
	KindCounter64
	KindNoSuchObject
	KindNoSuchInstance
	KindEndOfMibView
)

// Value is a tagged variable-binding value. Exactly one of the fields
// applies, as determined by Kind.
type Value struct {
	Kind   ValueKind
	Int    int64
	Bytes  []byte // OctetString, Opaque, IPAddress
	OID    []uint32
	UInt   uint64 // Counter32, Gauge32, TimeTicks
	UInt64 uint64 // Counter64
}

// VarBind is one (name, value) pair.
type VarBind struct {
	Name  []uint32
	Value Value
}

// PDU is the common shape for all non-Trap-v1 PDU types: requestID,
// error status/index, and variable bindings.
type PDU struct {
	Type        Type
	RequestID   int32
	ErrorStatus int32
	ErrorIndex  int32
	VarBinds    []VarBind
}

// TrapPDU is the RFC 1157 v1 Trap-PDU, which has a distinct shape from
// every other PDU type (enterprise OID, agent address, generic/specific
// trap codes, sysUpTime, then varbinds).
type TrapPDU struct {
	Enterprise   []uint32
	AgentAddr    [4]byte
	GenericTrap  int32
	SpecificTrap int32
	Timestamp    uint32
	VarBinds     []VarBind
}

func encodeOID(oid []uint32) []byte {
	if len(oid) < 2 {
		return nil
	}
	out := []byte{byte(oid[0]*40 + oid[1])}
	for _, sub := range oid[2:] {
		out = append(out, encodeBase128(sub)...)
	}
	return out
}

func encodeBase128(v uint32) []byte {
	if v == 0 {
		return []byte{0}
	}
	var groups []byte
	for v > 0 {
		groups = append([]byte{byte(v & 0x7f)}, groups...)
		v >>= 7
	}
	for i := 0; i < len(groups)-1; i++ {
		groups[i] |= 0x80
	}
	return groups
}

func decodeOID(content []byte) ([]uint32, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("pdu: empty OID")
	}
	oid := []uint32{uint32(content[0] / 40), uint32(content[0] % 40)}
	var v uint32
	for _, b := range content[1:] {
		v = v<<7 | uint32(b&0x7f)
		if b&0x80 == 0 {
			oid = append(oid, v)
			v = 0
		}
	}
	return oid, nil
}

func encodeValue(b *ber.Builder, v Value) {
	switch v.Kind {
	case KindInteger:
		b.Integer(v.Int)
	case KindOctetString:
		b.OctetString(v.Bytes)
	case KindNull:
		b.TLV(ber.TagNull, nil)
	case KindObjectIdentifier:
		b.TLV(ber.TagObjectIdentifier, encodeOID(v.OID))
	case KindIPAddress:
		b.TLV(ber.TagIPAddress, v.Bytes)
	case KindCounter32:
		b.TLV(ber.TagCounter32, ber.MarshalUvarInt(v.UInt))
	case KindGauge32:
		b.TLV(ber.TagGauge32, ber.MarshalUvarInt(v.UInt))
	case KindTimeTicks:
		b.TLV(ber.TagTimeTicks, ber.MarshalUvarInt(v.UInt))
	case KindOpaque:
		b.TLV(ber.TagOpaque, v.Bytes)
	case KindCounter64:
		b.TLV(ber.TagCounter64, ber.MarshalUvarInt(v.UInt64))
	case KindNoSuchObject:
		b.TLV(ber.TagNoSuchObject, nil)
	case KindNoSuchInstance:
		b.TLV(ber.TagNoSuchInstance, nil)
	case KindEndOfMibView:
		b.TLV(ber.TagEndOfMibView, nil)
	}
}

func decodeValue(f ber.RawField) (Value, error) {
	switch f.Tag {
	case ber.TagInteger:
		n, err := ber.ParseVarInt(f.Content)
		return Value{Kind: KindInteger, Int: n}, err
	case ber.TagOctetString:
		return Value{Kind: KindOctetString, Bytes: f.Content}, nil
	case ber.TagNull:
		return Value{Kind: KindNull}, nil
	case ber.TagObjectIdentifier:
		oid, err := decodeOID(f.Content)
		return Value{Kind: KindObjectIdentifier, OID: oid}, err
	case ber.TagIPAddress:
		return Value{Kind: KindIPAddress, Bytes: f.Content}, nil
	case ber.TagCounter32:
		n, err := ber.ParseUvarInt(f.Content)
		return Value{Kind: KindCounter32, UInt: n}, err
	case ber.TagGauge32:
		n, err := ber.ParseUvarInt(f.Content)
		return Value{Kind: KindGauge32, UInt: n}, err
	case ber.TagTimeTicks:
		n, err := ber.ParseUvarInt(f.Content)
		return Value{Kind: KindTimeTicks, UInt: n}, err
	case ber.TagOpaque:
		return Value{Kind: KindOpaque, Bytes: f.Content}, nil
	case ber.TagCounter64:
		n, err := ber.ParseUvarInt(f.Content)
		return Value{Kind: KindCounter64, UInt64: n}, err
	case ber.TagNoSuchObject:
		return Value{Kind: KindNoSuchObject}, nil
	case ber.TagNoSuchInstance:
		return Value{Kind: KindNoSuchInstance}, nil
	case ber.TagEndOfMibView:
		return Value{Kind: KindEndOfMibView}, nil
	default:
		return Value{}, fmt.Errorf("pdu: unknown value tag 0x%02x", byte(f.Tag))
	}
}

func encodeVarBind(b *ber.Builder, vb VarBind) {
	inner := &ber.Builder{}
	inner.TLV(ber.TagObjectIdentifier, encodeOID(vb.Name))
	encodeValue(inner, vb.Value)
	b.Sequence(inner)
}

func decodeVarBind(c *ber.Cursor) (VarBind, error) {
	f, err := c.Next()
	if err != nil {
		return VarBind{}, err
	}
	if f.Tag != ber.TagSequence {
		return VarBind{}, fmt.Errorf("pdu: varbind not a sequence")
	}
	inner := ber.NewCursor(f.Content)
	name, err := inner.Next()
	if err != nil {
		return VarBind{}, err
	}
	if name.Tag != ber.TagObjectIdentifier {
		return VarBind{}, fmt.Errorf("pdu: varbind name not an OID")
	}
	oid, err := decodeOID(name.Content)
	if err != nil {
		return VarBind{}, err
	}
	valField, err := inner.Next()
	if err != nil {
		return VarBind{}, err
	}
	val, err := decodeValue(valField)
	if err != nil {
		return VarBind{}, err
	}
	return VarBind{Name: oid, Value: val}, nil
}

func encodeVarBindList(b *ber.Builder, vbs []VarBind) {
	inner := &ber.Builder{}
	for _, vb := range vbs {
		encodeVarBind(inner, vb)
	}
	b.Sequence(inner)
}

func decodeVarBindList(c *ber.Cursor) ([]VarBind, error) {
	f, err := c.Next()
	if err != nil {
		return nil, err
	}
	if f.Tag != ber.TagSequence {
		return nil, fmt.Errorf("pdu: varbind list not a sequence")
	}
	listCursor := ber.NewCursor(f.Content)
	var out []VarBind
	for !listCursor.Done() {
		vb, err := decodeVarBind(listCursor)
		if err != nil {
			return nil, err
		}
		out = append(out, vb)
	}
	return out, nil
}

// Encode writes the PDU's BER encoding (tag + length + content) to b.
func (p PDU) Encode(b *ber.Builder) error {
	tag, err := typeToTag(p.Type)
	if err != nil {
		return err
	}
	inner := &ber.Builder{}
	inner.Integer(int64(p.RequestID))
	inner.Integer(int64(p.ErrorStatus))
	inner.Integer(int64(p.ErrorIndex))
	encodeVarBindList(inner, p.VarBinds)
	b.Tagged(tag, inner)
	return nil
}

// DecodePDU reads a non-Trap-v1 PDU from the next TLV on the cursor.
func DecodePDU(c *ber.Cursor) (PDU, error) {
	f, err := c.Next()
	if err != nil {
		return PDU{}, err
	}
	typ, ok := tagToType(f.Tag)
	if !ok {
		return PDU{}, fmt.Errorf("pdu: unknown PDU tag 0x%02x", byte(f.Tag))
	}
	inner := ber.NewCursor(f.Content)
	reqID, err := inner.ExpectInteger()
	if err != nil {
		return PDU{}, fmt.Errorf("pdu: requestID: %w", err)
	}
	errStatus, err := inner.ExpectInteger()
	if err != nil {
		return PDU{}, fmt.Errorf("pdu: errorStatus: %w", err)
	}
	errIndex, err := inner.ExpectInteger()
	if err != nil {
		return PDU{}, fmt.Errorf("pdu: errorIndex: %w", err)
	}
	varbinds, err := decodeVarBindList(inner)
	if err != nil {
		return PDU{}, fmt.Errorf("pdu: varbinds: %w", err)
	}
	return PDU{
		Type:        typ,
		RequestID:   int32(reqID),
		ErrorStatus: int32(errStatus),
		ErrorIndex:  int32(errIndex),
		VarBinds:    varbinds,
	}, nil
}

// Encode writes the v1 Trap-PDU's BER encoding to b.
func (t TrapPDU) Encode(b *ber.Builder) {
	inner := &ber.Builder{}
	inner.TLV(ber.TagObjectIdentifier, encodeOID(t.Enterprise))
	inner.TLV(ber.TagIPAddress, t.AgentAddr[:])
	inner.Integer(int64(t.GenericTrap))
	inner.Integer(int64(t.SpecificTrap))
	inner.TLV(ber.TagTimeTicks, ber.MarshalUvarInt(uint64(t.Timestamp)))
	encodeVarBindList(inner, t.VarBinds)
	b.Tagged(ber.TagTrapV1, inner)
}

// DecodeTrapPDU reads a v1 Trap-PDU from the next TLV on the cursor.
func DecodeTrapPDU(c *ber.Cursor) (TrapPDU, error) {
	f, err := c.Next()
	if err != nil {
		return TrapPDU{}, err
	}
	if f.Tag != ber.TagTrapV1 {
		return TrapPDU{}, fmt.Errorf("pdu: not a Trap-PDU")
	}
	inner := ber.NewCursor(f.Content)
	ent, err := inner.Next()
	if err != nil || ent.Tag != ber.TagObjectIdentifier {
		return TrapPDU{}, fmt.Errorf("pdu: trap enterprise: %w", err)
	}
	enterprise, err := decodeOID(ent.Content)
	if err != nil {
		return TrapPDU{}, err
	}
	agent, err := inner.Next()
	if err != nil || agent.Tag != ber.TagIPAddress || len(agent.Content) != 4 {
		return TrapPDU{}, fmt.Errorf("pdu: trap agent address")
	}
	var addr [4]byte
	copy(addr[:], agent.Content)
	generic, err := inner.ExpectInteger()
	if err != nil {
		return TrapPDU{}, fmt.Errorf("pdu: generic trap: %w", err)
	}
	specific, err := inner.ExpectInteger()
	if err != nil {
		return TrapPDU{}, fmt.Errorf("pdu: specific trap: %w", err)
	}
	ts, err := inner.Next()
	if err != nil || ts.Tag != ber.TagTimeTicks {
		return TrapPDU{}, fmt.Errorf("pdu: trap timestamp")
	}
	timestamp, err := ber.ParseUvarInt(ts.Content)
	if err != nil {
		return TrapPDU{}, err
	}
	varbinds, err := decodeVarBindList(inner)
	if err != nil {
		return TrapPDU{}, fmt.Errorf("pdu: trap varbinds: %w", err)
	}
	return TrapPDU{
		Enterprise:   enterprise,
		AgentAddr:    addr,
		GenericTrap:  int32(generic),
		SpecificTrap: int32(specific),
		Timestamp:    uint32(timestamp),
		VarBinds:     varbinds,
	}, nil
}

// ScopedPDU is the USM-protected inner payload of a v3 message.
type ScopedPDU struct {
	ContextEngineID []byte
	ContextName     []byte
	PDU             PDU
}

// Encode writes the ScopedPDU's BER encoding (a SEQUENCE) to b.
func (s ScopedPDU) Encode() ([]byte, error) {
	inner := &ber.Builder{}
	inner.OctetString(s.ContextEngineID)
	inner.OctetString(s.ContextName)
	if err := s.PDU.Encode(inner); err != nil {
		return nil, err
	}
	outer := &ber.Builder{}
	outer.Sequence(inner)
	return outer.Bytes(), nil
}

// DecodeScopedPDU decodes a ScopedPDU from its full BER encoding.
func DecodeScopedPDU(buf []byte) (ScopedPDU, error) {
	c := ber.NewCursor(buf)
	seq, err := c.ExpectSequence()
	if err != nil {
		return ScopedPDU{}, fmt.Errorf("pdu: scopedPDU: %w", err)
	}
	engineID, err := seq.ExpectOctetString()
	if err != nil {
		return ScopedPDU{}, fmt.Errorf("pdu: scopedPDU contextEngineID: %w", err)
	}
	ctxName, err := seq.ExpectOctetString()
	if err != nil {
		return ScopedPDU{}, fmt.Errorf("pdu: scopedPDU contextName: %w", err)
	}
	p, err := DecodePDU(seq)
	if err != nil {
		return ScopedPDU{}, fmt.Errorf("pdu: scopedPDU inner PDU: %w", err)
	}
	return ScopedPDU{ContextEngineID: engineID, ContextName: ctxName, PDU: p}, nil
}

// InformToResponse clones p into a Response PDU per RFC 3416: same
// requestID and variable bindings, errorStatus/errorIndex zeroed.
func InformToResponse(p PDU) PDU {
	clone := PDU{
		Type:        GetResponse,
		RequestID:   p.RequestID,
		ErrorStatus: 0,
		ErrorIndex:  0,
		VarBinds:    append([]VarBind(nil), p.VarBinds...),
	}
	return clone
}
