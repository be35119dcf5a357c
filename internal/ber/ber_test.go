package ber

import (
	"bytes"
	"testing"
)

func TestIntegerRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 127, 128, 255, 256, -128, -129, 1 << 30, -(1 << 30)}
	for _, v := range values {
		b := &Builder{}
		b.Integer(v)
		c := NewCursor(b.Bytes())
		got, err := c.ExpectInteger()
		if err != nil {
			t.Fatalf("Integer(%d): ExpectInteger: %v", v, err)
		}
		if got != v {
			t.Errorf("Integer(%d) round trip = %d", v, got)
		}
	}
}

func TestUIntegerRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 255, 256, 1 << 31, 1<<31 - 1}
	for _, v := range values {
		b := &Builder{}
		b.UInteger(v)
		c := NewCursor(b.Bytes())
		got, err := c.ExpectUInteger()
		if err != nil {
			t.Fatalf("UInteger(%d): ExpectUInteger: %v", v, err)
		}
		if got != v {
			t.Errorf("UInteger(%d) round trip = %d", v, got)
		}
	}
}

func TestOctetStringRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		{0x00},
		bytes.Repeat([]byte{0xAB}, 200), // forces long-form length
	}
	for _, want := range cases {
		b := &Builder{}
		b.OctetString(want)
		c := NewCursor(b.Bytes())
		got, err := c.ExpectOctetString()
		if err != nil {
			t.Fatalf("ExpectOctetString: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("OctetString round trip = %x, want %x", got, want)
		}
	}
}

func TestSequenceNesting(t *testing.T) {
	inner := &Builder{}
	inner.Integer(7)
	inner.OctetString([]byte("public"))

	outer := &Builder{}
	outer.Sequence(inner)

	c := NewCursor(outer.Bytes())
	seq, err := c.ExpectSequence()
	if err != nil {
		t.Fatalf("ExpectSequence: %v", err)
	}
	n, err := seq.ExpectInteger()
	if err != nil || n != 7 {
		t.Fatalf("inner integer = %d, %v", n, err)
	}
	s, err := seq.ExpectOctetString()
	if err != nil || string(s) != "public" {
		t.Fatalf("inner octet string = %q, %v", s, err)
	}
	if !seq.Done() {
		t.Errorf("expected cursor exhausted after reading both fields")
	}
}

func TestLongFormLength(t *testing.T) {
	content := bytes.Repeat([]byte{0x01}, 300)
	encoded := marshalLength(len(content))
	if encoded[0]&0x80 == 0 {
		t.Fatalf("expected long form for length 300, got %x", encoded)
	}
	length, consumed, err := parseLength(encoded)
	if err != nil {
		t.Fatalf("parseLength: %v", err)
	}
	if length != 300 {
		t.Errorf("length = %d, want 300", length)
	}
	if consumed != len(encoded) {
		t.Errorf("consumed = %d, want %d", consumed, len(encoded))
	}
}

func TestTruncatedFieldRejected(t *testing.T) {
	b := &Builder{}
	b.OctetString([]byte("hello world"))
	truncated := b.Bytes()[:len(b.Bytes())-3]
	c := NewCursor(truncated)
	if _, err := c.ExpectOctetString(); err == nil {
		t.Fatalf("expected error decoding truncated field")
	}
}

func TestUnexpectedTagRejected(t *testing.T) {
	b := &Builder{}
	b.Integer(5)
	c := NewCursor(b.Bytes())
	if _, err := c.ExpectOctetString(); err == nil {
		t.Fatalf("expected tag mismatch error")
	}
}

func TestPeekTagDoesNotConsume(t *testing.T) {
	b := &Builder{}
	b.Integer(5)
	c := NewCursor(b.Bytes())
	tag, err := c.PeekTag()
	if err != nil {
		t.Fatalf("PeekTag: %v", err)
	}
	if tag != TagInteger {
		t.Errorf("PeekTag = %x, want TagInteger", tag)
	}
	if _, err := c.ExpectInteger(); err != nil {
		t.Fatalf("ExpectInteger after peek: %v", err)
	}
}
