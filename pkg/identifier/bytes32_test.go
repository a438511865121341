// Copyright 2025 Certen Protocol

package identifier

import (
	"errors"
	"testing"
)

func TestBytes32_HexRoundTrip(t *testing.T) {
	var want Bytes32
	for i := range want {
		want[i] = byte(i)
	}
	got, err := FromHex(want.Hex())
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %x, want %x", got, want)
	}
}

func TestBytes32_HexCaseInsensitiveAndPrefixOptional(t *testing.T) {
	lower := "0x" + "ab" + "00000000000000000000000000000000000000000000000000000000000000"
	upper := "0X" + "AB" + "00000000000000000000000000000000000000000000000000000000000000"
	noPrefix := "ab" + "00000000000000000000000000000000000000000000000000000000000000"

	a, err := FromHex(lower)
	if err != nil {
		t.Fatalf("FromHex(lower): %v", err)
	}
	b, err := FromHex(upper)
	if err != nil {
		t.Fatalf("FromHex(upper): %v", err)
	}
	c, err := FromHex(noPrefix)
	if err != nil {
		t.Fatalf("FromHex(noPrefix): %v", err)
	}
	if a != b || b != c {
		t.Errorf("hex parses disagree: %x, %x, %x", a, b, c)
	}
}

func TestBytes32_FromHexBadLength(t *testing.T) {
	_, err := FromHex("0x1234")
	if !errors.Is(err, ErrBadLength) {
		t.Errorf("err = %v, want ErrBadLength", err)
	}
}

func TestBytes32_FromHexBadHex(t *testing.T) {
	_, err := FromHex("0x" + "zz00000000000000000000000000000000000000000000000000000000000")
	if !errors.Is(err, ErrBadHex) {
		t.Errorf("err = %v, want ErrBadHex", err)
	}
}

func TestBytes32_Base58RoundTrip(t *testing.T) {
	var want Bytes32
	for i := range want {
		want[i] = byte(255 - i)
	}
	got, err := FromBase58(want.Base58())
	if err != nil {
		t.Fatalf("FromBase58: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %x, want %x", got, want)
	}
}

func TestBytes32_Base64RoundTrip(t *testing.T) {
	var want Bytes32
	for i := range want {
		want[i] = byte(i * 3)
	}
	got, err := FromBase64(want.Base64())
	if err != nil {
		t.Fatalf("FromBase64: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %x, want %x", got, want)
	}
}

func TestBytes32_FromBase64BadLength(t *testing.T) {
	_, err := FromBase64("YQ==") // decodes to a single byte
	if !errors.Is(err, ErrBadLength) {
		t.Errorf("err = %v, want ErrBadLength", err)
	}
}

func TestBytes32_IsZero(t *testing.T) {
	var zero Bytes32
	if !zero.IsZero() {
		t.Error("zero value should report IsZero")
	}
	nonZero := zero
	nonZero[31] = 1
	if nonZero.IsZero() {
		t.Error("non-zero value should not report IsZero")
	}
}

func TestBytes32_CompareAndLess(t *testing.T) {
	var a, b Bytes32
	a[31] = 1
	b[31] = 2
	if !Less(a, b) {
		t.Error("expected a < b")
	}
	if Less(b, a) {
		t.Error("expected b not < a")
	}
	if Compare(a, a) != 0 {
		t.Error("expected Compare(a, a) == 0")
	}
}

func TestBytes32_JSONRoundTrip(t *testing.T) {
	var want Bytes32
	want[0] = 0xAB
	data, err := want.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Bytes32
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %x, want %x", got, want)
	}
}
