// Copyright 2025 Certen Protocol
//
// Bytes32 canonical identifier type: fixed 32-byte values with hex,
// base64 and base58 codecs.

package identifier

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// ErrBadLength is returned when decoded input is not exactly 32 bytes.
var ErrBadLength = errors.New("bitacora: expected 32 bytes")

// ErrBadHex is returned when hex decoding fails (a non-hex character or an
// odd number of digits). Well-formed hex of the wrong length fails with
// ErrBadLength instead.
var ErrBadHex = errors.New("bitacora: malformed hex bytes32")

// ErrBadBase64 is returned when base64 decoding fails.
var ErrBadBase64 = errors.New("bitacora: malformed base64 bytes32")

// Bytes32 is a fixed 32-byte value used throughout Bitácora as hash output,
// identifier payload, and ledger transaction hash. The zero value is all
// zero bytes. Equality and ordering are lexicographic on the underlying
// bytes.
type Bytes32 [32]byte

// LengthError reports a decoded length that does not match the expected 32.
type LengthError struct {
	Got, Expected int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("bitacora: bad length: got %d, expected %d", e.Got, e.Expected)
}

func (e *LengthError) Unwrap() error { return ErrBadLength }

// FromBytes copies exactly 32 bytes into a Bytes32, or fails.
func FromBytes(b []byte) (Bytes32, error) {
	var out Bytes32
	if len(b) != 32 {
		return out, &LengthError{Got: len(b), Expected: 32}
	}
	copy(out[:], b)
	return out, nil
}

// FromHex parses a "0x"-prefixed (optional), case-insensitive, 64 hex
// character string into a Bytes32.
func FromHex(s string) (Bytes32, error) {
	var out Bytes32
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrBadHex, err)
	}
	return FromBytes(raw)
}

// FromBase64 decodes standard base64 of exactly 32 bytes.
func FromBase64(s string) (Bytes32, error) {
	var out Bytes32
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrBadBase64, err)
	}
	return FromBytes(raw)
}

// FromBase58 decodes a base58 string of exactly 32 bytes.
func FromBase58(s string) (Bytes32, error) {
	var out Bytes32
	raw, err := base58.Decode(s)
	if err != nil {
		return out, fmt.Errorf("bitacora: malformed base58 bytes32: %w", err)
	}
	return FromBytes(raw)
}

// Hex returns the "0x"-prefixed lowercase hex form (66 characters).
func (b Bytes32) Hex() string {
	return "0x" + hex.EncodeToString(b[:])
}

// Base64 returns the standard base64 encoding.
func (b Bytes32) Base64() string {
	return base64.StdEncoding.EncodeToString(b[:])
}

// Base58 returns the base58 encoding.
func (b Bytes32) Base58() string {
	return base58.Encode(b[:])
}

// Bytes returns a copy of the underlying 32 bytes.
func (b Bytes32) Bytes() []byte {
	out := make([]byte, 32)
	copy(out, b[:])
	return out
}

// IsZero reports whether b is the all-zero value.
func (b Bytes32) IsZero() bool {
	return b == Bytes32{}
}

// Compare returns -1, 0 or 1 comparing a and b lexicographically.
func Compare(a, b Bytes32) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Less reports whether a sorts before b.
func Less(a, b Bytes32) bool { return Compare(a, b) < 0 }

func (b Bytes32) String() string { return b.Hex() }

// MarshalJSON encodes as a hex string, matching the wire format used
// throughout the storage and HTTP layers.
func (b Bytes32) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.Hex() + `"`), nil
}

// UnmarshalJSON accepts a hex string.
func (b *Bytes32) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := FromHex(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}
