// Copyright 2025 Certen Protocol
//
// Deterministic identifier derivation for devices, flight data records and
// datasets. Ids are base58 of SHA-256 over a fixed-order byte preimage;
// each derivation is total and infallible given well-formed inputs.

package identifier

import (
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/mr-tron/base58"
)

// PublicKey is the device owner's public key, opaque to the core.
type PublicKey = Bytes32

// flightDataIDPrefix is the domain-separation byte reserved for
// FlightDataId preimages, distinguishing them from any other identifier
// kind that might someday hash (timestamp, device) pairs.
const flightDataIDPrefix = 0x01

// DeviceID derives a device id deterministically from its public key:
// base58(sha256(pk)).
func DeviceID(pk PublicKey) string {
	sum := sha256.Sum256(pk[:])
	return base58.Encode(sum[:])
}

// FlightDataID derives a record id as
// sha256(0x01 || BE(timestamp,8) || device_id_bytes). The result is the
// raw 32-byte digest; Base58 gives its string form.
//
// Design note: the preimage intentionally excludes localization -- two
// records from the same device at the same millisecond collide by
// construction. This mirrors the mainline behavior of the system this was
// distilled from; a variant that folded localization into the id existed
// but was not the one carried forward. See Storage.NewFlightData for the
// corresponding guard against duplicate ids during ingestion.
func FlightDataID(timestamp uint64, deviceID string) Bytes32 {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], timestamp)

	h := sha256.New()
	h.Write([]byte{flightDataIDPrefix})
	h.Write(ts[:])
	h.Write([]byte(deviceID))
	sum := h.Sum(nil)

	var out Bytes32
	copy(out[:], sum)
	return out
}

// DatasetID derives a dataset id as
// base58(sha256(device_id || BE(counter,4))).
func DatasetID(deviceID string, counter uint32) string {
	var ctr [4]byte
	binary.BigEndian.PutUint32(ctr[:], counter)

	h := sha256.New()
	h.Write([]byte(deviceID))
	h.Write(ctr[:])
	sum := h.Sum(nil)
	return base58.Encode(sum)
}

// CanonicalFlightDataBytes produces the frozen pre-image hashed by the
// Merkle engine for one record:
//
//	id(32) || BE(timestamp,8) || BE(latitude,8) || BE(longitude,8) || payload
//
// This order is load-bearing: it is the leaf pre-image of every on-chain
// commitment and must never change without a corresponding chain
// migration.
func CanonicalFlightDataBytes(id Bytes32, timestamp uint64, latitude, longitude float64, payload []byte) []byte {
	out := make([]byte, 0, 32+8+8+8+len(payload))
	out = append(out, id[:]...)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], timestamp)
	out = append(out, buf[:]...)

	binary.BigEndian.PutUint64(buf[:], math.Float64bits(latitude))
	out = append(out, buf[:]...)

	binary.BigEndian.PutUint64(buf[:], math.Float64bits(longitude))
	out = append(out, buf[:]...)

	out = append(out, payload...)
	return out
}
