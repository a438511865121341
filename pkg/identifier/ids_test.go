// Copyright 2025 Certen Protocol

package identifier

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestFlightDataID_IsFunctionOfTimestampAndDeviceOnly(t *testing.T) {
	// FlightDataID(timestamp, deviceID) depends on nothing else --
	// repeated calls with the same inputs must agree, and changing either
	// input must change the output.
	a := FlightDataID(1000, "device-a")
	b := FlightDataID(1000, "device-a")
	if a != b {
		t.Fatal("FlightDataID is not deterministic for identical inputs")
	}
	if FlightDataID(1001, "device-a") == a {
		t.Error("changing timestamp should change the id")
	}
	if FlightDataID(1000, "device-b") == a {
		t.Error("changing device id should change the id")
	}
}

func TestDeviceID_DeterministicFromKeyAlone(t *testing.T) {
	var pk PublicKey
	for i := range pk {
		pk[i] = byte(i)
	}
	if DeviceID(pk) != DeviceID(pk) {
		t.Fatal("DeviceID is not deterministic")
	}
	var other PublicKey
	other[0] = 1
	if DeviceID(pk) == DeviceID(other) {
		t.Error("different keys should not collide")
	}
}

func TestDatasetID_DeterministicPerDeviceAndCounter(t *testing.T) {
	if DatasetID("device-a", 0) != DatasetID("device-a", 0) {
		t.Fatal("DatasetID is not deterministic")
	}
	if DatasetID("device-a", 0) == DatasetID("device-a", 1) {
		t.Error("different counters should not collide")
	}
	if DatasetID("device-a", 0) == DatasetID("device-b", 0) {
		t.Error("different devices should not collide")
	}
}

func TestCanonicalFlightDataBytes_FrozenOrder(t *testing.T) {
	id := FlightDataID(42, "device-a")
	payload := []byte("payload")
	got := CanonicalFlightDataBytes(id, 42, 1.5, -2.5, payload)

	var want []byte
	want = append(want, id[:]...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], 42)
	want = append(want, buf[:]...)
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(1.5))
	want = append(want, buf[:]...)
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(-2.5))
	want = append(want, buf[:]...)
	want = append(want, payload...)

	if !bytes.Equal(got, want) {
		t.Errorf("canonical bytes = %x, want %x", got, want)
	}
	if len(got) != 32+8+8+8+len(payload) {
		t.Errorf("canonical bytes length = %d, want %d", len(got), 32+8+8+8+len(payload))
	}
}
