// Copyright 2025 Certen Protocol
//
// Domain entities: Device, FlightData, Dataset and the on-chain receipt
// types that travel with them.

package domain

import (
	"github.com/certen/bitacora/pkg/identifier"
)

// Device is a registered fleet participant.
type Device struct {
	ID           string             `json:"id"`
	PublicKey    identifier.Bytes32 `json:"pk"`
	DatasetLimit uint32             `json:"dataset_limit"`
	Web3         *Web3Info          `json:"web3,omitempty"`
}

// NewDevice derives a Device from a public key and dataset limit. The id
// is deterministic from the key alone.
func NewDevice(pk identifier.PublicKey, datasetLimit uint32) Device {
	return Device{
		ID:           identifier.DeviceID(pk),
		PublicKey:    pk,
		DatasetLimit: datasetLimit,
	}
}

// Localization is a record's geolocation.
type Localization struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// FlightData is one timestamped, located, signed record ingested from a
// device. Immutable once created.
type FlightData struct {
	ID           identifier.Bytes32 `json:"id"`
	Timestamp    uint64             `json:"timestamp"`
	Localization Localization       `json:"localization"`
	Payload      []byte             `json:"payload"`
	Signature    string             `json:"signature"`
}

// NewFlightData derives the record id from (timestamp, deviceID) and
// assembles the record.
func NewFlightData(deviceID string, timestamp uint64, loc Localization, payload []byte, signature string) FlightData {
	return FlightData{
		ID:           identifier.FlightDataID(timestamp, deviceID),
		Timestamp:    timestamp,
		Localization: loc,
		Payload:      payload,
		Signature:    signature,
	}
}

// ToBytes returns the canonical pre-image hashed by the Merkle engine for
// this record. See identifier.CanonicalFlightDataBytes for the frozen byte
// order.
func (f FlightData) ToBytes() []byte {
	return identifier.CanonicalFlightDataBytes(f.ID, f.Timestamp, f.Localization.Latitude, f.Localization.Longitude, f.Payload)
}

// Dataset is a fixed-size, ordered bucket of records owned by one device;
// the unit of on-chain notarization.
type Dataset struct {
	ID       string    `json:"id"`
	DeviceID string    `json:"device_id"`
	Counter  uint32    `json:"counter"`
	Limit    uint32    `json:"limit"`
	Count    uint32    `json:"count"`
	Web3     *Web3Info `json:"web3,omitempty"`
}

// Sealed reports whether the dataset has reached its record limit.
func (d Dataset) Sealed() bool { return d.Count >= d.Limit }

// NewDataset allocates the counter-th dataset owned by deviceID.
func NewDataset(deviceID string, counter, limit uint32) Dataset {
	return Dataset{
		ID:       identifier.DatasetID(deviceID, counter),
		DeviceID: deviceID,
		Counter:  counter,
		Limit:    limit,
	}
}

// MerkleReceiptKind discriminates the two shapes a merkle receipt can
// take: the root once a dataset is notarized and persisted, or a fresh
// per-record inclusion proof when serving a read. The full tree is never
// carried in a receipt.
type MerkleReceiptKind string

const (
	MerkleReceiptRoot  MerkleReceiptKind = "root"
	MerkleReceiptProof MerkleReceiptKind = "proof"
)

// MerkleReceipt is the persisted or served form of a dataset's Merkle
// commitment. The full tree is never serialized: Root is populated once a
// dataset's registerDataset transaction is durable, Proof is synthesized
// fresh on every read-path request.
type MerkleReceipt struct {
	Kind  MerkleReceiptKind    `json:"kind"`
	Root  *identifier.Bytes32  `json:"root,omitempty"`
	Proof []identifier.Bytes32 `json:"proof,omitempty"`
}

// TxStatus is the confirmation state of an on-chain transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
)

// Tx is a ledger transaction reference.
type Tx struct {
	Hash   identifier.Bytes32 `json:"hash"`
	Status TxStatus           `json:"status"`
}

// Web3Info is the receipt attached to a Device (after registerDevice) or
// Dataset (after registerDataset): a blockchain descriptor, transaction
// reference, and optionally a Merkle artifact.
type Web3Info struct {
	Blockchain    string         `json:"blockchain"`
	Tx            Tx             `json:"tx"`
	MerkleReceipt *MerkleReceipt `json:"merkle_receipt,omitempty"`
}

// NewWeb3Info builds a receipt with no Merkle artifact (used for device
// registration).
func NewWeb3Info(blockchain string, tx Tx) *Web3Info {
	return &Web3Info{Blockchain: blockchain, Tx: tx}
}

// NewWeb3InfoWithRoot builds a receipt carrying a persisted Merkle root
// (used once a sealed dataset's registerDataset transaction is durable).
func NewWeb3InfoWithRoot(blockchain string, tx Tx, root identifier.Bytes32) *Web3Info {
	return &Web3Info{
		Blockchain:    blockchain,
		Tx:            tx,
		MerkleReceipt: &MerkleReceipt{Kind: MerkleReceiptRoot, Root: &root},
	}
}

// WithProof returns a copy of w carrying a fresh inclusion proof instead
// of whatever Merkle artifact it held, inheriting Blockchain and Tx. Used
// by the read path to hand a per-record receipt back to callers.
func (w Web3Info) WithProof(proof []identifier.Bytes32) Web3Info {
	w.MerkleReceipt = &MerkleReceipt{Kind: MerkleReceiptProof, Proof: proof}
	return w
}
