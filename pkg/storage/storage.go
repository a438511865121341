// Copyright 2025 Certen Protocol
//
// Storage contract consumed by the coordinator: atomic allocation of
// device/record/dataset state. Implementations must uphold the
// invariants documented on each method; the reference implementation
// (package redisstore) enforces the hard one -- atomic record-to-dataset
// allocation -- via a single server-side script.

package storage

import (
	"context"

	"github.com/certen/bitacora/pkg/domain"
)

// Storage is the full contract the coordinator depends on. Concurrent
// calls from distinct callers must be safe; NewFlightData in particular
// must be atomic with respect to other calls for the same device.
type Storage interface {
	DeviceStorage
	FlightDataStorage
	DatasetStorage
	// Ping verifies connectivity to the backend, used by health checks.
	Ping(ctx context.Context) error
}

// DeviceStorage covers device registration and receipt attachment.
type DeviceStorage interface {
	// NewDevice inserts device and atomically allocates its initial
	// (counter=0) dataset with count=0 and the given limit. Fails
	// ErrAlreadyExists if device.ID is taken.
	NewDevice(ctx context.Context, device domain.Device) error
	// UpdateDevice overwrites the Web3 field only. Fails ErrNotFound if
	// the device is unknown, ErrNoOp if device.Web3 is nil.
	UpdateDevice(ctx context.Context, device domain.Device) error
	// GetDevice returns the device or ErrNotFound.
	GetDevice(ctx context.Context, id string) (domain.Device, error)
}

// FlightDataStorage covers record ingestion and lookup.
type FlightDataStorage interface {
	// NewFlightData is the single atomic allocation entry point:
	// reject if record.ID already stored; increment
	// the device's record counter c; if c mod limit == 1, create a new
	// dataset (counter c/limit, or 0 if c==1) and make it current with
	// count=1; otherwise read the current dataset and set
	// count = ((c-1) mod limit) + 1; persist the record with a
	// back-pointer to its dataset; index the record by timestamp in the
	// device's ordered set; return the updated dataset.
	NewFlightData(ctx context.Context, record domain.FlightData, deviceID string) (domain.Dataset, error)
	// GetFlightData returns the record or ErrNotFound.
	GetFlightData(ctx context.Context, id string) (domain.FlightData, error)
	// GetFlightDataDataset returns the dataset owning the record.
	GetFlightDataDataset(ctx context.Context, recordID string) (domain.Dataset, error)
}

// DatasetStorage covers dataset lookup and receipt attachment.
type DatasetStorage interface {
	// GetDataset returns the dataset or ErrNotFound.
	GetDataset(ctx context.Context, id string) (domain.Dataset, error)
	// GetLatestDataset returns the dataset at the device's current
	// counter, or ErrNotFound if the device is unknown. A device that has
	// never ingested returns its initial (counter=0, count=0) dataset.
	GetLatestDataset(ctx context.Context, deviceID string) (domain.Dataset, error)
	// GetDatasetFlightDatas returns the dataset's records ordered by
	// timestamp ascending.
	GetDatasetFlightDatas(ctx context.Context, datasetID string) ([]domain.FlightData, error)
	// UpdateDatasetWeb3 persists the Web3 field. Fails ErrNoOp if absent.
	UpdateDatasetWeb3(ctx context.Context, dataset domain.Dataset) error
}
