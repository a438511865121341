// Copyright 2025 Certen Protocol
//
// Coordinator wires Storage and Notarizer together into the two request
// contracts the system exists to serve: registering a device and
// ingesting a flight data record. It owns no state of its own beyond its
// two collaborators.

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/certen/bitacora/pkg/domain"
	"github.com/certen/bitacora/pkg/identifier"
	"github.com/certen/bitacora/pkg/merkle"
	"github.com/certen/bitacora/pkg/notarizer"
	"github.com/certen/bitacora/pkg/storage"
)

// ErrDeviceNotFound is returned when an operation names a device that
// has never been registered.
var ErrDeviceNotFound = storage.ErrNotFound

// ErrNotAnchored is returned by FlightDataReceipt when the record's
// dataset has not yet been notarized, so no proof can be tied to an
// on-chain transaction.
var ErrNotAnchored = errors.New("coordinator: dataset not yet anchored")

// ErrPartial marks a PartialError: the durable write succeeded but a
// follow-on step failed. Test with errors.Is(err, ErrPartial).
var ErrPartial = errors.New("coordinator: completed with error")

// PartialError wraps a failure that happened after the record or device
// was already durable in storage. The caller must understand the entity
// exists and will be retried by operator action, not by re-submitting
// the request.
type PartialError struct {
	Inner error
}

func (e *PartialError) Error() string {
	return "coordinator: completed with error: " + e.Inner.Error()
}

func (e *PartialError) Unwrap() error { return e.Inner }

func (e *PartialError) Is(target error) bool { return target == ErrPartial }

// ChainNotarizer is the subset of *notarizer.Notarizer the coordinator
// depends on, narrowed to an interface so tests can substitute a fake
// instead of dialing a real chain.
type ChainNotarizer interface {
	RegisterDevice(ctx context.Context, device domain.Device) (*domain.Web3Info, error)
	RegisterDataset(ctx context.Context, dataset domain.Dataset, root merkle.Hash) (*domain.Web3Info, error)
	DeviceState(ctx context.Context, deviceID string) (notarizer.DeviceChainState, error)
	Health(ctx context.Context) error
}

var _ ChainNotarizer = (*notarizer.Notarizer)(nil)

// Coordinator implements the new_device and new_flight_data contracts.
type Coordinator struct {
	store     storage.Storage
	notarizer ChainNotarizer
	logger    *log.Logger
}

// New builds a Coordinator over store and chain.
func New(store storage.Storage, chain ChainNotarizer, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(log.Writer(), "[coordinator] ", log.LstdFlags)
	}
	return &Coordinator{store: store, notarizer: chain, logger: logger}
}

// RegisterDevice persists a new device and submits registerDevice on
// chain, then attaches the resulting Web3Info. The device exists in
// storage (without a Web3 receipt) even if the chain submission fails.
// Before submitting, the devices() view is consulted so a device the
// contract already knows is not registered twice.
func (c *Coordinator) RegisterDevice(ctx context.Context, pk identifier.PublicKey, datasetLimit uint32) (domain.Device, error) {
	device := domain.NewDevice(pk, datasetLimit)
	if err := c.store.NewDevice(ctx, device); err != nil {
		return domain.Device{}, fmt.Errorf("coordinator: register device: %w", err)
	}

	// On-chain idempotency guard: a rebuilt storage backend may not know
	// a device the contract already registered (a prior run crashed after
	// submission but before the receipt was persisted). Submitting again
	// would revert in the contract, so skip the send and leave the device
	// without a receipt for the operator to reconcile. A lookup failure
	// falls through to submission; the guard is best-effort.
	if state, err := c.notarizer.DeviceState(ctx, device.ID); err == nil && state.Registered() {
		c.logger.Printf("device %s already registered on chain, skipping submission", device.ID)
		return device, nil
	}

	nctx, cancel := notarizer.WithTimeout(ctx)
	defer cancel()
	info, err := c.notarizer.RegisterDevice(nctx, device)
	if err != nil {
		c.logger.Printf("register device %s: chain submission failed, device stored without receipt: %v", device.ID, err)
		return device, &PartialError{Inner: err}
	}
	device.Web3 = info
	if err := c.store.UpdateDevice(ctx, device); err != nil && !errors.Is(err, storage.ErrNoOp) {
		return device, &PartialError{Inner: err}
	}
	return device, nil
}

// NewFlightData runs the seven-step ingestion contract: look up the
// device, build the record, persist it atomically against its dataset,
// and -- if that write sealed the dataset -- build the Merkle root over
// every record the dataset now holds and submit registerDataset. Sealing
// a dataset is detected, not requested: the caller never says "seal this
// dataset", Storage's atomic counter arithmetic is what decides it.
func (c *Coordinator) NewFlightData(ctx context.Context, deviceID string, timestamp uint64, loc domain.Localization, payload []byte, signature string) (domain.FlightData, domain.Dataset, error) {
	device, err := c.store.GetDevice(ctx, deviceID)
	if err != nil {
		return domain.FlightData{}, domain.Dataset{}, fmt.Errorf("coordinator: new flight data: %w", err)
	}

	record := domain.NewFlightData(deviceID, timestamp, loc, payload, signature)

	dataset, err := c.store.NewFlightData(ctx, record, device.ID)
	if err != nil {
		return domain.FlightData{}, domain.Dataset{}, fmt.Errorf("coordinator: new flight data: %w", err)
	}

	if !dataset.Sealed() {
		return record, dataset, nil
	}

	root, err := c.datasetRoot(ctx, dataset.ID)
	if err != nil {
		c.logger.Printf("dataset %s sealed but root computation failed: %v", dataset.ID, err)
		return record, dataset, &PartialError{Inner: err}
	}

	nctx, cancel := notarizer.WithTimeout(ctx)
	defer cancel()
	info, err := c.notarizer.RegisterDataset(nctx, dataset, root)
	if err != nil {
		c.logger.Printf("dataset %s sealed but chain submission failed, will need Resubmit: %v", dataset.ID, err)
		return record, dataset, &PartialError{Inner: err}
	}
	dataset.Web3 = info
	if err := c.store.UpdateDatasetWeb3(ctx, dataset); err != nil && !errors.Is(err, storage.ErrNoOp) {
		return record, dataset, &PartialError{Inner: err}
	}
	return record, dataset, nil
}

// datasetRoot rebuilds the Merkle tree over every record in dataset, in
// ingestion (timestamp) order, and returns its root. The tree itself is
// discarded once the root is read off; it is never persisted.
func (c *Coordinator) datasetRoot(ctx context.Context, datasetID string) (merkle.Hash, error) {
	records, err := c.store.GetDatasetFlightDatas(ctx, datasetID)
	if err != nil {
		return merkle.Hash{}, err
	}
	tree := merkle.New()
	for _, r := range records {
		tree.Append(r.ToBytes())
	}
	return tree.Root()
}

// FlightDataReceipt returns a record together with its owning dataset
// and a fresh Web3Info carrying a Merkle inclusion proof against the
// dataset's anchoring transaction. Returns ErrNotFound-wrapping errors
// if the record or dataset is unknown, and ErrNotAnchored if the dataset
// is still open or its notarization has not completed yet.
func (c *Coordinator) FlightDataReceipt(ctx context.Context, recordID string) (domain.FlightData, domain.Dataset, domain.Web3Info, error) {
	record, err := c.store.GetFlightData(ctx, recordID)
	if err != nil {
		return domain.FlightData{}, domain.Dataset{}, domain.Web3Info{}, fmt.Errorf("coordinator: flight data receipt: %w", err)
	}
	dataset, err := c.store.GetFlightDataDataset(ctx, recordID)
	if err != nil {
		return domain.FlightData{}, domain.Dataset{}, domain.Web3Info{}, fmt.Errorf("coordinator: flight data receipt: %w", err)
	}
	if dataset.Web3 == nil {
		return domain.FlightData{}, domain.Dataset{}, domain.Web3Info{}, fmt.Errorf("coordinator: flight data receipt: dataset %s: %w", dataset.ID, ErrNotAnchored)
	}
	records, err := c.store.GetDatasetFlightDatas(ctx, dataset.ID)
	if err != nil {
		return domain.FlightData{}, domain.Dataset{}, domain.Web3Info{}, fmt.Errorf("coordinator: flight data receipt: %w", err)
	}
	info, err := notarizer.FlightDataWeb3Info(*dataset.Web3, records, record)
	if err != nil {
		return domain.FlightData{}, domain.Dataset{}, domain.Web3Info{}, fmt.Errorf("coordinator: flight data receipt: %w", err)
	}
	return record, dataset, info, nil
}

// FlightData returns a record by id without a Merkle receipt. Use
// FlightDataReceipt when the caller needs the inclusion proof.
func (c *Coordinator) FlightData(ctx context.Context, id string) (domain.FlightData, error) {
	record, err := c.store.GetFlightData(ctx, id)
	if err != nil {
		return domain.FlightData{}, fmt.Errorf("coordinator: flight data: %w", err)
	}
	return record, nil
}

// Device returns a registered device, or ErrDeviceNotFound.
func (c *Coordinator) Device(ctx context.Context, id string) (domain.Device, error) {
	d, err := c.store.GetDevice(ctx, id)
	if err != nil {
		return domain.Device{}, fmt.Errorf("coordinator: device: %w", err)
	}
	return d, nil
}

// Dataset returns a dataset by id, or ErrNotFound.
func (c *Coordinator) Dataset(ctx context.Context, id string) (domain.Dataset, error) {
	d, err := c.store.GetDataset(ctx, id)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("coordinator: dataset: %w", err)
	}
	return d, nil
}

// Resubmit is an operator hook for a dataset that sealed in storage but
// whose registerDataset transaction never landed (notarizer down, chain
// reorg, etc). It recomputes the root from durable records and retries
// the chain submission; it is a no-op, not an error, if the dataset
// already carries a Web3 receipt.
func (c *Coordinator) Resubmit(ctx context.Context, datasetID string) (domain.Dataset, error) {
	dataset, err := c.store.GetDataset(ctx, datasetID)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("coordinator: resubmit: %w", err)
	}
	if dataset.Web3 != nil {
		return dataset, nil
	}
	if !dataset.Sealed() {
		return domain.Dataset{}, fmt.Errorf("coordinator: resubmit: dataset %s is not sealed", datasetID)
	}
	root, err := c.datasetRoot(ctx, datasetID)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("coordinator: resubmit: %w", err)
	}
	nctx, cancel := notarizer.WithTimeout(ctx)
	defer cancel()
	info, err := c.notarizer.RegisterDataset(nctx, dataset, root)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("coordinator: resubmit: %w", err)
	}
	dataset.Web3 = info
	if err := c.store.UpdateDatasetWeb3(ctx, dataset); err != nil && !errors.Is(err, storage.ErrNoOp) {
		return dataset, fmt.Errorf("coordinator: resubmit: persist receipt: %w", err)
	}
	return dataset, nil
}

// Health reports whether both collaborators are reachable.
func (c *Coordinator) Health(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("coordinator: storage unhealthy: %w", err)
	}
	if err := c.notarizer.Health(ctx); err != nil {
		return fmt.Errorf("coordinator: chain unhealthy: %w", err)
	}
	return nil
}
