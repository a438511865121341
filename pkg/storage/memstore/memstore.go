// Copyright 2025 Certen Protocol
//
// In-memory Storage implementation: mutex-guarded maps covering the
// full Storage contract. Atomicity comes from single-process locking,
// since there is no remote backend to delegate it to.

package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/certen/bitacora/pkg/domain"
	"github.com/certen/bitacora/pkg/storage"
)

// Store is an in-memory Storage implementation. It is not durable and is
// intended for tests and local development; the reference production
// backend is package redisstore, which pushes NewFlightData's atomicity
// requirement onto a server-side script instead of a Go mutex.
type Store struct {
	mu sync.Mutex

	devices      map[string]domain.Device
	flightData   map[string]domain.FlightData
	datasets     map[string]domain.Dataset
	fdDataset    map[string]string   // flight data id -> dataset id
	datasetOrder map[string][]string // dataset id -> flight data ids, timestamp order
}

// New returns an empty store.
func New() *Store {
	return &Store{
		devices:      make(map[string]domain.Device),
		flightData:   make(map[string]domain.FlightData),
		datasets:     make(map[string]domain.Dataset),
		fdDataset:    make(map[string]string),
		datasetOrder: make(map[string][]string),
	}
}

var _ storage.Storage = (*Store)(nil)

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) NewDevice(ctx context.Context, device domain.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[device.ID]; ok {
		return storage.ErrAlreadyExists
	}
	s.devices[device.ID] = device

	ds := domain.NewDataset(device.ID, 0, device.DatasetLimit)
	s.datasets[ds.ID] = ds
	return nil
}

func (s *Store) UpdateDevice(ctx context.Context, device domain.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if device.Web3 == nil {
		return storage.ErrNoOp
	}
	existing, ok := s.devices[device.ID]
	if !ok {
		return storage.NewNotFound(storage.EntityDevice, device.ID)
	}
	existing.Web3 = device.Web3
	s.devices[device.ID] = existing
	return nil
}

func (s *Store) GetDevice(ctx context.Context, id string) (domain.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return domain.Device{}, storage.NewNotFound(storage.EntityDevice, id)
	}
	return d, nil
}

func (s *Store) NewFlightData(ctx context.Context, record domain.FlightData, deviceID string) (domain.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordKey := record.ID.Base58()
	if _, ok := s.flightData[recordKey]; ok {
		return domain.Dataset{}, storage.ErrAlreadyExists
	}

	device, ok := s.devices[deviceID]
	if !ok {
		return domain.Dataset{}, storage.NewNotFound(storage.EntityDevice, deviceID)
	}

	c := s.deviceRecordCount(deviceID) + 1
	limit := device.DatasetLimit

	var dataset domain.Dataset
	if c%limit == 1 {
		counter := uint32(0)
		if c > 1 {
			counter = uint32((c - 1) / limit)
		}
		dataset = domain.NewDataset(deviceID, counter, limit)
		dataset.Count = 1
	} else {
		dataset = s.currentDataset(deviceID, limit)
		dataset.Count = uint32((c-1)%limit) + 1
	}

	s.datasets[dataset.ID] = dataset
	s.flightData[recordKey] = record
	s.fdDataset[recordKey] = dataset.ID
	s.datasetOrder[dataset.ID] = append(s.datasetOrder[dataset.ID], recordKey)

	return dataset, nil
}

// deviceRecordCount returns how many records this device has ingested so
// far, by summing the counts of its completed datasets plus the current
// one. This mirrors the "HINCRBY device record counter" the reference
// Redis script performs directly; the in-memory store has no such
// counter field, so it derives the equivalent from dataset state.
func (s *Store) deviceRecordCount(deviceID string) uint32 {
	device := s.devices[deviceID]
	cur := s.currentDataset(deviceID, device.DatasetLimit)
	return cur.Counter*device.DatasetLimit + cur.Count
}

// currentDataset returns the highest-counter dataset owned by deviceID.
func (s *Store) currentDataset(deviceID string, limit uint32) domain.Dataset {
	var latest domain.Dataset
	found := false
	for _, ds := range s.datasets {
		if ds.DeviceID != deviceID {
			continue
		}
		if !found || ds.Counter > latest.Counter {
			latest = ds
			found = true
		}
	}
	return latest
}

func (s *Store) GetFlightData(ctx context.Context, id string) (domain.FlightData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fd, ok := s.flightData[id]
	if !ok {
		return domain.FlightData{}, storage.NewNotFound(storage.EntityFlightData, id)
	}
	return fd, nil
}

func (s *Store) GetFlightDataDataset(ctx context.Context, recordID string) (domain.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dsID, ok := s.fdDataset[recordID]
	if !ok {
		return domain.Dataset{}, storage.NewNotFound(storage.EntityFlightData, recordID)
	}
	ds, ok := s.datasets[dsID]
	if !ok {
		return domain.Dataset{}, storage.NewNotFound(storage.EntityDataset, dsID)
	}
	return ds, nil
}

func (s *Store) GetDataset(ctx context.Context, id string) (domain.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.datasets[id]
	if !ok {
		return domain.Dataset{}, storage.NewNotFound(storage.EntityDataset, id)
	}
	return ds, nil
}

func (s *Store) GetLatestDataset(ctx context.Context, deviceID string) (domain.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[deviceID]
	if !ok {
		return domain.Dataset{}, storage.NewNotFound(storage.EntityDevice, deviceID)
	}
	ds := s.currentDataset(deviceID, device.DatasetLimit)
	if ds.ID == "" {
		return domain.Dataset{}, storage.NewNotFound(storage.EntityDataset, deviceID)
	}
	return ds, nil
}

func (s *Store) GetDatasetFlightDatas(ctx context.Context, datasetID string) ([]domain.FlightData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := append([]string(nil), s.datasetOrder[datasetID]...)
	out := make([]domain.FlightData, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.flightData[k])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (s *Store) UpdateDatasetWeb3(ctx context.Context, dataset domain.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dataset.Web3 == nil {
		return storage.ErrNoOp
	}
	existing, ok := s.datasets[dataset.ID]
	if !ok {
		return storage.NewNotFound(storage.EntityDataset, dataset.ID)
	}
	existing.Web3 = dataset.Web3
	s.datasets[dataset.ID] = existing
	return nil
}
