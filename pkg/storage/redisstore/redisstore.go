// Copyright 2025 Certen Protocol
//
// Redis-backed Storage implementation: device/dataset/flight_data
// hashes plus ordered sets for the per-dataset and per-device record
// indexes, with record ingestion performed by a single server-side
// script so allocation stays atomic under concurrent producers.

package redisstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/certen/bitacora/pkg/domain"
	"github.com/certen/bitacora/pkg/identifier"
	"github.com/certen/bitacora/pkg/storage"
)

// Store is the reference production Storage backend.
type Store struct {
	client *redis.Client
	script *redis.Script
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithClient swaps in a pre-built redis.Client, mainly for tests against
// a miniredis instance.
func WithClient(c *redis.Client) Option {
	return func(s *Store) { s.client = c }
}

// New connects to the Redis instance at addr (a redis:// URL) and
// registers the ingestion script. The script is loaded lazily on first
// EVALSHA miss by the go-redis Script wrapper, so New never touches the
// network.
func New(addr string, opts ...Option) (*Store, error) {
	s := &Store{script: redis.NewScript(newFlightDataScript)}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		o, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("redisstore: parse url: %w", err)
		}
		s.client = redis.NewClient(o)
	}
	return s, nil
}

var _ storage.Storage = (*Store)(nil)

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisstore: ping: %w", err)
	}
	return nil
}

func deviceKey(id string) string           { return "device:" + id }
func flightDataKey(id string) string       { return "flight_data:" + id }
func deviceFlightDataKey(id string) string { return "device_flight_data:" + id }
func datasetIDKey(publicID string) string  { return "datasetid:" + publicID }

func internalDatasetKey(deviceID string, counter uint32) string {
	return fmt.Sprintf("dataset:%s:%d", deviceID, counter)
}

// parseDatasetRef splits a "device:counter" reverse-index value. Device
// ids are base58 and never contain a colon, so the last colon always
// separates the counter.
func parseDatasetRef(ref string) (string, uint32, error) {
	i := strings.LastIndexByte(ref, ':')
	if i < 0 {
		return "", 0, &storage.MalformedDataError{Field: "datasetid ref"}
	}
	counter, err := strconv.ParseUint(ref[i+1:], 10, 32)
	if err != nil {
		return "", 0, &storage.MalformedDataError{Field: "datasetid ref"}
	}
	return ref[:i], uint32(counter), nil
}

func datasetFlightDataKey(deviceID string, counter uint32) string {
	return fmt.Sprintf("dataset_flight_data:%s:%d", deviceID, counter)
}

func (s *Store) NewDevice(ctx context.Context, device domain.Device) error {
	key := deviceKey(device.ID)
	created, err := s.client.HSetNX(ctx, key, "id", device.ID).Result()
	if err != nil {
		return fmt.Errorf("redisstore: new device: %w", err)
	}
	if !created {
		return storage.ErrAlreadyExists
	}
	if err := s.client.HSet(ctx, key,
		"public_key", device.PublicKey.Hex(),
		"dataset_limit", device.DatasetLimit,
		"record_count", 0,
		"current_counter", 0,
	).Err(); err != nil {
		return fmt.Errorf("redisstore: new device: %w", err)
	}

	ds := domain.NewDataset(device.ID, 0, device.DatasetLimit)
	if err := s.writeDatasetShell(ctx, ds); err != nil {
		return fmt.Errorf("redisstore: new device: %w", err)
	}
	return nil
}

// writeDatasetShell materializes the deterministic public id for
// (deviceID, counter) onto its internal hash and the id->key reverse
// index. Idempotent: every caller computing the same (deviceID, counter)
// derives the identical value, so repeated or concurrent writes agree.
// The count field is only initialized to 0 here when absent (HSETNX), never
// overwritten; the ingestion script is the only writer that changes count,
// and rewriting it from Go could regress a concurrent increment.
func (s *Store) writeDatasetShell(ctx context.Context, ds domain.Dataset) error {
	key := internalDatasetKey(ds.DeviceID, ds.Counter)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "id", ds.ID, "device", ds.DeviceID, "limit", ds.Limit, "counter", ds.Counter)
	pipe.HSetNX(ctx, key, "count", 0)
	pipe.Set(ctx, datasetIDKey(ds.ID), fmt.Sprintf("%s:%d", ds.DeviceID, ds.Counter), 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) UpdateDevice(ctx context.Context, device domain.Device) error {
	if device.Web3 == nil {
		return storage.ErrNoOp
	}
	key := deviceKey(device.ID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redisstore: update device: %w", err)
	}
	if exists == 0 {
		return storage.NewNotFound(storage.EntityDevice, device.ID)
	}
	blob, err := json.Marshal(device.Web3)
	if err != nil {
		return fmt.Errorf("redisstore: update device: %w", err)
	}
	if err := s.client.HSet(ctx, key, "web3", blob).Err(); err != nil {
		return fmt.Errorf("redisstore: update device: %w", err)
	}
	return nil
}

func (s *Store) GetDevice(ctx context.Context, id string) (domain.Device, error) {
	vals, err := s.client.HGetAll(ctx, deviceKey(id)).Result()
	if err != nil {
		return domain.Device{}, fmt.Errorf("redisstore: get device: %w", err)
	}
	if len(vals) == 0 {
		return domain.Device{}, storage.NewNotFound(storage.EntityDevice, id)
	}
	return deviceFromFields(id, vals)
}

func deviceFromFields(id string, vals map[string]string) (domain.Device, error) {
	pk, err := identifier.FromHex(vals["public_key"])
	if err != nil {
		return domain.Device{}, &storage.MalformedDataError{Field: "public_key"}
	}
	limit, err := strconv.ParseUint(vals["dataset_limit"], 10, 32)
	if err != nil {
		return domain.Device{}, &storage.MalformedDataError{Field: "dataset_limit"}
	}
	d := domain.Device{ID: id, PublicKey: pk, DatasetLimit: uint32(limit)}
	if raw, ok := vals["web3"]; ok && raw != "" {
		var w domain.Web3Info
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			return domain.Device{}, &storage.MalformedDataError{Field: "web3"}
		}
		d.Web3 = &w
	}
	return d, nil
}

func (s *Store) NewFlightData(ctx context.Context, record domain.FlightData, deviceID string) (domain.Dataset, error) {
	locBlob, err := json.Marshal(record.Localization)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("redisstore: new flight data: %w", err)
	}
	recordID := record.ID.Base58()

	res, err := s.script.Run(ctx, s.client, []string{
		deviceKey(deviceID),
		flightDataKey(recordID),
		deviceFlightDataKey(deviceID),
	},
		deviceID,
		recordID,
		record.Signature,
		record.Timestamp,
		string(locBlob),
		base64.StdEncoding.EncodeToString(record.Payload),
	).Result()
	if err != nil {
		switch {
		case errors.Is(err, redis.Nil):
			return domain.Dataset{}, storage.ErrGeneric
		case err.Error() == "ALREADY_EXISTS":
			return domain.Dataset{}, storage.ErrAlreadyExists
		case err.Error() == "DEVICE_NOT_FOUND":
			return domain.Dataset{}, storage.NewNotFound(storage.EntityDevice, deviceID)
		default:
			return domain.Dataset{}, fmt.Errorf("redisstore: new flight data: %w", err)
		}
	}

	fields, ok := res.([]interface{})
	if !ok || len(fields) != 3 {
		return domain.Dataset{}, &storage.MalformedDataError{Field: "new_flight_data result"}
	}
	counter := uint32(fields[0].(int64))
	count := uint32(fields[1].(int64))
	created := fields[2].(int64) == 1

	device, err := s.GetDevice(ctx, deviceID)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("redisstore: new flight data: %w", err)
	}
	ds := domain.NewDataset(deviceID, counter, device.DatasetLimit)
	ds.Count = count
	if err := s.writeDatasetShell(ctx, ds); err != nil {
		return domain.Dataset{}, &storage.FailedRelatingDataError{A: ds.ID, B: internalDatasetKey(deviceID, counter)}
	}
	if !created {
		existing, err := s.GetDataset(ctx, ds.ID)
		if err == nil {
			ds.Web3 = existing.Web3
		}
	}
	return ds, nil
}

func (s *Store) GetFlightData(ctx context.Context, id string) (domain.FlightData, error) {
	vals, err := s.client.HGetAll(ctx, flightDataKey(id)).Result()
	if err != nil {
		return domain.FlightData{}, fmt.Errorf("redisstore: get flight data: %w", err)
	}
	if len(vals) == 0 {
		return domain.FlightData{}, storage.NewNotFound(storage.EntityFlightData, id)
	}
	return flightDataFromFields(id, vals)
}

func flightDataFromFields(id string, vals map[string]string) (domain.FlightData, error) {
	fdID, err := identifier.FromBase58(id)
	if err != nil {
		return domain.FlightData{}, &storage.MalformedDataError{Field: "id"}
	}
	ts, err := strconv.ParseUint(vals["timestamp"], 10, 64)
	if err != nil {
		return domain.FlightData{}, &storage.MalformedDataError{Field: "timestamp"}
	}
	var loc domain.Localization
	if err := json.Unmarshal([]byte(vals["localization"]), &loc); err != nil {
		return domain.FlightData{}, &storage.MalformedDataError{Field: "localization"}
	}
	payload, err := base64.StdEncoding.DecodeString(vals["payload"])
	if err != nil {
		return domain.FlightData{}, &storage.MalformedDataError{Field: "payload"}
	}
	return domain.FlightData{
		ID:           fdID,
		Timestamp:    ts,
		Localization: loc,
		Payload:      payload,
		Signature:    vals["signature"],
	}, nil
}

func (s *Store) GetFlightDataDataset(ctx context.Context, recordID string) (domain.Dataset, error) {
	vals, err := s.client.HMGet(ctx, flightDataKey(recordID), "device", "dataset_counter").Result()
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("redisstore: get flight data dataset: %w", err)
	}
	deviceID, ok1 := vals[0].(string)
	counterStr, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return domain.Dataset{}, storage.NewNotFound(storage.EntityFlightData, recordID)
	}
	counter, err := strconv.ParseUint(counterStr, 10, 32)
	if err != nil {
		return domain.Dataset{}, &storage.MalformedDataError{Field: "dataset_counter"}
	}
	return s.readInternalDataset(ctx, deviceID, uint32(counter))
}

func (s *Store) GetDataset(ctx context.Context, id string) (domain.Dataset, error) {
	ref, err := s.client.Get(ctx, datasetIDKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Dataset{}, storage.NewNotFound(storage.EntityDataset, id)
	}
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("redisstore: get dataset: %w", err)
	}
	deviceID, counter, err := parseDatasetRef(ref)
	if err != nil {
		return domain.Dataset{}, err
	}
	return s.readInternalDataset(ctx, deviceID, counter)
}

func (s *Store) readInternalDataset(ctx context.Context, deviceID string, counter uint32) (domain.Dataset, error) {
	vals, err := s.client.HGetAll(ctx, internalDatasetKey(deviceID, counter)).Result()
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("redisstore: read dataset: %w", err)
	}
	if len(vals) == 0 {
		return domain.Dataset{}, storage.NewNotFound(storage.EntityDataset, internalDatasetKey(deviceID, counter))
	}
	return datasetFromFields(vals)
}

func datasetFromFields(vals map[string]string) (domain.Dataset, error) {
	limit, err := strconv.ParseUint(vals["limit"], 10, 32)
	if err != nil {
		return domain.Dataset{}, &storage.MalformedDataError{Field: "limit"}
	}
	count, err := strconv.ParseUint(vals["count"], 10, 32)
	if err != nil {
		return domain.Dataset{}, &storage.MalformedDataError{Field: "count"}
	}
	counter, err := strconv.ParseUint(vals["counter"], 10, 32)
	if err != nil {
		return domain.Dataset{}, &storage.MalformedDataError{Field: "counter"}
	}
	ds := domain.Dataset{
		ID:       vals["id"],
		DeviceID: vals["device"],
		Counter:  uint32(counter),
		Limit:    uint32(limit),
		Count:    uint32(count),
	}
	if raw, ok := vals["web3"]; ok && raw != "" {
		var w domain.Web3Info
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			return domain.Dataset{}, &storage.MalformedDataError{Field: "web3"}
		}
		ds.Web3 = &w
	}
	return ds, nil
}

func (s *Store) GetLatestDataset(ctx context.Context, deviceID string) (domain.Dataset, error) {
	counterStr, err := s.client.HGet(ctx, deviceKey(deviceID), "current_counter").Result()
	if errors.Is(err, redis.Nil) {
		return domain.Dataset{}, storage.NewNotFound(storage.EntityDevice, deviceID)
	}
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("redisstore: get latest dataset: %w", err)
	}
	counter, err := strconv.ParseUint(counterStr, 10, 32)
	if err != nil {
		return domain.Dataset{}, &storage.MalformedDataError{Field: "current_counter"}
	}
	return s.readInternalDataset(ctx, deviceID, uint32(counter))
}

func (s *Store) GetDatasetFlightDatas(ctx context.Context, datasetID string) ([]domain.FlightData, error) {
	ds, err := s.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	ids, err := s.client.ZRange(ctx, datasetFlightDataKey(ds.DeviceID, ds.Counter), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: get dataset flight data: %w", err)
	}
	out := make([]domain.FlightData, 0, len(ids))
	for _, id := range ids {
		fd, err := s.GetFlightData(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			// The ordered set names a record whose hash is gone.
			return nil, &storage.InconsistentRelatedDataError{A: datasetID, B: id}
		}
		if err != nil {
			return nil, fmt.Errorf("redisstore: get dataset flight data: %w", err)
		}
		out = append(out, fd)
	}
	return out, nil
}

func (s *Store) UpdateDatasetWeb3(ctx context.Context, dataset domain.Dataset) error {
	if dataset.Web3 == nil {
		return storage.ErrNoOp
	}
	ref, err := s.client.Get(ctx, datasetIDKey(dataset.ID)).Result()
	if errors.Is(err, redis.Nil) {
		return storage.NewNotFound(storage.EntityDataset, dataset.ID)
	}
	if err != nil {
		return fmt.Errorf("redisstore: update dataset web3: %w", err)
	}
	deviceID, counter, err := parseDatasetRef(ref)
	if err != nil {
		return err
	}
	blob, err := json.Marshal(dataset.Web3)
	if err != nil {
		return fmt.Errorf("redisstore: update dataset web3: %w", err)
	}
	if err := s.client.HSet(ctx, internalDatasetKey(deviceID, counter), "web3", blob).Err(); err != nil {
		return fmt.Errorf("redisstore: update dataset web3: %w", err)
	}
	return nil
}
