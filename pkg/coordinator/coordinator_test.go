// Copyright 2025 Certen Protocol

package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/certen/bitacora/pkg/domain"
	"github.com/certen/bitacora/pkg/identifier"
	"github.com/certen/bitacora/pkg/merkle"
	"github.com/certen/bitacora/pkg/notarizer"
	"github.com/certen/bitacora/pkg/storage/memstore"
)

// fakeChain is a ChainNotarizer stand-in that records successful calls and
// returns a deterministic receipt; while fail is set, every call fails.
type fakeChain struct {
	devices    []domain.Device
	datasets   []domain.Dataset
	chainState notarizer.DeviceChainState
	fail       bool
}

func (f *fakeChain) RegisterDevice(ctx context.Context, device domain.Device) (*domain.Web3Info, error) {
	if f.fail {
		return nil, errBoom
	}
	f.devices = append(f.devices, device)
	return domain.NewWeb3Info("evm-test", domain.Tx{Status: domain.TxConfirmed}), nil
}

func (f *fakeChain) RegisterDataset(ctx context.Context, dataset domain.Dataset, root merkle.Hash) (*domain.Web3Info, error) {
	if f.fail {
		return nil, errBoom
	}
	f.datasets = append(f.datasets, dataset)
	rootID, _ := identifier.FromBytes(root[:])
	return domain.NewWeb3InfoWithRoot("evm-test", domain.Tx{Status: domain.TxConfirmed}, rootID), nil
}

func (f *fakeChain) DeviceState(ctx context.Context, deviceID string) (notarizer.DeviceChainState, error) {
	if f.fail {
		return notarizer.DeviceChainState{}, errBoom
	}
	if f.chainState.ID == deviceID {
		return f.chainState, nil
	}
	return notarizer.DeviceChainState{}, nil
}

func (f *fakeChain) Health(ctx context.Context) error {
	if f.fail {
		return errBoom
	}
	return nil
}

var errBoom = errBoomErr("boom")

type errBoomErr string

func (e errBoomErr) Error() string { return string(e) }

func testPublicKey(b byte) identifier.PublicKey {
	var pk identifier.PublicKey
	for i := range pk {
		pk[i] = b
	}
	return pk
}

func TestCoordinator_RegisterDeviceAndIngest(t *testing.T) {
	store := memstore.New()
	chain := &fakeChain{}
	c := New(store, chain, nil)
	ctx := context.Background()

	device, err := c.RegisterDevice(ctx, testPublicKey(0x01), 3)
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if device.Web3 == nil {
		t.Fatal("expected device to carry a Web3 receipt")
	}

	var lastDataset domain.Dataset
	for i := uint64(0); i < 3; i++ {
		_, ds, err := c.NewFlightData(ctx, device.ID, 1000+i, domain.Localization{Latitude: 1, Longitude: 2}, []byte("payload"), "sig")
		if err != nil {
			t.Fatalf("NewFlightData[%d]: %v", i, err)
		}
		lastDataset = ds
	}

	if !lastDataset.Sealed() {
		t.Fatalf("expected dataset sealed after 3 records with limit 3, got count=%d", lastDataset.Count)
	}
	if lastDataset.Web3 == nil {
		t.Fatal("expected sealed dataset to carry a Web3 receipt")
	}
	if len(chain.datasets) != 1 {
		t.Fatalf("expected exactly one registerDataset call, got %d", len(chain.datasets))
	}

	// A fourth record should land in a fresh, unsealed dataset.
	_, ds, err := c.NewFlightData(ctx, device.ID, 2000, domain.Localization{}, []byte("x"), "sig")
	if err != nil {
		t.Fatalf("NewFlightData: %v", err)
	}
	if ds.ID == lastDataset.ID {
		t.Fatal("expected a new dataset after the previous one sealed")
	}
	if ds.Sealed() {
		t.Fatal("fresh dataset should not be sealed after one record")
	}
}

func TestCoordinator_FlightDataReceipt(t *testing.T) {
	store := memstore.New()
	chain := &fakeChain{}
	c := New(store, chain, nil)
	ctx := context.Background()

	device, err := c.RegisterDevice(ctx, testPublicKey(0x02), 2)
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	first, _, err := c.NewFlightData(ctx, device.ID, 1, domain.Localization{}, []byte("a"), "sig-a")
	if err != nil {
		t.Fatalf("NewFlightData: %v", err)
	}
	if _, _, err := c.NewFlightData(ctx, device.ID, 2, domain.Localization{}, []byte("b"), "sig-b"); err != nil {
		t.Fatalf("NewFlightData: %v", err)
	}

	if _, err := c.Dataset(ctx, deviceFirstDatasetID(t, store, ctx, device.ID)); err != nil {
		t.Fatalf("Dataset: %v", err)
	}

	_, _, web3, err := c.FlightDataReceipt(ctx, first.ID.Base58())
	if err != nil {
		t.Fatalf("FlightDataReceipt: %v", err)
	}
	if web3.MerkleReceipt == nil || web3.MerkleReceipt.Kind != domain.MerkleReceiptProof {
		t.Fatal("expected a proof-kind merkle receipt")
	}
	if len(web3.MerkleReceipt.Proof) != 1 {
		t.Fatalf("expected a 1-element proof for a 2-leaf dataset, got %d", len(web3.MerkleReceipt.Proof))
	}
}

func TestCoordinator_RegisterDeviceSkipsSubmissionWhenAlreadyOnChain(t *testing.T) {
	store := memstore.New()
	pk := testPublicKey(0x05)
	chain := &fakeChain{chainState: notarizer.DeviceChainState{
		ID:        identifier.DeviceID(pk),
		PublicKey: pk,
	}}
	c := New(store, chain, nil)
	ctx := context.Background()

	device, err := c.RegisterDevice(ctx, pk, 3)
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if len(chain.devices) != 0 {
		t.Fatalf("expected no registerDevice submission for a device the chain already knows, got %d", len(chain.devices))
	}
	if device.Web3 != nil {
		t.Error("no receipt can exist for a submission this process never made")
	}

	// The device and its initial dataset are still durable locally.
	if _, err := store.GetDevice(ctx, device.ID); err != nil {
		t.Errorf("GetDevice: %v", err)
	}
	if _, err := store.GetLatestDataset(ctx, device.ID); err != nil {
		t.Errorf("GetLatestDataset: %v", err)
	}
}

func TestCoordinator_SealAtLimitAnchorsExactRoot(t *testing.T) {
	store := memstore.New()
	chain := &fakeChain{}
	c := New(store, chain, nil)
	ctx := context.Background()

	const limit = uint32(10)
	device, err := c.RegisterDevice(ctx, testPublicKey(0x04), limit)
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	var records []domain.FlightData
	var firstID string
	for k := uint64(1); k <= uint64(limit); k++ {
		rec, ds, err := c.NewFlightData(ctx, device.ID, k, domain.Localization{Latitude: float64(k)}, []byte{byte(k)}, "sig")
		if err != nil {
			t.Fatalf("NewFlightData[%d]: %v", k, err)
		}
		records = append(records, rec)
		if k == 1 {
			firstID = ds.ID
		}
		if ds.ID != firstID {
			t.Fatalf("k=%d: dataset id changed before the limit was reached", k)
		}
		if k < uint64(limit) && ds.Web3 != nil {
			t.Fatalf("k=%d: dataset must not carry a receipt before sealing", k)
		}
		if k == uint64(limit) {
			if ds.Web3 == nil || ds.Web3.MerkleReceipt == nil || ds.Web3.MerkleReceipt.Kind != domain.MerkleReceiptRoot {
				t.Fatal("sealing record must attach a root-kind receipt")
			}
			tree := merkle.New()
			for _, r := range records {
				tree.Append(r.ToBytes())
			}
			wantRoot, err := tree.Root()
			if err != nil {
				t.Fatalf("Root: %v", err)
			}
			if got := merkle.Hash(*ds.Web3.MerkleReceipt.Root); got != wantRoot {
				t.Errorf("anchored root = %x, want %x", got, wantRoot)
			}
		}
	}

	// Record limit+1 opens the next dataset.
	_, next, err := c.NewFlightData(ctx, device.ID, uint64(limit)+1, domain.Localization{}, []byte("n"), "sig")
	if err != nil {
		t.Fatalf("NewFlightData (rollover): %v", err)
	}
	if next.ID == firstID {
		t.Fatal("expected a fresh dataset after sealing")
	}
	if next.Count != 1 || next.Web3 != nil {
		t.Errorf("rollover dataset = %+v, want count=1 and no receipt", next)
	}
}

func TestCoordinator_SealFailureIsPartialAndResubmitRecovers(t *testing.T) {
	store := memstore.New()
	chain := &fakeChain{}
	c := New(store, chain, nil)
	ctx := context.Background()

	device, err := c.RegisterDevice(ctx, testPublicKey(0x03), 2)
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	if _, _, err := c.NewFlightData(ctx, device.ID, 1, domain.Localization{}, []byte("a"), "sig"); err != nil {
		t.Fatalf("NewFlightData: %v", err)
	}

	// The sealing write lands durably even though the chain is down.
	chain.fail = true
	_, ds, err := c.NewFlightData(ctx, device.ID, 2, domain.Localization{}, []byte("b"), "sig")
	if !errors.Is(err, ErrPartial) {
		t.Fatalf("err = %v, want ErrPartial", err)
	}
	if !ds.Sealed() {
		t.Fatalf("expected dataset sealed, got count=%d", ds.Count)
	}

	stored, err := store.GetDataset(ctx, ds.ID)
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	if stored.Web3 != nil {
		t.Fatal("dataset must stay unanchored after a failed chain submission")
	}

	// Reads of its records cannot produce a receipt yet.
	rec := domain.NewFlightData(device.ID, 2, domain.Localization{}, []byte("b"), "sig")
	if _, _, _, err := c.FlightDataReceipt(ctx, rec.ID.Base58()); !errors.Is(err, ErrNotAnchored) {
		t.Fatalf("err = %v, want ErrNotAnchored", err)
	}

	// Operator retry succeeds once the chain is back.
	chain.fail = false
	recovered, err := c.Resubmit(ctx, ds.ID)
	if err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	if recovered.Web3 == nil || recovered.Web3.MerkleReceipt == nil || recovered.Web3.MerkleReceipt.Kind != domain.MerkleReceiptRoot {
		t.Fatal("expected resubmitted dataset to carry a root-kind receipt")
	}

	// Resubmit on an already-anchored dataset is a no-op, not an error.
	again, err := c.Resubmit(ctx, ds.ID)
	if err != nil {
		t.Fatalf("Resubmit (idempotent): %v", err)
	}
	if len(chain.datasets) != 1 {
		t.Fatalf("expected exactly one successful registerDataset call, got %d", len(chain.datasets))
	}
	if again.Web3 == nil {
		t.Fatal("expected receipt to survive the idempotent resubmit")
	}
}

func deviceFirstDatasetID(t *testing.T, store *memstore.Store, ctx context.Context, deviceID string) string {
	t.Helper()
	ds, err := store.GetLatestDataset(ctx, deviceID)
	if err != nil {
		t.Fatalf("GetLatestDataset: %v", err)
	}
	return ds.ID
}
