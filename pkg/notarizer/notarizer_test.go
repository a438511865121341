// Copyright 2025 Certen Protocol

package notarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/certen/bitacora/pkg/domain"
	"github.com/certen/bitacora/pkg/identifier"
	"github.com/certen/bitacora/pkg/merkle"
)

func testRecord(t *testing.T, deviceID string, ts uint64, payload string) domain.FlightData {
	t.Helper()
	return domain.NewFlightData(deviceID, ts, domain.Localization{Latitude: 1, Longitude: 2}, []byte(payload), "sig")
}

func TestFlightDataWeb3Info_ProofVerifiesAgainstRoot(t *testing.T) {
	records := []domain.FlightData{
		testRecord(t, "dev", 1, "a"),
		testRecord(t, "dev", 2, "b"),
		testRecord(t, "dev", 3, "c"),
	}

	tree := merkle.New()
	for _, r := range records {
		tree.Append(r.ToBytes())
	}
	root, err := tree.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	rootID, _ := identifier.FromBytes(root[:])
	datasetWeb3 := *domain.NewWeb3InfoWithRoot("evm-test", domain.Tx{Status: domain.TxConfirmed}, rootID)

	for _, target := range records {
		info, err := FlightDataWeb3Info(datasetWeb3, records, target)
		if err != nil {
			t.Fatalf("FlightDataWeb3Info: %v", err)
		}
		if info.Blockchain != datasetWeb3.Blockchain || info.Tx != datasetWeb3.Tx {
			t.Error("receipt must inherit blockchain and tx from the dataset receipt")
		}
		if info.MerkleReceipt == nil || info.MerkleReceipt.Kind != domain.MerkleReceiptProof {
			t.Fatal("expected a proof-kind merkle receipt")
		}
		proof := make([]merkle.Hash, len(info.MerkleReceipt.Proof))
		for i, p := range info.MerkleReceipt.Proof {
			proof[i] = merkle.Hash(p)
		}
		if !merkle.VerifyFromRoot(root, target.ToBytes(), proof) {
			t.Errorf("proof for record ts=%d does not verify", target.Timestamp)
		}
	}
}

func TestFlightDataWeb3Info_UnknownRecord(t *testing.T) {
	records := []domain.FlightData{testRecord(t, "dev", 1, "a")}
	outsider := testRecord(t, "dev", 99, "z")

	_, err := FlightDataWeb3Info(domain.Web3Info{}, records, outsider)
	if !errors.Is(err, merkle.ErrElementNotFound) {
		t.Errorf("err = %v, want merkle.ErrElementNotFound", err)
	}
}

func TestValidateID_RejectsMalformedID(t *testing.T) {
	if err := validateID("not base58 !!"); !errors.Is(err, ErrBadInputData) {
		t.Errorf("err = %v, want ErrBadInputData", err)
	}
}

// rpcStub answers eth_call with a fixed ABI-encoded payload, so
// DeviceState can be driven end to end without a chain.
func rpcStub(t *testing.T, result []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}
		if req.Method != "eth_call" {
			t.Errorf("unexpected rpc method %q", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":"0x%x"}`, req.ID, result))
	}))
}

func TestDeviceState_DecodesViewCall(t *testing.T) {
	var pk identifier.PublicKey
	for i := range pk {
		pk[i] = byte(i)
	}
	deviceID := identifier.DeviceID(pk)

	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		t.Fatalf("parse ABI: %v", err)
	}
	encoded, err := parsed.Methods["devices"].Outputs.Pack(deviceID, [32]byte(pk))
	if err != nil {
		t.Fatalf("pack devices() output: %v", err)
	}

	srv := rpcStub(t, encoded)
	defer srv.Close()

	n, err := New(srv.URL, 1337, "0x0000000000000000000000000000000000000001",
		"4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	state, err := n.DeviceState(context.Background(), deviceID)
	if err != nil {
		t.Fatalf("DeviceState: %v", err)
	}
	if state.ID != deviceID {
		t.Errorf("id = %q, want %q", state.ID, deviceID)
	}
	if state.PublicKey != pk {
		t.Errorf("publicKey = %x, want %x", state.PublicKey, pk)
	}
	if !state.Registered() {
		t.Error("expected a populated view result to report Registered")
	}
}

func TestDeviceState_UnknownDeviceIsNotRegistered(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		t.Fatalf("parse ABI: %v", err)
	}
	// The contract returns zero values for ids it has never seen.
	encoded, err := parsed.Methods["devices"].Outputs.Pack("", [32]byte{})
	if err != nil {
		t.Fatalf("pack devices() output: %v", err)
	}

	srv := rpcStub(t, encoded)
	defer srv.Close()

	n, err := New(srv.URL, 1337, "0x0000000000000000000000000000000000000001",
		"4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	var pk identifier.PublicKey
	pk[0] = 0x7f
	state, err := n.DeviceState(context.Background(), identifier.DeviceID(pk))
	if err != nil {
		t.Fatalf("DeviceState: %v", err)
	}
	if state.Registered() {
		t.Error("zero-valued view result must not report Registered")
	}
}
