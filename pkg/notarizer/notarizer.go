// Copyright 2025 Certen Protocol
//
// Notarizer owns the chain client and the single serializer goroutine
// that submits registerDevice/registerDataset transactions. One writer
// per signing key, because nonce assignment is not safe across
// concurrent senders. Reads (the devices() view call) bypass the queue
// since they never touch the nonce.

package notarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/bitacora/pkg/domain"
	"github.com/certen/bitacora/pkg/ethereum"
	"github.com/certen/bitacora/pkg/identifier"
	"github.com/certen/bitacora/pkg/merkle"
)

// contractABI describes the three calls Bitácora drives on the ledger
// contract: two state-changing registrations and one view read used to
// recover a device's last known on-chain state after a crash.
const contractABI = `[
  {"type":"function","name":"registerDevice","stateMutability":"nonpayable",
   "inputs":[{"name":"deviceId","type":"string"},{"name":"publicKey","type":"bytes32"}],
   "outputs":[]},
  {"type":"function","name":"registerDataset","stateMutability":"nonpayable",
   "inputs":[{"name":"datasetId","type":"string"},{"name":"deviceId","type":"string"},{"name":"merkleRoot","type":"bytes32"}],
   "outputs":[]},
  {"type":"function","name":"devices","stateMutability":"view",
   "inputs":[{"name":"deviceId","type":"string"}],
   "outputs":[{"name":"id","type":"string"},{"name":"publicKey","type":"bytes32"}]}
]`

const (
	gasLimitRegisterDevice  = uint64(150_000)
	gasLimitRegisterDataset = uint64(150_000)
	maxSendRetries          = 3
)

// Closed set of chain error kinds. Wrapped errors carry the underlying
// client failure; test with errors.Is.
var (
	ErrProviderConnectionFailed = errors.New("notarizer: provider connection failed")
	ErrSubmissionFailed         = errors.New("notarizer: submission failed")
	ErrBadInputData             = errors.New("notarizer: bad input data")
)

// DeviceChainState mirrors the devices() view return.
type DeviceChainState struct {
	ID        string
	PublicKey identifier.Bytes32
}

// Registered reports whether the view call found the device; the
// contract returns zero values for ids it has never seen.
func (s DeviceChainState) Registered() bool { return s.ID != "" }

// request is a single queued write: build a transaction, await its
// receipt, hand the result back on reply.
type request struct {
	run   func(ctx context.Context) (*domain.Web3Info, error)
	reply chan result
}

type result struct {
	info *domain.Web3Info
	err  error
}

// Notarizer drives the ledger contract. It holds no Merkle state:
// inclusion proofs are rebuilt from stored records by FlightDataWeb3Info.
type Notarizer struct {
	client     *ethereum.Client
	contract   common.Address
	privateKey string
	blockchain string

	queue chan request
	done  chan struct{}
}

// Option configures a Notarizer.
type Option func(*Notarizer)

// WithBlockchainLabel sets the human-readable chain name recorded on
// every Web3Info this Notarizer produces (e.g. "ethereum-sepolia").
func WithBlockchainLabel(label string) Option {
	return func(n *Notarizer) { n.blockchain = label }
}

// New dials web3URL and starts the serializer goroutine. Call Close to
// stop it.
func New(web3URL string, chainID int64, contractAddr, privateKeyHex string, opts ...Option) (*Notarizer, error) {
	client, err := ethereum.NewClient(web3URL, chainID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderConnectionFailed, err)
	}
	n := &Notarizer{
		client:     client,
		contract:   common.HexToAddress(contractAddr),
		privateKey: strings.TrimPrefix(privateKeyHex, "0x"),
		blockchain: "evm",
		queue:      make(chan request),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	go n.serialize()
	return n, nil
}

// Close stops the serializer goroutine. Pending requests already
// enqueued are drained first.
func (n *Notarizer) Close() {
	close(n.queue)
	<-n.done
}

func (n *Notarizer) serialize() {
	defer close(n.done)
	for req := range n.queue {
		info, err := req.run(context.Background())
		req.reply <- result{info: info, err: err}
	}
}

func (n *Notarizer) submit(ctx context.Context, run func(ctx context.Context) (*domain.Web3Info, error)) (*domain.Web3Info, error) {
	req := request{run: run, reply: make(chan result, 1)}
	select {
	case n.queue <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r.info, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RegisterDevice submits registerDevice(deviceId, publicKey) and returns
// the resulting Web3Info once the transaction is mined.
func (n *Notarizer) RegisterDevice(ctx context.Context, device domain.Device) (*domain.Web3Info, error) {
	return n.submit(ctx, func(ctx context.Context) (*domain.Web3Info, error) {
		if err := validateID(device.ID); err != nil {
			return nil, err
		}
		res, err := n.client.SendContractTransactionWithRetry(ctx, n.contract, contractABI, n.privateKey,
			"registerDevice", gasLimitRegisterDevice, maxSendRetries, device.ID, [32]byte(device.PublicKey))
		if err != nil {
			return nil, fmt.Errorf("%w: register device: %v", ErrSubmissionFailed, err)
		}
		return n.web3InfoFromResult(res)
	})
}

// RegisterDataset submits registerDataset(datasetId, deviceId, merkleRoot)
// for a sealed dataset and returns a Web3Info carrying the persisted root.
func (n *Notarizer) RegisterDataset(ctx context.Context, dataset domain.Dataset, root merkle.Hash) (*domain.Web3Info, error) {
	return n.submit(ctx, func(ctx context.Context) (*domain.Web3Info, error) {
		if err := validateID(dataset.DeviceID); err != nil {
			return nil, err
		}
		if err := validateID(dataset.ID); err != nil {
			return nil, err
		}
		res, err := n.client.SendContractTransactionWithRetry(ctx, n.contract, contractABI, n.privateKey,
			"registerDataset", gasLimitRegisterDataset, maxSendRetries, dataset.ID, dataset.DeviceID, [32]byte(root))
		if err != nil {
			return nil, fmt.Errorf("%w: register dataset: %v", ErrSubmissionFailed, err)
		}
		info, err := n.web3InfoFromResult(res)
		if err != nil {
			return nil, err
		}
		rootBytes, _ := identifier.FromBytes(root[:])
		info.MerkleReceipt = &domain.MerkleReceipt{Kind: domain.MerkleReceiptRoot, Root: &rootBytes}
		return info, nil
	})
}

func (n *Notarizer) web3InfoFromResult(res *ethereum.ContractCallResult) (*domain.Web3Info, error) {
	txHash, err := identifier.FromHex(res.TransactionHash)
	if err != nil {
		return nil, fmt.Errorf("notarizer: %w", err)
	}
	status := domain.TxPending
	if res.Success {
		status = domain.TxConfirmed
	}
	return domain.NewWeb3Info(n.blockchain, domain.Tx{Hash: txHash, Status: status}), nil
}

// DeviceState performs the read-only devices() call. It does not go
// through the serializer queue since it never assigns a nonce.
func (n *Notarizer) DeviceState(ctx context.Context, deviceID string) (DeviceChainState, error) {
	if err := validateID(deviceID); err != nil {
		return DeviceChainState{}, err
	}
	outputs, err := n.client.CallContract(ctx, n.contract, contractABI, "devices", deviceID)
	if err != nil {
		return DeviceChainState{}, fmt.Errorf("notarizer: device state: %w", err)
	}
	if len(outputs) != 2 {
		return DeviceChainState{}, fmt.Errorf("notarizer: device state: unexpected output shape")
	}
	id, ok := outputs[0].(string)
	if !ok {
		return DeviceChainState{}, fmt.Errorf("notarizer: device state: bad id output")
	}
	pk, ok := outputs[1].([32]byte)
	if !ok {
		return DeviceChainState{}, fmt.Errorf("notarizer: device state: bad publicKey output")
	}
	return DeviceChainState{ID: id, PublicKey: identifier.Bytes32(pk)}, nil
}

// Health reports reachability of the underlying chain client.
func (n *Notarizer) Health(ctx context.Context) error {
	return n.client.Health(ctx)
}

// FlightDataWeb3Info rebuilds the Merkle tree over a sealed dataset's
// records in ingestion order and returns the inclusion proof for target,
// wrapped in a Web3Info that inherits the dataset's blockchain and
// transaction reference but carries a fresh Proof receipt. The full tree
// is never persisted; it is reconstructed on demand from the records
// themselves, which are already durable in storage.
func FlightDataWeb3Info(datasetWeb3 domain.Web3Info, records []domain.FlightData, target domain.FlightData) (domain.Web3Info, error) {
	tree := merkle.New()
	for _, r := range records {
		tree.Append(r.ToBytes())
	}
	path, err := tree.Snapshot().Proof(target.ToBytes())
	if err != nil {
		return domain.Web3Info{}, fmt.Errorf("notarizer: flight data proof: %w", err)
	}
	proof := make([]identifier.Bytes32, len(path))
	for i, h := range path {
		b, err := identifier.FromBytes(h[:])
		if err != nil {
			return domain.Web3Info{}, fmt.Errorf("notarizer: flight data proof: %w", err)
		}
		proof[i] = b
	}
	return datasetWeb3.WithProof(proof), nil
}

// validateID checks an id decodes as base58 of 32 bytes before it is
// packed into a transaction, so a malformed id fails fast instead of
// burning gas on a submission the contract would reject.
func validateID(id string) error {
	if _, err := identifier.FromBase58(id); err != nil {
		return fmt.Errorf("%w: id %q: %v", ErrBadInputData, id, err)
	}
	return nil
}

// waitTimeout bounds how long RegisterDevice/RegisterDataset will block
// past the underlying client's own retry loop if a caller passes a
// context without a deadline.
const waitTimeout = 3 * time.Minute

// WithTimeout returns a context bounded by waitTimeout if ctx has no
// deadline of its own.
func WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, waitTimeout)
}
