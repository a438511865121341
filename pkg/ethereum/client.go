// Copyright 2025 Certen Protocol
//
// Thin wrapper around ethclient for the three calls the notarizer drives:
// a view read (devices) and two state-changing submissions
// (registerDevice, registerDataset). Sends carry a gas-price floor and
// escalating retry, since a stuck or underpriced transaction here would
// stall the single-writer notarizer queue behind it.

package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is a signing JSON-RPC client for one EVM-compatible chain.
type Client struct {
	client  *ethclient.Client
	chainID *big.Int
}

// NewClient dials url and binds to chainID for transaction signing.
func NewClient(url string, chainID int64) (*Client, error) {
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ethereum: %w", err)
	}
	return &Client{client: client, chainID: big.NewInt(chainID)}, nil
}

// WaitForTransaction blocks until tx is mined and returns its receipt.
func (c *Client) WaitForTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for transaction: %w", err)
	}
	return receipt, nil
}

// Health checks chain reachability via a cheap view call.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.client.BlockNumber(ctx); err != nil {
		return fmt.Errorf("ethereum health check failed: %w", err)
	}
	return nil
}

// ContractCallResult is what the notarizer needs out of a mined
// transaction to build a Web3Info receipt.
type ContractCallResult struct {
	TransactionHash string
	BlockNumber     uint64
	GasUsed         uint64
	Success         bool
	Timestamp       time.Time
}

// CallContract makes a read-only call, used for the devices() view
// accessor.
func (c *Client) CallContract(ctx context.Context, contractAddr common.Address, abiString, methodName string, params ...interface{}) ([]interface{}, error) {
	contractABI, err := abi.JSON(strings.NewReader(abiString))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	callData, err := contractABI.Pack(methodName, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &contractAddr, Data: callData}, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}
	outputs, err := contractABI.Unpack(methodName, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}
	return outputs, nil
}

// SendContractTransactionWithRetry signs and sends a state-changing call,
// escalating gas price 20% per retry on an underpriced-replacement or
// nonce-too-low error, and blocks for one confirmation before returning.
func (c *Client) SendContractTransactionWithRetry(ctx context.Context, contractAddr common.Address, abiString, privateKeyHex, methodName string, gasLimit uint64, maxRetries int, params ...interface{}) (*ContractCallResult, error) {
	contractABI, err := abi.JSON(strings.NewReader(abiString))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	callData, err := contractABI.Pack(methodName, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	publicKeyECDSA := privateKey.Public().(*ecdsa.PublicKey)
	fromAddress := crypto.PubkeyToAddress(*publicKeyECDSA)

	for attempt := 0; attempt < maxRetries; attempt++ {
		nonce, err := c.client.PendingNonceAt(ctx, fromAddress)
		if err != nil {
			return nil, fmt.Errorf("failed to get nonce: %w", err)
		}

		baseGasPrice, err := c.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get gas price: %w", err)
		}
		minGasPrice := big.NewInt(5 * 1e9) // 5 Gwei floor
		if baseGasPrice.Cmp(minGasPrice) < 0 {
			baseGasPrice = minGasPrice
		}
		gasPrice := new(big.Int).Set(baseGasPrice)
		if attempt > 0 {
			multiplier := big.NewInt(int64(100 + 20*attempt)) // 120%, 140%, ...
			gasPrice = gasPrice.Mul(gasPrice, multiplier).Div(gasPrice, big.NewInt(100))
		}

		tx := types.NewTransaction(nonce, contractAddr, big.NewInt(0), gasLimit, gasPrice, callData)
		signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to sign transaction: %w", err)
		}

		if err := c.client.SendTransaction(ctx, signedTx); err != nil {
			errStr := err.Error()
			retryable := strings.Contains(errStr, "replacement transaction underpriced") ||
				strings.Contains(errStr, "nonce too low") ||
				strings.Contains(errStr, "already known")
			if retryable && attempt < maxRetries-1 {
				time.Sleep(2 * time.Second)
				continue
			}
			return nil, fmt.Errorf("failed to send transaction after %d attempts: %w", attempt+1, err)
		}

		receipt, err := c.WaitForTransaction(ctx, signedTx)
		if err != nil {
			return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
		}
		return &ContractCallResult{
			TransactionHash: signedTx.Hash().Hex(),
			BlockNumber:     receipt.BlockNumber.Uint64(),
			GasUsed:         receipt.GasUsed,
			Success:         receipt.Status == types.ReceiptStatusSuccessful,
			Timestamp:       time.Now(),
		}, nil
	}

	return nil, fmt.Errorf("failed to send transaction after %d attempts", maxRetries)
}
