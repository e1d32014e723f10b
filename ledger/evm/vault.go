// Package evm submits savings operations to an EVM vault contract and reads their
// receipts.
package evm

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pilacorp/go-savings-sdk/ledger"
	"github.com/pilacorp/go-savings-sdk/signer"
)

//go:embed vault_abi.json
var vaultABIJSON []byte

var (
	parsedABI    abi.ABI
	parseABIOnce sync.Once
	errParseABI  error
)

// loadABI ensures the ABI is parsed exactly once.
func loadABI() (abi.ABI, error) {
	parseABIOnce.Do(func() {
		type hardhatArtifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		var artifact hardhatArtifact
		if err := json.Unmarshal(vaultABIJSON, &artifact); err != nil {
			errParseABI = fmt.Errorf("failed to unmarshal artifact JSON: %w", err)
			return
		}
		parsedABI, errParseABI = abi.JSON(strings.NewReader(string(artifact.ABI)))
	})
	return parsedABI, errParseABI
}

// DefaultGasLimit is used when ClientConfig.GasLimit is zero.
const DefaultGasLimit = 200000

var (
	ErrSignerRequired = errors.New("signer is required to submit transactions")
	ErrInvalidAmount  = errors.New("amount must be positive")
)

// Backend is the subset of an Ethereum JSON-RPC client the vault needs.
// *ethclient.Client satisfies it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ClientConfig holds configuration for the Vault client.
type ClientConfig struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64
	// Optional: when nil the gas price is fetched from the node for every submission.
	GasPrice *big.Int
	GasLimit uint64
	Logger   *slog.Logger
}

// Vault is a client for the savings vault contract.
type Vault struct {
	contract     *bind.BoundContract
	abi          abi.ABI
	backend      Backend
	signer       signer.Provider
	chainID      *big.Int
	contractAddr common.Address
	gasPrice     *big.Int
	gasLimit     uint64
	logger       *slog.Logger
}

// Dial connects to cfg.RPCURL and returns a Vault using that connection.
// txSigner may be nil when the Vault is only used to read status.
func Dial(ctx context.Context, cfg ClientConfig, txSigner signer.Provider) (*Vault, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("RPC URL is required")
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC %s: %w", cfg.RPCURL, err)
	}
	return NewVault(cfg, client, txSigner)
}

// NewVault creates a Vault over an existing backend.
func NewVault(cfg ClientConfig, backend Backend, txSigner signer.Provider) (*Vault, error) {
	if cfg.ContractAddress == "" {
		return nil, errors.New("contract address is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address: %s", cfg.ContractAddress)
	}
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("invalid chain id: %d", cfg.ChainID)
	}
	if backend == nil {
		return nil, errors.New("backend is required")
	}

	contractABI, err := loadABI()
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(cfg.ContractAddress)
	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Vault{
		contract:     bind.NewBoundContract(addr, contractABI, nil, nil, nil),
		abi:          contractABI,
		backend:      backend,
		signer:       txSigner,
		chainID:      big.NewInt(cfg.ChainID),
		contractAddr: addr,
		gasPrice:     cfg.GasPrice,
		gasLimit:     gasLimit,
		logger:       logger,
	}, nil
}

// Address returns the vault contract address.
func (v *Vault) Address() common.Address {
	return v.contractAddr
}

// -- Transaction builders --

// BuildDepositTx builds and signs, without sending, a deposit(amount, lockBlocks) call.
func (v *Vault) BuildDepositTx(ctx context.Context, nonce uint64, gasPrice, amount, lockBlocks *big.Int) (*types.Transaction, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if lockBlocks == nil || lockBlocks.Sign() < 0 {
		return nil, fmt.Errorf("invalid lock period: %v", lockBlocks)
	}

	auth, err := v.getTransactOpts(ctx, nonce, gasPrice)
	if err != nil {
		return nil, err
	}

	tx, err := v.contract.Transact(auth, "deposit", amount, lockBlocks)
	if err != nil {
		return nil, fmt.Errorf("failed to generate deposit Tx: %w", err)
	}
	return tx, nil
}

// BuildWithdrawTx builds and signs, without sending, a withdraw(depositId) call.
func (v *Vault) BuildWithdrawTx(ctx context.Context, nonce uint64, gasPrice, depositID *big.Int) (*types.Transaction, error) {
	if depositID == nil || depositID.Sign() < 0 {
		return nil, fmt.Errorf("invalid deposit id: %v", depositID)
	}

	auth, err := v.getTransactOpts(ctx, nonce, gasPrice)
	if err != nil {
		return nil, err
	}

	tx, err := v.contract.Transact(auth, "withdraw", depositID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate withdraw Tx: %w", err)
	}
	return tx, nil
}

// -- Operations --

// Deposit returns an operation that locks amount for lockBlocks blocks.
func (v *Vault) Deposit(amount, lockBlocks *big.Int) ledger.Operation {
	return func(ctx context.Context) (ledger.OperationResult, error) {
		return v.submit(ctx, func(nonce uint64, gasPrice *big.Int) (*types.Transaction, error) {
			return v.BuildDepositTx(ctx, nonce, gasPrice, amount, lockBlocks)
		})
	}
}

// Withdraw returns an operation that withdraws the deposit with the given id.
func (v *Vault) Withdraw(depositID *big.Int) ledger.Operation {
	return func(ctx context.Context) (ledger.OperationResult, error) {
		return v.submit(ctx, func(nonce uint64, gasPrice *big.Int) (*types.Transaction, error) {
			return v.BuildWithdrawTx(ctx, nonce, gasPrice, depositID)
		})
	}
}

func (v *Vault) submit(ctx context.Context, build func(nonce uint64, gasPrice *big.Int) (*types.Transaction, error)) (ledger.OperationResult, error) {
	if v.signer == nil {
		return ledger.OperationResult{}, ErrSignerRequired
	}

	from := v.signer.Address()
	nonce, err := v.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return ledger.OperationResult{}, fmt.Errorf("failed to get nonce for %s: %w", from.Hex(), err)
	}

	gasPrice := v.gasPrice
	if gasPrice == nil {
		gasPrice, err = v.backend.SuggestGasPrice(ctx)
		if err != nil {
			return ledger.OperationResult{}, fmt.Errorf("failed to suggest gas price: %w", err)
		}
	}

	tx, err := build(nonce, gasPrice)
	if err != nil {
		return ledger.OperationResult{}, err
	}

	if err := v.backend.SendTransaction(ctx, tx); err != nil {
		return ledger.OperationResult{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	v.logger.DebugContext(ctx, "transaction sent", "tx_hash", tx.Hash().Hex(), "nonce", nonce)
	return ledger.OperationResult{TransactionID: tx.Hash().Hex()}, nil
}

// -- Helpers --

// EncodeTx returns the hex-encoded RLP form of tx, suitable for eth_sendRawTransaction.
func EncodeTx(tx *types.Transaction) (string, error) {
	var buf bytes.Buffer
	if err := rlp.Encode(&buf, tx); err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return "0x" + hex.EncodeToString(buf.Bytes()), nil
}

// getTransactOpts creates the auth options for a transaction that is signed but not sent.
func (v *Vault) getTransactOpts(ctx context.Context, nonce uint64, gasPrice *big.Int) (*bind.TransactOpts, error) {
	if v.signer == nil {
		return nil, ErrSignerRequired
	}
	if gasPrice == nil {
		gasPrice = big.NewInt(0)
	}

	opts := signer.TransactOpts(ctx, v.signer, v.chainID)
	opts.Nonce = new(big.Int).SetUint64(nonce)
	opts.Value = big.NewInt(0)
	opts.GasLimit = v.gasLimit
	opts.GasPrice = gasPrice
	return opts, nil
}
