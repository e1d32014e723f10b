package evm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pilacorp/go-savings-sdk/ledger"
	"github.com/pilacorp/go-savings-sdk/ledger/errcode"
)

// ReadStatus reads the receipt of txID. A transaction without a receipt is pending.
// A reverted transaction is replayed to recover the revert reason.
func (v *Vault) ReadStatus(ctx context.Context, txID string) (ledger.Status, error) {
	hash, err := parseTxHash(txID)
	if err != nil {
		return ledger.Status{}, err
	}

	receipt, err := v.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return ledger.Status{Kind: ledger.StatusPending}, nil
	}
	if err != nil {
		return ledger.Status{}, fmt.Errorf("failed to get receipt for %s: %w", txID, err)
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		return ledger.Status{Kind: ledger.StatusSuccess}, nil
	}
	return ledger.Status{
		Kind:   ledger.StatusRejectedByResponse,
		Detail: v.revertReason(ctx, hash, receipt),
	}, nil
}

// DepositID returns the id assigned by the Deposited event of a confirmed deposit.
func (v *Vault) DepositID(ctx context.Context, txID string) (*big.Int, error) {
	hash, err := parseTxHash(txID)
	if err != nil {
		return nil, err
	}

	receipt, err := v.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt for %s: %w", txID, err)
	}

	event := v.abi.Events["Deposited"]
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != v.contractAddr || len(lg.Topics) < 3 || lg.Topics[0] != event.ID {
			continue
		}
		return new(big.Int).SetBytes(lg.Topics[2].Bytes()), nil
	}
	return nil, fmt.Errorf("no Deposited event in %s", txID)
}

// revertReason replays the transaction against the parent block state. It returns
// an empty string when the reason cannot be recovered.
func (v *Vault) revertReason(ctx context.Context, hash common.Hash, receipt *types.Receipt) string {
	tx, _, err := v.backend.TransactionByHash(ctx, hash)
	if err != nil {
		v.logger.WarnContext(ctx, "failed to fetch reverted transaction", "tx_hash", hash.Hex(), "error", err)
		return ""
	}

	from, err := types.Sender(types.LatestSignerForChainID(v.chainID), tx)
	if err != nil {
		v.logger.WarnContext(ctx, "failed to recover sender", "tx_hash", hash.Hex(), "error", err)
		return ""
	}

	var block *big.Int
	if receipt.BlockNumber != nil && receipt.BlockNumber.Sign() > 0 {
		block = new(big.Int).Sub(receipt.BlockNumber, big.NewInt(1))
	}

	_, err = v.backend.CallContract(ctx, ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}, block)
	if err == nil {
		return ""
	}

	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return err.Error()
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok {
		return err.Error()
	}
	data, decodeErr := hexutil.Decode(raw)
	if decodeErr != nil {
		return err.Error()
	}
	if reason := v.decodeRevert(data); reason != "" {
		return reason
	}
	return err.Error()
}

// decodeRevert decodes VaultError(uint256) and Error(string) revert payloads.
func (v *Vault) decodeRevert(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	if vaultErr, ok := v.abi.Errors["VaultError"]; ok && bytes.Equal(data[:4], vaultErr.ID[:4]) {
		values, err := vaultErr.Inputs.Unpack(data[4:])
		if err == nil && len(values) == 1 {
			if code, ok := values[0].(*big.Int); ok && code.IsInt64() {
				return errcode.Lookup(int(code.Int64()))
			}
		}
		return ""
	}

	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	return ""
}

func parseTxHash(txID string) (common.Hash, error) {
	if !strings.HasPrefix(txID, "0x") {
		txID = "0x" + txID
	}
	b, err := hexutil.Decode(txID)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid transaction hash: %q", txID)
	}
	return common.BytesToHash(b), nil
}
