// Package signer signs vault transactions on behalf of one Ethereum account.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrWrongAccount is returned when a transaction is to be signed for an account the
// provider does not control.
var ErrWrongAccount = errors.New("signer does not control the sending account")

// Provider signs 32-byte digests for a single account.
type Provider interface {
	Sign(digest []byte) ([]byte, error)
	Address() common.Address
}

// KeyProvider signs with a secp256k1 key held in memory.
type KeyProvider struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewKeyProvider parses a hex private key, with or without 0x prefix.
func NewKeyProvider(hexKey string) (*KeyProvider, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &KeyProvider{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Sign returns the 65-byte [R || S || V] signature of digest, V in {0, 1}.
func (p *KeyProvider) Sign(digest []byte) ([]byte, error) {
	if len(digest) != common.HashLength {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", common.HashLength, len(digest))
	}
	sig, err := crypto.Sign(digest, p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	return sig, nil
}

// Address returns the account of the key.
func (p *KeyProvider) Address() common.Address {
	return p.addr
}

// SignTx signs tx for chainID with EIP-155 replay protection.
func SignTx(p Provider, chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	eip155 := types.NewEIP155Signer(chainID)
	sig, err := p.Sign(eip155.Hash(tx).Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx.WithSignature(eip155, sig)
}

// TransactOpts returns bind options that send from p's account and sign with p.
// The transaction is built but never broadcast by bind: NoSend is set.
func TransactOpts(ctx context.Context, p Provider, chainID *big.Int) *bind.TransactOpts {
	from := p.Address()
	return &bind.TransactOpts{
		From:    from,
		Context: ctx,
		NoSend:  true,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if addr != from {
				return nil, fmt.Errorf("%w: %s", ErrWrongAccount, addr.Hex())
			}
			return SignTx(p, chainID, tx)
		},
	}
}
