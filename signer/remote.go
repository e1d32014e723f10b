package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RemoteProvider signs hashes through a remote signing API, so the key never
// leaves the signing service.
type RemoteProvider struct {
	endpoint string
	apiKey   string
	address  common.Address
	client   *http.Client
}

// NewRemoteProvider creates a RemoteProvider. address is the account the remote key
// controls and becomes the sender of every transaction it signs.
func NewRemoteProvider(endpoint, apiKey, address string) (*RemoteProvider, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("endpoint required")
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid signer address %q", address)
	}

	return &RemoteProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		address:  common.HexToAddress(address),
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Sign posts the digest to the remote API and returns the 65-byte signature.
func (s *RemoteProvider) Sign(digest []byte) ([]byte, error) {
	if len(digest) != common.HashLength {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", common.HashLength, len(digest))
	}

	reqBody, err := json.Marshal(map[string]any{
		"payload_hex": hex.EncodeToString(digest),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, s.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote signer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote signer http %d", resp.StatusCode)
	}

	var out struct {
		SignatureHex string `json:"signature_hex"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode remote signer response: %w", err)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(out.SignatureHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("invalid signature length %d", len(sig))
	}

	return sig, nil
}

// Address returns the configured account.
func (s *RemoteProvider) Address() common.Address {
	return s.address
}
