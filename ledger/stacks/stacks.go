// Package stacks reads transaction status from a Stacks API node.
package stacks

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pilacorp/go-savings-sdk/ledger"
	"github.com/pilacorp/go-savings-sdk/ledger/errcode"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

//go:embed tx_schema.json
var txSchemaJSON []byte

var (
	txSchema     *gojsonschema.Schema
	txSchemaErr  error
	txSchemaOnce sync.Once
)

func loadSchema() (*gojsonschema.Schema, error) {
	txSchemaOnce.Do(func() {
		txSchema, txSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(txSchemaJSON))
	})
	return txSchema, txSchemaErr
}

// Transaction is the subset of the /extended/v1/tx response the SDK uses.
type Transaction struct {
	TxID        string   `json:"tx_id"`
	TxStatus    string   `json:"tx_status"`
	TxType      string   `json:"tx_type,omitempty"`
	BlockHeight int64    `json:"block_height,omitempty"`
	TxResult    TxResult `json:"tx_result"`
}

// TxResult holds the Clarity value a contract call returned.
type TxResult struct {
	Hex  string `json:"hex,omitempty"`
	Repr string `json:"repr,omitempty"`
}

// Client is an HTTP client for the Stacks API. It implements ledger.StatusReader.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIKey sends key in the x-api-key header of every request.
func WithAPIKey(key string) Option {
	return func(cl *Client) {
		cl.apiKey = key
	}
}

// NewClient creates a Stacks API client for the node at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("stacks API URL is empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid stacks API URL: %w", err)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ReadStatus fetches the transaction and decodes its status. A transaction the node
// has not indexed yet (404) reads as pending.
func (c *Client) ReadStatus(ctx context.Context, txID string) (ledger.Status, error) {
	tx, err := c.GetTransaction(ctx, txID)
	if err != nil {
		return ledger.Status{}, err
	}
	if tx == nil {
		return ledger.Status{Kind: ledger.StatusPending}, nil
	}

	st := ledger.Status{Kind: ledger.ParseStatusKind(tx.TxStatus)}
	if st.Kind.Rejected() && tx.TxResult.Repr != "" {
		st.Detail = errcode.Describe(tx.TxResult.Repr)
	}
	return st, nil
}

// GetTransaction fetches one transaction. It returns nil, nil when the node answers 404.
func (c *Client) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return nil, fmt.Errorf("transaction id is empty")
	}
	if !strings.HasPrefix(txID, "0x") {
		txID = "0x" + txID
	}

	endpoint := c.baseURL + "/extended/v1/tx/" + url.PathEscape(txID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call transaction endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transaction API returned non-200 status: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction response body: %w", err)
	}

	if err := validate(body); err != nil {
		return nil, err
	}

	var tx Transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction JSON: %w", err)
	}
	return &tx, nil
}

func validate(body []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return fmt.Errorf("failed to load transaction schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("failed to validate transaction response: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("malformed transaction response: %s", strings.Join(errs, "; "))
	}
	return nil
}
