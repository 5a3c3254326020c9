// Package braintree adapts the payment.Gateway boundary to a
// Braintree-style processor REST API. The adapter is deliberately thin:
// requests are synchronous, failures are reported and never retried here.
package braintree

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/gallery-orders/internal/domain/payment"
)

// Environment base URLs. Production must be opted into explicitly.
const (
	SandboxURL    = "https://api.sandbox.braintreegateway.com"
	ProductionURL = "https://api.braintreegateway.com"
)

// Config carries the processor credentials. Injected explicitly; nothing
// in this package reads ambient process state.
type Config struct {
	BaseURL    string
	MerchantID string
	PublicKey  string
	PrivateKey string
	Timeout    time.Duration
}

var _ payment.Gateway = (*Client)(nil)

// Client implements payment.Gateway over HTTP.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a gateway client from the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

// saleRequest is the wire form of an authorization. Settlement is always
// deferred; capture happens later via SubmitForSettlement.
type saleRequest struct {
	Amount             string      `json:"amount"`
	PaymentMethodNonce string      `json:"payment_method_nonce"`
	Options            saleOptions `json:"options"`
}

type saleOptions struct {
	SubmitForSettlement bool `json:"submit_for_settlement"`
}

type settleRequest struct {
	Amount string `json:"amount"`
}

// transactionResponse is the processor's envelope for all transaction
// operations.
type transactionResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Transaction struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"transaction"`
}

// Sale authorizes amount against the payment method identified by nonce.
func (c *Client) Sale(ctx context.Context, amount decimal.Decimal, nonce string) (payment.TransactionResult, error) {
	body := saleRequest{
		Amount:             amount.StringFixed(2),
		PaymentMethodNonce: nonce,
		Options:            saleOptions{SubmitForSettlement: false},
	}
	return c.call(ctx, http.MethodPost, "/transactions", body)
}

// Void cancels an un-settled authorization.
func (c *Client) Void(ctx context.Context, transactionID string) (payment.TransactionResult, error) {
	return c.call(ctx, http.MethodPut, "/transactions/"+transactionID+"/void", nil)
}

// Refund reverses a settled transaction.
func (c *Client) Refund(ctx context.Context, transactionID string) (payment.TransactionResult, error) {
	return c.call(ctx, http.MethodPost, "/transactions/"+transactionID+"/refund", nil)
}

// SubmitForSettlement captures a previously authorized amount.
func (c *Client) SubmitForSettlement(ctx context.Context, transactionID string, amount decimal.Decimal) (payment.TransactionResult, error) {
	body := settleRequest{Amount: amount.StringFixed(2)}
	return c.call(ctx, http.MethodPut, "/transactions/"+transactionID+"/submit_for_settlement", body)
}

// call performs one processor request. Processor refusals come back as
// Success=false results; only transport and decoding problems are errors.
func (c *Client) call(ctx context.Context, method, path string, body any) (payment.TransactionResult, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return payment.TransactionResult{}, errors.Wrap(err, "encode request")
		}
	}

	url := c.cfg.BaseURL + "/merchants/" + c.cfg.MerchantID + path
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return payment.TransactionResult{}, errors.Wrap(err, "create request")
	}
	req.SetBasicAuth(c.cfg.PublicKey, c.cfg.PrivateKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return payment.TransactionResult{}, errors.Wrap(err, "gateway request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return payment.TransactionResult{}, errors.Errorf("gateway returned %s", resp.Status)
	}

	var tr transactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return payment.TransactionResult{}, errors.Wrap(err, "decode response")
	}

	return payment.TransactionResult{
		Success:       tr.Success,
		TransactionID: tr.Transaction.ID,
		Message:       tr.Message,
	}, nil
}
