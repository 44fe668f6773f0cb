package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient is the node gateway client used in production.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient creates a gateway client. apiKey may be empty for
// unauthenticated gateways.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gateway error %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}

// LatestBlock returns a fresh block reference for anchoring transfers.
func (c *HTTPClient) LatestBlock(ctx context.Context) (BlockRef, error) {
	data, err := c.doRequest(ctx, "GET", "/v1/blocks/latest", nil)
	if err != nil {
		return BlockRef{}, err
	}

	var ref BlockRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return BlockRef{}, fmt.Errorf("unmarshal: %w", err)
	}
	return ref, nil
}

// Balance returns the spendable balance of address in minor units.
func (c *HTTPClient) Balance(ctx context.Context, address string) (int64, error) {
	data, err := c.doRequest(ctx, "GET", "/v1/accounts/"+address+"/balance", nil)
	if err != nil {
		return 0, err
	}

	var resp struct {
		AmountUnits int64 `json:"amount_units"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("unmarshal: %w", err)
	}
	return resp.AmountUnits, nil
}

// SubmitTransfer broadcasts a signed transfer and returns its signature.
func (c *HTTPClient) SubmitTransfer(ctx context.Context, tx SignedTransfer) (string, error) {
	data, err := c.doRequest(ctx, "POST", "/v1/transactions", tx)
	if err != nil {
		return "", err
	}

	var resp struct {
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("unmarshal: %w", err)
	}
	if resp.Signature == "" {
		return "", fmt.Errorf("gateway returned empty signature")
	}
	return resp.Signature, nil
}

// SignatureStatuses returns confirmation state for a batch of signatures.
func (c *HTTPClient) SignatureStatuses(ctx context.Context, signatures []string) ([]SigStatus, error) {
	body := map[string][]string{"signatures": signatures}
	data, err := c.doRequest(ctx, "POST", "/v1/transactions/statuses", body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Statuses []SigStatus `json:"statuses"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return resp.Statuses, nil
}

// Transaction fetches the full detail of a finalized transaction.
func (c *HTTPClient) Transaction(ctx context.Context, signature string) (*TxDetail, error) {
	data, err := c.doRequest(ctx, "GET", "/v1/transactions/"+signature, nil)
	if err != nil {
		return nil, err
	}

	var detail TxDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return &detail, nil
}

// EstimateFee returns the expected per-transfer fee. Gateways that do not
// implement the endpoint get the flat default.
func (c *HTTPClient) EstimateFee(ctx context.Context) (int64, error) {
	data, err := c.doRequest(ctx, "GET", "/v1/fees/estimate", nil)
	if err != nil {
		return EstimatedFeeUnits, nil
	}

	var resp struct {
		FeeUnits int64 `json:"fee_units"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.FeeUnits <= 0 {
		return EstimatedFeeUnits, nil
	}
	return resp.FeeUnits, nil
}
