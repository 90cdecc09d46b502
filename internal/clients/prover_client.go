package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ProverClient calls the ledger-inclusion proof service. The prover
// attests that an XRPL transaction is included in a validated ledger;
// the destination chain's light client verifies the attestation before
// minting.
type ProverClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewProverClient creates a client for the proof service
func NewProverClient(baseURL string) *ProverClient {
	return &ProverClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // proof generation is slow
		},
	}
}

type proveRequest struct {
	TxHash string `json:"tx_hash"`
}

type proveResponse struct {
	Proof string `json:"proof"`
	Error string `json:"error"`
}

// GenerateProof requests an inclusion proof for a validated transaction
func (c *ProverClient) GenerateProof(ctx context.Context, xrplTxHash string) ([]byte, error) {
	body, err := json.Marshal(proveRequest{TxHash: xrplTxHash})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/prove", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prover request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read prover response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prover returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed proveResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("malformed prover response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("prover error: %s", parsed.Error)
	}
	if parsed.Proof == "" {
		return nil, fmt.Errorf("prover returned an empty proof for %s", xrplTxHash)
	}
	return []byte(parsed.Proof), nil
}
