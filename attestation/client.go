package attestation

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

type response struct {
	Status      Status `json:"status"`
	Attestation string `json:"attestation,omitempty"`
}

// Client queries the external attestation service for a message hash.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetAttestation returns the service-reported status for the message hash,
// with the decoded attestation bytes once the status is complete. Non-2xx
// responses and undecodable payloads are returned as errors so the poller can
// treat them as transient transport failures.
func (c *Client) GetAttestation(ctx context.Context, msgHash common.Hash) (Status, []byte, error) {
	url := fmt.Sprintf("%s/attestations/%s", c.baseURL, msgHash.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("can't build attestation request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("can't request attestation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("attestation service returned status %d", resp.StatusCode)
	}

	var body response
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", nil, fmt.Errorf("can't decode attestation response: %w", err)
	}

	switch body.Status {
	case StatusPending:
		return StatusPending, nil, nil
	case StatusComplete:
		attestation, err := hex.DecodeString(strings.TrimPrefix(body.Attestation, "0x"))
		if err != nil {
			return "", nil, fmt.Errorf("can't decode attestation hex: %w", err)
		}
		if len(attestation) == 0 {
			return "", nil, fmt.Errorf("attestation service returned complete status without attestation")
		}
		return StatusComplete, attestation, nil
	case StatusError:
		return StatusError, nil, fmt.Errorf("attestation service reported an error for the message")
	default:
		return "", nil, fmt.Errorf("attestation service returned unknown status %q", body.Status)
	}
}
