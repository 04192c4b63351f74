package oracle

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/klingon-exchange/cwpd/internal/depositmodel"
)

// DefaultRPCTimeout is the per-request timeout applied to every call made
// by RPCClient, matching the original daemon's default.
const DefaultRPCTimeout = 10 * time.Second

// RPCClient is the net/http-backed LedgerClient used in production. Its
// wire format is intentionally unspecified ("HTTP client details" are out
// of scope): it speaks a minimal JSON-over-HTTP protocol against a single
// endpoint, which is all this package needs from the surface it depends
// on. No third-party HTTP client is warranted for this.
type RPCClient struct {
	baseURL string
	http    *http.Client
}

// NewRPCClient builds an RPCClient against baseURL (typically
// LEPUS_RPC_URL). A nil httpClient is replaced by one with
// DefaultRPCTimeout; a non-nil httpClient is used as given, with
// whatever timeout it carries.
func NewRPCClient(baseURL string, httpClient *http.Client) *RPCClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRPCTimeout}
	}
	return &RPCClient{baseURL: baseURL, http: httpClient}
}

type ledgerSeqsResponse struct {
	Ledgers []uint32 `json:"ledgers"`
}

// LedgerSeqsWithDeposits asks the RPC endpoint for ledger sequence
// numbers at or after sinceLedger that carry a DEPOSIT event for
// contractAddr.
func (c *RPCClient) LedgerSeqsWithDeposits(ctx context.Context, sinceLedger uint32, contractAddr [32]byte) ([]uint32, error) {
	url := fmt.Sprintf("%s/ledgers-with-deposits?since=%d&contract=%s",
		c.baseURL, sinceLedger, hex.EncodeToString(contractAddr[:]))

	var out ledgerSeqsResponse
	if err := c.getJSON(ctx, url, &out); err != nil {
		return nil, fmt.Errorf("oracle: query ledgers with deposits: %w", err)
	}
	return out.Ledgers, nil
}

// FetchProofBundle retrieves the consensus proof bundle for ledgerSeq.
func (c *RPCClient) FetchProofBundle(ctx context.Context, ledgerSeq uint32) (*depositmodel.Proof, error) {
	url := fmt.Sprintf("%s/proof-bundle?ledger=%d", c.baseURL, ledgerSeq)

	var proof depositmodel.Proof
	if err := c.getJSON(ctx, url, &proof); err != nil {
		return nil, fmt.Errorf("oracle: fetch proof bundle for ledger %d: %w", ledgerSeq, err)
	}
	return &proof, nil
}

func (c *RPCClient) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		buf := new(bytes.Buffer)
		buf.ReadFrom(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, buf.String())
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
