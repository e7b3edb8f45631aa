package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/ratelimit"
)

const jsonRPCVersion = "2.0"

// JSON-RPC error codes treated as transient.
const (
	codeInternalError = -32603
	codeServerBusy    = -32000
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcClient struct {
	url    string
	http   *http.Client
	nextID atomic.Uint64
}

func (c *rpcClient) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return terminal(method, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return terminal(method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Local backpressure goes back to the caller instead of into the
		// retry loop.
		var throttled *ratelimit.ThrottledError
		if errors.Is(err, ratelimit.ErrRateLimitExceeded) || errors.As(err, &throttled) {
			return terminal(method, err)
		}
		return retryable(method, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return retryable(method, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return retryable(method, fmt.Errorf("http %d: %s", resp.StatusCode, snippet(payload)))
	case resp.StatusCode != http.StatusOK:
		return terminal(method, fmt.Errorf("http %d: %s", resp.StatusCode, snippet(payload)))
	}

	var envelope rpcResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return retryable(method, fmt.Errorf("decode response: %w", err))
	}
	if envelope.Error != nil {
		if envelope.Error.Code == codeInternalError || envelope.Error.Code == codeServerBusy {
			return retryable(method, envelope.Error)
		}
		return terminal(method, envelope.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return terminal(method, fmt.Errorf("decode result: %w", err))
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}

type getLedgerEntriesParams struct {
	Keys []string `json:"keys"`
}

type ledgerEntryResult struct {
	Key                string  `json:"key"`
	XDR                string  `json:"xdr"`
	LastModifiedLedger uint32  `json:"lastModifiedLedgerSeq"`
	LiveUntilLedgerSeq *uint32 `json:"liveUntilLedgerSeq,omitempty"`
}

type getLedgerEntriesResult struct {
	Entries      []ledgerEntryResult `json:"entries"`
	LatestLedger uint32              `json:"latestLedger"`
}

type transactionParams struct {
	Transaction string `json:"transaction"`
}

type simulateHostFunctionResult struct {
	Auth []string `json:"auth"`
	XDR  string   `json:"xdr"`
}

type simulateResult struct {
	Error           string                       `json:"error,omitempty"`
	TransactionData string                       `json:"transactionData"`
	MinResourceFee  string                       `json:"minResourceFee"`
	Results         []simulateHostFunctionResult `json:"results"`
	Events          []string                     `json:"events"`
	LatestLedger    uint32                       `json:"latestLedger"`
	RestorePreamble json.RawMessage              `json:"restorePreamble,omitempty"`
}

// sendTransaction statuses.
const (
	sendPending       = "PENDING"
	sendDuplicate     = "DUPLICATE"
	sendTryAgainLater = "TRY_AGAIN_LATER"
	sendError         = "ERROR"
)

type sendResult struct {
	Status                string `json:"status"`
	Hash                  string `json:"hash"`
	LatestLedger          uint32 `json:"latestLedger"`
	LatestLedgerCloseTime int64  `json:"latestLedgerCloseTime,string"`
	ErrorResultXDR        string `json:"errorResultXdr,omitempty"`
}

// getTransaction statuses.
const (
	txSuccess  = "SUCCESS"
	txNotFound = "NOT_FOUND"
	txFailed   = "FAILED"
)

type getTransactionParams struct {
	Hash string `json:"hash"`
}

type getTransactionResult struct {
	Status                string `json:"status"`
	LatestLedger          uint32 `json:"latestLedger"`
	LatestLedgerCloseTime int64  `json:"latestLedgerCloseTime,string"`
	Ledger                uint32 `json:"ledger,omitempty"`
	CreatedAt             int64  `json:"createdAt,string,omitempty"`
	ApplicationOrder      int32  `json:"applicationOrder,omitempty"`
	EnvelopeXDR           string `json:"envelopeXdr,omitempty"`
	ResultXDR             string `json:"resultXdr,omitempty"`
	ResultMetaXDR         string `json:"resultMetaXdr,omitempty"`
}
