package contract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/ratelimit"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/retry"
)

// fakeRPC emulates the subset of Soroban RPC the client uses and a contract
// that maps epoch -> 32 byte hash.
type fakeRPC struct {
	t           *testing.T
	account     *keypair.Full
	mu          sync.Mutex
	stored      map[uint64][]byte
	pending     map[uint64][]byte
	sendFails   int
	sendCalls   int
	simulateErr string
}

func newFakeRPC(t *testing.T, account *keypair.Full) *fakeRPC {
	return &fakeRPC{t: t, account: account, stored: map[uint64][]byte{}, pending: map[uint64][]byte{}}
}

func (f *fakeRPC) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     uint64          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))

	f.mu.Lock()
	defer f.mu.Unlock()

	var result any
	switch req.Method {
	case "getLedgerEntries":
		var accountID xdr.AccountId
		require.NoError(f.t, accountID.SetAddress(f.account.Address()))
		entry, err := xdr.MarshalBase64(xdr.LedgerEntryData{
			Type:    xdr.LedgerEntryTypeAccount,
			Account: &xdr.AccountEntry{AccountId: accountID, Balance: 100_0000000, SeqNum: 41},
		})
		require.NoError(f.t, err)
		result = map[string]any{"entries": []map[string]any{{"key": "k", "xdr": entry, "lastModifiedLedgerSeq": 5}}, "latestLedger": 10}

	case "simulateTransaction":
		if f.simulateErr != "" {
			result = map[string]any{"error": f.simulateErr, "latestLedger": 10}
			break
		}
		fn, epoch, hash := f.decodeInvocation(req.Params)
		ret := xdr.ScVal{Type: xdr.ScValTypeScvVoid}
		if fn == fnGetSnapshot {
			if stored, ok := f.stored[epoch]; ok {
				ret = bytesVal(stored)
			}
		} else {
			f.pending[epoch] = hash
		}
		retB64, err := xdr.MarshalBase64(ret)
		require.NoError(f.t, err)
		data, err := xdr.MarshalBase64(xdr.SorobanTransactionData{})
		require.NoError(f.t, err)
		result = map[string]any{
			"transactionData": data,
			"minResourceFee":  "1000",
			"results":         []map[string]any{{"auth": []string{}, "xdr": retB64}},
			"latestLedger":    10,
		}

	case "sendTransaction":
		f.sendCalls++
		if f.sendCalls <= f.sendFails {
			w.WriteHeader(http.StatusGatewayTimeout)
			return
		}
		_, epoch, hash := f.decodeInvocation(req.Params)
		f.stored[epoch] = hash
		result = map[string]any{"status": "PENDING", "hash": "deadbeef", "latestLedger": 11, "latestLedgerCloseTime": "1700000000"}

	case "getTransaction":
		result = map[string]any{"status": "SUCCESS", "ledger": 12, "createdAt": "1700000005", "latestLedger": 12, "latestLedgerCloseTime": "1700000005"}

	default:
		f.t.Errorf("unexpected method %s", req.Method)
	}

	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func (f *fakeRPC) decodeInvocation(params json.RawMessage) (string, uint64, []byte) {
	var p struct {
		Transaction string `json:"transaction"`
	}
	require.NoError(f.t, json.Unmarshal(params, &p))
	var env xdr.TransactionEnvelope
	require.NoError(f.t, xdr.SafeUnmarshalBase64(p.Transaction, &env))

	ops := env.Operations()
	require.Len(f.t, ops, 1)
	invoke := ops[0].Body.InvokeHostFunctionOp.HostFunction.InvokeContract
	args := invoke.Args
	epoch := uint64(*args[0].U64)
	var hash []byte
	if len(args) > 1 {
		hash = []byte(*args[1].Bytes)
	}
	return string(invoke.FunctionName), epoch, hash
}

func testContractID(t *testing.T) string {
	raw := make([]byte, 32)
	raw[0] = 7
	id, err := strkey.Encode(strkey.VersionByteContract, raw)
	require.NoError(t, err)
	return id
}

func newTestClient(t *testing.T, fake *fakeRPC, maxAttempts int) *Client {
	t.Helper()
	return newTestClientWith(t, fake, maxAttempts, func(srv *httptest.Server) *http.Client { return srv.Client() })
}

func newTestClientWith(t *testing.T, fake *fakeRPC, maxAttempts int, httpClient func(*httptest.Server) *http.Client) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		RPCURL:            srv.URL,
		ContractID:        testContractID(t),
		NetworkPassphrase: network.TestNetworkPassphrase,
		SecretKey:         fake.account.Seed(),
		MaxAttempts:       maxAttempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		PollInterval:      time.Millisecond,
		PollTimeout:       time.Second,
	}, httpClient(srv), zerolog.Nop())
	require.NoError(t, err)
	return client
}

func TestSubmitSnapshotRetriesTimeouts(t *testing.T) {
	fake := newFakeRPC(t, keypair.MustRandom())
	fake.sendFails = 3
	client := newTestClient(t, fake, 5)

	var hash [32]byte
	copy(hash[:], []byte("0123456789abcdef0123456789abcdef"))

	res, err := client.SubmitSnapshot(context.Background(), 42, hash)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, "deadbeef", res.TransactionHash)
	assert.Equal(t, uint32(12), res.Ledger)
	assert.Equal(t, time.Unix(1700000005, 0).UTC(), res.ContractTimestamp)

	got, found, err := client.GetSnapshot(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, hash, got)
}

func TestSubmitSnapshotExhaustsAttempts(t *testing.T) {
	fake := newFakeRPC(t, keypair.MustRandom())
	fake.sendFails = 100
	client := newTestClient(t, fake, 3)

	res, err := client.SubmitSnapshot(context.Background(), 1, [32]byte{1})
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, fake.sendCalls)
}

func TestSimulationErrorIsTerminal(t *testing.T) {
	fake := newFakeRPC(t, keypair.MustRandom())
	fake.simulateErr = "HostError: Error(Contract, #1)"
	client := newTestClient(t, fake, 5)

	res, err := client.SubmitSnapshot(context.Background(), 1, [32]byte{1})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 1, res.Attempts)

	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, KindTerminal, ce.Kind)
}

func TestLocalRateLimitIsNotRetried(t *testing.T) {
	fake := newFakeRPC(t, keypair.MustRandom())
	limiter := ratelimit.New(ratelimit.Config{RequestsPerMinute: 1, Burst: 1, QueueSize: 0})
	client := newTestClientWith(t, fake, 5, func(*httptest.Server) *http.Client {
		return ratelimit.NewHTTPClient(limiter, time.Second)
	})

	res, err := client.SubmitSnapshot(context.Background(), 1, [32]byte{1})
	require.ErrorIs(t, err, ratelimit.ErrRateLimitExceeded)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 1, res.Attempts)
	assert.Zero(t, fake.sendCalls)
}

func TestGetSnapshotMissingEpoch(t *testing.T) {
	fake := newFakeRPC(t, keypair.MustRandom())
	client := newTestClient(t, fake, 2)

	_, found, err := client.GetSnapshot(context.Background(), 99)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNewClientRejectsBadConfig(t *testing.T) {
	kp := keypair.MustRandom()
	base := Config{
		RPCURL:            "http://localhost:8000",
		ContractID:        testContractID(t),
		NetworkPassphrase: network.TestNetworkPassphrase,
		SecretKey:         kp.Seed(),
	}

	_, err := NewClient(base, nil, zerolog.Nop())
	require.NoError(t, err)

	badID := base
	badID.ContractID = kp.Address()
	_, err = NewClient(badID, nil, zerolog.Nop())
	assert.Error(t, err)
	assert.False(t, IsRetryable(err))

	badKey := base
	badKey.SecretKey = "SNOTAKEY"
	_, err = NewClient(badKey, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestDecodeHash(t *testing.T) {
	_, found, err := decodeHash(xdr.ScVal{Type: xdr.ScValTypeScvVoid})
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = decodeHash(bytesVal([]byte{1, 2, 3}))
	assert.Error(t, err)

	_, _, err = decodeHash(u64Val(3))
	assert.Error(t, err)
}
