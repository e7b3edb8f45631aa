package contract

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/retry"
)

// Contract entry points.
const (
	fnSubmitSnapshot = "submit_snapshot"
	fnGetSnapshot    = "get_snapshot"
)

// ErrSourceAccountMissing is returned when the signing account does not exist on the network.
var ErrSourceAccountMissing = errors.New("source account not found")

// Config parameterises the Soroban client.
type Config struct {
	RPCURL            string
	ContractID        string
	NetworkPassphrase string
	SecretKey         string
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	PollInterval      time.Duration
	PollTimeout       time.Duration
	BaseFee           int64
	TxTimeout         time.Duration
}

// SubmissionResult describes a confirmed snapshot submission.
type SubmissionResult struct {
	TransactionHash   string
	Ledger            uint32
	ContractTimestamp time.Time
	Attempts          int
}

// Client submits and reads snapshot hashes on the attestation contract.
type Client struct {
	cfg     Config
	rpc     *rpcClient
	kp      *keypair.Full
	address xdr.ScAddress
	policy  retry.Policy
	logger  zerolog.Logger
}

// NewClient validates configuration and builds a client. Invalid contract
// ids and keys are terminal errors.
func NewClient(cfg Config, httpClient *http.Client, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, terminal("configure", errors.New("rpc url is required"))
	}
	if cfg.NetworkPassphrase == "" {
		return nil, terminal("configure", errors.New("network passphrase is required"))
	}
	address, err := contractAddress(cfg.ContractID)
	if err != nil {
		return nil, terminal("configure", err)
	}
	kp, err := keypair.ParseFull(cfg.SecretKey)
	if err != nil {
		return nil, terminal("configure", fmt.Errorf("parse secret key: %w", err))
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 60 * time.Second
	}
	if cfg.BaseFee < txnbuild.MinBaseFee {
		cfg.BaseFee = txnbuild.MinBaseFee
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 5 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		cfg:     cfg,
		rpc:     &rpcClient{url: cfg.RPCURL, http: httpClient},
		kp:      kp,
		address: address,
		policy: retry.Policy{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.InitialBackoff,
			MaxDelay:     cfg.MaxBackoff,
		},
		logger: logger.With().Str("component", "contract").Str("contract_id", cfg.ContractID).Logger(),
	}, nil
}

// contractAddress decodes a C... strkey into an ScAddress.
func contractAddress(id string) (xdr.ScAddress, error) {
	raw, err := strkey.Decode(strkey.VersionByteContract, id)
	if err != nil {
		return xdr.ScAddress{}, fmt.Errorf("invalid contract id %q: %w", id, err)
	}
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, int32(xdr.ScAddressTypeScAddressTypeContract))
	buf.Write(raw)

	var address xdr.ScAddress
	if err := xdr.SafeUnmarshal(buf.Bytes(), &address); err != nil {
		return xdr.ScAddress{}, fmt.Errorf("encode contract address: %w", err)
	}
	return address, nil
}

// SubmitSnapshot records hash under epoch on chain, retrying transient
// failures with exponential backoff.
func (c *Client) SubmitSnapshot(ctx context.Context, epoch uint64, hash [32]byte) (SubmissionResult, error) {
	var result SubmissionResult
	args := []xdr.ScVal{u64Val(epoch), bytesVal(hash[:])}

	attempts, err := retry.Do(ctx, c.policy, IsRetryable,
		func(step retry.Step) {
			c.logger.Warn().Err(step.Err).Uint64("epoch", epoch).Int("attempt", step.Attempt).Dur("backoff", step.Delay).Msg("snapshot submission failed; retrying")
		},
		func(ctx context.Context, attempt int) error {
			res, err := c.submitOnce(ctx, fnSubmitSnapshot, args)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	result.Attempts = attempts
	if err != nil {
		return result, err
	}

	c.logger.Info().Uint64("epoch", epoch).Str("tx_hash", result.TransactionHash).Uint32("ledger", result.Ledger).Int("attempts", attempts).Msg("snapshot submitted")
	return result, nil
}

// GetSnapshot reads the hash stored for epoch through a simulated call.
// found is false when the contract holds no value for the epoch.
func (c *Client) GetSnapshot(ctx context.Context, epoch uint64) ([32]byte, bool, error) {
	var (
		out   [32]byte
		found bool
	)
	_, err := retry.Do(ctx, c.policy, IsRetryable, nil, func(ctx context.Context, attempt int) error {
		val, err := c.read(ctx, fnGetSnapshot, []xdr.ScVal{u64Val(epoch)})
		if err != nil {
			return err
		}
		out, found, err = decodeHash(val)
		return err
	})
	if err != nil {
		return [32]byte{}, false, err
	}
	return out, found, nil
}

func decodeHash(val xdr.ScVal) ([32]byte, bool, error) {
	var out [32]byte
	switch val.Type {
	case xdr.ScValTypeScvVoid:
		return out, false, nil
	case xdr.ScValTypeScvBytes:
		b, _ := val.GetBytes()
		if len(b) != len(out) {
			return out, false, terminal(fnGetSnapshot, fmt.Errorf("stored hash has %d bytes", len(b)))
		}
		copy(out[:], b)
		return out, true, nil
	default:
		return out, false, terminal(fnGetSnapshot, fmt.Errorf("unexpected return type %s", val.Type))
	}
}

func (c *Client) read(ctx context.Context, fn string, args []xdr.ScVal) (xdr.ScVal, error) {
	seq, err := c.accountSequence(ctx)
	if err != nil {
		return xdr.ScVal{}, err
	}
	tx, err := c.buildInvoke(seq, fn, args, nil)
	if err != nil {
		return xdr.ScVal{}, err
	}
	sim, err := c.simulate(ctx, fn, tx)
	if err != nil {
		return xdr.ScVal{}, err
	}
	if len(sim.Results) == 0 {
		return xdr.ScVal{}, terminal(fn, errors.New("simulation returned no result"))
	}
	var val xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(sim.Results[0].XDR, &val); err != nil {
		return xdr.ScVal{}, terminal(fn, fmt.Errorf("decode return value: %w", err))
	}
	return val, nil
}

func (c *Client) submitOnce(ctx context.Context, fn string, args []xdr.ScVal) (SubmissionResult, error) {
	seq, err := c.accountSequence(ctx)
	if err != nil {
		return SubmissionResult{}, err
	}
	draft, err := c.buildInvoke(seq, fn, args, nil)
	if err != nil {
		return SubmissionResult{}, err
	}
	sim, err := c.simulate(ctx, fn, draft)
	if err != nil {
		return SubmissionResult{}, err
	}
	prepared, err := c.buildInvoke(seq, fn, args, &sim)
	if err != nil {
		return SubmissionResult{}, err
	}
	signed, err := prepared.Sign(c.cfg.NetworkPassphrase, c.kp)
	if err != nil {
		return SubmissionResult{}, terminal(fn, fmt.Errorf("sign: %w", err))
	}
	envelope, err := signed.Base64()
	if err != nil {
		return SubmissionResult{}, terminal(fn, fmt.Errorf("encode envelope: %w", err))
	}
	txHash, err := signed.HashHex(c.cfg.NetworkPassphrase)
	if err != nil {
		return SubmissionResult{}, terminal(fn, fmt.Errorf("hash transaction: %w", err))
	}

	var sent sendResult
	if err := c.rpc.call(ctx, "sendTransaction", transactionParams{Transaction: envelope}, &sent); err != nil {
		return SubmissionResult{}, err
	}
	switch sent.Status {
	case sendPending, sendDuplicate:
	case sendTryAgainLater:
		return SubmissionResult{}, retryable("sendTransaction", errors.New("node asked to try again later"))
	case sendError:
		return SubmissionResult{}, classifySendError(sent.ErrorResultXDR)
	default:
		return SubmissionResult{}, terminal("sendTransaction", fmt.Errorf("unexpected status %q", sent.Status))
	}
	if sent.Hash != "" {
		txHash = sent.Hash
	}

	return c.awaitTransaction(ctx, txHash)
}

func classifySendError(resultXDR string) error {
	var res xdr.TransactionResult
	if err := xdr.SafeUnmarshalBase64(resultXDR, &res); err != nil {
		return terminal("sendTransaction", fmt.Errorf("rejected (undecodable result): %w", err))
	}
	code := res.Result.Code
	switch code {
	case xdr.TransactionResultCodeTxBadSeq, xdr.TransactionResultCodeTxInsufficientFee, xdr.TransactionResultCodeTxTooLate:
		return retryable("sendTransaction", fmt.Errorf("rejected: %s", code))
	default:
		return terminal("sendTransaction", fmt.Errorf("rejected: %s", code))
	}
}

func (c *Client) awaitTransaction(ctx context.Context, txHash string) (SubmissionResult, error) {
	deadline := time.NewTimer(c.cfg.PollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var res getTransactionResult
		if err := c.rpc.call(ctx, "getTransaction", getTransactionParams{Hash: txHash}, &res); err != nil && !IsRetryable(err) {
			return SubmissionResult{}, err
		} else if err == nil {
			switch res.Status {
			case txSuccess:
				return SubmissionResult{
					TransactionHash:   txHash,
					Ledger:            res.Ledger,
					ContractTimestamp: time.Unix(res.CreatedAt, 0).UTC(),
				}, nil
			case txFailed:
				return SubmissionResult{}, terminal("getTransaction", fmt.Errorf("transaction %s failed on chain", txHash))
			case txNotFound:
			default:
				return SubmissionResult{}, terminal("getTransaction", fmt.Errorf("unexpected status %q", res.Status))
			}
		}

		select {
		case <-ctx.Done():
			return SubmissionResult{}, ctx.Err()
		case <-deadline.C:
			return SubmissionResult{}, retryable("getTransaction", fmt.Errorf("transaction %s not confirmed within %s", txHash, c.cfg.PollTimeout))
		case <-ticker.C:
		}
	}
}

func (c *Client) accountSequence(ctx context.Context) (int64, error) {
	var accountID xdr.AccountId
	if err := accountID.SetAddress(c.kp.Address()); err != nil {
		return 0, terminal("getLedgerEntries", err)
	}
	key := xdr.LedgerKey{
		Type:    xdr.LedgerEntryTypeAccount,
		Account: &xdr.LedgerKeyAccount{AccountId: accountID},
	}
	keyB64, err := xdr.MarshalBase64(key)
	if err != nil {
		return 0, terminal("getLedgerEntries", fmt.Errorf("encode account key: %w", err))
	}

	var res getLedgerEntriesResult
	if err := c.rpc.call(ctx, "getLedgerEntries", getLedgerEntriesParams{Keys: []string{keyB64}}, &res); err != nil {
		return 0, err
	}
	if len(res.Entries) == 0 {
		return 0, terminal("getLedgerEntries", fmt.Errorf("%w: %s", ErrSourceAccountMissing, c.kp.Address()))
	}

	var data xdr.LedgerEntryData
	if err := xdr.SafeUnmarshalBase64(res.Entries[0].XDR, &data); err != nil {
		return 0, terminal("getLedgerEntries", fmt.Errorf("decode account entry: %w", err))
	}
	account, ok := data.GetAccount()
	if !ok {
		return 0, terminal("getLedgerEntries", fmt.Errorf("ledger entry is %s, not an account", data.Type))
	}
	return int64(account.SeqNum), nil
}

func (c *Client) buildInvoke(seq int64, fn string, args []xdr.ScVal, sim *simulateResult) (*txnbuild.Transaction, error) {
	op := &txnbuild.InvokeHostFunction{
		HostFunction: xdr.HostFunction{
			Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &xdr.InvokeContractArgs{
				ContractAddress: c.address,
				FunctionName:    xdr.ScSymbol(fn),
				Args:            args,
			},
		},
		SourceAccount: c.kp.Address(),
	}

	fee := c.cfg.BaseFee
	if sim != nil {
		var data xdr.SorobanTransactionData
		if err := xdr.SafeUnmarshalBase64(sim.TransactionData, &data); err != nil {
			return nil, terminal(fn, fmt.Errorf("decode transaction data: %w", err))
		}
		op.Ext = xdr.TransactionExt{V: 1, SorobanData: &data}

		if len(sim.Results) > 0 {
			for _, raw := range sim.Results[0].Auth {
				var entry xdr.SorobanAuthorizationEntry
				if err := xdr.SafeUnmarshalBase64(raw, &entry); err != nil {
					return nil, terminal(fn, fmt.Errorf("decode auth entry: %w", err))
				}
				op.Auth = append(op.Auth, entry)
			}
		}
		if sim.MinResourceFee != "" {
			resourceFee, err := strconv.ParseInt(sim.MinResourceFee, 10, 64)
			if err != nil {
				return nil, terminal(fn, fmt.Errorf("parse resource fee %q: %w", sim.MinResourceFee, err))
			}
			fee += resourceFee
		}
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: c.kp.Address(), Sequence: seq},
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              fee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(int64(c.cfg.TxTimeout / time.Second))},
	})
	if err != nil {
		return nil, terminal(fn, fmt.Errorf("build transaction: %w", err))
	}
	return tx, nil
}

func (c *Client) simulate(ctx context.Context, fn string, tx *txnbuild.Transaction) (simulateResult, error) {
	envelope, err := tx.Base64()
	if err != nil {
		return simulateResult{}, terminal(fn, fmt.Errorf("encode envelope: %w", err))
	}
	var sim simulateResult
	if err := c.rpc.call(ctx, "simulateTransaction", transactionParams{Transaction: envelope}, &sim); err != nil {
		return simulateResult{}, err
	}
	if sim.Error != "" {
		return simulateResult{}, terminal(fn, fmt.Errorf("simulation failed: %s", sim.Error))
	}
	if len(sim.RestorePreamble) > 0 && string(sim.RestorePreamble) != "null" {
		return simulateResult{}, terminal(fn, errors.New("contract state is archived and must be restored"))
	}
	return sim, nil
}

func u64Val(v uint64) xdr.ScVal {
	u := xdr.Uint64(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvU64, U64: &u}
}

func bytesVal(b []byte) xdr.ScVal {
	v := xdr.ScBytes(append([]byte(nil), b...))
	return xdr.ScVal{Type: xdr.ScValTypeScvBytes, Bytes: &v}
}
