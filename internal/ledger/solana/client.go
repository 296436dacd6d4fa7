// internal/ledger/solana/client.go
package solana

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/launchfund/engine/internal/ledger"
)

const (
	rpcCallTimeout = 10 * time.Second
	fetchRetries   = 3
)

// Options configures the Solana ledger client.
type Options struct {
	RPCEndpoint string
	WSEndpoint  string
	// Payer signs reserve transfers submitted by the engine.
	Payer solanago.PrivateKey
	// RequestsPerSecond bounds outbound RPC pressure. Zero disables limiting.
	RequestsPerSecond float64
}

// Client implements ledger.Client against a Solana JSON-RPC node, with a
// WebSocket connection for push notifications.
type Client struct {
	rpc     *rpc.Client
	ws      *ws.Client
	payer   solanago.PrivateKey
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New connects the RPC and WebSocket endpoints.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	if opts.RPCEndpoint == "" {
		return nil, fmt.Errorf("rpc endpoint is required")
	}

	var wsClient *ws.Client
	if opts.WSEndpoint != "" {
		var err error
		wsClient, err = ws.Connect(ctx, opts.WSEndpoint)
		if err != nil {
			return nil, fmt.Errorf("connect ws endpoint: %w", err)
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Client{
		rpc:     rpc.New(opts.RPCEndpoint),
		ws:      wsClient,
		payer:   opts.Payer,
		limiter: limiter,
		logger:  logger.Named("ledger"),
	}, nil
}

// Close tears down the WebSocket connection.
func (c *Client) Close() {
	if c.ws != nil {
		c.ws.Close()
	}
}

func (c *Client) GetRecentSignatures(ctx context.Context, address solanago.PublicKey, limit int) ([]solanago.Signature, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
	defer cancel()

	out, err := c.rpc.GetSignaturesForAddressWithOpts(cctx, address, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("get signatures for %s: %w", address, err)
	}

	sigs := make([]solanago.Signature, 0, len(out))
	for _, item := range out {
		sigs = append(sigs, item.Signature)
	}
	return sigs, nil
}

// GetParsedTransaction fetches one transaction and flattens it into transfer
// legs: native legs from lamport balance deltas, token legs from token
// balance deltas. Transient RPC failures are retried with backoff.
func (c *Client) GetParsedTransaction(ctx context.Context, sig solanago.Signature) (*ledger.RawTransaction, error) {
	operation := func() (*rpc.GetTransactionResult, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		cctx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
		defer cancel()

		maxVersion := uint64(0)
		return c.rpc.GetTransaction(cctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solanago.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(fetchRetries))
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", sig, err)
	}
	if result == nil || result.Meta == nil {
		return nil, fmt.Errorf("transaction %s has no metadata", sig)
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", sig, err)
	}

	raw := &ledger.RawTransaction{
		Signature: sig,
		Failed:    result.Meta.Err != nil,
	}
	if result.BlockTime != nil {
		raw.BlockTime = result.BlockTime.Time()
	}
	raw.Legs = flattenLegs(tx.Message.AccountKeys, result.Meta)
	return raw, nil
}

// flattenLegs turns balance deltas into directed transfer legs. Every
// account that lost value produces one leg toward the account that gained
// the most of the same asset; this is enough to classify contribution vs
// withdrawal against a single market escrow account.
func flattenLegs(keys []solanago.PublicKey, meta *rpc.TransactionMeta) []ledger.TransferLeg {
	var legs []ledger.TransferLeg

	// Native lamport deltas.
	var gainIdx, lossIdx = -1, -1
	var gain, loss uint64
	for i := range keys {
		if i >= len(meta.PreBalances) || i >= len(meta.PostBalances) {
			break
		}
		pre, post := meta.PreBalances[i], meta.PostBalances[i]
		if post > pre && post-pre > gain {
			gain, gainIdx = post-pre, i
		}
		if pre > post && pre-post > loss {
			loss, lossIdx = pre-post, i
		}
	}
	if gainIdx >= 0 && lossIdx >= 0 {
		legs = append(legs, ledger.TransferLeg{
			Source:      keys[lossIdx],
			Destination: keys[gainIdx],
			Amount:      gain,
		})
	}

	// Token deltas keyed by (account index, mint), then paired per mint:
	// the largest loser is the source of the largest gainer's leg.
	type tokenKey struct {
		index uint16
		mint  solanago.PublicKey
	}
	type tokenDelta struct {
		holder solanago.PublicKey
		amount uint64
	}
	pre := make(map[tokenKey]uint64)
	for _, b := range meta.PreTokenBalances {
		pre[tokenKey{b.AccountIndex, b.Mint}] = parseRawAmount(b.UiTokenAmount)
	}

	gains := make(map[solanago.PublicKey]tokenDelta)
	losses := make(map[solanago.PublicKey]tokenDelta)
	for _, b := range meta.PostTokenBalances {
		if int(b.AccountIndex) >= len(keys) {
			continue
		}
		holder := keys[b.AccountIndex]
		if b.Owner != nil {
			holder = *b.Owner
		}
		before := pre[tokenKey{b.AccountIndex, b.Mint}]
		after := parseRawAmount(b.UiTokenAmount)
		switch {
		case after > before && after-before > gains[b.Mint].amount:
			gains[b.Mint] = tokenDelta{holder: holder, amount: after - before}
		case before > after && before-after > losses[b.Mint].amount:
			losses[b.Mint] = tokenDelta{holder: holder, amount: before - after}
		}
	}
	for mint, g := range gains {
		legs = append(legs, ledger.TransferLeg{
			Source:      losses[mint].holder,
			Destination: g.holder,
			Mint:        mint,
			Amount:      g.amount,
		})
	}

	return legs
}

func parseRawAmount(amount *rpc.UiTokenAmount) uint64 {
	if amount == nil {
		return 0
	}
	v, err := strconv.ParseUint(amount.Amount, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func (c *Client) SubmitTransfer(ctx context.Context, req ledger.TransferRequest) (solanago.Signature, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return solanago.Signature{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
	defer cancel()

	blockhash, err := c.rpc.GetLatestBlockhash(cctx, rpc.CommitmentFinalized)
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	ix := system.NewTransferInstruction(req.QuoteAmount, req.From, req.To).Build()
	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{ix},
		blockhash.Value.Blockhash,
		solanago.TransactionPayer(c.payer.PublicKey()),
	)
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("build transfer transaction: %w", err)
	}

	_, err = tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(c.payer.PublicKey()) {
			return &c.payer
		}
		return nil
	})
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("sign transfer transaction: %w", err)
	}

	sig, err := c.rpc.SendTransaction(cctx, tx)
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("send transfer transaction: %w", err)
	}

	c.logger.Info("Submitted reserve transfer",
		zap.String("signature", sig.String()),
		zap.String("from", req.From.String()),
		zap.String("to", req.To.String()),
		zap.Uint64("quote_amount", req.QuoteAmount))

	return sig, nil
}

func (c *Client) OnAccountChange(ctx context.Context, address solanago.PublicKey, fn func()) (func(), error) {
	if c.ws == nil {
		return nil, fmt.Errorf("ws endpoint not configured")
	}

	sub, err := c.ws.AccountSubscribe(address, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("account subscribe %s: %w", address, err)
	}

	subCtx, cancel := context.WithCancel(ctx)

	// Recv blocks until the subscription closes; cancellation is driven by
	// unsubscribing, which unblocks the receive loop with an error.
	go func() {
		<-subCtx.Done()
		sub.Unsubscribe()
	}()
	go func() {
		for {
			if _, err := sub.Recv(); err != nil {
				if subCtx.Err() == nil {
					c.logger.Warn("Account subscription closed",
						zap.String("address", address.String()),
						zap.Error(err))
				}
				return
			}
			fn()
		}
	}()

	return cancel, nil
}

var _ ledger.Client = (*Client)(nil)
