// internal/ledger/ledger.go
package ledger

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
)

// TransferLeg is one asset movement inside a parsed transaction. Mint is
// zero for the native quote asset.
type TransferLeg struct {
	Source      solana.PublicKey
	Destination solana.PublicKey
	Mint        solana.PublicKey
	Amount      uint64
}

// RawTransaction is a confirmed ledger transaction reduced to the fields the
// engine cares about.
type RawTransaction struct {
	Signature solana.Signature
	BlockTime time.Time
	Failed    bool
	Legs      []TransferLeg
}

// TransferRequest describes a reserve movement submitted by the engine.
type TransferRequest struct {
	From        solana.PublicKey
	To          solana.PublicKey
	QuoteAmount uint64
}

// Client is the opaque ledger boundary. All calls must honor the context
// deadline; implementations own their transport-level retries.
type Client interface {
	// GetRecentSignatures returns up to limit signatures that touched the
	// address, newest first.
	GetRecentSignatures(ctx context.Context, address solana.PublicKey, limit int) ([]solana.Signature, error)

	// GetParsedTransaction fetches and flattens one confirmed transaction.
	GetParsedTransaction(ctx context.Context, sig solana.Signature) (*RawTransaction, error)

	// SubmitTransfer submits an asset transfer and returns its signature
	// once the transaction is accepted.
	SubmitTransfer(ctx context.Context, req TransferRequest) (solana.Signature, error)

	// OnAccountChange registers a push notification callback for account
	// activity. The returned function cancels the subscription.
	OnAccountChange(ctx context.Context, address solana.PublicKey, fn func()) (func(), error)
}
