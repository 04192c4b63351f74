// Package oracle implements the two independent background workers that
// bridge the external Stellar ledger and the deposit-index contract: a
// subscriber that joins the deposit-index's update stream, and a relayer
// that submits freshly observed deposit proofs to it.
package oracle

import (
	"context"

	"github.com/klingon-exchange/cwpd/internal/depositmodel"
)

// LedgerClient is the external-ledger RPC surface the relayer needs: which
// recent ledgers carry matching deposit events, and the consensus proof
// bundle for one of them. The real implementation talks to a Stellar RPC
// endpoint; tests substitute a fake.
type LedgerClient interface {
	LedgerSeqsWithDeposits(ctx context.Context, sinceLedger uint32, contractAddr [32]byte) ([]uint32, error)
	FetchProofBundle(ctx context.Context, ledgerSeq uint32) (*depositmodel.Proof, error)
}

// OperationManager is the host node's in-flight SUBSCRIBE/UPDATE operation
// surface. It lives in the out-of-scope P2P fabric; this package only
// depends on the interface.
type OperationManager interface {
	WaitOnline(ctx context.Context) error
	Subscribe(ctx context.Context, contractID [32]byte) error
	Update(ctx context.Context, contractID [32]byte, delta []byte) error
}
