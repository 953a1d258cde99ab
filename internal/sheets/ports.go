package sheets

import (
	"context"

	"financas/internal/core"
)

// Ports for the spreadsheet mirror.
type (
	// TransactionAppender writes one ledger row per transaction.
	TransactionAppender interface {
		// AppendTransaction returns the A1 reference of the written row.
		AppendTransaction(ctx context.Context, tx core.Transaction, payerName string) (rowRef string, err error)
	}

	// RowFinder looks up previously mirrored rows by transaction id.
	RowFinder interface {
		HasTransaction(ctx context.Context, tx core.Transaction) (bool, error)
	}
)
