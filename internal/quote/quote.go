// Package quote implements ledger.QuoteProvider against external price
// sources, plus an in-memory table and a caching decorator.
package quote

import (
	"fmt"

	"github.com/xtrntr/papertrade/internal/ledger"
)

func unknownSymbol(symbol string) error {
	return ledger.E(ledger.UnknownSymbol, "quote", "unknown symbol %q", symbol)
}

func transient(symbol string, err error) error {
	return &ledger.Error{
		Kind: ledger.TransientProviderFailure,
		Op:   "quote",
		Msg:  fmt.Sprintf("lookup of %q failed", symbol),
		Err:  err,
	}
}
