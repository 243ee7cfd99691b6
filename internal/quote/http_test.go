package quote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/papertrade/internal/ledger"
)

func TestHTTPProvider_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/stock/NFLX/quote":
			w.Write([]byte(`{"companyName":"Netflix Inc.","latestPrice":412.37,"symbol":"NFLX"}`))
		case "/stock/STR/quote":
			w.Write([]byte(`{"companyName":"Stringly","latestPrice":"0.1","symbol":"STR"}`))
		case "/stock/NULL/quote":
			w.Write([]byte(`{"companyName":"Delisted","latestPrice":null,"symbol":"NULL"}`))
		case "/stock/ZERO/quote":
			w.Write([]byte(`{"companyName":"Free Lunch","latestPrice":0,"symbol":"ZERO"}`))
		case "/stock/BAD/quote":
			w.Write([]byte(`{"companyName":`))
		case "/stock/DOWN/quote":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL+"/stock/{symbol}/quote?token={token}", "secret", time.Second)

	tests := []struct {
		name        string
		symbol      string
		expectKind  ledger.Kind
		expectName  string
		expectPrice string
	}{
		{name: "Success", symbol: "nflx", expectName: "Netflix Inc.", expectPrice: "412.37"},
		{name: "StringPrice", symbol: "STR", expectName: "Stringly", expectPrice: "0.1"},
		{name: "NotFound", symbol: "ZZZZ", expectKind: ledger.UnknownSymbol},
		{name: "NullPrice", symbol: "NULL", expectKind: ledger.UnknownSymbol},
		{name: "ZeroPrice", symbol: "ZERO", expectKind: ledger.UnknownSymbol},
		{name: "MalformedBody", symbol: "BAD", expectKind: ledger.TransientProviderFailure},
		{name: "ServerError", symbol: "DOWN", expectKind: ledger.TransientProviderFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := p.Lookup(context.Background(), tt.symbol)
			if tt.expectKind != ledger.KindUnknown {
				require.Error(t, err)
				assert.Equal(t, tt.expectKind, ledger.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectName, q.Name)
			assert.Equal(t, tt.expectPrice, q.Price.String())
		})
	}
}

func TestHTTPProvider_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	p := NewHTTPProvider(addr+"/{symbol}", "", time.Second)
	_, err := p.Lookup(context.Background(), "AAPL")
	require.Error(t, err)
	assert.True(t, ledger.KindOf(err).Retryable())
}

func TestHTTPProvider_CustomPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"quotes":[{"ticker":"msft","desc":"Microsoft","last":"330.10"}]}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL+"/{symbol}", "", time.Second)
	p.NamePath = "$.data.quotes[0].desc"
	p.PricePath = "$.data.quotes[0].last"
	p.SymbolPath = "$.data.quotes[0].ticker"

	q, err := p.Lookup(context.Background(), "msft")
	require.NoError(t, err)
	assert.Equal(t, "MSFT", q.Symbol)
	assert.Equal(t, "Microsoft", q.Name)
	assert.Equal(t, "330.1", q.Price.String())
}
