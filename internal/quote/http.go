package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/papertrade/internal/models"
)

// Default JSONPath expressions for an IEX style quote payload.
const (
	DefaultNamePath   = "$.companyName"
	DefaultPricePath  = "$.latestPrice"
	DefaultSymbolPath = "$.symbol"
)

// HTTPProvider fetches a JSON document per symbol and extracts the quote
// fields with JSONPath expressions.
type HTTPProvider struct {
	// URL is a template; "{symbol}" and "{token}" are substituted.
	URL   string
	Token string

	NamePath   string
	PricePath  string
	SymbolPath string

	Client *http.Client
}

// NewHTTPProvider creates a provider using the default IEX field paths.
func NewHTTPProvider(urlTemplate, token string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		URL:        urlTemplate,
		Token:      token,
		NamePath:   DefaultNamePath,
		PricePath:  DefaultPricePath,
		SymbolPath: DefaultSymbolPath,
		Client:     &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Lookup(ctx context.Context, symbol string) (*models.Quote, error) {
	symbol = models.NormalizeSymbol(symbol)
	addr := strings.NewReplacer(
		"{symbol}", url.PathEscape(symbol),
		"{token}", url.QueryEscape(p.Token),
	).Replace(p.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, transient(symbol, err)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, transient(symbol, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, unknownSymbol(symbol)
	case resp.StatusCode != http.StatusOK:
		return nil, transient(symbol, fmt.Errorf("cannot http GET %v%v: %v", req.URL.Host, req.URL.Path, resp.Status))
	}

	var jobj any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&jobj); err != nil {
		return nil, transient(symbol, fmt.Errorf("decoding quote: %w", err))
	}

	price, err := p.price(jobj)
	if err != nil {
		// a payload without a usable price means the symbol is not quoted
		return nil, unknownSymbol(symbol)
	}
	q := &models.Quote{Symbol: symbol, Price: price}
	if name, ok := p.str(p.NamePath, jobj); ok {
		q.Name = name
	}
	if sym, ok := p.str(p.SymbolPath, jobj); ok && sym != "" {
		q.Symbol = models.NormalizeSymbol(sym)
	}
	return q, nil
}

func (p *HTTPProvider) price(jobj any) (decimal.Decimal, error) {
	jval, err := get(p.PricePath, jobj)
	if err != nil {
		return decimal.Zero, err
	}
	var price decimal.Decimal
	switch v := jval.(type) {
	case json.Number:
		price, err = decimal.NewFromString(v.String())
	case string:
		price, err = decimal.NewFromString(v)
	case float64:
		price = decimal.NewFromFloat(v)
	default:
		err = fmt.Errorf("price at %q is %T", p.PricePath, jval)
	}
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, errors.New("price must be positive")
	}
	return price, nil
}

func (p *HTTPProvider) str(path string, jobj any) (string, bool) {
	if path == "" {
		return "", false
	}
	jval, err := get(path, jobj)
	if err != nil {
		return "", false
	}
	s, ok := jval.(string)
	return s, ok
}

// get evaluates path and unwraps single element results, since jsonpath
// returns either a list of one answer or the answer itself.
func get(path string, jobj any) (any, error) {
	jval, err := jsonpath.Get(path, jobj)
	if err != nil {
		return nil, err
	}
	if jlist, ok := jval.([]any); ok {
		if len(jlist) == 0 {
			return nil, fmt.Errorf("no match for %q", path)
		}
		jval = jlist[0]
	}
	if jval == nil {
		return nil, fmt.Errorf("null at %q", path)
	}
	return jval, nil
}
