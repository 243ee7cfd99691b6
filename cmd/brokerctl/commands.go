package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/google/subcommands"

	"github.com/xtrntr/papertrade/internal/app"
	"github.com/xtrntr/papertrade/internal/archive"
	"github.com/xtrntr/papertrade/internal/config"
	"github.com/xtrntr/papertrade/internal/ledger"
	"github.com/xtrntr/papertrade/internal/logging"
	"github.com/xtrntr/papertrade/internal/models"
)

var commands = []subcommands.Command{
	&migrateCmd{},
	&registerCmd{},
	&quoteCmd{},
	&orderCmd{sell: false},
	&orderCmd{sell: true},
	&portfolioCmd{},
	&historyCmd{},
	&exportCmd{},
}

// open loads the configuration and wires the services for one command.
func open(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

// identity resolves an operator supplied username.
func identity(ctx context.Context, a *app.App, username string) (ledger.Identity, error) {
	if username == "" {
		return ledger.Identity{}, fmt.Errorf("-user is required")
	}
	user, err := a.Store.GetUserByUsername(ctx, username)
	if err != nil {
		return ledger.Identity{}, err
	}
	return ledger.Identity{UserID: user.ID}, nil
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return subcommands.ExitFailure
}

type migrateCmd struct{}

func (*migrateCmd) Name() string             { return "migrate" }
func (*migrateCmd) Synopsis() string         { return "create the ledger schema" }
func (*migrateCmd) Usage() string            { return "migrate\n\n  Creates the users and transactions tables if missing.\n" }
func (*migrateCmd) SetFlags(f *flag.FlagSet) {}

func (*migrateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fail(err)
	}
	store, err := app.OpenStore(ctx, cfg.Database)
	if err != nil {
		return fail(err)
	}
	defer store.Close()
	fmt.Printf("Schema ready (%s).\n", cfg.Database.Driver)
	return subcommands.ExitSuccess
}

type registerCmd struct {
	user     string
	password string
}

func (*registerCmd) Name() string     { return "register" }
func (*registerCmd) Synopsis() string { return "create a user with the starting cash" }
func (*registerCmd) Usage() string {
	return "register -user <name> -password <password>\n"
}

func (c *registerCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "username (required)")
	f.StringVar(&c.password, "password", "", "password (required)")
}

func (c *registerCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := open(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	user, err := a.Auth.Register(ctx, c.user, c.password, c.password)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Registered %s (id %d) with %s.\n", user.Username, user.ID, models.USD(user.Cash))
	return subcommands.ExitSuccess
}

type quoteCmd struct{}

func (*quoteCmd) Name() string             { return "quote" }
func (*quoteCmd) Synopsis() string         { return "look up current prices" }
func (*quoteCmd) Usage() string            { return "quote <symbol>...\n" }
func (*quoteCmd) SetFlags(f *flag.FlagSet) {}

func (*quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one symbol is required.")
		return subcommands.ExitUsageError
	}
	a, err := open(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	status := subcommands.ExitSuccess
	for _, symbol := range f.Args() {
		q, err := a.Exchange.Quote(ctx, symbol)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", symbol, err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Printf("A share of %s (%s) costs %s.\n", q.Name, q.Symbol, models.USD(q.Price))
	}
	return status
}

type orderCmd struct {
	sell   bool
	user   string
	symbol string
	shares int64
}

func (c *orderCmd) Name() string {
	if c.sell {
		return "sell"
	}
	return "buy"
}

func (c *orderCmd) Synopsis() string { return c.Name() + " shares at the current price" }
func (c *orderCmd) Usage() string {
	return c.Name() + " -user <name> -symbol <ticker> -shares <n>\n"
}

func (c *orderCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "username (required)")
	f.StringVar(&c.symbol, "symbol", "", "ticker symbol (required)")
	f.Int64Var(&c.shares, "shares", 0, "number of shares (required)")
}

func (c *orderCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := open(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	id, err := identity(ctx, a, c.user)
	if err != nil {
		return fail(err)
	}
	place := a.Exchange.Buy
	if c.sell {
		place = a.Exchange.Sell
	}
	tr, err := place(ctx, id, c.symbol, c.shares)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("%s %d %s at %s.\n", pastTense(c.sell), abs(tr.Shares), tr.Symbol, models.USD(tr.Price))
	return subcommands.ExitSuccess
}

func pastTense(sell bool) string {
	if sell {
		return "Sold"
	}
	return "Bought"
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

type portfolioCmd struct {
	user  string
	plain bool
	style string
}

func (*portfolioCmd) Name() string     { return "portfolio" }
func (*portfolioCmd) Synopsis() string { return "show holdings valued at current prices" }
func (*portfolioCmd) Usage() string {
	return "portfolio -user <name> [-plain] [-style dark|light|notty]\n"
}

func (c *portfolioCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "username (required)")
	f.BoolVar(&c.plain, "plain", false, "print raw markdown")
	f.StringVar(&c.style, "style", "dark", "glamour style")
}

func (c *portfolioCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := open(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	id, err := identity(ctx, a, c.user)
	if err != nil {
		return fail(err)
	}
	p, err := a.Exchange.Portfolio(ctx, id)
	if err != nil {
		return fail(err)
	}

	md := portfolioMarkdown(c.user, p)
	if c.plain {
		fmt.Print(md)
		return subcommands.ExitSuccess
	}
	out, err := glamour.Render(md, c.style)
	if err != nil {
		return fail(err)
	}
	fmt.Print(out)
	return subcommands.ExitSuccess
}

// portfolioMarkdown renders one row per holding, then cash and grand total.
func portfolioMarkdown(username string, p *ledger.Portfolio) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Portfolio of %s\n\n", username)
	b.WriteString("| Symbol | Name | Shares | Price | Total |\n")
	b.WriteString("|---|---|---:|---:|---:|\n")
	for _, pos := range p.Positions {
		fmt.Fprintf(&b, "| %s | %s | %d | %s | %s |\n",
			pos.Symbol, pos.Name, pos.Shares, models.USD(pos.Price), models.USD(pos.Value))
	}
	fmt.Fprintf(&b, "| CASH | | | | %s |\n", models.USD(p.Cash))
	fmt.Fprintf(&b, "| | | | | **%s** |\n", models.USD(p.Total))
	return b.String()
}

type historyCmd struct {
	user string
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "list a user's transactions" }
func (*historyCmd) Usage() string    { return "history -user <name>\n" }

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "username (required)")
}

func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := open(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	id, err := identity(ctx, a, c.user)
	if err != nil {
		return fail(err)
	}
	txs, err := a.Exchange.History(ctx, id)
	if err != nil {
		return fail(err)
	}
	writeHistory(os.Stdout, txs)
	return subcommands.ExitSuccess
}

func writeHistory(w io.Writer, txs []models.Transaction) {
	for _, t := range txs {
		fmt.Fprintf(w, "%s  %-6s %6d  %12s  %s\n",
			t.Time.Format("2006-01-02 15:04:05"), t.Symbol, t.Shares, models.USD(t.Price), t.ID)
	}
}

type exportCmd struct {
	user string
	out  string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "write a user's transactions to a Parquet file" }
func (*exportCmd) Usage() string    { return "export -user <name> -out <file.parquet>\n" }

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "username (required)")
	f.StringVar(&c.out, "out", "", "output file (required)")
}

func (c *exportCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.out == "" {
		fmt.Fprintln(os.Stderr, "Error: -out is required.")
		return subcommands.ExitUsageError
	}
	a, err := open(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	id, err := identity(ctx, a, c.user)
	if err != nil {
		return fail(err)
	}
	txs, err := a.Exchange.History(ctx, id)
	if err != nil {
		return fail(err)
	}
	if err := archive.WriteTransactions(c.out, txs); err != nil {
		return fail(err)
	}
	fmt.Printf("Wrote %d transactions to %s.\n", len(txs), c.out)
	return subcommands.ExitSuccess
}
